package chunkmodel

import "fmt"

// MetaKind identifies which arm of MetaValue is populated.
type MetaKind uint8

const (
	MetaString MetaKind = iota
	MetaInt64
	MetaFloat64
	MetaBool
)

// MetaValue is a tagged-union value for chunk metadata, modelling the
// distilled spec's "mapping from string key to value of {string, float,
// int, bool}". Using a concrete union instead of `any` keeps load/save
// and MNX round-trips exact and lets unrecognised keys survive
// untouched (Design Note: dynamic Map<String,Any> metadata).
type MetaValue struct {
	Kind MetaKind
	Str  string
	I64  int64
	F64  float64
	B    bool
}

func String(v string) MetaValue  { return MetaValue{Kind: MetaString, Str: v} }
func Int64(v int64) MetaValue    { return MetaValue{Kind: MetaInt64, I64: v} }
func Float64(v float64) MetaValue { return MetaValue{Kind: MetaFloat64, F64: v} }
func Bool(v bool) MetaValue      { return MetaValue{Kind: MetaBool, B: v} }

// AsString renders the value as text regardless of its underlying kind,
// used for metadata keys that are conventionally strings on the wire
// (e.g. connected_chunks, importance_tier).
func (v MetaValue) AsString() string {
	switch v.Kind {
	case MetaString:
		return v.Str
	case MetaInt64:
		return fmt.Sprintf("%d", v.I64)
	case MetaFloat64:
		return fmt.Sprintf("%g", v.F64)
	case MetaBool:
		return fmt.Sprintf("%t", v.B)
	default:
		return ""
	}
}

// AsFloat64 best-effort coerces the value to a float, returning ok=false
// for a string that is not numeric.
func (v MetaValue) AsFloat64() (float64, bool) {
	switch v.Kind {
	case MetaFloat64:
		return v.F64, true
	case MetaInt64:
		return float64(v.I64), true
	case MetaBool:
		if v.B {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Metadata is the chunk's recognised+unrecognised key/value bag.
type Metadata map[string]MetaValue

// Clone returns an independent copy so callers cannot mutate a chunk's
// metadata through a snapshot reference (getChunks() read-only contract).
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Recognised metadata keys per the distilled data model.
const (
	MetaKeyImportance        = "importance"
	MetaKeyCategory          = "category"
	MetaKeyNtsStage          = "nts_stage"
	MetaKeyNovelty           = "novelty"
	MetaKeyEmotionalSalience = "emotional_salience"
	MetaKeyConnectedChunks   = "connected_chunks"
	MetaKeyLastConsolidated  = "last_consolidated"
	MetaKeyImportanceTier    = "importance_tier"
	MetaKeyEntityCount       = "entity_count"
)
