package mnx

import (
	"fmt"

	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/graphmodel"
	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
)

// EncodeIdentity serialises the Identity section: a name and a
// creation timestamp in epoch milliseconds.
func EncodeIdentity(name string, createdAtMs int64) []byte {
	w := &writer{}
	w.str(name)
	w.i64(createdAtMs)
	return w.buf
}

// DecodeIdentity parses an Identity section payload.
func DecodeIdentity(payload []byte) (name string, createdAtMs int64, err error) {
	r := newReader(payload)
	if name, err = r.str(); err != nil {
		return "", 0, err
	}
	if createdAtMs, err = r.i64(); err != nil {
		return "", 0, err
	}
	return name, createdAtMs, nil
}

// EncodeMeta serialises the Meta section: an i32-counted list of
// string/string pairs.
func EncodeMeta(m map[string]string) []byte {
	w := &writer{}
	w.i32(int32(len(m)))
	for k, v := range m {
		w.str(k)
		w.str(v)
	}
	return w.buf
}

// DecodeMeta parses a Meta section payload.
func DecodeMeta(payload []byte) (map[string]string, error) {
	r := newReader(payload)
	n, err := r.i32()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := int32(0); i < n; i++ {
		k, err := r.str()
		if err != nil {
			return nil, err
		}
		v, err := r.str()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func writeMetaValue(w *writer, v chunkmodel.MetaValue) {
	w.i8(int8(v.Kind))
	switch v.Kind {
	case chunkmodel.MetaString:
		w.str(v.Str)
	case chunkmodel.MetaInt64:
		w.i64(v.I64)
	case chunkmodel.MetaFloat64:
		w.f32(float32(v.F64))
	case chunkmodel.MetaBool:
		w.bool(v.B)
	}
}

func readMetaValue(r *reader) (chunkmodel.MetaValue, error) {
	kind, err := r.i8()
	if err != nil {
		return chunkmodel.MetaValue{}, err
	}
	switch chunkmodel.MetaKind(kind) {
	case chunkmodel.MetaString:
		s, err := r.str()
		return chunkmodel.String(s), err
	case chunkmodel.MetaInt64:
		i, err := r.i64()
		return chunkmodel.Int64(i), err
	case chunkmodel.MetaFloat64:
		f, err := r.f32()
		return chunkmodel.Float64(float64(f)), err
	case chunkmodel.MetaBool:
		b, err := r.boolV()
		return chunkmodel.Bool(b), err
	default:
		return chunkmodel.MetaValue{}, fmt.Errorf("%w: unknown metadata kind %d", ragerrors.ErrSectionCorrupt, kind)
	}
}

// EncodeMemoryStore serialises the full chunk set. QValue is a float64
// in memory but the wire format only defines f32, so it is narrowed on
// encode and widened back on decode — a deliberate, documented loss of
// precision below the engine's own Q-learning step sizes.
func EncodeMemoryStore(chunks []*chunkmodel.Chunk) []byte {
	w := &writer{}
	w.i32(int32(len(chunks)))
	for _, c := range chunks {
		w.str(c.ID)
		w.str(c.Content)
		w.str(c.Source)
		w.str(c.SourceType)
		w.i64(c.Timestamp)
		w.i32(int32(c.TokenCount))
		w.f32(float32(c.QValue))
		w.i32(int32(c.RetrievalCount))
		w.i32(int32(c.SuccessCount))

		w.i32(int32(len(c.Embedding)))
		for _, f := range c.Embedding {
			w.f32(f)
		}

		w.i32(int32(len(c.Metadata)))
		for k, v := range c.Metadata {
			w.str(k)
			writeMetaValue(w, v)
		}
	}
	return w.buf
}

// DecodeMemoryStore parses a MemoryStore section payload.
func DecodeMemoryStore(payload []byte) ([]*chunkmodel.Chunk, error) {
	r := newReader(payload)
	n, err := r.i32()
	if err != nil {
		return nil, err
	}
	out := make([]*chunkmodel.Chunk, 0, n)
	for i := int32(0); i < n; i++ {
		c := &chunkmodel.Chunk{}
		if c.ID, err = r.str(); err != nil {
			return nil, err
		}
		if c.Content, err = r.str(); err != nil {
			return nil, err
		}
		if c.Source, err = r.str(); err != nil {
			return nil, err
		}
		if c.SourceType, err = r.str(); err != nil {
			return nil, err
		}
		if c.Timestamp, err = r.i64(); err != nil {
			return nil, err
		}
		tc, err := r.i32()
		if err != nil {
			return nil, err
		}
		c.TokenCount = int(tc)
		q, err := r.f32()
		if err != nil {
			return nil, err
		}
		c.QValue = float64(q)
		rc, err := r.i32()
		if err != nil {
			return nil, err
		}
		c.RetrievalCount = int(rc)
		sc, err := r.i32()
		if err != nil {
			return nil, err
		}
		c.SuccessCount = int(sc)

		embLen, err := r.i32()
		if err != nil {
			return nil, err
		}
		if embLen > 0 {
			c.Embedding = make([]float32, embLen)
			for j := int32(0); j < embLen; j++ {
				if c.Embedding[j], err = r.f32(); err != nil {
					return nil, err
				}
			}
		}

		metaLen, err := r.i32()
		if err != nil {
			return nil, err
		}
		if metaLen > 0 {
			c.Metadata = make(chunkmodel.Metadata, metaLen)
			for j := int32(0); j < metaLen; j++ {
				k, err := r.str()
				if err != nil {
					return nil, err
				}
				v, err := readMetaValue(r)
				if err != nil {
					return nil, err
				}
				c.Metadata[k] = v
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// EncodeKnowledgeGraph serialises entities, relationships, and chunk
// nodes as three back-to-back i32-counted lists.
func EncodeKnowledgeGraph(entities []graphmodel.Entity, relationships []graphmodel.Relationship, chunkNodes []graphmodel.ChunkNode) []byte {
	w := &writer{}

	w.i32(int32(len(entities)))
	for _, e := range entities {
		w.str(e.ID)
		w.str(e.Name)
		w.str(string(e.Type))
		w.str(e.Description)
		w.i32(int32(e.MentionCount))
		w.i64(e.LastSeenMs)
	}

	w.i32(int32(len(relationships)))
	for _, r := range relationships {
		w.str(r.SourceEntityID)
		w.str(r.TargetEntityID)
		w.str(r.Relationship)
		w.f32(float32(r.Strength))
		w.str(r.Keywords)
	}

	w.i32(int32(len(chunkNodes)))
	for _, cn := range chunkNodes {
		w.str(cn.ChunkID)
		w.str(cn.Summary)
		w.i32(int32(len(cn.EntityIDs)))
		for _, id := range cn.EntityIDs {
			w.str(id)
		}
	}

	return w.buf
}

// DecodeKnowledgeGraph parses a KnowledgeGraph section payload.
func DecodeKnowledgeGraph(payload []byte) ([]graphmodel.Entity, []graphmodel.Relationship, []graphmodel.ChunkNode, error) {
	r := newReader(payload)

	entCount, err := r.i32()
	if err != nil {
		return nil, nil, nil, err
	}
	entities := make([]graphmodel.Entity, entCount)
	for i := range entities {
		e := &entities[i]
		if e.ID, err = r.str(); err != nil {
			return nil, nil, nil, err
		}
		if e.Name, err = r.str(); err != nil {
			return nil, nil, nil, err
		}
		typ, err := r.str()
		if err != nil {
			return nil, nil, nil, err
		}
		e.Type = graphmodel.EntityType(typ)
		if e.Description, err = r.str(); err != nil {
			return nil, nil, nil, err
		}
		mc, err := r.i32()
		if err != nil {
			return nil, nil, nil, err
		}
		e.MentionCount = int(mc)
		if e.LastSeenMs, err = r.i64(); err != nil {
			return nil, nil, nil, err
		}
	}

	relCount, err := r.i32()
	if err != nil {
		return nil, nil, nil, err
	}
	relationships := make([]graphmodel.Relationship, relCount)
	for i := range relationships {
		rel := &relationships[i]
		if rel.SourceEntityID, err = r.str(); err != nil {
			return nil, nil, nil, err
		}
		if rel.TargetEntityID, err = r.str(); err != nil {
			return nil, nil, nil, err
		}
		if rel.Relationship, err = r.str(); err != nil {
			return nil, nil, nil, err
		}
		strength, err := r.f32()
		if err != nil {
			return nil, nil, nil, err
		}
		rel.Strength = float64(strength)
		if rel.Keywords, err = r.str(); err != nil {
			return nil, nil, nil, err
		}
	}

	nodeCount, err := r.i32()
	if err != nil {
		return nil, nil, nil, err
	}
	chunkNodes := make([]graphmodel.ChunkNode, nodeCount)
	for i := range chunkNodes {
		cn := &chunkNodes[i]
		if cn.ChunkID, err = r.str(); err != nil {
			return nil, nil, nil, err
		}
		if cn.Summary, err = r.str(); err != nil {
			return nil, nil, nil, err
		}
		idCount, err := r.i32()
		if err != nil {
			return nil, nil, nil, err
		}
		cn.EntityIDs = make([]string, idCount)
		for j := range cn.EntityIDs {
			if cn.EntityIDs[j], err = r.str(); err != nil {
				return nil, nil, nil, err
			}
		}
	}

	return entities, relationships, chunkNodes, nil
}
