// Package retrieval implements the nine ranking strategies over the
// chunk index (C5).
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/clock"
	"github.com/aurora-assistant/ragmemory/internal/embedder"
	"github.com/aurora-assistant/ragmemory/internal/graphmodel"
	"github.com/aurora-assistant/ragmemory/internal/telemetry"
)

// Strategy names (§4.4).
const (
	Semantic        = "SEMANTIC"
	Keyword         = "KEYWORD"
	Hybrid          = "HYBRID"
	Recency         = "RECENCY"
	RelevanceDecay  = "RELEVANCE_DECAY"
	MemRL           = "MEMRL"
	Graph           = "GRAPH"
	FrontierAware   = "FRONTIER_AWARE"
	NTSCascade      = "NTS_CASCADE"
)

// Diagnostics carries the observed distribution of raw scores plus the
// source chunk's NTS stage.
type Diagnostics struct {
	Min, Max, Mean, Std float64
	Stage               chunkmodel.NtsStage
}

// Result is one ranked chunk from a retrieval call.
type Result struct {
	Chunk       *chunkmodel.Chunk
	Score       float64
	Strategy    string
	Diagnostics Diagnostics
}

// ChunkProvider is the narrow read interface Retriever needs from C4.
type ChunkProvider interface {
	GetChunks() []*chunkmodel.Chunk
}

// GraphQuerier is the narrow read interface Retriever needs from C6.
type GraphQuerier interface {
	TopologyRetrieve(queryTerms []string) []GraphChunkMatch
	GetStats() GraphStats
}

// GraphChunkMatch mirrors graph.ChunkMatch without importing the graph
// package, keeping retrieval's dependency on C6 narrow.
type GraphChunkMatch struct {
	ChunkID string
	Score   float64
}

// GraphStats mirrors graph.Stats.
type GraphStats struct {
	EntityCount       int
	ChunkNodeCount    int
	RelationshipCount int
}

// EntityExtractor is the narrow interface Retriever needs from C7 for
// the GRAPH strategy's query-side entity extraction.
type EntityExtractor interface {
	Extract(content string) graphmodel.ExtractionResult
}

// AccessibilityProvider supplies the externally-provided accessibility
// score µ_x used by FRONTIER_AWARE.
type AccessibilityProvider interface {
	AccessibilityScore(ctx context.Context, chunkID string) (float64, bool)
}

// Retriever executes the nine strategies against a ChunkProvider.
type Retriever struct {
	chunks    ChunkProvider
	embed     embedder.Embedder
	graph     GraphQuerier
	extract   EntityExtractor
	accessor  AccessibilityProvider
	telemetry telemetry.Sink
	clock     clock.Clock
	aiID      string
}

// Option configures a Retriever at construction time.
type Option func(*Retriever)

func WithGraph(g GraphQuerier) Option           { return func(r *Retriever) { r.graph = g } }
func WithEntityExtractor(e EntityExtractor) Option { return func(r *Retriever) { r.extract = e } }
func WithAccessibilityProvider(a AccessibilityProvider) Option {
	return func(r *Retriever) { r.accessor = a }
}
func WithTelemetrySink(s telemetry.Sink) Option { return func(r *Retriever) { r.telemetry = s } }
func WithClock(c clock.Clock) Option            { return func(r *Retriever) { r.clock = c } }

func New(aiID string, chunks ChunkProvider, embed embedder.Embedder, opts ...Option) *Retriever {
	r := &Retriever{aiID: aiID, chunks: chunks, embed: embed, clock: clock.Real()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type scoredChunk struct {
	chunk *chunkmodel.Chunk
	score float64
}

// Retrieve runs strategy against query and returns up to topK results,
// sorted descending by score with the tie-break rule: higher timestamp
// wins, then lexicographically higher chunkId. It never panics on an
// empty store and always emits a telemetry event (best-effort) after
// truncation.
func (r *Retriever) Retrieve(ctx context.Context, strategy, query string, topK int) []Result {
	start := time.Now()
	all := r.chunks.GetChunks()

	var scored []scoredChunk
	switch strings.ToUpper(strategy) {
	case Semantic:
		scored = r.semantic(ctx, all, query)
	case Keyword:
		scored = keyword(all, query)
	case Hybrid:
		scored = r.hybrid(ctx, all, query, topK)
	case Recency:
		scored = r.recency(all)
	case RelevanceDecay:
		scored = r.relevanceDecay(ctx, all, query)
	case MemRL:
		scored = r.memrl(ctx, all, query, topK)
	case Graph:
		scored = r.graphStrategy(ctx, all, query, topK)
	case FrontierAware:
		scored = r.frontierAware(ctx, all, query)
	case NTSCascade:
		scored = r.ntsCascade(ctx, all, query)
	default:
		scored = r.hybrid(ctx, all, query, topK)
	}

	scored = discardNonFinite(scored)
	sortScored(scored)
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}

	results := toResults(strategy, scored)
	r.emitTelemetry(strategy, topK, results, time.Since(start))
	return results
}

func discardNonFinite(in []scoredChunk) []scoredChunk {
	out := in[:0]
	for _, s := range in {
		if !math.IsNaN(s.score) && !math.IsInf(s.score, 0) {
			out = append(out, s)
		}
	}
	return out
}

func sortScored(scored []scoredChunk) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].chunk.Timestamp != scored[j].chunk.Timestamp {
			return scored[i].chunk.Timestamp > scored[j].chunk.Timestamp
		}
		return scored[i].chunk.ID > scored[j].chunk.ID
	})
}

func toResults(strategy string, scored []scoredChunk) []Result {
	out := make([]Result, 0, len(scored))
	scores := make([]float64, len(scored))
	for i, s := range scored {
		scores[i] = s.score
	}
	diag := computeDiagnostics(scores)
	for i, s := range scored {
		d := diag
		d.Stage = s.chunk.Stage()
		out = append(out, Result{Chunk: s.chunk, Score: s.score, Strategy: strategy, Diagnostics: d})
	}
	return out
}

func computeDiagnostics(scores []float64) Diagnostics {
	if len(scores) == 0 {
		return Diagnostics{}
	}
	min, max, sum := scores[0], scores[0], 0.0
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += s
	}
	mean := sum / float64(len(scores))
	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))
	return Diagnostics{Min: min, Max: max, Mean: mean, Std: math.Sqrt(variance)}
}

func (r *Retriever) emitTelemetry(strategy string, topK int, results []Result, latency time.Duration) {
	if r.telemetry == nil {
		return
	}
	var topScore, sumScore float64
	for i, res := range results {
		if i == 0 {
			topScore = res.Score
		}
		sumScore += res.Score
	}
	avg := 0.0
	if len(results) > 0 {
		avg = sumScore / float64(len(results))
	}
	_ = r.telemetry.Record(telemetry.Event{
		TimestampMs: clock.NowMilli(r.clock),
		AiID:        r.aiID,
		Strategy:    strings.ToUpper(strategy),
		LatencyMs:   latency.Milliseconds(),
		ResultCount: len(results),
		TopK:        topK,
		TopScore:    topScore,
		AvgScore:    avg,
	})
}
