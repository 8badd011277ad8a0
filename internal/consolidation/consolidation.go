// Package consolidation implements the six-phase sleep-cycle
// reorganisation of the chunk store and graph (C8).
package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aurora-assistant/ragmemory/internal/blobstore"
	"github.com/aurora-assistant/ragmemory/internal/chunkindex"
	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/clock"
	"github.com/aurora-assistant/ragmemory/internal/graph"
	"github.com/aurora-assistant/ragmemory/internal/graphmodel"
	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
	"github.com/aurora-assistant/ragmemory/internal/retrieval"
	"github.com/aurora-assistant/ragmemory/internal/xlog"
)

const (
	minRetrievalsForForget = 3
	connectionCandidates   = 4
	maxConnectionsPerChunk = 3
)

// Thresholds are the tunable parameters C10 supplies on every cycle.
type Thresholds struct {
	LearningRate                  float64
	StrengthenThreshold           float64
	ConsolidationThreshold        float64
	ForgetThreshold               float64
	MaxForgetPerCycle             int
	ConnectionSimilarityThreshold float64
}

// Signals are the three host-supplied scheduling inputs.
type Signals struct {
	Nighttime bool
	Charging  bool
	Idle      bool
}

// ShouldConsolidate implements §4.7's scheduling predicate: consolidate
// if nighttime && charging, or if any two of the three signals are true.
func ShouldConsolidate(s Signals) bool {
	if s.Nighttime && s.Charging {
		return true
	}
	trueCount := 0
	for _, v := range []bool{s.Nighttime, s.Charging, s.Idle} {
		if v {
			trueCount++
		}
	}
	return trueCount >= 2
}

// Stats are the per-cycle and cumulative counters returned by Run.
type Stats struct {
	Success            bool
	Strengthened       int
	Weakened           int
	Forgotten          int
	Connections        int
	Optimized          int
	GraphEdgesUpdated  int
	DurationMs         int64
}

// persistedStats accumulates Stats across the process lifetime.
type persistedStats struct {
	TotalStrengthened      int `json:"totalStrengthened"`
	TotalWeakened          int `json:"totalWeakened"`
	TotalForgotten         int `json:"totalForgotten"`
	TotalConnections       int `json:"totalConnections"`
	TotalOptimized         int `json:"totalOptimized"`
	TotalGraphEdgesUpdated int `json:"totalGraphEdgesUpdated"`
	Cycles                 int `json:"cycles"`
}

// Consolidator runs one six-phase cycle at a time, guarded against
// reentrancy via a singleflight.Group (the idiomatic non-reentrant-call
// collapsing primitive, used here instead of a bare bool+mutex guard).
type Consolidator struct {
	aiID      string
	index     *chunkindex.Index
	graph     *graph.Graph
	retriever *retrieval.Retriever
	extract   EntityExtractor
	store     blobstore.Store
	clock     clock.Clock
	logger    *zap.Logger

	sf singleflight.Group
}

// EntityExtractor is the narrow C7 interface the graph-maintenance phase
// uses to re-extract entities from chunk content.
type EntityExtractor interface {
	Extract(content string) graphmodel.ExtractionResult
}

// Option configures a Consolidator at construction time.
type Option func(*Consolidator)

func WithClock(c clock.Clock) Option   { return func(co *Consolidator) { co.clock = c } }
func WithLogger(l *zap.Logger) Option  { return func(co *Consolidator) { co.logger = l } }

func New(aiID string, index *chunkindex.Index, g *graph.Graph, retriever *retrieval.Retriever, extract EntityExtractor, store blobstore.Store, opts ...Option) *Consolidator {
	c := &Consolidator{aiID: aiID, index: index, graph: g, retriever: retriever, extract: extract, store: store, clock: clock.Real()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = xlog.OrNop(c.logger)
	return c
}

// Run executes one consolidation cycle under the non-reentrancy guard.
// A call made while a cycle is already in progress does not start a
// second cycle; it waits for the in-flight one and returns its result.
func (c *Consolidator) Run(ctx context.Context, th Thresholds) (Stats, error) {
	v, err, shared := c.sf.Do("consolidate", func() (interface{}, error) {
		return c.runOnce(ctx, th)
	})
	if shared {
		// A second caller arrived while a cycle was in flight; the spec
		// models consolidation as host-scheduled and at most once per
		// heartbeat, so collapsing into the in-flight result rather
		// than erroring is acceptable for this component (unlike
		// compaction, which must surface ErrConcurrent to the caller).
	}
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

func (c *Consolidator) runOnce(ctx context.Context, th Thresholds) (Stats, error) {
	start := time.Now()
	stats := Stats{Success: true}

	all := c.index.GetChunks()

	strengthenIDs, weakenIDs := partitionByThreshold(all, th)
	if len(strengthenIDs) > 0 {
		if err := c.index.ProvideFeedback(ctx, strengthenIDs, true, th.LearningRate); err != nil {
			return Stats{}, err
		}
	}
	if len(weakenIDs) > 0 {
		if err := c.index.ProvideFeedback(ctx, weakenIDs, false, th.LearningRate); err != nil {
			return Stats{}, err
		}
	}
	stats.Strengthened = len(strengthenIDs)
	stats.Weakened = len(weakenIDs)

	forgotten, err := c.forget(ctx, all, th)
	if err != nil {
		return Stats{}, err
	}
	stats.Forgotten = len(forgotten)

	survivors := c.index.GetChunks()
	connections, err := c.connect(ctx, survivors, th)
	if err != nil {
		return Stats{}, err
	}
	stats.Connections = connections

	optimized, err := c.optimize(ctx, survivors)
	if err != nil {
		return Stats{}, err
	}
	stats.Optimized = optimized

	edges, err := c.maintainGraph(ctx, survivors)
	if err != nil {
		return Stats{}, err
	}
	stats.GraphEdgesUpdated = edges

	stats.DurationMs = time.Since(start).Milliseconds()
	if err := c.persistStats(ctx, stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// partitionByThreshold implements the strengthen/weaken phases' chunk
// selection (§4.7 steps 1-2).
func partitionByThreshold(all []*chunkmodel.Chunk, th Thresholds) (strengthen, weaken []string) {
	for _, c := range all {
		if c.QValue > th.StrengthenThreshold {
			strengthen = append(strengthen, c.ID)
		}
		if c.RetrievalCount > 0 && c.QValue < th.ConsolidationThreshold {
			weaken = append(weaken, c.ID)
		}
	}
	return strengthen, weaken
}

// forget removes up to th.MaxForgetPerCycle chunks, in ascending qValue
// order, among those with retrievalCount >= minRetrievalsForForget and
// qValue < th.ForgetThreshold.
func (c *Consolidator) forget(ctx context.Context, all []*chunkmodel.Chunk, th Thresholds) ([]string, error) {
	var candidates []*chunkmodel.Chunk
	for _, chunk := range all {
		if chunk.RetrievalCount >= minRetrievalsForForget && chunk.QValue < th.ForgetThreshold {
			candidates = append(candidates, chunk)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].QValue < candidates[j].QValue })

	limit := th.MaxForgetPerCycle
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	var forgotten []string
	for i := 0; i < limit; i++ {
		if _, err := c.index.RemoveChunk(ctx, candidates[i].ID); err != nil {
			return nil, err
		}
		forgotten = append(forgotten, candidates[i].ID)
	}
	return forgotten, nil
}

// connect runs SEMANTIC retrieval for every surviving chunk and writes
// up to maxConnectionsPerChunk neighbour ids to metadata connected_chunks.
func (c *Consolidator) connect(ctx context.Context, survivors []*chunkmodel.Chunk, th Thresholds) (int, error) {
	if c.retriever == nil {
		return 0, nil
	}
	updates := make(map[string]chunkmodel.Metadata, len(survivors))
	total := 0
	for _, chunk := range survivors {
		results := c.retriever.Retrieve(ctx, retrieval.Semantic, chunk.Content, connectionCandidates+1)
		var neighbours []string
		for _, res := range results {
			if res.Chunk.ID == chunk.ID || res.Score < th.ConnectionSimilarityThreshold {
				continue
			}
			if funk.ContainsString(neighbours, res.Chunk.ID) {
				continue
			}
			neighbours = append(neighbours, res.Chunk.ID)
			if len(neighbours) >= maxConnectionsPerChunk {
				break
			}
		}
		if len(neighbours) == 0 {
			continue
		}
		updates[chunk.ID] = chunkmodel.Metadata{
			chunkmodel.MetaKeyConnectedChunks: chunkmodel.String(strings.Join(neighbours, ",")),
		}
		total += len(neighbours)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	return total, c.index.ApplyMetadataBatch(ctx, updates)
}

// optimize tags every surviving chunk with last_consolidated and
// importance_tier (§4.7 step 5).
func (c *Consolidator) optimize(ctx context.Context, survivors []*chunkmodel.Chunk) (int, error) {
	if len(survivors) == 0 {
		return 0, nil
	}
	now := clock.NowMilli(c.clock)
	updates := make(map[string]chunkmodel.Metadata, len(survivors))
	for _, chunk := range survivors {
		updates[chunk.ID] = chunkmodel.Metadata{
			chunkmodel.MetaKeyLastConsolidated: chunkmodel.Int64(now),
			chunkmodel.MetaKeyImportanceTier:   chunkmodel.String(importanceTier(chunk.QValue)),
		}
	}
	if err := c.index.ApplyMetadataBatch(ctx, updates); err != nil {
		return 0, err
	}
	return len(survivors), nil
}

// importanceTier bands qValue into {high, medium, low}.
func importanceTier(q float64) string {
	switch {
	case q >= 0.7:
		return "high"
	case q >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

// maintainGraph re-extracts entities on every surviving chunk, adding
// missing relationships, then saves the graph. Failures are logged and
// swallowed per the propagation policy (graph maintenance is
// best-effort).
func (c *Consolidator) maintainGraph(ctx context.Context, survivors []*chunkmodel.Chunk) (int, error) {
	if c.graph == nil || c.extract == nil {
		return 0, nil
	}
	edges := 0
	for _, chunk := range survivors {
		result := c.extract.Extract(chunk.Content)
		entityIDs := make([]string, 0, len(result.Entities))
		for _, e := range result.Entities {
			if err := c.graph.AddEntity(ctx, e); err != nil {
				xlog.Warn(c.logger, "consolidation: graph addEntity failed", zap.Error(err))
				continue
			}
			entityIDs = append(entityIDs, e.ID)
		}
		summary := chunk.Content
		if len(summary) > 100 {
			summary = summary[:100]
		}
		if err := c.graph.AddChunkNode(ctx, graphmodel.ChunkNode{ChunkID: chunk.ID, Summary: summary, EntityIDs: entityIDs}); err != nil {
			xlog.Warn(c.logger, "consolidation: graph addChunkNode failed", zap.Error(err))
		}
		for _, rel := range result.Relationships {
			if err := c.graph.AddRelationship(ctx, rel); err != nil {
				xlog.Warn(c.logger, "consolidation: graph addRelationship failed", zap.Error(err))
				continue
			}
			edges++
		}
	}
	if err := c.graph.Save(ctx); err != nil {
		xlog.Warn(c.logger, "consolidation: graph save failed", zap.Error(err))
	}
	return edges, nil
}

func (c *Consolidator) persistStats(ctx context.Context, stats Stats) error {
	has, err := c.store.Has(ctx, blobstore.KeyConsolidationStats)
	if err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	var totals persistedStats
	if has {
		data, err := c.store.Get(ctx, blobstore.KeyConsolidationStats)
		if err != nil {
			return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
		}
		if err := json.Unmarshal(data, &totals); err != nil {
			return fmt.Errorf("%w: %v", ragerrors.ErrCorruptStore, err)
		}
	}
	totals.TotalStrengthened += stats.Strengthened
	totals.TotalWeakened += stats.Weakened
	totals.TotalForgotten += stats.Forgotten
	totals.TotalConnections += stats.Connections
	totals.TotalOptimized += stats.Optimized
	totals.TotalGraphEdgesUpdated += stats.GraphEdgesUpdated
	totals.Cycles++

	data, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("consolidation: marshal: %w", err)
	}
	if err := c.store.Put(ctx, blobstore.KeyConsolidationStats, data); err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	return nil
}
