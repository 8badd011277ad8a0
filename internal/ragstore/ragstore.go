// Package ragstore wires the chunk index, knowledge graph, entity
// extractor, retriever, consolidator, compactor, optimizer, and session
// manager into one per-aiId engine, and handles MNX export/import.
package ragstore

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aurora-assistant/ragmemory/internal/blobstore"
	"github.com/aurora-assistant/ragmemory/internal/chunkindex"
	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/compaction"
	"github.com/aurora-assistant/ragmemory/internal/consolidation"
	"github.com/aurora-assistant/ragmemory/internal/embedder"
	"github.com/aurora-assistant/ragmemory/internal/entity"
	"github.com/aurora-assistant/ragmemory/internal/eventbus"
	"github.com/aurora-assistant/ragmemory/internal/graph"
	"github.com/aurora-assistant/ragmemory/internal/mnx"
	"github.com/aurora-assistant/ragmemory/internal/optimizer"
	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
	"github.com/aurora-assistant/ragmemory/internal/retrieval"
	"github.com/aurora-assistant/ragmemory/internal/session"
	"github.com/aurora-assistant/ragmemory/internal/telemetry"
	"github.com/aurora-assistant/ragmemory/internal/xlog"
)

// EngineConfig configures a new Engine.
type EngineConfig struct {
	Compaction       compaction.Config
	MaxChunks        int
	SessionIdleMs    int64
	TelemetryWindow  int
	Logger           *zap.Logger
}

// DefaultEngineConfig returns the engine's out-of-the-box settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Compaction:      compaction.DefaultConfig(),
		MaxChunks:       chunkindex.MaxChunks,
		SessionIdleMs:   3_600_000,
		TelemetryWindow: 2000,
	}
}

// Engine is the per-aiId RAG memory engine: every component wired
// together against one embedder and one BlobStore.
type Engine struct {
	aiID string

	Index        *chunkindex.Index
	Graph        *graph.Graph
	Extractor    *entity.Extractor
	Retriever    *retrieval.Retriever
	Consolidator *consolidation.Consolidator
	Compactor    *compaction.Manager
	Optimizer    *optimizer.Optimizer
	Sessions     *session.Manager
	Telemetry    telemetry.Sink
	Events       *eventbus.Bus

	store  blobstore.Store
	logger *zap.Logger

	mu sync.Mutex // guards concurrent consolidate/compact/optimize cycles
}

// New builds a fully-wired Engine for aiID. extract may be nil — a
// caller without a trained Japanese dictionary or wanting to skip
// entity extraction can omit it, and every narrow EntityExtractor hook
// is left unset.
func New(aiID string, store blobstore.Store, embed embedder.Embedder, extract *entity.Extractor, cfg EngineConfig) *Engine {
	logger := xlog.OrNop(cfg.Logger)

	g := graph.New(aiID, store)
	sink := telemetry.NewRingSink(cfg.TelemetryWindow)

	idxOpts := []chunkindex.Option{
		chunkindex.WithMaxChunks(cfg.MaxChunks),
		chunkindex.WithGraphSink(g),
		chunkindex.WithLogger(logger),
	}
	if extract != nil {
		idxOpts = append(idxOpts, chunkindex.WithEntityExtractor(extract))
	}
	idx := chunkindex.New(aiID, store, embed, idxOpts...)

	retrOpts := []retrieval.Option{
		retrieval.WithGraph(retrieval.NewGraphAdapter(g)),
		retrieval.WithTelemetrySink(sink),
	}
	if extract != nil {
		retrOpts = append(retrOpts, retrieval.WithEntityExtractor(extract))
	}
	retriever := retrieval.New(aiID, idx, embed, retrOpts...)

	var consolidateExtract consolidation.EntityExtractor
	if extract != nil {
		consolidateExtract = extract
	}
	consolidator := consolidation.New(aiID, idx, g, retriever, consolidateExtract, store, consolidation.WithLogger(logger))

	compactor := compaction.New(idx, retriever, compaction.WithConfig(cfg.Compaction))
	opt := optimizer.New(store, sink, optimizer.WithLogger(logger))
	sessions := session.New(store)

	return &Engine{
		aiID: aiID, Index: idx, Graph: g, Extractor: extract,
		Retriever: retriever, Consolidator: consolidator, Compactor: compactor,
		Optimizer: opt, Sessions: sessions, Telemetry: sink, Events: eventbus.New(eventbus.WithLogger(logger)),
		store: store, logger: logger,
	}
}

// RunMaintenanceCycle runs one sleep-cycle consolidation pass (using the
// optimizer's current tunables), then a compaction pass if the context
// window is over budget, then steps the optimizer against the fresh
// quality snapshot. This is the engine's single scheduled-maintenance
// entry point (§4.7/§4.9/§4.10 tied together).
func (e *Engine) RunMaintenanceCycle(ctx context.Context, signals consolidation.Signals) (consolidation.Stats, compaction.Result, optimizer.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !consolidation.ShouldConsolidate(signals) {
		return consolidation.Stats{}, compaction.Result{}, optimizer.Result{}, nil
	}

	params, err := e.Optimizer.CurrentParams(ctx)
	if err != nil {
		return consolidation.Stats{}, compaction.Result{}, optimizer.Result{}, err
	}
	cStats, err := e.Consolidator.Run(ctx, params.ToThresholds())
	if err != nil {
		return consolidation.Stats{}, compaction.Result{}, optimizer.Result{}, err
	}

	compResult, err := e.Compactor.CompactIfNeeded(ctx)
	if err != nil && err != ragerrors.ErrConcurrent {
		return cStats, compaction.Result{}, optimizer.Result{}, err
	}

	optResult, err := e.Optimizer.Step(ctx, e.Index)
	if err != nil {
		return cStats, compResult, optimizer.Result{}, err
	}

	_ = eventbus.Emit(e.Events, EventMaintenanceCycle, MaintenanceCycleEvent{
		ConsolidationStrengthened: cStats.Strengthened,
		ConsolidationForgotten:    cStats.Forgotten,
		CompactionRan:             compResult.Ran,
		OptimizerApplied:          optResult.Applied,
	})
	return cStats, compResult, optResult, nil
}

// Ingest adds one chunk under the given session key, touching the
// session registry's activity counters.
func (e *Engine) Ingest(ctx context.Context, key session.Key, content, source, sourceType string, metadata chunkmodel.Metadata) (string, error) {
	id, err := e.Index.AddChunk(ctx, content, source, sourceType, metadata)
	if err != nil {
		return "", err
	}
	chunk := e.Index.GetChunk(id)
	tokens := 0
	if chunk != nil {
		tokens = chunk.TokenCount
	}
	if err := e.Sessions.Touch(ctx, key, 1, tokens); err != nil {
		return id, err
	}
	_ = eventbus.Emit(e.Events, EventIngested, IngestedEvent{Key: key, ChunkID: id, Source: source})
	return id, nil
}

// Retrieve runs the named strategy and touches the session's access
// counters without changing its chunk/token totals.
func (e *Engine) Retrieve(ctx context.Context, key session.Key, strategy, query string, topK int) []retrieval.Result {
	results := e.Retriever.Retrieve(ctx, strategy, query, topK)
	_ = e.Sessions.Touch(ctx, key, 0, 0)
	_ = eventbus.Emit(e.Events, EventRetrieved, RetrievedEvent{Key: key, Strategy: strategy, Query: query, Results: len(results)})
	return results
}

// Export serialises the engine's identity, chunk store, and knowledge
// graph into an MNX file, plus any raw caller-supplied sections (e.g.
// a host's own affect/personality/preference blobs, which this engine
// treats as opaque passthrough per the Non-goal domains in DESIGN.md).
func (e *Engine) Export(ctx context.Context, nowMs int64, raw map[int16][]byte) ([]byte, error) {
	f := mnx.NewFile()
	f.Sections[mnx.SectionIdentity] = mnx.EncodeIdentity(e.aiID, nowMs)

	chunks := e.Index.GetChunks()
	f.Sections[mnx.SectionMemoryStore] = mnx.EncodeMemoryStore(chunks)

	entities := e.Graph.GetEntities()
	relationships := e.Graph.GetRelationships()
	chunkNodes := e.Graph.GetChunkNodes()
	f.Sections[mnx.SectionKnowledgeGraph] = mnx.EncodeKnowledgeGraph(entities, relationships, chunkNodes)

	f.Sections[mnx.SectionMeta] = mnx.EncodeMeta(map[string]string{
		"aiId":       e.aiID,
		"exportedAt": fmt.Sprintf("%d", nowMs),
	})

	for id, payload := range raw {
		f.RawSections[id] = payload
	}

	return mnx.Encode(f)
}

// Import replaces the engine's chunk store with the MemoryStore section
// of an MNX file, leaving the knowledge graph and any raw sections for
// the caller to apply separately (the graph's entity/relationship IDs
// must be re-derived through the same extraction pipeline that produced
// them, not blindly overwritten).
func (e *Engine) Import(ctx context.Context, data []byte) (mnx.File, error) {
	f, err := mnx.Decode(data)
	if err != nil {
		return mnx.File{}, err
	}
	payload, ok := f.Sections[mnx.SectionMemoryStore]
	if !ok {
		return f, nil
	}
	chunks, err := mnx.DecodeMemoryStore(payload)
	if err != nil {
		return mnx.File{}, err
	}
	e.Index.Clear()
	for _, c := range chunks {
		if err := e.Index.RestoreChunk(ctx, c); err != nil {
			return mnx.File{}, err
		}
	}
	if err := e.Index.Save(ctx); err != nil {
		return mnx.File{}, err
	}
	return f, nil
}
