// Package chunkindex is the in-memory chunk store: ingestion, eviction,
// feedback, and persistence to a single BlobStore key (C4).
package chunkindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aurora-assistant/ragmemory/internal/blobstore"
	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/clock"
	"github.com/aurora-assistant/ragmemory/internal/embedder"
	"github.com/aurora-assistant/ragmemory/internal/graphmodel"
	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
	"github.com/aurora-assistant/ragmemory/internal/xlog"
)

// MaxChunks is the default eviction ceiling (§4.3).
const MaxChunks = 10000

// GraphSink is the narrow interface the chunk index drives the
// knowledge graph through (§8 design note: "the store invokes the graph
// through a narrow interface").
type GraphSink interface {
	AddEntity(ctx context.Context, e graphmodel.Entity) error
	AddChunkNode(ctx context.Context, node graphmodel.ChunkNode) error
	AddRelationship(ctx context.Context, rel graphmodel.Relationship) error
	RemoveChunkNode(ctx context.Context, chunkID string) error
	Save(ctx context.Context) error
}

// EntityExtractor is the narrow interface the chunk index drives entity
// extraction through (C7).
type EntityExtractor interface {
	Extract(content string) graphmodel.ExtractionResult
}

// Index is the in-memory chunk store for one aiId.
type Index struct {
	aiID     string
	store    blobstore.Store
	embed    embedder.Embedder
	graph    GraphSink
	extract  EntityExtractor
	logger   *zap.Logger
	clock    clock.Clock
	maxItems int

	mu     sync.RWMutex
	chunks map[string]*chunkmodel.Chunk
	order  []string // insertion order, for deterministic snapshots
}

// Option configures an Index at construction time.
type Option func(*Index)

func WithMaxChunks(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.maxItems = n
		}
	}
}

func WithGraphSink(g GraphSink) Option {
	return func(idx *Index) { idx.graph = g }
}

func WithEntityExtractor(e EntityExtractor) Option {
	return func(idx *Index) { idx.extract = e }
}

func WithClock(c clock.Clock) Option {
	return func(idx *Index) { idx.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(idx *Index) { idx.logger = l }
}

// New constructs an empty Index for aiID.
func New(aiID string, store blobstore.Store, embed embedder.Embedder, opts ...Option) *Index {
	idx := &Index{
		aiID:     aiID,
		store:    store,
		embed:    embed,
		clock:    clock.Real(),
		maxItems: MaxChunks,
		chunks:   make(map[string]*chunkmodel.Chunk),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = xlog.OrNop(idx.logger)
	return idx
}

// AddChunk ingests content, assigns an id, embedding, stage and
// heuristics, runs best-effort entity extraction/graph population, and
// persists the index.
func (idx *Index) AddChunk(ctx context.Context, content, source, sourceType string, metadata chunkmodel.Metadata) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: content must not be empty", ragerrors.ErrInvalidInput)
	}

	now := clock.NowMilli(idx.clock)
	id := deriveChunkID(content, source, now)

	if metadata == nil {
		metadata = chunkmodel.Metadata{}
	}

	vec, err := idx.embed.Embed(ctx, content)
	if err != nil {
		xlog.Warn(idx.logger, "chunkindex: embedder failed, continuing without embedding", zap.Error(err))
		vec = nil
	}

	importance := metaFloatOr(metadata, chunkmodel.MetaKeyImportance, 0.5)
	novelty := idx.estimateNovelty(vec)
	emotional := estimateEmotionalSalience(content)
	metadata[chunkmodel.MetaKeyNovelty] = chunkmodel.Float64(novelty)
	metadata[chunkmodel.MetaKeyEmotionalSalience] = chunkmodel.Float64(emotional)

	stage := assignStage(sourceType, importance, emotional, novelty)
	metadata[chunkmodel.MetaKeyNtsStage] = chunkmodel.String(string(stage))

	c := &chunkmodel.Chunk{
		ID:         id,
		Content:    content,
		Source:     source,
		SourceType: sourceType,
		Timestamp:  now,
		TokenCount: estimateTokenCount(content),
		Metadata:   metadata,
		Embedding:  vec,
		QValue:     0.5,
	}

	idx.mu.Lock()
	idx.chunks[id] = c
	idx.order = append(idx.order, id)
	idx.evictLocked(ctx)
	_, survived := idx.chunks[id]
	idx.mu.Unlock()

	// A chunk can be evicted in the same call that created it: it starts
	// at QValue 0.5, which may be below every other chunk's QValue. Don't
	// write graph nodes for a chunk that's already gone.
	if survived {
		idx.populateGraph(ctx, c)
	}

	if err := idx.Save(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// RestoreChunk installs a fully-formed chunk (as decoded from an MNX
// import) directly into the index, preserving its ID, timestamp,
// QValue, feedback counters, and embedding rather than re-deriving
// them. Used by Engine.Import to restore mind-state instead of
// reseeding it from raw content. Runs entity extraction/graph wiring
// the same way AddChunk does, respecting eviction.
func (idx *Index) RestoreChunk(ctx context.Context, c *chunkmodel.Chunk) error {
	if c == nil || strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("%w: content must not be empty", ragerrors.ErrInvalidInput)
	}
	stored := c.Clone()
	if stored.Metadata == nil {
		stored.Metadata = chunkmodel.Metadata{}
	}

	idx.mu.Lock()
	idx.chunks[stored.ID] = stored
	idx.order = append(idx.order, stored.ID)
	idx.evictLocked(ctx)
	_, survived := idx.chunks[stored.ID]
	idx.mu.Unlock()

	if survived {
		idx.populateGraph(ctx, stored)
	}
	return nil
}

// AddMemory is a convenience wrapper over AddChunk for sourceType=memory.
func (idx *Index) AddMemory(ctx context.Context, content string, importance float64) (string, error) {
	return idx.AddChunk(ctx, content, "memory", chunkmodel.SourceMemory, chunkmodel.Metadata{
		chunkmodel.MetaKeyImportance: chunkmodel.Float64(importance),
	})
}

// AddKnowledge is a convenience wrapper over AddChunk for sourceType=knowledge.
func (idx *Index) AddKnowledge(ctx context.Context, content, category string) (string, error) {
	return idx.AddChunk(ctx, content, "knowledge", chunkmodel.SourceKnowledge, chunkmodel.Metadata{
		chunkmodel.MetaKeyCategory: chunkmodel.String(category),
	})
}

// RemoveChunk deletes id from the index and graph, then saves.
func (idx *Index) RemoveChunk(ctx context.Context, id string) (bool, error) {
	idx.mu.Lock()
	_, ok := idx.chunks[id]
	if ok {
		delete(idx.chunks, id)
		idx.order = removeString(idx.order, id)
	}
	idx.mu.Unlock()
	if !ok {
		return false, nil
	}

	if idx.graph != nil {
		if err := idx.graph.RemoveChunkNode(ctx, id); err != nil {
			xlog.Warn(idx.logger, "chunkindex: graph removeChunkNode failed", zap.Error(err))
		}
	}
	if err := idx.Save(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// GetChunks returns a read-only snapshot of all chunks, in insertion order.
func (idx *Index) GetChunks() []*chunkmodel.Chunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*chunkmodel.Chunk, 0, len(idx.order))
	for _, id := range idx.order {
		if c, ok := idx.chunks[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out
}

// GetChunk returns a copy of a single chunk by id, or nil if unknown.
func (idx *Index) GetChunk(id string) *chunkmodel.Chunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if c, ok := idx.chunks[id]; ok {
		return c.Clone()
	}
	return nil
}

// ProvideFeedback applies Q-learning feedback to each id in ids using
// learningRate. Unknown ids are silently ignored. An empty list is a
// valid "flush state" request and simply triggers a save.
func (idx *Index) ProvideFeedback(ctx context.Context, ids []string, success bool, learningRate float64) error {
	idx.mu.Lock()
	for _, id := range ids {
		if c, ok := idx.chunks[id]; ok {
			c.UpdateQValue(success, learningRate)
		}
	}
	idx.mu.Unlock()
	return idx.Save(ctx)
}

// ApplyMetadataBatch merges updates[id] into each named chunk's metadata
// in one locked pass and saves once, used by consolidation's optimise
// phase to avoid a save per chunk.
func (idx *Index) ApplyMetadataBatch(ctx context.Context, updates map[string]chunkmodel.Metadata) error {
	idx.mu.Lock()
	for id, upd := range updates {
		c, ok := idx.chunks[id]
		if !ok {
			continue
		}
		if c.Metadata == nil {
			c.Metadata = chunkmodel.Metadata{}
		}
		for k, v := range upd {
			c.Metadata[k] = v
		}
	}
	idx.mu.Unlock()
	return idx.Save(ctx)
}

// Clear drops all chunks without touching the graph or persisted blob.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.chunks = make(map[string]*chunkmodel.Chunk)
	idx.order = nil
}

// Len returns the current chunk count.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// QualitySnapshot returns the mean qValue and the mean per-chunk
// success rate across the store, the sleep-cycle optimiser's qHealth
// inputs (§4.9). An empty store reports zero for both.
func (idx *Index) QualitySnapshot() (avgQValue, successRate float64) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.chunks) == 0 {
		return 0, 0
	}
	var qSum, srSum float64
	for _, c := range idx.chunks {
		qSum += c.QValue
		srSum += c.SuccessRate()
	}
	n := float64(len(idx.chunks))
	return qSum / n, srSum / n
}

// evictLocked removes the lowest-qValue chunks once the index exceeds
// maxItems; among equal qValues the oldest-inserted go first. Caller
// must hold idx.mu.
func (idx *Index) evictLocked(ctx context.Context) {
	over := len(idx.chunks) - idx.maxItems
	if over <= 0 {
		return
	}
	type scored struct {
		id string
		q  float64
	}
	all := make([]scored, 0, len(idx.chunks))
	for _, id := range idx.order {
		if c, ok := idx.chunks[id]; ok {
			all = append(all, scored{id, c.QValue})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].q < all[j].q })

	for i := 0; i < over; i++ {
		id := all[i].id
		delete(idx.chunks, id)
		idx.order = removeString(idx.order, id)
		if idx.graph != nil {
			if err := idx.graph.RemoveChunkNode(ctx, id); err != nil {
				xlog.Warn(idx.logger, "chunkindex: eviction graph cleanup failed", zap.Error(err))
			}
		}
	}
}

// populateGraph runs best-effort entity extraction and graph wiring; all
// failures are logged and swallowed (§7 propagation policy).
func (idx *Index) populateGraph(ctx context.Context, c *chunkmodel.Chunk) {
	if idx.extract == nil || idx.graph == nil {
		return
	}
	result := idx.extract.Extract(c.Content)
	entityIDs := make([]string, 0, len(result.Entities))
	for _, e := range result.Entities {
		if err := idx.graph.AddEntity(ctx, e); err != nil {
			xlog.Warn(idx.logger, "chunkindex: graph addEntity failed", zap.Error(err))
			continue
		}
		entityIDs = append(entityIDs, e.ID)
	}
	summary := c.Content
	if len(summary) > 100 {
		summary = summary[:100]
	}
	if err := idx.graph.AddChunkNode(ctx, graphmodel.ChunkNode{ChunkID: c.ID, Summary: summary, EntityIDs: entityIDs}); err != nil {
		xlog.Warn(idx.logger, "chunkindex: graph addChunkNode failed", zap.Error(err))
	}
	for _, rel := range result.Relationships {
		if err := idx.graph.AddRelationship(ctx, rel); err != nil {
			xlog.Warn(idx.logger, "chunkindex: graph addRelationship failed", zap.Error(err))
		}
	}
}

// persistedChunk is the on-disk representation of a Chunk (exported
// field names kept independent of the in-memory type so the wire format
// is stable across internal refactors).
type persistedChunk struct {
	ID             string              `json:"id"`
	Content        string              `json:"content"`
	Source         string              `json:"source"`
	SourceType     string              `json:"sourceType"`
	Timestamp      int64               `json:"timestamp"`
	TokenCount     int                 `json:"tokenCount"`
	Metadata       chunkmodel.Metadata `json:"metadata"`
	Embedding      []float32           `json:"embedding,omitempty"`
	QValue         float64             `json:"qValue"`
	RetrievalCount int                 `json:"retrievalCount"`
	SuccessCount   int                 `json:"successCount"`
}

// Save serialises the full chunk list to blobstore key rag_chunks_<aiId>.
func (idx *Index) Save(ctx context.Context) error {
	idx.mu.RLock()
	out := make([]persistedChunk, 0, len(idx.order))
	for _, id := range idx.order {
		c := idx.chunks[id]
		out = append(out, persistedChunk{
			ID: c.ID, Content: c.Content, Source: c.Source, SourceType: c.SourceType,
			Timestamp: c.Timestamp, TokenCount: c.TokenCount, Metadata: c.Metadata,
			Embedding: c.Embedding, QValue: c.QValue,
			RetrievalCount: c.RetrievalCount, SuccessCount: c.SuccessCount,
		})
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("chunkindex: marshal: %w", err)
	}
	if err := idx.store.Put(ctx, blobstore.ChunksKey(idx.aiID), data); err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	return nil
}

// Load restores the chunk list from blobstore key rag_chunks_<aiId>. A
// missing key loads an empty index; a present-but-undecodable blob
// returns ErrCorruptStore.
func (idx *Index) Load(ctx context.Context) error {
	has, err := idx.store.Has(ctx, blobstore.ChunksKey(idx.aiID))
	if err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	if !has {
		return nil
	}
	data, err := idx.store.Get(ctx, blobstore.ChunksKey(idx.aiID))
	if err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	var in []persistedChunk
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrCorruptStore, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.chunks = make(map[string]*chunkmodel.Chunk, len(in))
	idx.order = make([]string, 0, len(in))
	for _, pc := range in {
		idx.chunks[pc.ID] = &chunkmodel.Chunk{
			ID: pc.ID, Content: pc.Content, Source: pc.Source, SourceType: pc.SourceType,
			Timestamp: pc.Timestamp, TokenCount: pc.TokenCount, Metadata: pc.Metadata,
			Embedding: pc.Embedding, QValue: pc.QValue,
			RetrievalCount: pc.RetrievalCount, SuccessCount: pc.SuccessCount,
		}
		idx.order = append(idx.order, pc.ID)
	}
	return nil
}

func deriveChunkID(content, source string, insertionTimeMs int64) string {
	prefix := content
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}
	h := sha256.Sum256([]byte(prefix + "|" + source + "|" + strconv.FormatInt(insertionTimeMs, 10)))
	return hex.EncodeToString(h[:])[:8]
}

func estimateTokenCount(content string) int {
	n := len(content) / 4
	if n < 1 && len(content) > 0 {
		n = 1
	}
	return n
}

func assignStage(sourceType string, importance, emotional, novelty float64) chunkmodel.NtsStage {
	if sourceType == chunkmodel.SourceKnowledge || sourceType == chunkmodel.SourceDocument {
		return chunkmodel.StageSemantic
	}
	agg := 0.45*importance + 0.30*emotional + 0.25*novelty
	switch {
	case agg >= 0.75:
		return chunkmodel.StageEpisodic
	case agg >= 0.55:
		return chunkmodel.StageWorking
	default:
		return chunkmodel.StageSensory
	}
}

func metaFloatOr(m chunkmodel.Metadata, key string, def float64) float64 {
	if mv, ok := m[key]; ok {
		if f, ok := mv.AsFloat64(); ok {
			return f
		}
	}
	return def
}

// estimateNovelty measures 1 - the maximum cosine similarity of vec
// against all currently-indexed embeddings; an empty index or vector
// yields maximum novelty.
func (idx *Index) estimateNovelty(vec []float32) float64 {
	if len(vec) == 0 {
		return 1.0
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.chunks) == 0 {
		return 1.0
	}
	var maxSim float64
	for _, c := range idx.chunks {
		if len(c.Embedding) != len(vec) {
			continue
		}
		sim := cosineFloat32(vec, c.Embedding)
		if sim > maxSim {
			maxSim = sim
		}
	}
	return chunkmodel.Clamp01(1.0 - maxSim)
}

func cosineFloat32(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// emotionWords is a small heuristic lexicon for estimateEmotionalSalience.
var emotionWords = map[string]bool{
	"love": true, "hate": true, "afraid": true, "scared": true, "thrilled": true,
	"angry": true, "excited": true, "sad": true, "happy": true, "fear": true,
	"urgent": true, "crisis": true, "emergency": true, "amazing": true, "terrible": true,
}

// estimateEmotionalSalience is a heuristic over punctuation intensity and
// a small emotion-word lexicon; it is not a model of affect (Non-goal).
func estimateEmotionalSalience(content string) float64 {
	lower := strings.ToLower(content)
	words := strings.Fields(lower)
	hits := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'")
		if emotionWords[w] {
			hits++
		}
	}
	score := 0.15*float64(strings.Count(content, "!")) + 0.25*float64(hits)
	return chunkmodel.Clamp01(score)
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
