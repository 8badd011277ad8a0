package chunkindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-assistant/ragmemory/internal/blobstore"
	"github.com/aurora-assistant/ragmemory/internal/blobstore/blobstoretest"
	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/embedder"
	"github.com/aurora-assistant/ragmemory/internal/graphmodel"
	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
)

// fakeGraph records every chunk node ever added and removed, so tests
// can assert no node is left behind for a chunk that never survives.
type fakeGraph struct {
	chunkNodes map[string]bool
}

func newFakeGraph() *fakeGraph { return &fakeGraph{chunkNodes: map[string]bool{}} }

func (g *fakeGraph) AddEntity(context.Context, graphmodel.Entity) error { return nil }

func (g *fakeGraph) AddChunkNode(_ context.Context, node graphmodel.ChunkNode) error {
	g.chunkNodes[node.ChunkID] = true
	return nil
}

func (g *fakeGraph) AddRelationship(context.Context, graphmodel.Relationship) error { return nil }

func (g *fakeGraph) RemoveChunkNode(_ context.Context, chunkID string) error {
	delete(g.chunkNodes, chunkID)
	return nil
}

func (g *fakeGraph) Save(context.Context) error { return nil }

// fakeExtractor reports one generic entity per chunk, enough to drive
// populateGraph without needing real NLP.
type fakeExtractor struct{}

func (fakeExtractor) Extract(content string) graphmodel.ExtractionResult {
	return graphmodel.ExtractionResult{
		Entities: []graphmodel.Entity{{ID: "e-" + content, Name: content, Type: graphmodel.EntityGeneric}},
	}
}

func newTestIndex(t *testing.T, store *blobstoretest.Fake, opts ...Option) *Index {
	t.Helper()
	return New("ai-1", store, embedder.NewHashEmbedder(), opts...)
}

func TestIndex_AddMemory_PersistsImmediatelyReadable(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store)
	ctx := context.Background()

	id, err := idx.AddMemory(ctx, "Paris is the capital of France", 0.8)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	has, err := store.Has(ctx, blobstore.ChunksKey("ai-1"))
	require.NoError(t, err)
	assert.True(t, has)

	chunks := idx.GetChunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, id, chunks[0].ID)
	assert.Equal(t, 0.5, chunks[0].QValue)
}

func TestIndex_RemoveChunk_UnknownIDReturnsFalse(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store)
	ok, err := idx.RemoveChunk(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_RemoveChunk_RemovesAndSaves(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store)
	ctx := context.Background()
	id, err := idx.AddMemory(ctx, "The Eiffel Tower is in Paris", 0.6)
	require.NoError(t, err)

	ok, err := idx.RemoveChunk(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, idx.GetChunks())
}

func TestIndex_ProvideFeedback_UnknownIDsIgnored(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store)
	ctx := context.Background()
	err := idx.ProvideFeedback(ctx, []string{"unknown"}, true, 0.1)
	require.NoError(t, err)
}

func TestIndex_ProvideFeedback_EmptyListFlushesState(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store)
	ctx := context.Background()
	err := idx.ProvideFeedback(ctx, nil, true, 0.1)
	require.NoError(t, err)
	has, err := store.Has(ctx, blobstore.ChunksKey("ai-1"))
	require.NoError(t, err)
	assert.True(t, has)
}

func TestIndex_Eviction_KeepsHighestQValueChunks(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store, WithMaxChunks(3))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := idx.AddKnowledge(ctx, "fact number "+string(rune('a'+i)), "trivia")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	// all five started at QValue 0.5, so each eviction took the oldest and
	// the last three remain; raise the qValue of the last two on top
	require.NoError(t, idx.ProvideFeedback(ctx, ids[3:], true, 0.4))

	assert.LessOrEqual(t, idx.Len(), 3)
	remaining := map[string]bool{}
	for _, c := range idx.GetChunks() {
		remaining[c.ID] = true
	}
	assert.True(t, remaining[ids[3]])
	assert.True(t, remaining[ids[4]])
}

func TestIndex_Eviction_OfJustAddedChunkLeavesNoOrphanedGraphNode(t *testing.T) {
	store := blobstoretest.New()
	g := newFakeGraph()
	idx := newTestIndex(t, store, WithMaxChunks(1), WithGraphSink(g), WithEntityExtractor(fakeExtractor{}))
	ctx := context.Background()

	firstID, err := idx.AddKnowledge(ctx, "kept fact", "trivia")
	require.NoError(t, err)
	require.NoError(t, idx.ProvideFeedback(ctx, []string{firstID}, true, 0.4))

	// The second chunk starts at the default QValue 0.5, below the first
	// chunk's boosted QValue, so it is the one evicted by its own
	// AddKnowledge call (MaxChunks is 1).
	secondID, err := idx.AddKnowledge(ctx, "evicted fact", "trivia")
	require.NoError(t, err)

	assert.Equal(t, 1, idx.Len())
	remaining := idx.GetChunk(firstID)
	require.NotNil(t, remaining)
	assert.Nil(t, idx.GetChunk(secondID))

	assert.True(t, g.chunkNodes[firstID], "surviving chunk should have a graph node")
	assert.False(t, g.chunkNodes[secondID], "evicted chunk must not leave an orphaned graph node")
}

func TestIndex_Load_CorruptBlobFails(t *testing.T) {
	store := blobstoretest.New()
	store.PutRaw(blobstore.ChunksKey("ai-1"), []byte("not json"))
	idx := newTestIndex(t, store)
	err := idx.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerrors.ErrCorruptStore))
}

func TestIndex_Load_MissingKeyLoadsEmpty(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store)
	require.NoError(t, idx.Load(context.Background()))
	assert.Empty(t, idx.GetChunks())
}

func TestIndex_SaveThenLoad_RoundTrips(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store)
	ctx := context.Background()
	id, err := idx.AddMemory(ctx, "Tokyo is the capital of Japan", 0.9)
	require.NoError(t, err)
	require.NoError(t, idx.ProvideFeedback(ctx, []string{id}, true, 0.2))

	reloaded := newTestIndex(t, store)
	require.NoError(t, reloaded.Load(ctx))
	chunks := reloaded.GetChunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, id, chunks[0].ID)
	assert.Equal(t, 1, chunks[0].RetrievalCount)
	assert.Equal(t, 1, chunks[0].SuccessCount)
}

func TestIndex_AddChunk_EmptyContentRejected(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store)
	_, err := idx.AddChunk(context.Background(), "   ", "memory", chunkmodel.SourceMemory, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerrors.ErrInvalidInput))
}

func TestIndex_AddKnowledge_AssignsSemanticStage(t *testing.T) {
	store := blobstoretest.New()
	idx := newTestIndex(t, store)
	ctx := context.Background()
	id, err := idx.AddKnowledge(ctx, "Go channels synchronise goroutines", "programming")
	require.NoError(t, err)
	c := idx.GetChunk(id)
	require.NotNil(t, c)
	assert.Equal(t, chunkmodel.StageSemantic, c.Stage())
}
