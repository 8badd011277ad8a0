package ragstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-assistant/ragmemory/internal/blobstore/blobstoretest"
	"github.com/aurora-assistant/ragmemory/internal/consolidation"
	"github.com/aurora-assistant/ragmemory/internal/embedder"
	"github.com/aurora-assistant/ragmemory/internal/entity"
	"github.com/aurora-assistant/ragmemory/internal/eventbus"
	"github.com/aurora-assistant/ragmemory/internal/mnx"
	"github.com/aurora-assistant/ragmemory/internal/retrieval"
	"github.com/aurora-assistant/ragmemory/internal/session"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store := blobstoretest.New()
	embed := embedder.NewHashEmbedder()
	extract, err := entity.New()
	require.NoError(t, err)
	return New("ai-1", store, embed, extract, DefaultEngineConfig())
}

func TestEngine_IngestAndRetrieve(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "u1"}

	_, err := e.Ingest(ctx, key, "The Eiffel Tower is located in Paris, France.", "memory", "conversation", nil)
	require.NoError(t, err)
	_, err = e.Ingest(ctx, key, "Kubernetes is a container orchestration platform built by Google.", "memory", "conversation", nil)
	require.NoError(t, err)

	results := e.Retrieve(ctx, key, retrieval.Hybrid, "Where is the Eiffel Tower?", 5)
	assert.NotEmpty(t, results)

	info, ok, err := e.Sessions.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, info.ChunkCount)
	assert.Equal(t, 3, info.AccessCount)
}

func TestEngine_GraphPopulatedFromEntityExtractor(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "u1"}

	_, err := e.Ingest(ctx, key, "Marie Curie worked at the Sorbonne with Pierre Curie.", "memory", "conversation", nil)
	require.NoError(t, err)

	stats := e.Graph.GetStats()
	assert.Greater(t, stats.EntityCount, 0)
}

func TestEngine_RunMaintenanceCycle_SkipsWhenSignalsDontQualify(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cStats, compResult, optResult, err := e.RunMaintenanceCycle(ctx, consolidation.Signals{})
	require.NoError(t, err)
	assert.False(t, cStats.Success)
	assert.False(t, compResult.Ran)
	assert.False(t, optResult.Applied)
}

func TestEngine_RunMaintenanceCycle_RunsWhenNighttimeAndCharging(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "u1"}

	for i := 0; i < 5; i++ {
		_, err := e.Ingest(ctx, key, "a short memory about testing the engine end to end", "memory", "conversation", nil)
		require.NoError(t, err)
	}

	cStats, _, _, err := e.RunMaintenanceCycle(ctx, consolidation.Signals{Nighttime: true, Charging: true})
	require.NoError(t, err)
	assert.True(t, cStats.Success)
}

func TestEngine_ExportImportRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "u1"}

	id, err := e.Ingest(ctx, key, "exported memory chunk content", "memory", "conversation", nil)
	require.NoError(t, err)
	// Drive the chunk's learned state away from its freshly-ingested
	// defaults so the round-trip assertion below can't pass by accident.
	require.NoError(t, e.Index.ProvideFeedback(ctx, []string{id}, true, 0.2))
	require.NoError(t, e.Index.ProvideFeedback(ctx, []string{id}, true, 0.2))
	before := e.Index.GetChunk(id)
	require.NotNil(t, before)

	data, err := e.Export(ctx, 1000, map[int16][]byte{0x7FFF: {0xDE, 0xAD}})
	require.NoError(t, err)
	assert.Equal(t, "MNX!", string(data[0:4]))

	e2 := newTestEngine(t)
	f, err := e2.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, f.RawSections[0x7FFF])
	chunks := e2.Index.GetChunks()
	require.Len(t, chunks, 1)

	after := e2.Index.GetChunk(before.ID)
	require.NotNil(t, after, "import must preserve the original chunk ID, not derive a fresh one")
	assert.InDelta(t, before.QValue, after.QValue, 1e-6, "import must preserve the learned QValue, not reset it to 0.5")
	assert.Equal(t, before.RetrievalCount, after.RetrievalCount)
	assert.Equal(t, before.SuccessCount, after.SuccessCount)
	assert.Equal(t, before.Timestamp, after.Timestamp)
}

func TestEngine_EmitsLifecycleEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	key := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "u1"}

	ingested := make(chan IngestedEvent, 1)
	require.NoError(t, eventbus.Subscribe(e.Events, EventIngested, func(ev IngestedEvent) error {
		ingested <- ev
		return nil
	}))
	retrieved := make(chan RetrievedEvent, 1)
	require.NoError(t, eventbus.Subscribe(e.Events, EventRetrieved, func(ev RetrievedEvent) error {
		retrieved <- ev
		return nil
	}))

	id, err := e.Ingest(ctx, key, "a memory to watch for lifecycle events", "memory", "conversation", nil)
	require.NoError(t, err)
	ev := <-ingested
	assert.Equal(t, id, ev.ChunkID)
	assert.Equal(t, key, ev.Key)

	e.Retrieve(ctx, key, retrieval.Hybrid, "lifecycle events", 3)
	rev := <-retrieved
	assert.Equal(t, "lifecycle events", rev.Query)
}

func TestDecode_UnknownSectionRoundTripsThroughEngineImport(t *testing.T) {
	f := mnx.NewFile()
	f.RawSections[0x7FFF] = []byte{1, 2, 3}
	data, err := mnx.Encode(f)
	require.NoError(t, err)

	e := newTestEngine(t)
	got, err := e.Import(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.RawSections[0x7FFF])
}
