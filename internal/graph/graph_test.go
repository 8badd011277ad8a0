package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-assistant/ragmemory/internal/blobstore/blobstoretest"
	"github.com/aurora-assistant/ragmemory/internal/graphmodel"
)

func TestGraph_AddEntity_MergesByIDKeepsLongerDescription(t *testing.T) {
	g := New("ai-1", blobstoretest.New())
	ctx := context.Background()
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: EntityID("Paris"), Name: "Paris", Type: graphmodel.EntityPlace, Description: "a city"}))
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: EntityID("Paris"), Name: "Paris", Type: graphmodel.EntityPlace, Description: "the capital of France"}))

	entities := g.GetEntities()
	require.Len(t, entities, 1)
	assert.Equal(t, "the capital of France", entities[0].Description)
	assert.Equal(t, 2, entities[0].MentionCount)
}

func TestGraph_RemoveChunkNode_CascadesAdjacency(t *testing.T) {
	g := New("ai-1", blobstoretest.New())
	ctx := context.Background()
	eid := EntityID("Paris")
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: eid, Name: "Paris", Type: graphmodel.EntityPlace}))
	require.NoError(t, g.AddChunkNode(ctx, graphmodel.ChunkNode{ChunkID: "c1", EntityIDs: []string{eid}}))

	require.NoError(t, g.RemoveChunkNode(ctx, "c1"))
	matches := g.TopologyRetrieve([]string{"paris"})
	assert.Empty(t, matches)
}

func TestGraph_TopologyRetrieve_ExactAndSubstringMatch(t *testing.T) {
	g := New("ai-1", blobstoretest.New())
	ctx := context.Background()
	parisID := EntityID("Paris")
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: parisID, Name: "Paris", Type: graphmodel.EntityPlace}))
	require.NoError(t, g.AddChunkNode(ctx, graphmodel.ChunkNode{ChunkID: "c1", EntityIDs: []string{parisID}}))

	matches := g.TopologyRetrieve([]string{"Paris"})
	require.Len(t, matches, 1)
	assert.Equal(t, "c1", matches[0].ChunkID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)

	matches = g.TopologyRetrieve([]string{"ari"})
	require.Len(t, matches, 1)
	assert.InDelta(t, 0.7, matches[0].Score, 1e-9)
}

func TestGraph_TopologyRetrieve_TwoHopViaRelationship(t *testing.T) {
	g := New("ai-1", blobstoretest.New())
	ctx := context.Background()
	parisID := EntityID("Paris")
	towerID := EntityID("Eiffel Tower")
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: parisID, Name: "Paris", Type: graphmodel.EntityPlace}))
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: towerID, Name: "Eiffel Tower", Type: graphmodel.EntityConcept}))
	require.NoError(t, g.AddChunkNode(ctx, graphmodel.ChunkNode{ChunkID: "c-tower", EntityIDs: []string{towerID}}))
	require.NoError(t, g.AddRelationship(ctx, graphmodel.Relationship{SourceEntityID: parisID, TargetEntityID: towerID, Relationship: "contains", Strength: 0.8}))

	matches := g.TopologyRetrieve([]string{"Paris"})
	require.Len(t, matches, 1)
	assert.Equal(t, "c-tower", matches[0].ChunkID)
	assert.InDelta(t, 1.0*0.8*0.5, matches[0].Score, 1e-9)
}

func TestGraph_SaveLoad_CoalescesDuplicateRelationships(t *testing.T) {
	store := blobstoretest.New()
	g := New("ai-1", store)
	ctx := context.Background()
	a, b := EntityID("A"), EntityID("B")
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: a, Name: "A"}))
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: b, Name: "B"}))
	require.NoError(t, g.AddRelationship(ctx, graphmodel.Relationship{SourceEntityID: a, TargetEntityID: b, Relationship: "knows", Strength: 0.5}))
	require.NoError(t, g.AddRelationship(ctx, graphmodel.Relationship{SourceEntityID: a, TargetEntityID: b, Relationship: "knows", Strength: 0.9}))
	require.NoError(t, g.Save(ctx))

	reloaded := New("ai-1", store)
	require.NoError(t, reloaded.Load(ctx))
	stats := reloaded.GetStats()
	// a->b appears twice (from two AddRelationship calls) plus the
	// implicit reverse b->a each time; coalescing by (source,target)
	// collapses each direction to one entry.
	assert.Equal(t, 2, stats.RelationshipCount)
}

func TestGraph_EdgeVotingRetrieve_NoMatchedEntitiesReturnsEmpty(t *testing.T) {
	g := New("ai-1", blobstoretest.New())
	matches := g.EdgeVotingRetrieve([]string{"nonexistent"})
	assert.Empty(t, matches)
}

func TestGraph_EdgeVotingRetrieve_StaleEdgesScoreLowerThanFreshOnes(t *testing.T) {
	ctx := context.Background()
	now := int64(1_700_000_000_000)
	g := New("ai-1", blobstoretest.New(), WithClock(func() time.Time { return time.UnixMilli(now) }))

	const dayMs = 24 * 60 * 60 * 1000
	freshA, freshB := "entity_fresh-a", "entity_fresh-b"
	staleA, staleB := "entity_stale-a", "entity_stale-b"

	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: freshA, Name: "Fresh-A", Type: graphmodel.EntityGeneric, LastSeenMs: now}))
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: freshB, Name: "Fresh-B", Type: graphmodel.EntityGeneric, LastSeenMs: now}))
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: staleA, Name: "Stale-A", Type: graphmodel.EntityGeneric, LastSeenMs: now - 90*dayMs}))
	require.NoError(t, g.AddEntity(ctx, graphmodel.Entity{ID: staleB, Name: "Stale-B", Type: graphmodel.EntityGeneric, LastSeenMs: now - 90*dayMs}))

	require.NoError(t, g.AddChunkNode(ctx, graphmodel.ChunkNode{ChunkID: "c-fresh", EntityIDs: []string{freshA}}))
	require.NoError(t, g.AddChunkNode(ctx, graphmodel.ChunkNode{ChunkID: "c-stale", EntityIDs: []string{staleA}}))

	require.NoError(t, g.AddRelationship(ctx, graphmodel.Relationship{SourceEntityID: freshA, TargetEntityID: freshB, Relationship: "knows", Strength: 0.5}))
	require.NoError(t, g.AddRelationship(ctx, graphmodel.Relationship{SourceEntityID: staleA, TargetEntityID: staleB, Relationship: "knows", Strength: 0.5}))

	matches := g.EdgeVotingRetrieve([]string{"fresh-a", "stale-a"})
	scores := make(map[string]float64)
	for _, m := range matches {
		scores[m.ChunkID] = m.Score
	}
	require.Contains(t, scores, "c-fresh")
	require.Contains(t, scores, "c-stale")
	assert.Greater(t, scores["c-fresh"], scores["c-stale"])
}
