// Package graph is the heterogeneous entity/chunk knowledge graph (C6):
// entity nodes, chunk nodes, directed relationship edges, and the
// topology/edge-voting retrieval algorithms C5's GRAPH strategy uses.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aurora-assistant/ragmemory/internal/blobstore"
	"github.com/aurora-assistant/ragmemory/internal/clock"
	"github.com/aurora-assistant/ragmemory/internal/decay"
	"github.com/aurora-assistant/ragmemory/internal/graphmodel"
	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
)

// edgeVoteHalfLifeDays matches RELEVANCE_DECAY's half-life so chunk
// staleness is penalised consistently whichever strategy surfaces it.
const edgeVoteHalfLifeDays = 30

// ChunkMatch is one chunk's score from a topology or edge-voting query.
type ChunkMatch struct {
	ChunkID string
	Score   float64
}

// Stats summarises the graph's current size.
type Stats struct {
	EntityCount       int
	ChunkNodeCount    int
	RelationshipCount int
}

// Graph is the in-memory knowledge graph for one aiId.
type Graph struct {
	aiID  string
	store blobstore.Store
	clock clock.Clock

	mu             sync.RWMutex
	entities       map[string]graphmodel.Entity
	chunkNodes     map[string]graphmodel.ChunkNode
	relationships  []graphmodel.Relationship
	chunkToEntities map[string][]string
	entityToChunks  map[string][]string
}

// New constructs an empty Graph for aiID.
func New(aiID string, store blobstore.Store, opts ...Option) *Graph {
	g := &Graph{
		aiID:            aiID,
		store:           store,
		clock:           clock.Real(),
		entities:        make(map[string]graphmodel.Entity),
		chunkNodes:      make(map[string]graphmodel.ChunkNode),
		chunkToEntities: make(map[string][]string),
		entityToChunks:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Option configures a Graph at construction time.
type Option func(*Graph)

func WithClock(c clock.Clock) Option {
	return func(g *Graph) { g.clock = c }
}

// EntityID derives the canonical id for an entity name.
func EntityID(name string) string {
	return "entity_" + strings.ToLower(strings.TrimSpace(name))
}

// AddEntity merges e into the graph by id: an existing entity keeps the
// longer description and has its mentionCount incremented and lastSeen
// refreshed.
func (g *Graph) AddEntity(_ context.Context, e graphmodel.Entity) error {
	if e.ID == "" {
		e.ID = EntityID(e.Name)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	existing, ok := g.entities[e.ID]
	if !ok {
		if e.MentionCount < 1 {
			e.MentionCount = 1
		}
		if e.LastSeenMs == 0 {
			e.LastSeenMs = clock.NowMilli(g.clock)
		}
		g.entities[e.ID] = e
		return nil
	}
	existing.MentionCount++
	existing.LastSeenMs = clock.NowMilli(g.clock)
	if len(e.Description) > len(existing.Description) {
		existing.Description = e.Description
	}
	g.entities[e.ID] = existing
	return nil
}

// AddChunkNode links node.ChunkID to node.EntityIDs, updating the
// bidirectional adjacency maps. Referenced entity ids that don't yet
// exist get a minimal placeholder entity so the invariant "every
// entityId referenced by a chunk node exists as an entity node" holds.
func (g *Graph) AddChunkNode(_ context.Context, node graphmodel.ChunkNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chunkNodes[node.ChunkID] = node
	g.chunkToEntities[node.ChunkID] = append([]string(nil), node.EntityIDs...)
	for _, eid := range node.EntityIDs {
		if _, ok := g.entities[eid]; !ok {
			g.entities[eid] = graphmodel.Entity{ID: eid, Name: eid, Type: graphmodel.EntityGeneric, MentionCount: 1, LastSeenMs: clock.NowMilli(g.clock)}
		}
		if !containsString(g.entityToChunks[eid], node.ChunkID) {
			g.entityToChunks[eid] = append(g.entityToChunks[eid], node.ChunkID)
		}
	}
	return nil
}

// AddRelationship inserts rel into the edge list. Per §3, each logical
// relationship is recorded in both directions.
func (g *Graph) AddRelationship(_ context.Context, rel graphmodel.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relationships = append(g.relationships,
		rel,
		graphmodel.Relationship{
			SourceEntityID: rel.TargetEntityID,
			TargetEntityID: rel.SourceEntityID,
			Relationship:   rel.Relationship,
			Strength:       rel.Strength,
			Keywords:       rel.Keywords,
		},
	)
	return nil
}

// RemoveChunkNode cascades the removal of chunkID from chunkToEntities
// and entityToChunks.
func (g *Graph) RemoveChunkNode(_ context.Context, chunkID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entityIDs := g.chunkToEntities[chunkID]
	delete(g.chunkNodes, chunkID)
	delete(g.chunkToEntities, chunkID)
	for _, eid := range entityIDs {
		g.entityToChunks[eid] = removeString(g.entityToChunks[eid], chunkID)
	}
	return nil
}

// GetEntities returns a snapshot of all entities.
func (g *Graph) GetEntities() []graphmodel.Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]graphmodel.Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, e)
	}
	return out
}

// GetRelationships returns a snapshot of all relationship edges.
func (g *Graph) GetRelationships() []graphmodel.Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]graphmodel.Relationship(nil), g.relationships...)
}

// GetChunkNodes returns a snapshot of all chunk nodes.
func (g *Graph) GetChunkNodes() []graphmodel.ChunkNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]graphmodel.ChunkNode, 0, len(g.chunkNodes))
	for _, cn := range g.chunkNodes {
		out = append(out, cn)
	}
	return out
}

// GetStats returns the graph's current size.
func (g *Graph) GetStats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		EntityCount:       len(g.entities),
		ChunkNodeCount:    len(g.chunkNodes),
		RelationshipCount: len(g.relationships),
	}
}

// degree returns the number of relationship edges touching entityID.
func (g *Graph) degree(entityID string) int {
	n := 0
	for _, r := range g.relationships {
		if r.SourceEntityID == entityID {
			n++
		}
	}
	return n
}

// TopologyRetrieve matches entity nodes by exact-or-substring on
// lowercased names against queryTerms, then scores direct and 2-hop
// chunks, taking the max over multiple paths (§4.5).
func (g *Graph) TopologyRetrieve(queryTerms []string) []ChunkMatch {
	g.mu.RLock()
	defer g.mu.RUnlock()

	scores := make(map[string]float64)
	for _, term := range queryTerms {
		lower := strings.ToLower(strings.TrimSpace(term))
		if lower == "" {
			continue
		}
		for eid, e := range g.entities {
			nameLower := strings.ToLower(e.Name)
			var matchScore float64
			switch {
			case nameLower == lower:
				matchScore = 1.0
			case strings.Contains(nameLower, lower):
				matchScore = 0.7
			default:
				continue
			}

			deg := g.degree(eid)
			for _, cid := range g.entityToChunks[eid] {
				s := matchScore * (1 + 0.1*float64(deg))
				if s > scores[cid] {
					scores[cid] = s
				}
			}
			for _, rel := range g.relationships {
				if rel.SourceEntityID != eid {
					continue
				}
				for _, cid := range g.entityToChunks[rel.TargetEntityID] {
					s := matchScore * rel.Strength * 0.5
					if s > scores[cid] {
						scores[cid] = s
					}
				}
			}
		}
	}
	return sortedMatches(scores)
}

// EdgeVotingRetrieve counts how often each edge participates in paths
// matching queryTerms, normalises by the maximum vote, keeps edges with
// normalised vote >= 0.3, and scores chunks by the maximum normalised
// vote of any edge touching one of their entities.
func (g *Graph) EdgeVotingRetrieve(queryTerms []string) []ChunkMatch {
	g.mu.RLock()
	defer g.mu.RUnlock()

	matchedEntities := make(map[string]bool)
	for _, term := range queryTerms {
		lower := strings.ToLower(strings.TrimSpace(term))
		if lower == "" {
			continue
		}
		for eid, e := range g.entities {
			nameLower := strings.ToLower(e.Name)
			if nameLower == lower || strings.Contains(nameLower, lower) {
				matchedEntities[eid] = true
			}
		}
	}
	if len(matchedEntities) == 0 {
		return nil
	}

	votes := make(map[int]int) // index into g.relationships -> vote count
	maxVote := 0
	for i, rel := range g.relationships {
		if matchedEntities[rel.SourceEntityID] || matchedEntities[rel.TargetEntityID] {
			votes[i]++
			if votes[i] > maxVote {
				maxVote = votes[i]
			}
		}
	}
	if maxVote == 0 {
		return nil
	}

	now := clock.NowMilli(g.clock)
	lambda := decay.Lambda(edgeVoteHalfLifeDays)

	scores := make(map[string]float64)
	for i, vote := range votes {
		normalised := float64(vote) / float64(maxVote)
		if normalised < 0.3 {
			continue
		}
		rel := g.relationships[i]
		weighted := normalised * decay.Weight(lambda, float64(now-g.entityFreshness(rel)))
		for _, eid := range []string{rel.SourceEntityID, rel.TargetEntityID} {
			for _, cid := range g.entityToChunks[eid] {
				if weighted > scores[cid] {
					scores[cid] = weighted
				}
			}
		}
	}
	return sortedMatches(scores)
}

// entityFreshness returns the more recent of rel's two endpoint
// entities' LastSeenMs, used to time-decay stale edge votes the same
// way RELEVANCE_DECAY time-decays stale chunks.
func (g *Graph) entityFreshness(rel graphmodel.Relationship) int64 {
	latest := g.entities[rel.SourceEntityID].LastSeenMs
	if t := g.entities[rel.TargetEntityID].LastSeenMs; t > latest {
		latest = t
	}
	return latest
}

func sortedMatches(scores map[string]float64) []ChunkMatch {
	out := make([]ChunkMatch, 0, len(scores))
	for id, s := range scores {
		out = append(out, ChunkMatch{ChunkID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID > out[j].ChunkID
	})
	return out
}

// persistedGraph is the on-disk representation of a Graph.
type persistedGraph struct {
	Entities      []graphmodel.Entity       `json:"entities"`
	ChunkNodes    []graphmodel.ChunkNode    `json:"chunkNodes"`
	Relationships []graphmodel.Relationship `json:"relationships"`
}

// Save serialises entities, chunk nodes, and relationships to blobstore
// key knowledge_graph_<aiId>.
func (g *Graph) Save(ctx context.Context) error {
	g.mu.RLock()
	pg := persistedGraph{
		Entities:      make([]graphmodel.Entity, 0, len(g.entities)),
		ChunkNodes:    make([]graphmodel.ChunkNode, 0, len(g.chunkNodes)),
		Relationships: append([]graphmodel.Relationship(nil), g.relationships...),
	}
	for _, e := range g.entities {
		pg.Entities = append(pg.Entities, e)
	}
	for _, n := range g.chunkNodes {
		pg.ChunkNodes = append(pg.ChunkNodes, n)
	}
	g.mu.RUnlock()

	data, err := json.Marshal(pg)
	if err != nil {
		return fmt.Errorf("graph: marshal: %w", err)
	}
	if err := g.store.Put(ctx, blobstore.GraphKey(g.aiID), data); err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	return nil
}

// Load restores the graph from blobstore key knowledge_graph_<aiId>,
// coalescing duplicate relationships by (source, target).
func (g *Graph) Load(ctx context.Context) error {
	has, err := g.store.Has(ctx, blobstore.GraphKey(g.aiID))
	if err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	if !has {
		return nil
	}
	data, err := g.store.Get(ctx, blobstore.GraphKey(g.aiID))
	if err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	var pg persistedGraph
	if err := json.Unmarshal(data, &pg); err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrCorruptStore, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities = make(map[string]graphmodel.Entity, len(pg.Entities))
	for _, e := range pg.Entities {
		g.entities[e.ID] = e
	}
	g.chunkNodes = make(map[string]graphmodel.ChunkNode, len(pg.ChunkNodes))
	g.chunkToEntities = make(map[string][]string, len(pg.ChunkNodes))
	g.entityToChunks = make(map[string][]string)
	for _, n := range pg.ChunkNodes {
		g.chunkNodes[n.ChunkID] = n
		g.chunkToEntities[n.ChunkID] = append([]string(nil), n.EntityIDs...)
		for _, eid := range n.EntityIDs {
			g.entityToChunks[eid] = append(g.entityToChunks[eid], n.ChunkID)
		}
	}

	type pairKey struct{ src, dst string }
	seen := make(map[pairKey]bool, len(pg.Relationships))
	g.relationships = g.relationships[:0]
	for _, r := range pg.Relationships {
		k := pairKey{r.SourceEntityID, r.TargetEntityID}
		if seen[k] {
			continue
		}
		seen[k] = true
		g.relationships = append(g.relationships, r)
	}
	return nil
}

func containsString(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
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
