package retrieval

import "github.com/aurora-assistant/ragmemory/internal/graph"

// graphAdapter adapts a *graph.Graph to the narrow GraphQuerier
// interface this package depends on, converting graph.ChunkMatch to the
// package-local GraphChunkMatch so retrieval has no compile-time
// dependency on the graph package's own result types.
type graphAdapter struct {
	g *graph.Graph
}

// NewGraphAdapter wraps g as a GraphQuerier for use with WithGraph.
func NewGraphAdapter(g *graph.Graph) GraphQuerier {
	return graphAdapter{g: g}
}

func (a graphAdapter) TopologyRetrieve(queryTerms []string) []GraphChunkMatch {
	matches := a.g.TopologyRetrieve(queryTerms)
	out := make([]GraphChunkMatch, len(matches))
	for i, m := range matches {
		out[i] = GraphChunkMatch{ChunkID: m.ChunkID, Score: m.Score}
	}
	return out
}

func (a graphAdapter) GetStats() GraphStats {
	s := a.g.GetStats()
	return GraphStats{EntityCount: s.EntityCount, ChunkNodeCount: s.ChunkNodeCount, RelationshipCount: s.RelationshipCount}
}
