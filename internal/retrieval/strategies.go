package retrieval

import (
	"context"
	"math"
	"strings"

	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/clock"
)

func (r *Retriever) embedQuery(ctx context.Context, query string) []float32 {
	v, err := r.embed.Embed(ctx, query)
	if err != nil {
		return nil
	}
	return v
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
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

func (r *Retriever) semantic(ctx context.Context, chunks []*chunkmodel.Chunk, query string) []scoredChunk {
	qv := r.embedQuery(ctx, query)
	out := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		out = append(out, scoredChunk{chunk: c, score: cosine(qv, c.Embedding)})
	}
	return out
}

func queryTokens(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func keyword(chunks []*chunkmodel.Chunk, query string) []scoredChunk {
	tokens := queryTokens(query)
	out := make([]scoredChunk, 0, len(chunks))
	if len(tokens) == 0 {
		for _, c := range chunks {
			out = append(out, scoredChunk{chunk: c, score: 0})
		}
		return out
	}
	for _, c := range chunks {
		contentLower := strings.ToLower(c.Content)
		hits := 0
		for _, t := range tokens {
			if strings.Contains(contentLower, t) {
				hits++
			}
		}
		out = append(out, scoredChunk{chunk: c, score: float64(hits) / float64(len(tokens))})
	}
	return out
}

func mergeByID(sets ...[]scoredChunk) map[string]*chunkmodel.Chunk {
	merged := make(map[string]*chunkmodel.Chunk)
	for _, set := range sets {
		for _, s := range set {
			merged[s.chunk.ID] = s.chunk
		}
	}
	return merged
}

func topN(scored []scoredChunk, n int) []scoredChunk {
	sortScored(scored)
	if n > 0 && len(scored) > n {
		return scored[:n]
	}
	return scored
}

func (r *Retriever) hybrid(ctx context.Context, chunks []*chunkmodel.Chunk, query string, topK int) []scoredChunk {
	sem := r.semantic(ctx, chunks, query)
	kw := keyword(chunks, query)

	semMap := make(map[string]float64, len(sem))
	for _, s := range sem {
		semMap[s.chunk.ID] = s.score
	}
	kwMap := make(map[string]float64, len(kw))
	for _, s := range kw {
		kwMap[s.chunk.ID] = s.score
	}

	twoK := topK * 2
	if twoK <= 0 {
		twoK = len(chunks)
	}
	merged := mergeByID(topN(append([]scoredChunk(nil), sem...), twoK), topN(append([]scoredChunk(nil), kw...), twoK))

	out := make([]scoredChunk, 0, len(merged))
	for id, c := range merged {
		out = append(out, scoredChunk{chunk: c, score: 0.7*semMap[id] + 0.3*kwMap[id]})
	}
	return out
}

func (r *Retriever) recency(chunks []*chunkmodel.Chunk) []scoredChunk {
	now := clock.NowMilli(r.clock)
	out := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		ageDays := c.AgeDays(now)
		out = append(out, scoredChunk{chunk: c, score: 1 / (1 + ageDays)})
	}
	return out
}

func (r *Retriever) relevanceDecay(ctx context.Context, chunks []*chunkmodel.Chunk, query string) []scoredChunk {
	qv := r.embedQuery(ctx, query)
	now := clock.NowMilli(r.clock)
	out := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		sem := cosine(qv, c.Embedding)
		ageDays := c.AgeDays(now)
		decay := math.Pow(0.5, ageDays/30)
		out = append(out, scoredChunk{chunk: c, score: 0.6*sem + 0.4*decay})
	}
	return out
}

func (r *Retriever) memrl(ctx context.Context, chunks []*chunkmodel.Chunk, query string, topK int) []scoredChunk {
	sem := r.semantic(ctx, chunks, query)
	threeK := topK * 3
	if threeK <= 0 {
		threeK = len(chunks)
	}
	top := topN(sem, threeK)
	out := make([]scoredChunk, 0, len(top))
	for _, s := range top {
		out = append(out, scoredChunk{chunk: s.chunk, score: 0.7*s.score + 0.3*s.chunk.QValue})
	}
	return out
}

func (r *Retriever) graphStrategy(ctx context.Context, chunks []*chunkmodel.Chunk, query string, topK int) []scoredChunk {
	if r.graph == nil || r.extract == nil {
		return r.hybrid(ctx, chunks, query, topK)
	}
	extraction := r.extract.Extract(query)
	if len(extraction.Entities) == 0 {
		return r.hybrid(ctx, chunks, query, topK)
	}
	terms := make([]string, 0, len(extraction.Entities))
	for _, e := range extraction.Entities {
		terms = append(terms, e.Name)
	}
	matches := r.graph.TopologyRetrieve(terms)
	if len(matches) == 0 {
		return r.hybrid(ctx, chunks, query, topK)
	}

	graphScore := make(map[string]float64, len(matches))
	for _, m := range matches {
		graphScore[m.ChunkID] = m.Score
	}
	sem := r.semantic(ctx, chunks, query)
	semScore := make(map[string]float64, len(sem))
	for _, s := range sem {
		semScore[s.chunk.ID] = s.score
	}

	byID := make(map[string]*chunkmodel.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	seen := make(map[string]bool)
	out := make([]scoredChunk, 0, len(matches))
	for id, gs := range graphScore {
		c, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, scoredChunk{chunk: c, score: 0.5*gs + 0.5*semScore[id]})
		seen[id] = true
	}
	return out
}

func (r *Retriever) frontierAware(ctx context.Context, chunks []*chunkmodel.Chunk, query string) []scoredChunk {
	if r.accessor == nil {
		return r.hybrid(ctx, chunks, query, 0)
	}
	qv := r.embedQuery(ctx, query)
	out := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		mu, ok := r.accessor.AccessibilityScore(ctx, c.ID)
		if !ok {
			mu = 0
		}
		sem := cosine(qv, c.Embedding)
		out = append(out, scoredChunk{chunk: c, score: 0.6*sem + 0.4*mu})
	}
	return out
}

func (r *Retriever) ntsCascade(ctx context.Context, chunks []*chunkmodel.Chunk, query string) []scoredChunk {
	qv := r.embedQuery(ctx, query)
	now := clock.NowMilli(r.clock)
	out := make([]scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		sem := cosine(qv, c.Embedding)
		stage := c.Stage()
		durability := stage.Durability()
		ttlMs := float64(stage.TTLMinutes()) * 60000
		ageMs := float64(now - c.Timestamp)
		if ageMs < 0 {
			ageMs = 0
		}
		recencyInStage := 1 - ageMs/ttlMs
		if recencyInStage < 0 {
			recencyInStage = 0
		}
		emotional := metaFloat(c, chunkmodel.MetaKeyEmotionalSalience)
		novelty := metaFloat(c, chunkmodel.MetaKeyNovelty)
		salience := emotional
		if novelty > salience {
			salience = novelty
		}
		score := 0.40*sem + 0.22*c.QValue + 0.15*recencyInStage + 0.13*durability + 0.10*salience
		out = append(out, scoredChunk{chunk: c, score: score})
	}
	return out
}

func metaFloat(c *chunkmodel.Chunk, key string) float64 {
	if mv, ok := c.Metadata[key]; ok {
		if f, ok := mv.AsFloat64(); ok {
			return f
		}
	}
	return 0
}
