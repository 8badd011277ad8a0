package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenSplitRE = regexp.MustCompile(`[^\p{L}\p{N}]+`)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "it": true,
	"in": true, "on": true, "to": true, "of": true, "and": true,
	"or": true, "for": true, "at": true, "by": true,
}

// HashEmbedder is the deterministic fallback Embedder (§4.13 collaborator
// note): tokenise, weight stop words down, spread each token's weight
// across three hash buckets, add bigram features, L2-normalise.
type HashEmbedder struct{}

var _ Embedder = HashEmbedder{}

func NewHashEmbedder() HashEmbedder { return HashEmbedder{} }

func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	v := make([]float64, Dim)
	if len(tokens) == 0 {
		return toFloat32(v), nil
	}

	for _, tok := range tokens {
		weight := 1.0
		if stopWords[strings.ToLower(tok)] {
			weight = 0.3
		}
		addHashBuckets(v, tok, weight)
	}
	for i := 0; i+1 < len(tokens); i++ {
		bigram := tokens[i] + "_" + tokens[i+1]
		addHashBuckets(v, bigram, 0.5)
	}

	return toFloat32(l2Normalize(v)), nil
}

func tokenize(text string) []string {
	lower := strings.ToLower(text)
	parts := tokenSplitRE.Split(lower, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// addHashBuckets distributes weight across three hash buckets with
// weights (1.0, 0.5, 0.25), each modulo Dim, mirroring the bucket scheme
// specified for the fallback embedder.
func addHashBuckets(v []float64, token string, weight float64) {
	bucketWeights := [3]float64{1.0, 0.5, 0.25}
	for i, bw := range bucketWeights {
		h := hashString(token, uint32(i))
		idx := int(h % uint32(len(v)))
		v[idx] += weight * bw
	}
}

func hashString(s string, seed uint32) uint32 {
	h := fnv.New32a()
	h.Write([]byte{byte(seed), byte(seed >> 8), byte(seed >> 16), byte(seed >> 24)})
	h.Write([]byte(s))
	return h.Sum32()
}

func l2Normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
