package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_L2Normalized(t *testing.T) {
	e := NewHashEmbedder()
	v, err := e.Embed(context.Background(), "Paris is the capital of France")
	require.NoError(t, err)
	require.Len(t, v, Dim)

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	assert.InDelta(t, 1.0, norm, 1e-4)
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()
	a, err := e.Embed(ctx, "The Eiffel Tower is in Paris")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "The Eiffel Tower is in Paris")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashEmbedder_EmptyInputZeroVector(t *testing.T) {
	e := NewHashEmbedder()
	v, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	for _, x := range v {
		assert.Equal(t, float32(0), x)
	}
}

func TestHashEmbedder_DistinctTextsDiffer(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()
	a, _ := e.Embed(ctx, "cats and dogs")
	b, _ := e.Embed(ctx, "quantum computing research")
	assert.NotEqual(t, a, b)
}
