package chunkmodel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S2 — Q-learning convergence.
func TestChunk_UpdateQValue_Convergence(t *testing.T) {
	c := &Chunk{QValue: 0.5}
	for i := 0; i < 10; i++ {
		c.UpdateQValue(true, 0.1)
	}
	// Closed form of q_n = q_{n-1} + lr*(1-q_{n-1}) is
	// q_n = 1 - (1-q0)*(1-lr)^n; q0=0.5 here, not 0, so the decay term
	// starts at (1-0.5) rather than (1-0).
	want := 1 - (1-0.5)*math.Pow(0.9, 10)
	assert.InDelta(t, want, c.QValue, 1e-9)
	assert.Equal(t, 10, c.RetrievalCount)
	assert.Equal(t, 10, c.SuccessCount)
	assert.InDelta(t, 1.0, c.SuccessRate(), 1e-9)
}

func TestChunk_UpdateQValue_ClampsToBounds(t *testing.T) {
	c := &Chunk{QValue: 0.95}
	for i := 0; i < 50; i++ {
		c.UpdateQValue(true, 0.5)
	}
	assert.LessOrEqual(t, c.QValue, 1.0)

	c2 := &Chunk{QValue: 0.05}
	for i := 0; i < 50; i++ {
		c2.UpdateQValue(false, 0.5)
	}
	assert.GreaterOrEqual(t, c2.QValue, 0.0)
}

func TestChunk_UpdateQValue_ZeroLearningRateKeepsQValueButCounts(t *testing.T) {
	c := &Chunk{QValue: 0.42}
	c.UpdateQValue(true, 0)
	assert.Equal(t, 0.42, c.QValue)
	assert.Equal(t, 1, c.RetrievalCount)
}

func TestChunk_Validate(t *testing.T) {
	c := &Chunk{QValue: 0.5, RetrievalCount: 2, SuccessCount: 3}
	require.Error(t, c.Validate())
	c.SuccessCount = 1
	require.NoError(t, c.Validate())
}

func TestChunk_Clone_IsIndependent(t *testing.T) {
	c := &Chunk{
		ID:        "abc",
		Embedding: []float32{1, 2, 3},
		Metadata:  Metadata{MetaKeyImportance: Float64(0.5)},
	}
	cp := c.Clone()
	cp.Embedding[0] = 99
	cp.Metadata[MetaKeyImportance] = Float64(0.9)
	assert.Equal(t, float32(1), c.Embedding[0])
	v, _ := c.Metadata[MetaKeyImportance].AsFloat64()
	assert.Equal(t, 0.5, v)
}
