package optimizer

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-assistant/ragmemory/internal/blobstore/blobstoretest"
	"github.com/aurora-assistant/ragmemory/internal/telemetry"
)

type fakeQuality struct{ avgQ, successRate float64 }

func (f fakeQuality) QualitySnapshot() (float64, float64) { return f.avgQ, f.successRate }

func fillSink(sink telemetry.Sink, n int, topScore float64, resultCount int) {
	for i := 0; i < n; i++ {
		_ = sink.Record(telemetry.Event{
			Strategy: "HYBRID", LatencyMs: 50, ResultCount: resultCount, TopK: 5, TopScore: topScore, AvgScore: topScore,
		})
	}
}

func TestStep_InsufficientTelemetry_SkipsOptimization(t *testing.T) {
	store := blobstoretest.New()
	sink := telemetry.NewRingSink(100)
	fillSink(sink, 10, 0.8, 3)

	o := New(store, sink)
	result, err := o.Step(context.Background(), fakeQuality{avgQ: 0.6, successRate: 0.6})
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, "insufficient_telemetry", result.Reason)
}

func TestStep_FirstCycle_AppliesUnconditionally(t *testing.T) {
	store := blobstoretest.New()
	sink := telemetry.NewRingSink(1000)
	fillSink(sink, 60, 0.9, 3)

	o := New(store, sink, WithRand(rand.New(rand.NewSource(42))))
	result, err := o.Step(context.Background(), fakeQuality{avgQ: 0.7, successRate: 0.7})
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.False(t, result.Degradation)
	assert.Greater(t, result.Fitness, 0.0)
}

func TestStep_ParamsStayWithinBoundsAndOrdering(t *testing.T) {
	store := blobstoretest.New()
	sink := telemetry.NewRingSink(1000)
	fillSink(sink, 60, 0.9, 3)

	o := New(store, sink, WithRand(rand.New(rand.NewSource(7))))
	var last TunableParams
	for i := 0; i < 10; i++ {
		result, err := o.Step(context.Background(), fakeQuality{avgQ: 0.5, successRate: 0.5})
		require.NoError(t, err)
		last = result.Params
	}

	assert.GreaterOrEqual(t, last.LearningRate, 0.01)
	assert.LessOrEqual(t, last.LearningRate, 0.5)
	assert.LessOrEqual(t, last.ForgetThreshold+0.1, last.ConsolidationThreshold+1e-9)
	assert.LessOrEqual(t, last.ConsolidationThreshold+0.1, last.StrengthenThreshold+1e-9)
}

func TestCurrentParams_DefaultsBeforeFirstStep(t *testing.T) {
	store := blobstoretest.New()
	sink := telemetry.NewRingSink(100)
	o := New(store, sink)
	params, err := o.CurrentParams(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultParams(), params)
}
