package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingSink_RecordAndReadRecent(t *testing.T) {
	s := NewRingSink(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(Event{Strategy: "SEMANTIC", ResultCount: i}))
	}
	events, err := s.ReadRecent(10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[0].ResultCount)
	assert.Equal(t, 4, events[2].ResultCount)
}

func TestBuildSummary_GroupsByStrategyAndComputesEmptyHitRate(t *testing.T) {
	events := []Event{
		{Strategy: "SEMANTIC", LatencyMs: 10, ResultCount: 5, TopScore: 0.9},
		{Strategy: "SEMANTIC", LatencyMs: 20, ResultCount: 0, TopScore: 0},
		{Strategy: "KEYWORD", LatencyMs: 5, ResultCount: 2, TopScore: 0.5},
	}
	summaries := BuildSummary(events, 0)
	require.Len(t, summaries, 2)

	var semantic StrategySummary
	for _, s := range summaries {
		if s.Strategy == "SEMANTIC" {
			semantic = s
		}
	}
	assert.Equal(t, 2, semantic.SampleCount)
	assert.InDelta(t, 0.5, semantic.EmptyHitRate, 1e-9)
	assert.InDelta(t, 0.45, semantic.TopKRelevanceProxy, 1e-9)
}

func TestPercentile_CeilIndexRule(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	// n=10, p=0.5 -> ceil(5)-1 = 4 -> sorted[4] = 5
	assert.Equal(t, 5.0, percentile(sorted, 0.5))
	// p=0.95 -> ceil(9.5)-1 = 9 -> sorted[9] = 10
	assert.Equal(t, 10.0, percentile(sorted, 0.95))
}
