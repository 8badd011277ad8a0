package telemetry

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StrategySummary is one strategy's rolling analytics window.
type StrategySummary struct {
	Strategy           string
	SampleCount        int
	P50LatencyMs       float64
	P95LatencyMs       float64
	EmptyHitRate       float64
	TopKRelevanceProxy float64 // mean(topScore)
	AvgResultCount     float64
}

// BuildSummary groups the most recent limit events by strategy and
// computes the analytics in §4.10. Percentile rule: index = ceil(n*p)-1,
// clamped to [0, n-1].
func BuildSummary(events []Event, limit int) []StrategySummary {
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	byStrategy := make(map[string][]Event)
	var order []string
	for _, e := range events {
		if _, ok := byStrategy[e.Strategy]; !ok {
			order = append(order, e.Strategy)
		}
		byStrategy[e.Strategy] = append(byStrategy[e.Strategy], e)
	}

	summaries := make([]StrategySummary, 0, len(order))
	for _, strat := range order {
		evs := byStrategy[strat]
		n := len(evs)

		latencies := make([]float64, n)
		topScores := make([]float64, n)
		resultCounts := make([]float64, n)
		var emptyCount int
		for i, e := range evs {
			latencies[i] = float64(e.LatencyMs)
			topScores[i] = e.TopScore
			resultCounts[i] = float64(e.ResultCount)
			if e.ResultCount == 0 {
				emptyCount++
			}
		}
		sort.Float64s(latencies)

		summaries = append(summaries, StrategySummary{
			Strategy:           strat,
			SampleCount:        n,
			P50LatencyMs:       percentile(latencies, 0.50),
			P95LatencyMs:       percentile(latencies, 0.95),
			EmptyHitRate:       float64(emptyCount) / float64(n),
			TopKRelevanceProxy: stat.Mean(topScores, nil),
			AvgResultCount:     stat.Mean(resultCounts, nil),
		})
	}
	return summaries
}

// percentile implements index = ceil(n*p) - 1, clamped, over an
// already-sorted slice. gonum's stat.Quantile uses a different
// interpolation scheme than the clamped-index rule required here, so
// this is applied directly rather than through stat.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
