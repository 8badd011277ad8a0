// Package decay holds the exponential half-life decay math used by the
// knowledge graph's edge voting. The RELEVANCE_DECAY retrieval strategy
// computes its 30-day half-life itself (math.Pow(0.5, ageDays/30)) and
// does not use this package.
package decay

import "math"

// Lambda returns the exponential decay constant for a given half-life
// in days, for use as N(t) = N0 * e^(-lambda*t) with t in milliseconds.
func Lambda(halfLifeDays float64) float64 {
	halfLifeMs := halfLifeDays * 24 * 60 * 60 * 1000
	if halfLifeMs == 0 {
		return 0
	}
	return math.Ln2 / halfLifeMs
}

// Weight returns e^(-lambda*ageMs), clamped to non-negative age.
func Weight(lambda float64, ageMs float64) float64 {
	if ageMs < 0 {
		ageMs = 0
	}
	return math.Exp(-lambda * ageMs)
}
