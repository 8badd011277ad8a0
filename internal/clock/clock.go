// Package clock provides the injectable time seam used by the
// consolidator, optimiser, and session manager, so their tests can
// drive deterministic wall-clock values instead of racing real time.
package clock

import "time"

// Clock returns the current time. Real() is used in production;
// tests substitute a fixed or stepped function.
type Clock func() time.Time

// Real returns the system clock.
func Real() Clock {
	return time.Now
}

// NowMilli returns the current time in the monotonic-ish wall-clock
// milliseconds form used throughout the chunk store.
func NowMilli(c Clock) int64 {
	return c().UnixMilli()
}
