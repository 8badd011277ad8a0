package telemetry

import "sync"

// RingSink is an in-memory, fixed-capacity TelemetrySink for tests and
// for hosts that don't want a filesystem dependency (Design Note:
// sinks may be swapped for in-memory ring buffers in tests).
type RingSink struct {
	mu       sync.Mutex
	cap      int
	events   []Event
}

var _ Sink = (*RingSink)(nil)

func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = defaultMaxLines
	}
	return &RingSink{cap: capacity}
}

func (s *RingSink) Record(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if len(s.events) > s.cap {
		s.events = s.events[len(s.events)-s.cap:]
	}
	return nil
}

func (s *RingSink) ReadRecent(limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, s.events[len(s.events)-n:])
	return out, nil
}
