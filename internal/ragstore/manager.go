package ragstore

import (
	"sync"

	"github.com/aurora-assistant/ragmemory/internal/clock"
	"github.com/aurora-assistant/ragmemory/internal/session"
)

const defaultIdleTimeoutMs = 30 * 60 * 1000

// managedEngine tracks one session key's live Engine and when it was
// last touched, so Manager can evict engines nobody has used recently.
type managedEngine struct {
	engine     *Engine
	lastUsedMs int64
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithIdleTimeoutMs overrides the default 30-minute idle eviction window.
func WithIdleTimeoutMs(ms int64) ManagerOption {
	return func(m *Manager) { m.idleTimeoutMs = ms }
}

// WithManagerClock overrides the Manager's clock, for deterministic tests.
func WithManagerClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

// Manager keeps one live Engine per session key, opening it lazily on
// first use and evicting it after a configurable idle period. This
// mirrors the teacher's CuberService.StorageMap/StorageSet pattern (a
// map of live per-cube-UUID storage handles with an idle-timeout GC),
// adapted to key off session.Key.String() instead of a cube UUID, and
// to evict on an explicit CloseIdle call rather than a background
// ticker goroutine — the same caller-driven-cycle idiom this engine
// already uses for consolidation/compaction/optimisation.
type Manager struct {
	mu            sync.Mutex
	engines       map[string]*managedEngine
	open          func(aiID string) *Engine
	idleTimeoutMs int64
	clock         clock.Clock
}

// NewManager builds a Manager that opens engines via open, called once
// per distinct session key's AiID on first use.
func NewManager(open func(aiID string) *Engine, opts ...ManagerOption) *Manager {
	m := &Manager{
		engines:       make(map[string]*managedEngine),
		open:          open,
		idleTimeoutMs: defaultIdleTimeoutMs,
		clock:         clock.Real(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrOpen returns the cached Engine for key, opening and caching a
// fresh one via the Manager's open func on first use, and always
// refreshing the entry's last-used timestamp.
func (m *Manager) GetOrOpen(key session.Key) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	now := clock.NowMilli(m.clock)
	if me, ok := m.engines[k]; ok {
		me.lastUsedMs = now
		return me.engine
	}
	e := m.open(key.AiID)
	m.engines[k] = &managedEngine{engine: e, lastUsedMs: now}
	return e
}

// CloseIdle evicts every engine whose last use is at or beyond the
// configured idle timeout, returning how many were evicted. Call this
// periodically (e.g. alongside a host's own maintenance loop); Manager
// never schedules this itself.
func (m *Manager) CloseIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := clock.NowMilli(m.clock)
	evicted := 0
	for k, me := range m.engines {
		if now-me.lastUsedMs >= m.idleTimeoutMs {
			delete(m.engines, k)
			evicted++
		}
	}
	return evicted
}

// Len reports how many engines are currently cached.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}
