// Package session implements the session key manager (C12):
// namespacing of store/retrieval state by (aiId, channel, scope, id)
// and archival/cleanup of inactive sessions.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aurora-assistant/ragmemory/internal/blobstore"
	"github.com/aurora-assistant/ragmemory/internal/clock"
	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
)

const defaultMaxAgeMs = 3_600_000

// Key is the canonical (aiId, channel, scope, identifier) tuple.
type Key struct {
	AiID       string
	Channel    string
	Scope      string
	Identifier string
}

// String renders the canonical "{aiId}:{channel}:{scope}:{identifier}" form.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.AiID, k.Channel, k.Scope, k.Identifier)
}

// RAGStoreKey returns "rag_" + k.String() with ':' replaced by '_',
// usable by callers to namespace a distinct BlobStore key.
func (k Key) RAGStoreKey() string {
	return "rag_" + strings.ReplaceAll(k.String(), ":", "_")
}

// entry is the tracked state for one session key.
type entry struct {
	CreatedAtMs    int64 `json:"createdAtMs"`
	LastActiveAtMs int64 `json:"lastActiveAtMs"`
	ChunkCount     int   `json:"chunkCount"`
	TotalTokens    int   `json:"totalTokens"`
	AccessCount    int   `json:"accessCount"`
	Archived       bool  `json:"archived"`
}

// registry is the on-disk representation keyed by Key.String().
type registry map[string]entry

// Manager tracks session activity and archives/cleans up inactive ones.
type Manager struct {
	store blobstore.Store
	clock clock.Clock
}

// Option configures a Manager at construction time.
type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func New(store blobstore.Store, opts ...Option) *Manager {
	m := &Manager{store: store, clock: clock.Real()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Touch records activity against k: creates the entry on first use,
// bumps lastActiveAt/accessCount, and adds deltaChunks/deltaTokens to
// the running totals.
func (m *Manager) Touch(ctx context.Context, k Key, deltaChunks, deltaTokens int) error {
	reg, err := m.load(ctx)
	if err != nil {
		return err
	}
	now := clock.NowMilli(m.clock)
	e, ok := reg[k.String()]
	if !ok {
		e = entry{CreatedAtMs: now}
	}
	e.LastActiveAtMs = now
	e.AccessCount++
	e.ChunkCount += deltaChunks
	e.TotalTokens += deltaTokens
	e.Archived = false
	reg[k.String()] = e
	return m.save(ctx, reg)
}

// SessionInfo is a read-only snapshot of one session's tracked state.
type SessionInfo struct {
	Key            Key
	CreatedAtMs    int64
	LastActiveAtMs int64
	ChunkCount     int
	TotalTokens    int
	AccessCount    int
	Archived       bool
}

// Get returns the tracked state for k, or ok=false if unknown.
func (m *Manager) Get(ctx context.Context, k Key) (SessionInfo, bool, error) {
	reg, err := m.load(ctx)
	if err != nil {
		return SessionInfo{}, false, err
	}
	e, ok := reg[k.String()]
	if !ok {
		return SessionInfo{}, false, nil
	}
	return toInfo(k, e), true, nil
}

func toInfo(k Key, e entry) SessionInfo {
	return SessionInfo{
		Key: k, CreatedAtMs: e.CreatedAtMs, LastActiveAtMs: e.LastActiveAtMs,
		ChunkCount: e.ChunkCount, TotalTokens: e.TotalTokens,
		AccessCount: e.AccessCount, Archived: e.Archived,
	}
}

// ArchiveExpiredSessions flags every non-archived session whose
// lastActiveAt is older than maxAgeMs (default 3 600 000, one hour) as
// archived, returning how many were newly archived.
func (m *Manager) ArchiveExpiredSessions(ctx context.Context, maxAgeMs int64) (int, error) {
	if maxAgeMs <= 0 {
		maxAgeMs = defaultMaxAgeMs
	}
	reg, err := m.load(ctx)
	if err != nil {
		return 0, err
	}
	now := clock.NowMilli(m.clock)
	archived := 0
	for key, e := range reg {
		if e.Archived {
			continue
		}
		if now-e.LastActiveAtMs >= maxAgeMs {
			e.Archived = true
			reg[key] = e
			archived++
		}
	}
	if archived == 0 {
		return 0, nil
	}
	return archived, m.save(ctx, reg)
}

// CleanupArchivedSessions deletes every archived session's tracked
// state, returning how many were removed.
func (m *Manager) CleanupArchivedSessions(ctx context.Context) (int, error) {
	reg, err := m.load(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for key, e := range reg {
		if e.Archived {
			delete(reg, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, m.save(ctx, reg)
}

func (m *Manager) load(ctx context.Context) (registry, error) {
	has, err := m.store.Has(ctx, blobstore.KeySessionKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	if !has {
		return registry{}, nil
	}
	data, err := m.store.Get(ctx, blobstore.KeySessionKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	var reg registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: %v", ragerrors.ErrCorruptStore, err)
	}
	if reg == nil {
		reg = registry{}
	}
	return reg, nil
}

func (m *Manager) save(ctx context.Context, reg registry) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := m.store.Put(ctx, blobstore.KeySessionKeys, data); err != nil {
		return fmt.Errorf("%w: %v", ragerrors.ErrStoreBackend, err)
	}
	return nil
}
