package ragstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-assistant/ragmemory/internal/blobstore/blobstoretest"
	"github.com/aurora-assistant/ragmemory/internal/embedder"
	"github.com/aurora-assistant/ragmemory/internal/session"
)

func newManagerOpener() func(string) *Engine {
	store := blobstoretest.New()
	return func(aiID string) *Engine {
		return New(aiID, store, embedder.NewHashEmbedder(), nil, DefaultEngineConfig())
	}
}

func TestManager_GetOrOpen_ReusesEngineForSameKey(t *testing.T) {
	m := NewManager(newManagerOpener())
	key := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "u1"}

	e1 := m.GetOrOpen(key)
	e2 := m.GetOrOpen(key)
	assert.Same(t, e1, e2)
	assert.Equal(t, 1, m.Len())
}

func TestManager_GetOrOpen_DistinctKeysGetDistinctEngines(t *testing.T) {
	m := NewManager(newManagerOpener())
	k1 := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "u1"}
	k2 := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "u2"}

	e1 := m.GetOrOpen(k1)
	e2 := m.GetOrOpen(k2)
	assert.NotSame(t, e1, e2)
	assert.Equal(t, 2, m.Len())
}

func TestManager_CloseIdle_EvictsOnlyExpiredEngines(t *testing.T) {
	now := int64(1_000_000)
	fixed := func() time.Time { return time.UnixMilli(now) }
	m := NewManager(newManagerOpener(), WithIdleTimeoutMs(1000), WithManagerClock(fixed))

	stale := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "stale"}
	fresh := session.Key{AiID: "ai-1", Channel: "slack", Scope: "user", Identifier: "fresh"}
	m.GetOrOpen(stale)

	now += 2000
	m.GetOrOpen(fresh)

	evicted := m.CloseIdle()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, m.Len())
	require.NotNil(t, m.GetOrOpen(fresh))
}
