package eventbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingestPayload struct {
	ChunkID string
}

func TestEmitSync_DeliversToTypedHandler(t *testing.T) {
	b := New()
	var got ingestPayload
	require.NoError(t, Subscribe(b, "ingested", func(p ingestPayload) error {
		got = p
		return nil
	}))
	require.NoError(t, EmitSync(b, "ingested", ingestPayload{ChunkID: "c1"}))
	assert.Equal(t, "c1", got.ChunkID)
}

func TestEmitSync_NoSubscribersIsNotAnError(t *testing.T) {
	b := New()
	require.NoError(t, EmitSync(b, "nobody-listens", ingestPayload{ChunkID: "c1"}))
}

func TestEmitSync_JoinsHandlerErrors(t *testing.T) {
	b := New()
	boom := errors.New("boom")
	require.NoError(t, Subscribe(b, "ingested", func(ingestPayload) error { return boom }))
	require.NoError(t, Subscribe(b, "ingested", func(ingestPayload) error { return nil }))
	err := EmitSync(b, "ingested", ingestPayload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestSubscribe_WrongPayloadTypeFailsAssertion(t *testing.T) {
	b := New()
	require.NoError(t, Subscribe(b, "ingested", func(int) error { return nil }))
	err := EmitSync(b, "ingested", ingestPayload{ChunkID: "c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type assertion failed")
}

func TestEmit_RunsHandlersAsynchronously(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got ingestPayload
	done := make(chan struct{})
	require.NoError(t, Subscribe(b, "ingested", func(p ingestPayload) error {
		mu.Lock()
		got = p
		mu.Unlock()
		close(done)
		return nil
	}))
	require.NoError(t, Emit(b, "ingested", ingestPayload{ChunkID: "async"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "async", got.ChunkID)
}

func TestUnsubscribe_RemovesAllHandlersForEvent(t *testing.T) {
	b := New()
	calls := 0
	require.NoError(t, Subscribe(b, "ingested", func(ingestPayload) error {
		calls++
		return nil
	}))
	require.NoError(t, Unsubscribe(b, "ingested"))
	require.NoError(t, EmitSync(b, "ingested", ingestPayload{}))
	assert.Equal(t, 0, calls)
}

func TestSubscribe_RejectsNilBusEmptyNameAndNilHandler(t *testing.T) {
	require.Error(t, Subscribe[ingestPayload](nil, "ingested", func(ingestPayload) error { return nil }))
	b := New()
	require.Error(t, Subscribe[ingestPayload](b, "", func(ingestPayload) error { return nil }))
	require.Error(t, Subscribe[ingestPayload](b, "ingested", nil))
}
