// Package blobstoretest provides an in-memory blobstore.Store for unit
// tests across the engine, avoiding a disk round-trip per test.
package blobstoretest

import (
	"context"
	"sync"

	"github.com/aurora-assistant/ragmemory/internal/blobstore"
)

// Fake is a goroutine-safe in-memory Store.
type Fake struct {
	mu   sync.Mutex
	data map[string][]byte

	// FailPut, when set, is returned by every Put call, simulating a
	// StoreBackend failure for error-path tests.
	FailPut error
}

var _ blobstore.Store = (*Fake)(nil)

func New() *Fake {
	return &Fake{data: make(map[string][]byte)}
}

func (f *Fake) Put(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPut != nil {
		return f.FailPut
	}
	cp := append([]byte(nil), data...)
	f.data[key] = cp
	return nil
}

func (f *Fake) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (f *Fake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *Fake) Has(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

// PutRaw installs a raw, unsealed value directly (bypassing any
// encryption a real Store would apply), for tests that want to inject
// a corrupt or hand-built payload.
func (f *Fake) PutRaw(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
}
