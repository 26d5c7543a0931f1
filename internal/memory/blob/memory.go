package blob

import (
	"context"
	"sync"
)

// MemoryBackend keeps content keys in a set. Used by the in-memory server
// backend, device replicas without a blob store, and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	keys    map[string]struct{}
	deleted []string
	failing map[string]error
}

func NewMemory() *MemoryBackend {
	return &MemoryBackend{keys: make(map[string]struct{}), failing: make(map[string]error)}
}

// Put registers a key as stored.
func (b *MemoryBackend) Put(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[key] = struct{}{}
}

// FailOn makes Delete of key return err until cleared with a nil err.
func (b *MemoryBackend) FailOn(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failing, key)
		return
	}
	b.failing[key] = err
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failing[key]; ok {
		return err
	}
	delete(b.keys, key)
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *MemoryBackend) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.keys[key]
	return ok
}

// Deleted lists every key passed to a successful Delete, in call order.
func (b *MemoryBackend) Deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}
