package tokenstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps the pair for the lifetime of the process only.
type MemoryBackend struct {
	mu   sync.Mutex
	pair *Pair
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// NewMemoryBackendWith returns a MemoryBackend seeded with pair.
func NewMemoryBackendWith(pair Pair) *MemoryBackend {
	return &MemoryBackend{pair: &pair}
}

func (m *MemoryBackend) Load(_ context.Context) (Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair == nil {
		return Pair{}, ErrNotFound
	}
	return *m.pair, nil
}

func (m *MemoryBackend) Save(_ context.Context, pair Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = &pair
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = nil
	return nil
}
