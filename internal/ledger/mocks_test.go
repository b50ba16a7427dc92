package ledger_test

import (
	"context"
	"sync"

	"replyloop.app/engine/internal/store"
)

type memKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	setCount int
	setErr   error
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return value, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.setCount++
	m.data[key] = value
	return nil
}
