// SPDX-License-Identifier: MIT

package archive

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the non-durable archive backend, for tests and local
// iteration.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty in-memory archive.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Put(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[e.SessionID]; exists {
		return nil
	}
	m.entries[e.SessionID] = e
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := e
	return &out, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FinalizedAt.Equal(out[j].FinalizedAt) {
			return out[i].FinalizedAt.Before(out[j].FinalizedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
