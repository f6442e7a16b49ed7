package state

import (
	"context"
	"sync"
)

// MemoryStore keeps the latest snapshot and every recorded transition.
type MemoryStore struct {
	mu      sync.Mutex
	latest  Snapshot
	history []Snapshot
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Record(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 || m.history[len(m.history)-1].State != s.State {
		m.history = append(m.history, s)
	}
	m.latest = s
	return nil
}

// Latest returns the most recently recorded snapshot.
func (m *MemoryStore) Latest() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// States returns the recorded state names in order, collapsing repeats.
func (m *MemoryStore) States() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.history))
	for i, s := range m.history {
		out[i] = s.State
	}
	return out
}

func (m *MemoryStore) Close() error { return nil }
