package capture

import (
	"context"
	"slices"
	"sync"
)

// Store persists captured records.
type Store interface {
	// Append stores records in order. Implementations must not retain the
	// slice.
	Append(ctx context.Context, records []Record) error

	// Iterate calls fn for every stored record in capture order until fn
	// returns an error.
	Iterate(ctx context.Context, fn func(Record) error) error

	// Name identifies the store type in logs and metrics.
	Name() string

	Close() error
}

// MemoryStore keeps records in memory. It is meant for tests and short
// debugging sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Append(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *MemoryStore) Iterate(ctx context.Context, fn func(Record) error) error {
	for _, r := range m.Records() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Records returns a snapshot of the stored records.
func (m *MemoryStore) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records)
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) Close() error { return nil }
