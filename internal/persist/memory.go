// internal/persist/memory.go
package persist

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/google/uuid"
)

// Memory is a thread-safe, in-memory mirror of the live collection.
// It uses a RWMutex to protect concurrent access to the underlying map.
type Memory struct {
	mu   sync.RWMutex                // mu protects the data map
	data map[uuid.UUID]record.Record // data stores the mirrored records
}

// NewMemory creates an empty in-memory mirror.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[uuid.UUID]record.Record),
	}
}

// Upsert replaces the record stored under r's ID.
func (m *Memory) Upsert(ctx context.Context, r record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[r.ID()] = r
	return nil
}

// Delete removes the record with the given ID if present.
func (m *Memory) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, id)
	return nil
}

// Get retrieves a record by ID.
func (m *Memory) Get(ctx context.Context, id uuid.UUID) (record.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.data[id]
	return r, ok, nil
}

// List returns all records ordered by ID.
func (m *Memory) List(ctx context.Context) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]record.Record, 0, len(m.data))
	for _, r := range m.data {
		out = append(out, r)
	}
	m.mu.RUnlock()

	SortByID(out)
	return out, nil
}

// Snapshot returns a shallow copy of the mirrored data.
// Used by tests and status endpoints that need a consistent view
// without holding the lock.
func (m *Memory) Snapshot() map[uuid.UUID]record.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copy := make(map[uuid.UUID]record.Record, len(m.data))
	for k, v := range m.data {
		copy[k] = v
	}
	return copy
}

// SortByID orders records by ID so listings are stable.
func SortByID(rs []record.Record) {
	slices.SortFunc(rs, func(a, b record.Record) int {
		aid, bid := a.ID(), b.ID()
		return bytes.Compare(aid[:], bid[:])
	})
}
