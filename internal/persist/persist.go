// Package persist defines the contract between the record store and the
// medium that mirrors its accepted changes, plus an in-memory mirror and
// a tracing decorator. Database-backed mirrors live in sub-packages.
package persist

import (
	"context"

	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/google/uuid"
)

// Persistence receives every change the store accepts.
// Upsert replaces any record with the same ID; Delete is a no-op when
// the ID is absent. Both must be idempotent.
type Persistence interface {
	Upsert(ctx context.Context, r record.Record) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Reader is implemented by mirrors that can be read back, e.g. to
// hydrate the store on startup or serve reads on a follower.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (record.Record, bool, error)
	List(ctx context.Context) ([]record.Record, error)
}

// Backend is a mirror that can be both written and read.
type Backend interface {
	Persistence
	Reader
}
