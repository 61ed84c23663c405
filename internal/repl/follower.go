// internal/repl/follower.go
package repl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Chinzzii/undo-replication-go/internal/persist"
	"github.com/google/uuid"
)

// Follower applies replicated changes to a local backend.
// Conflicts are resolved Last-Write-Wins on the request timestamp:
// a change older than the last one applied for the same ID is ignored,
// so async reordering can't resurrect a deleted record.
type Follower struct {
	backend persist.Persistence

	mu   sync.Mutex              // mu serializes Apply and protects seen
	seen map[uuid.UUID]time.Time // latest applied timestamp per ID, deletes included
}

// NewFollower creates a Follower writing to backend.
func NewFollower(backend persist.Persistence) *Follower {
	return &Follower{
		backend: backend,
		seen:    make(map[uuid.UUID]time.Time),
	}
}

// Apply applies req unless a newer change for the same ID was already
// applied. It reports whether the change was applied.
func (f *Follower) Apply(ctx context.Context, req ReplicateRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Equal timestamps apply, matching Upsert's idempotence.
	if cur, ok := f.seen[req.ID]; ok && req.TS.Before(cur) {
		return false, nil
	}

	var err error
	switch req.Op {
	case OpUpsert:
		err = f.backend.Upsert(ctx, *req.Record)
	case OpDelete:
		err = f.backend.Delete(ctx, req.ID)
	}
	if err != nil {
		return false, fmt.Errorf("apply %s %s: %w", req.Op, req.ID, err)
	}
	f.seen[req.ID] = req.TS
	return true, nil
}
