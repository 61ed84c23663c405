// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/Chinzzii/undo-replication-go/internal/history"
	"github.com/Chinzzii/undo-replication-go/internal/persist"
	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/google/uuid"
)

// ErrNotFound is returned when deleting a record that is not in the store.
var ErrNotFound = errors.New("record not found")

// Step is one entry of the undo or redo stack.
type Step = history.Step[record.Record]

// Store owns the live collection of records and its undo/redo history,
// and forwards every accepted change to a persistence mirror.
type Store struct {
	mu      sync.Mutex                  // mu serializes every operation
	live    map[uuid.UUID]record.Record // live is the authoritative view, keyed by ID
	undo    *history.Stack[record.Record]
	redo    *history.Stack[record.Record]
	persist persist.Persistence
	log     *log.Logger
}

// Option configures a Store.
type Option func(*options)

type options struct {
	maxHistory int
	records    []record.Record
	logger     *log.Logger
}

// WithMaxHistory bounds the undo and redo stacks to n steps each.
func WithMaxHistory(n int) Option {
	return func(o *options) { o.maxHistory = n }
}

// WithRecords seeds the live collection, e.g. from a persistence backend
// on startup. Seeding records no history.
func WithRecords(rs []record.Record) Option {
	return func(o *options) { o.records = rs }
}

// WithLogger sets the logger used for store activity.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a Store that mirrors its changes to p.
func New(p persist.Persistence, opts ...Option) *Store {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}

	s := &Store{
		live:    make(map[uuid.UUID]record.Record, len(o.records)),
		undo:    history.NewStack[record.Record](o.maxHistory),
		redo:    history.NewStack[record.Record](o.maxHistory),
		persist: p,
		log:     o.logger,
	}
	for _, r := range o.records {
		s.live[r.ID()] = r
	}
	return s
}

// Lookup returns the live record with the given ID.
// A miss is not an error: it is what distinguishes a create from an update.
func (s *Store) Lookup(id uuid.UUID) (record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.live[id]
	return r, ok
}

// Save inserts r or replaces the record sharing its ID, recording the
// transition on the undo stack and invalidating redo history.
func (s *Store) Save(ctx context.Context, r record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(ctx, r, true)
}

// Delete removes the record sharing r's ID, recording the transition on
// the undo stack and invalidating redo history. It returns the record
// that was live under that ID, which may carry a newer payload than r.
// Deleting an ID that is not in the store returns ErrNotFound and
// records nothing.
func (s *Store) Delete(ctx context.Context, r record.Record) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.delete(ctx, r, true)
}

// Undo reverts the most recent recorded change. It is a no-op when there
// is nothing to undo.
func (s *Store) Undo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.replay(ctx, s.undo, s.redo, "undo")
}

// Redo re-applies the most recently undone change. It is a no-op when
// there is nothing to redo.
func (s *Store) Redo(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.replay(ctx, s.redo, s.undo, "redo")
}

// History returns the depths of the undo and redo stacks.
func (s *Store) History() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.undo.Len(), s.redo.Len()
}

// Snapshot returns a copy of the live collection.
func (s *Store) Snapshot() map[uuid.UUID]record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uuid.UUID]record.Record, len(s.live))
	for k, v := range s.live {
		out[k] = v
	}
	return out
}

// Records returns the live records ordered by ID.
func (s *Store) Records() []record.Record {
	s.mu.Lock()
	out := make([]record.Record, 0, len(s.live))
	for _, r := range s.live {
		out = append(out, r)
	}
	s.mu.Unlock()

	persist.SortByID(out)
	return out
}

// replay pops the top step of from, applies it without recording
// history, and pushes its inverse onto to. The step only moves once the
// persistence forward has succeeded, so a failed replay can be retried.
// A step with neither side present is discarded and reported.
func (s *Store) replay(ctx context.Context, from, to *history.Stack[record.Record], op string) error {
	step, ok := from.Peek()
	if !ok {
		return nil
	}

	change, err := step.Classify()
	if err != nil {
		from.Pop()
		s.log.Printf("%s: discarding step: %v", op, err)
		return fmt.Errorf("%s: %w", op, err)
	}

	switch change.Kind {
	case history.Update, history.Delete:
		// Restore the value the step started from.
		err = s.save(ctx, change.Old, false)
	case history.Create:
		_, err = s.delete(ctx, change.New, false)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, change.Kind, err)
	}

	from.Pop()
	to.Push(step.Flip())
	s.log.Printf("%s %s applied (undo=%d redo=%d)", op, change.Kind, s.undo.Len(), s.redo.Len())
	return nil
}

func (s *Store) save(ctx context.Context, r record.Record, recordStep bool) error {
	if err := r.Validate(); err != nil {
		return err
	}
	old, existed := s.live[r.ID()]

	if err := s.persist.Upsert(ctx, r); err != nil {
		return fmt.Errorf("persist upsert %s: %w", r.ID(), err)
	}

	if recordStep {
		step := Step{New: &r}
		if existed {
			step.Old = &old
		}
		s.undo.Push(step)
		s.redo.Clear()
	}
	s.live[r.ID()] = r
	return nil
}

func (s *Store) delete(ctx context.Context, r record.Record, recordStep bool) (record.Record, error) {
	old, existed := s.live[r.ID()]
	if !existed && recordStep {
		return record.Record{}, fmt.Errorf("delete %s: %w", r.ID(), ErrNotFound)
	}

	if err := s.persist.Delete(ctx, r.ID()); err != nil {
		return record.Record{}, fmt.Errorf("persist delete %s: %w", r.ID(), err)
	}

	if recordStep {
		s.undo.Push(Step{Old: &old})
		s.redo.Clear()
	}
	delete(s.live, r.ID())
	return old, nil
}
