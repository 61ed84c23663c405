// internal/history/step.go
package history

import "errors"

// ErrInvalidStep is returned when a step has neither an old nor a new value.
// Such a step can only come from a construction defect.
var ErrInvalidStep = errors.New("undo step has neither old nor new value")

// Step describes one reversible transition. A nil side means the value
// was absent: nil Old is a create, nil New is a delete.
type Step[T any] struct {
	Old *T
	New *T
}

// Flip converts an undo step into its redo step and vice versa.
func (s Step[T]) Flip() Step[T] {
	return Step[T]{Old: s.New, New: s.Old}
}

// Kind names the transition a step records.
type Kind int

const (
	Create Kind = iota + 1
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "invalid"
	}
}

// Change is the classified form of a Step. Old is the zero value for a
// Create and New is the zero value for a Delete.
type Change[T any] struct {
	Kind Kind
	Old  T
	New  T
}

// Classify derives the change a step records from which sides are present.
func (s Step[T]) Classify() (Change[T], error) {
	switch {
	case s.Old != nil && s.New != nil:
		return Change[T]{Kind: Update, Old: *s.Old, New: *s.New}, nil
	case s.New != nil:
		return Change[T]{Kind: Create, New: *s.New}, nil
	case s.Old != nil:
		return Change[T]{Kind: Delete, Old: *s.Old}, nil
	default:
		return Change[T]{}, ErrInvalidStep
	}
}
