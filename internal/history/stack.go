// internal/history/stack.go
package history

// Stack is a LIFO of steps. A positive limit caps its depth;
// pushing past the limit evicts the oldest entry.
// The zero value is an unbounded, empty stack.
type Stack[T any] struct {
	steps []Step[T]
	limit int
}

// NewStack creates a stack holding at most limit steps (0 = unbounded).
func NewStack[T any](limit int) *Stack[T] {
	if limit < 0 {
		limit = 0
	}
	return &Stack[T]{limit: limit}
}

// Push adds s on top of the stack.
func (st *Stack[T]) Push(s Step[T]) {
	if st.limit > 0 && len(st.steps) >= st.limit {
		st.steps = st.steps[1:]
	}
	st.steps = append(st.steps, s)
}

// Peek returns the top step without removing it.
func (st *Stack[T]) Peek() (Step[T], bool) {
	if len(st.steps) == 0 {
		return Step[T]{}, false
	}
	return st.steps[len(st.steps)-1], true
}

// Pop removes and returns the top step.
func (st *Stack[T]) Pop() (Step[T], bool) {
	top, ok := st.Peek()
	if !ok {
		return top, false
	}
	st.steps[len(st.steps)-1] = Step[T]{}
	st.steps = st.steps[:len(st.steps)-1]
	return top, true
}

// Clear drops every step.
func (st *Stack[T]) Clear() {
	clear(st.steps)
	st.steps = st.steps[:0]
}

// Len returns the number of steps held.
func (st *Stack[T]) Len() int { return len(st.steps) }
