package worklist

import "github.com/cockroachdb/errors"

// ErrOverflow is returned by Stack.Push when the stack is already at capacity
var ErrOverflow = errors.New("worklist overflow")

// Stack is a fixed-capacity LIFO worklist. Its storage is allocated once and never grows: a push
// onto a full stack fails rather than reallocating.
type Stack[T any] struct {
	items []T
	top   int
}

// NewStack creates a stack that can hold capacity entries
func NewStack[T any](capacity int) *Stack[T] {
	return &Stack[T]{items: make([]T, capacity)}
}

// Push adds an entry to the top of the stack. It returns ErrOverflow if the stack is full.
func (s *Stack[T]) Push(item T) error {
	if s.top == len(s.items) {
		return errors.Wrapf(ErrOverflow, "capacity %d", len(s.items))
	}
	s.items[s.top] = item
	s.top++
	return nil
}

// Pop removes and returns the top entry. The second return value is false if the stack is empty.
func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if s.top == 0 {
		return zero, false
	}
	s.top--
	item := s.items[s.top]
	s.items[s.top] = zero
	return item, true
}

// Len returns the number of entries on the stack
func (s *Stack[T]) Len() int { return s.top }

// Cap returns the maximum number of entries the stack can hold
func (s *Stack[T]) Cap() int { return len(s.items) }

// Reset discards every entry on the stack
func (s *Stack[T]) Reset() {
	var zero T
	for i := 0; i < s.top; i++ {
		s.items[i] = zero
	}
	s.top = 0
}
