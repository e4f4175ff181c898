package routing

import (
	"dynamic-datasource/internal/common/errors"
)

// Stack is an immutable last-in first-out list of routing keys. The top
// node holds the active key. A nil *Stack is the empty stack.
//
// Push and Pop return new stacks and never change the receiver, so a Stack
// can be shared freely between goroutines.
type Stack struct {
	key    string
	parent *Stack
	depth  int
}

// Push returns a stack with key on top of s.
func (s *Stack) Push(key string) *Stack {
	return &Stack{key: key, parent: s, depth: s.Depth() + 1}
}

// Pop returns the active key and the stack below it. Popping an empty stack
// means pushes and pops are unbalanced somewhere and returns a stack
// underflow error.
func (s *Stack) Pop() (string, *Stack, error) {
	if s == nil {
		return "", nil, errors.StackUnderflowError()
	}
	return s.key, s.parent, nil
}

// Peek returns the active key.
func (s *Stack) Peek() (string, bool) {
	if s == nil {
		return "", false
	}
	return s.key, true
}

// Depth returns the number of keys on the stack.
func (s *Stack) Depth() int {
	if s == nil {
		return 0
	}
	return s.depth
}

// Keys returns the keys bottom first.
func (s *Stack) Keys() []string {
	out := make([]string, s.Depth())
	for n, i := s, len(out)-1; n != nil; n, i = n.parent, i-1 {
		out[i] = n.key
	}
	return out
}
