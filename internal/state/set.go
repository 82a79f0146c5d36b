package state

import (
	"cmp"
	"slices"
	"sync"
)

// Set is an append-only concurrent set.
type Set[T cmp.Ordered] struct {
	m sync.Map
}

// Add inserts v and reports whether it was new.
func (s *Set[T]) Add(v T) bool {
	_, loaded := s.m.LoadOrStore(v, struct{}{})
	return !loaded
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.m.Load(v)
	return ok
}

// Values returns the members in ascending order.
func (s *Set[T]) Values() []T {
	var out []T
	s.m.Range(func(k, _ any) bool {
		out = append(out, k.(T))
		return true
	})
	slices.Sort(out)
	return out
}
