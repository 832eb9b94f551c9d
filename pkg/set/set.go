// Package set provides an insertion-ordered set.
package set

import (
	"iter"
	"slices"
)

// Set keeps its items in insertion order so that iteration is deterministic.
// The zero value is ready to use.
type Set[T comparable] struct {
	index map[T]int
	items []T
}

func New[T comparable](items ...T) *Set[T] {
	s := &Set[T]{}
	s.Add(items...)
	return s
}

// Add appends items that are not already present.
func (s *Set[T]) Add(items ...T) {
	if s.index == nil {
		s.index = make(map[T]int, len(items))
	}
	for _, item := range items {
		if _, ok := s.index[item]; ok {
			continue
		}
		s.index[item] = len(s.items)
		s.items = append(s.items, item)
	}
}

// Remove deletes item, preserving the order of the remaining items.
func (s *Set[T]) Remove(item T) {
	i, ok := s.index[item]
	if !ok {
		return
	}
	s.items = slices.Delete(s.items, i, i+1)
	delete(s.index, item)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
}

func (s *Set[T]) Contains(item T) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[item]
	return ok
}

func (s *Set[T]) ContainsAll(items ...T) bool {
	for _, item := range items {
		if !s.Contains(item) {
			return false
		}
	}
	return true
}

func (s *Set[T]) Size() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Set[T]) Clear() {
	s.index = nil
	s.items = nil
}

// Items yields the items in insertion order.
func (s *Set[T]) Items() iter.Seq[T] {
	return func(yield func(T) bool) {
		if s == nil {
			return
		}
		for _, item := range s.items {
			if !yield(item) {
				return
			}
		}
	}
}

// Slice returns a copy of the items in insertion order.
func (s *Set[T]) Slice() []T {
	if s == nil {
		return nil
	}
	return slices.Clone(s.items)
}

func (s *Set[T]) Clone() *Set[T] {
	return New(s.Slice()...)
}
