// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implements a set as a `map[T]struct{}`, used to dedupe backend names and list capability flags.
package sets

import (
	"cmp"
	"maps"
	"slices"
)

// Set of keys of type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set, reserving size if given.
func Make[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// FromKeys returns the Set of the keys of m.
func FromKeys[T comparable, V any](m map[T]V) Set[T] {
	s := Make[T](len(m))
	for key := range m {
		s[key] = struct{}{}
	}
	return s
}

// Has returns whether key is in the Set.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into the Set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Add inserts key and returns true if it wasn't in the Set yet.
func (s Set[T]) Add(key T) bool {
	if s.Has(key) {
		return false
	}
	s[key] = struct{}{}
	return true
}

// Sorted returns the keys of the Set in increasing order.
func Sorted[T cmp.Ordered](s Set[T]) []T {
	return slices.Sorted(maps.Keys(s))
}
