// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package handle

// Vector stores one T per handle ID.
// It grows on access, so any ID can be used as index.
// The zero value is an empty vector ready to use.
type Vector[T any] struct {
	s []T
}

// At returns a pointer to the element of id, growing v if
// needed.
// The pointer is invalidated by the next call that grows v.
func (v *Vector[T]) At(id uint32) *T {
	if n := int(id) + 1; n > len(v.s) {
		v.s = append(v.s, make([]T, n-len(v.s))...)
	}
	return &v.s[id]
}

// Get returns the element of id without growing v.
// ok is false if id was never stored.
func (v *Vector[T]) Get(id uint32) (t T, ok bool) {
	if int(id) < len(v.s) {
		return v.s[id], true
	}
	return
}

// Set stores t as the element of id.
func (v *Vector[T]) Set(id uint32, t T) { *v.At(id) = t }

// Zero resets the element of id to T's zero value.
func (v *Vector[T]) Zero(id uint32) {
	if int(id) < len(v.s) {
		var t T
		v.s[id] = t
	}
}

// Len returns the number of stored elements (the largest
// ID seen plus one).
func (v *Vector[_]) Len() int { return len(v.s) }

// Clear removes every element.
func (v *Vector[_]) Clear() { v.s = v.s[:0] }
