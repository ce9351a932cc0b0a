// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package bitvec defines a bit vector type used to track
// sets of small indices (live handle IDs, subresources
// touched by a recording).
package bitvec

import (
	"iter"
	"math/bits"
	"unsafe"
)

// Uint represents the granularity of a bit vector.
type Uint interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// V is a growable bit vector with custom granularity.
type V[T Uint] struct {
	s   []T
	rem int
}

// nbit returns the number of bits in T.
func (*V[T]) nbit() int { return int(unsafe.Sizeof(T(0))) * 8 }

// Len returns the number of bits in the vector.
func (v *V[_]) Len() int { return len(v.s) * v.nbit() }

// Count returns the number of set bits in the vector.
func (v *V[_]) Count() int { return v.Len() - v.rem }

// Grow resizes the vector to contain nplus additional Uints.
// The new extent is appended as a contiguous range of
// unset bits.
// It returns the value of v.Len prior to appending.
func (v *V[T]) Grow(nplus int) (index int) {
	index = v.Len()
	if nplus > 0 {
		v.rem += nplus * v.nbit()
		v.s = append(v.s, make([]T, nplus)...)
	}
	return
}

// Fit grows the vector, if needed, so that index is a
// valid bit position.
func (v *V[T]) Fit(index int) {
	if n := v.Len(); index >= n {
		nb := v.nbit()
		v.Grow((index-n)/nb + 1)
	}
}

// Set sets a given bit.
func (v *V[T]) Set(index int) {
	n := v.nbit()
	i := index / n
	b := T(1) << (index & (n - 1))
	if v.s[i]&b == 0 {
		v.s[i] |= b
		v.rem--
	}
}

// SetRange sets the bits in the range [index, index+n).
func (v *V[T]) SetRange(index, n int) {
	for i := index; i < index+n; i++ {
		v.Set(i)
	}
}

// Unset unsets a given bit.
func (v *V[T]) Unset(index int) {
	n := v.nbit()
	i := index / n
	b := T(1) << (index & (n - 1))
	if v.s[i]&b != 0 {
		v.s[i] &^= b
		v.rem++
	}
}

// IsSet checks whether a given bit is set.
// Indices past the end of the vector are reported as
// unset.
func (v *V[T]) IsSet(index int) bool {
	n := v.nbit()
	i := index / n
	if index < 0 || i >= len(v.s) {
		return false
	}
	b := T(1) << (index & (n - 1))
	return v.s[i]&b != 0
}

// Clear unsets every bit in the vector.
// The vector keeps its length.
func (v *V[T]) Clear() {
	n := v.Len()
	if n == v.rem {
		return
	}
	clear(v.s)
	v.rem = n
}

// Ones returns an iterator over the indices of set bits,
// in increasing order.
func (v *V[T]) Ones() iter.Seq[int] {
	return func(yield func(int) bool) {
		n := v.nbit()
		for i, x := range v.s {
			for x != 0 {
				b := bits.TrailingZeros64(uint64(x))
				if !yield(i*n + b) {
					return
				}
				x &^= T(1) << b
			}
		}
	}
}
