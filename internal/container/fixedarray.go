// Package container implements the fixed-capacity ordered containers that
// live inside a caller-owned byte buffer so they can be placed in shared
// memory: a FixedArray of scalar records plus SearchFirst/InsertSorted
// helpers that keep one field sorted for binary search. Separates raw
// struct layout from safe typed accessors, generalized with Go generics
// instead of one hand-written view per table.
package container

import (
	"unsafe"
)

// FixedArray is a fixed-capacity sequence of T values stored contiguously
// starting at base. Its element count lives at a caller-provided location
// (countPtr) rather than inside the FixedArray value itself, so that
// multiple processes mapping the same underlying region and constructing
// independent FixedArray handles onto it observe the same length.
//
// T must be a fixed-layout value type containing no pointers or Go
// reference types (no slices, maps, strings, interfaces) — anything placed
// in a FixedArray backed by shared memory must be safely copyable between
// processes.
type FixedArray[T any] struct {
	base     unsafe.Pointer
	capacity int
	countPtr *int32
}

// NewFixedArray constructs a FixedArray of the given capacity over base,
// with its live element count tracked at countPtr. countPtr is not
// initialized by NewFixedArray; the first attacher of a shared region is
// responsible for zeroing it once.
func NewFixedArray[T any](base unsafe.Pointer, capacity int, countPtr *int32) *FixedArray[T] {
	return &FixedArray[T]{base: base, capacity: capacity, countPtr: countPtr}
}

// Cap returns the array's fixed capacity.
func (f *FixedArray[T]) Cap() int { return f.capacity }

// Len returns the current element count.
func (f *FixedArray[T]) Len() int { return int(*f.countPtr) }

// slice reinterprets the backing buffer as a Go slice of T without copying.
func (f *FixedArray[T]) slice() []T {
	return unsafe.Slice((*T)(f.base), f.capacity)
}

// At returns a pointer to the element at index i for in-place mutation.
// Panics if i is out of [0, Len()) range.
func (f *FixedArray[T]) At(i int) *T {
	if i < 0 || i >= f.Len() {
		panic("container: FixedArray index out of range")
	}
	return &f.slice()[i]
}

// PushBack appends v at the end. Returns false without modifying the
// array if it is already at capacity.
func (f *FixedArray[T]) PushBack(v T) (int, bool) {
	n := f.Len()
	if n >= f.capacity {
		return -1, false
	}
	f.slice()[n] = v
	*f.countPtr = int32(n + 1)
	return n, true
}

// RemoveAt deletes the element at index i, shifting subsequent elements
// left by one to keep the array contiguous. Panics if i is out of range.
func (f *FixedArray[T]) RemoveAt(i int) {
	n := f.Len()
	if i < 0 || i >= n {
		panic("container: FixedArray index out of range")
	}
	s := f.slice()
	copy(s[i:n-1], s[i+1:n])
	var zero T
	s[n-1] = zero
	*f.countPtr = int32(n - 1)
}

// Each calls fn for every live element in order, stopping early if fn
// returns false.
func (f *FixedArray[T]) Each(fn func(i int, v *T) bool) {
	s := f.slice()
	n := f.Len()
	for i := 0; i < n; i++ {
		if !fn(i, &s[i]) {
			return
		}
	}
}

// SortInPlace sorts the live elements using an insertion sort under less.
// Insertion sort is chosen deliberately: these tables cap out at a few
// hundred entries and the comparator only touches fixed-width scalar
// fields, so the O(n^2) worst case never dominates and there is no
// allocation, unlike sort.Slice's reflection-based swap.
func (f *FixedArray[T]) SortInPlace(less func(a, b *T) bool) {
	s := f.slice()
	n := f.Len()
	for i := 1; i < n; i++ {
		for j := i; j > 0 && less(&s[j], &s[j-1]); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
