package container

import "cmp"

// SearchFirst returns the index of the first live element in f whose key
// (per keyOf) equals want, using binary search under the invariant that f
// is sorted ascending by keyOf. The second return value is false if no
// element matches; the returned index is then the insertion point that
// keeps the array sorted.
func SearchFirst[T any, K cmp.Ordered](f *FixedArray[T], keyOf func(*T) K, want K) (int, bool) {
	s := f.slice()
	n := f.Len()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if keyOf(&s[mid]) < want {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && keyOf(&s[lo]) == want {
		return lo, true
	}
	return lo, false
}

// InsertSorted inserts v at the position that keeps f sorted ascending by
// keyOf, shifting later elements right by one. Returns false without
// modifying f if it is at capacity.
func InsertSorted[T any, K cmp.Ordered](f *FixedArray[T], keyOf func(*T) K, v T) (int, bool) {
	n := f.Len()
	if n >= f.Cap() {
		return -1, false
	}
	idx, _ := SearchFirst(f, keyOf, keyOf(&v))
	// Advance past any existing entries with the same key so ties are
	// appended after, matching "iterate all contiguous rows with that key".
	s := f.slice()
	for idx < n && keyOf(&s[idx]) == keyOf(&v) {
		idx++
	}

	if _, ok := f.PushBack(v); !ok {
		return -1, false
	}
	s = f.slice()
	for j := n; j > idx; j-- {
		s[j] = s[j-1]
	}
	s[idx] = v
	return idx, true
}
