// Package handleid mints the 64-bit opaque handles shared by the
// dispatcher's result registry and the timer's entry table.
package handleid

import "sync"

// Handle is an opaque, monotonically increasing identifier for a result
// slot or timer entry. The zero value is never minted.
type Handle uint64

// maxHandle is one below the wrap point; Allocator resets to 1 before
// overflowing past this value.
const maxHandle = 1<<63 - 1

// Allocator mints Handles from a single mutex-protected counter. A plain
// process-local counter is enough since handles never cross process
// boundaries.
type Allocator struct {
	mu   sync.Mutex
	next Handle
}

// New returns an Allocator whose first minted Handle is 1.
func New() *Allocator {
	return &Allocator{next: 1}
}

// Mint reserves and returns the next Handle. When the counter would
// overflow past maxHandle it wraps back to 1.
func (a *Allocator) Mint() Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.next
	if a.next >= maxHandle {
		a.next = 1
	} else {
		a.next++
	}
	return h
}
