package mediaring

import "unsafe"

const (
	ringMagic   uint64 = 0x666a6d656469610a
	ringVersion uint32 = 1
)

// ringHeader is the fixed-layout control block placed at the start of a
// ring's shared segment. Both header and slot area live in the same
// mapping so a single mmap covers the whole ring.
type ringHeader struct {
	magic      uint64
	version    uint32
	elemSize   uint32
	elemCount  uint32
	closed     uint32
	writeIdx   uint32
	readIdx    uint32
	emptyCount uint32
	fullCount  uint32
	// controlFlag is the producer enable/disable switch set by
	// Ring.SetControl, independent of closed: disabling it stops Write
	// from admitting new frames without waking or otherwise disturbing
	// the consumer side, which keeps draining whatever is already queued.
	controlFlag uint32
}

const ringHeaderSize = int(unsafe.Sizeof(ringHeader{}))
