// Package mediaring implements a bounded, blocking single-producer
// single-consumer ring buffer of timestamped, variable-length frames. It
// is grounded on the same shared-memory ring mechanics as the rest of
// this module's transport substrate, generalized from a byte-stream ring
// into one that frames each write with a length and a timestamp, and
// happy to run either inside one process (backed by a plain slice) or
// across two (backed by mmap'd shared memory).
package mediaring

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/papanda1234/fjdispatchlite/internal/xlog"
)

// Wait/read/write result codes, matching the plain-int ABI the rest of
// this module's blocking calls use instead of Go errors, so callers on
// the hot path don't allocate one per call.
const (
	StatusOK        = 0
	StatusTimeout   = -1
	StatusInvalid   = -2
	StatusStopped   = -3
)

// slotHeaderSize is the framing written immediately before each element's
// payload bytes: a uint32 length followed by an int64 millisecond
// timestamp.
const slotHeaderSize = 12

var (
	// ErrInvalidSize is returned by Create/Open for a non-positive
	// elemSize/elemCount.
	ErrInvalidSize = errors.New("mediaring: invalid element size or count")
	// ErrFrameTooLarge is returned by Write when the payload does not fit
	// in one slot.
	ErrFrameTooLarge = errors.New("mediaring: frame larger than element size")
)

// Ring is a bounded blocking SPSC ring of framed, timestamped elements.
// Exactly one goroutine (in-process) or process (cross-process) may call
// Write; exactly one may call Read. Mixing writers or mixing readers is
// undefined.
type Ring struct {
	elemSize  int
	elemCount int
	slotSize  int

	seg    *segment // nil for a pure in-process ring
	base   unsafe.Pointer
	closed *uint32

	// controlFlag is the producer's own enable/disable switch, flipped by
	// SetControl and independent of closed: pausing the producer never
	// touches the consumer's semaphore, so a paused ring keeps draining.
	controlFlag *uint32

	writeIdx *uint32 // owned exclusively by the writer
	readIdx  *uint32 // owned exclusively by the reader

	empty semaphore // counts writable slots; starts at elemCount
	full  semaphore // counts readable slots; starts at 0

	logger *slog.Logger
}

// Create makes a brand-new ring named name with room for elemCount frames
// of up to elemSize bytes each. On a platform without shared-memory
// support the ring still works, scoped to this process.
func Create(name string, elemCount, elemSize int) (*Ring, error) {
	if elemCount <= 0 || elemSize <= 0 {
		return nil, ErrInvalidSize
	}
	return createRing(name, elemCount, elemSize)
}

// Open attaches to an existing ring created with Create (by another
// process, if the platform supports cross-process segments).
func Open(name string) (*Ring, error) {
	return openRing(name)
}

// Write blocks up to waitMS milliseconds for a slot to free up and copies
// payload plus tsMS into it. waitMS < 0 blocks with no deadline. Returns
// StatusOK, StatusTimeout if no slot freed up in time, StatusInvalid (with
// an error) if the frame doesn't fit, or StatusStopped if the ring was
// closed or the producer side was disabled via SetControl(false).
func (r *Ring) Write(payload []byte, tsMS int64, waitMS int64) (int, error) {
	if !r.Started() {
		return StatusStopped, nil
	}
	if len(payload) > r.elemSize {
		r.logger.Warn("frame rejected, larger than element size", "payload_len", len(payload), "elem_size", r.elemSize)
		return StatusInvalid, ErrFrameTooLarge
	}
	if isClosed(r.closed) {
		return StatusStopped, nil
	}
	status := r.empty.timedWait(waitMS)
	if status != StatusOK {
		return status, nil
	}

	idx := *r.writeIdx % uint32(r.elemCount)
	r.writeSlot(int(idx), payload, tsMS)
	*r.writeIdx++
	r.full.post()
	return StatusOK, nil
}

// TimedWait blocks up to timeoutMS milliseconds for a frame to become
// readable without consuming it, returning StatusOK if one is ready,
// StatusTimeout if not, or StatusStopped if the ring was closed while
// waiting. It never advances the read side; call Read to actually consume
// the frame.
func (r *Ring) TimedWait(timeoutMS int64) int {
	if isClosed(r.closed) {
		return StatusStopped
	}
	return r.full.peek(timeoutMS)
}

// Read blocks up to waitMS milliseconds for a frame to become readable,
// then copies the oldest unread one out of the ring into a fresh slice and
// returns it with its timestamp. waitMS < 0 blocks with no deadline.
func (r *Ring) Read(waitMS int64) ([]byte, int64, int, error) {
	if isClosed(r.closed) {
		return nil, 0, StatusStopped, nil
	}
	status := r.full.timedWait(waitMS)
	if status != StatusOK {
		return nil, 0, status, nil
	}
	idx := *r.readIdx % uint32(r.elemCount)
	payload, ts := r.readSlot(int(idx))
	*r.readIdx++
	r.empty.post()
	return payload, ts, StatusOK, nil
}

// Closed reports whether the ring has been permanently shut down via
// Close.
func (r *Ring) Closed() bool {
	return isClosed(r.closed)
}

// Started reports whether the producer side is currently enabled.
func (r *Ring) Started() bool {
	return atomic.LoadUint32(r.controlFlag) != 0
}

// SetControl enables or disables the producer side without touching the
// consumer: a disabled ring makes Write return StatusStopped immediately,
// while Read keeps draining whatever frames are already queued. Toggling
// it back on lets Write resume. It has no effect once the ring is Closed.
func (r *Ring) SetControl(start bool) {
	v := uint32(0)
	if start {
		v = 1
	}
	atomic.StoreUint32(r.controlFlag, v)
}

// Close marks the ring closed and wakes any blocked Write/TimedWait
// callers so they can observe StatusStopped, then releases the
// underlying segment (if any). Safe to call from either end.
func (r *Ring) Close() error {
	markClosed(r.closed)
	r.empty.stopAll()
	r.full.stopAll()
	if r.seg != nil {
		return r.seg.close()
	}
	return nil
}

func (r *Ring) slotOffset(idx int) uintptr {
	return uintptr(idx) * uintptr(r.slotSize)
}

func (r *Ring) writeSlot(idx int, payload []byte, tsMS int64) {
	p := unsafe.Add(r.base, r.slotOffset(idx))
	slot := unsafe.Slice((*byte)(p), r.slotSize)
	binary.LittleEndian.PutUint32(slot[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(slot[4:12], uint64(tsMS))
	copy(slot[slotHeaderSize:], payload)
}

func (r *Ring) readSlot(idx int) ([]byte, int64) {
	p := unsafe.Add(r.base, r.slotOffset(idx))
	slot := unsafe.Slice((*byte)(p), r.slotSize)
	n := binary.LittleEndian.Uint32(slot[0:4])
	ts := int64(binary.LittleEndian.Uint64(slot[4:12]))
	out := make([]byte, n)
	copy(out, slot[slotHeaderSize:slotHeaderSize+int(n)])
	return out, ts
}

func isClosed(p *uint32) bool {
	return atomic.LoadUint32(p) != 0
}

func markClosed(p *uint32) {
	atomic.StoreUint32(p, 1)
}

func newLogger() *slog.Logger {
	return xlog.For("mediaring")
}

func slotStride(elemSize int) int {
	return slotHeaderSize + elemSize
}
