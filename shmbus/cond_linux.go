//go:build linux && (amd64 || arm64)

package shmbus

import (
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"
)

// crossCond is the "mutex, cond" half of a process row collapsed into one
// futex word: a generation counter that Signal bumps and broadcasts a
// wake on, and Wait blocks against until it moves past the caller's
// last-seen value. The row's own WakeGen field is the wait address, so no
// separate mutex is needed the way pthread_cond_wait requires one.
type crossCond struct {
	gen *uint32
}

func newCrossCond(gen *uint32) *crossCond { return &crossCond{gen: gen} }

// Signal bumps the generation and wakes every waiter, mirroring the
// original's pthread_cond_broadcast under the row's mutex.
func (c *crossCond) Signal() {
	atomic.AddUint32(c.gen, 1)
	futexWake(c.gen, 1<<30)
}

// Wait blocks until the generation moves past last, or timeoutMS elapses
// (negative waits forever), returning the generation observed on return.
func (c *crossCond) Wait(last uint32, timeoutMS int64) uint32 {
	deadline := time.Time{}
	hasDeadline := timeoutMS >= 0
	if hasDeadline {
		deadline = time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	}
	for {
		cur := atomic.LoadUint32(c.gen)
		if cur != last {
			return cur
		}
		var remainingNs int64 = -1
		if hasDeadline {
			remainingNs = int64(time.Until(deadline))
			if remainingNs <= 0 {
				return cur
			}
		}
		futexWaitGen(c.gen, last, remainingNs)
	}
}

func futexWaitGen(addr *uint32, val uint32, timeoutNs int64) {
	if atomic.LoadUint32(addr) != val {
		return
	}
	var ts *syscall.Timespec
	if timeoutNs >= 0 {
		ts = &syscall.Timespec{Sec: timeoutNs / 1e9, Nsec: timeoutNs % 1e9}
	}
	syscall.Syscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWaitShared,
		uintptr(val),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	// EAGAIN, EINTR, and ETIMEDOUT are all indistinguishable here from a
	// legitimate wake: the caller always re-checks the generation itself.
}
