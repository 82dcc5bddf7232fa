//go:build !linux || !(amd64 || arm64)

package shmbus

import (
	"sync/atomic"
	"time"
)

// crossCondPollInterval is how often Wait rechecks the generation on
// platforms without a futex syscall, the same fallback trade-off
// crossLock makes in lock_stub.go.
const crossCondPollInterval = 2 * time.Millisecond

// crossCond without a futex to block on falls back to polling the
// generation counter.
type crossCond struct {
	gen *uint32
}

func newCrossCond(gen *uint32) *crossCond { return &crossCond{gen: gen} }

func (c *crossCond) Signal() {
	atomic.AddUint32(c.gen, 1)
}

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
		if hasDeadline && !time.Now().Before(deadline) {
			return cur
		}
		time.Sleep(crossCondPollInterval)
	}
}
