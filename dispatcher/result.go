package dispatcher

import (
	"sync"
	"time"

	"github.com/papanda1234/fjdispatchlite/internal/clock"
	"github.com/papanda1234/fjdispatchlite/internal/handleid"
)

// resultCapacity bounds the registry to the most recent 100 outstanding
// handles, regardless of whether older ones were ever collected.
const resultCapacity = 100

// pollInterval bounds how long a single Wait cycle sleeps before
// rechecking its deadline: a condition-variable nudge instead of a busy
// loop.
const pollInterval = 33 * time.Millisecond

type resultSlot struct {
	value int
	ready bool
}

// resultRegistry is the dispatcher's result store: a fixed-size FIFO of
// outstanding handles plus their slots, guarded by its own mutex so a slow
// WaitResult caller never contends with the ready-queue mutex.
type resultRegistry struct {
	mu    sync.Mutex
	cond  *sync.Cond
	alloc *handleid.Allocator
	slots map[handleid.Handle]*resultSlot
	order []handleid.Handle
}

func newResultRegistry(alloc *handleid.Allocator) *resultRegistry {
	r := &resultRegistry{
		alloc: alloc,
		slots: make(map[handleid.Handle]*resultSlot),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// reserve mints a new handle and creates its (not-yet-ready) slot, evicting
// the oldest outstanding handle first if the registry is already at
// resultCapacity.
func (r *resultRegistry) reserve() handleid.Handle {
	h := r.alloc.Mint()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) >= resultCapacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.slots, oldest)
	}
	r.order = append(r.order, h)
	r.slots[h] = &resultSlot{}
	return h
}

// set records a task's result and wakes any waiters. A handle that was
// already evicted (or never reserved) is silently ignored: the caller of
// EnqueueRaw is free to run handle-less tasks.
func (r *resultRegistry) set(h handleid.Handle, value int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[h]; ok {
		slot.value = value
		slot.ready = true
		r.cond.Broadcast()
	}
}

// wait blocks until h's result is ready or timeoutMS elapses, whichever
// comes first. A handle absent from the registry (never reserved, or
// evicted before it completed) is treated as not-ready-yet rather than an
// error: the caller learns this only through the timeout.
func (r *resultRegistry) wait(h handleid.Handle, timeoutMS int64) (int, bool) {
	deadline := clock.DeadlineMS(timeoutMS)

	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if slot, ok := r.slots[h]; ok && slot.ready {
			return slot.value, true
		}
		if clock.Expired(deadline) {
			return 0, false
		}
		wait := clock.Remaining(deadline)
		if wait <= 0 {
			return 0, false
		}
		d := pollInterval
		if time.Duration(wait)*time.Millisecond < d {
			d = time.Duration(wait) * time.Millisecond
		}
		r.waitFor(d)
	}
}

// waitFor sleeps on the condition variable for at most d, waking early if
// another goroutine broadcasts (a result landing, or a nudge timer firing).
// Must be called with r.mu held.
func (r *resultRegistry) waitFor(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()
	r.cond.Wait()
}
