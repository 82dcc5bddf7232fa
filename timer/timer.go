// Package timer implements the single-threaded cooperative timer wheel:
// one dedicated goroutine wakes no later than the earliest due entry,
// checks one entry in round-robin order, invokes its callback directly,
// inline, on that same goroutine if it is due, and goes back to sleep
// for however long is left until the next one is due. A callback
// that wants its own work to run elsewhere (e.g. on a dispatcher worker)
// is free to call dispatcher.PostEvent/PostMessage itself; the timer
// goroutine never hands the callback itself off to another goroutine.
package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/papanda1234/fjdispatchlite/dispatcher"
	"github.com/papanda1234/fjdispatchlite/internal/clock"
	"github.com/papanda1234/fjdispatchlite/internal/handleid"
	"github.com/papanda1234/fjdispatchlite/internal/xlog"
	"github.com/papanda1234/fjdispatchlite/unit"
)

const (
	// minTickMS floors how tight the loop's wait can get, so a storm of
	// sub-millisecond timers can't spin the goroutine.
	minTickMS = 15
	// maxIdleWaitMS bounds how long the loop sleeps with no armed timers,
	// so a timer created concurrently is never delayed more than this.
	maxIdleWaitMS = 2000
	// defaultBaseWaitMS is the wait ceiling before any short-interval
	// timer has tightened it.
	defaultBaseWaitMS = 250
)

// Callback is invoked on every fire. handle identifies the timer and
// nowMS is the loop's clock reading at fire time, not the exact scheduled
// instant (the loop checks only one entry per wake, so a due entry may
// fire a few ticks late).
type Callback func(handle handleid.Handle, nowMS int64) int

type entry struct {
	handle     handleid.Handle
	unit       dispatcher.UnitID
	intervalMS int64
	nextFireMS int64
	method     Callback
	srcName    string
	srcLine    int
}

// Timer arms and fires callbacks on its own dedicated goroutine, one at a
// time, round-robin, exactly like the single TimerThread it's grounded on.
// It mints its own handles from the dispatcher's allocator so a timer
// handle and a task handle from the same dispatcher never collide; the
// dispatcher itself is only ever touched for that, and by callbacks that
// choose to post their own work through it.
type Timer struct {
	d      *dispatcher.Dispatcher
	logger *slog.Logger

	mu         sync.Mutex
	entries    map[handleid.Handle]*entry
	order      []handleid.Handle // round-robin visiting order, one checked per wake
	cursor     int
	baseWaitMS int64
	stop       bool
	wake       chan struct{}
	wg         sync.WaitGroup
}

// New starts a Timer's loop goroutine bound to d. d is not owned by the
// Timer; closing the Timer does not close d.
func New(d *dispatcher.Dispatcher) *Timer {
	t := &Timer{
		d:          d,
		logger:     xlog.For("timer"),
		entries:    make(map[handleid.Handle]*entry),
		baseWaitMS: defaultBaseWaitMS,
		wake:       make(chan struct{}, 1),
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

// CreateTimer arms a new timer that calls method every intervalMS
// milliseconds, forever, until method itself returns a negative value or
// the caller disarms it with RemoveTimer/RemoveAll. method runs directly
// on the timer's own loop goroutine; a slow handler delays every other
// armed timer's next check, exactly as it would on a single-threaded timer
// wheel, so a callback that wants concurrency should hand its own work off
// (e.g. via dispatcher.PostEvent) rather than block.
func (t *Timer) CreateTimer(unit dispatcher.UnitID, method Callback, intervalMS int64, srcName string, srcLine int) (handleid.Handle, error) {
	if method == nil || intervalMS < minTickMS {
		return 0, ErrInvalidArgument
	}

	h := t.d.MintHandle()
	e := &entry{
		handle:     h,
		unit:       unit,
		intervalMS: intervalMS,
		nextFireMS: clock.NowMS() + intervalMS,
		method:     method,
		srcName:    srcName,
		srcLine:    srcLine,
	}

	t.mu.Lock()
	t.entries[h] = e
	t.order = append(t.order, h)
	tightened := intervalMS / 5
	if tightened < minTickMS {
		tightened = minTickMS
	}
	if tightened < t.baseWaitMS {
		t.baseWaitMS = tightened
	}
	t.mu.Unlock()

	t.nudge()
	return h, nil
}

// CreateTickTimer adapts a unit.TickReceiver into CreateTimer's raw
// Callback shape, for units that implement the capability interface
// rather than closing over their own method directly. The receiver sees
// its own unit ID rather than the timer handle, matching
// MessageReceiver/EventReceiver's unit-keyed rather than handle-keyed
// call shape.
func (t *Timer) CreateTickTimer(u dispatcher.UnitID, recv unit.TickReceiver, intervalMS int64, srcName string, srcLine int) (handleid.Handle, error) {
	if recv == nil {
		return 0, ErrInvalidArgument
	}
	return t.CreateTimer(u, func(_ handleid.Handle, nowMS int64) int {
		return recv.ReceiveTick(u, nowMS)
	}, intervalMS, srcName, srcLine)
}

// RemoveTimer disarms handle. Returns false if handle was never armed or
// already fired out.
func (t *Timer) RemoveTimer(handle handleid.Handle) bool {
	t.mu.Lock()
	_, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
		t.removeFromOrderLocked(handle)
	}
	t.mu.Unlock()
	return ok
}

// RemoveAll disarms every timer belonging to unit, returning how many
// were removed.
func (t *Timer) RemoveAll(unit dispatcher.UnitID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for h, e := range t.entries {
		if e.unit == unit {
			delete(t.entries, h)
			t.removeFromOrderLocked(h)
			n++
		}
	}
	return n
}

// removeFromOrderLocked splices handle out of the round-robin visiting
// order. Must be called with t.mu held.
func (t *Timer) removeFromOrderLocked(handle handleid.Handle) {
	for i, h := range t.order {
		if h == handle {
			t.order = append(t.order[:i], t.order[i+1:]...)
			if t.cursor > i {
				t.cursor--
			}
			return
		}
	}
}

// IsActive reports whether handle is still armed.
func (t *Timer) IsActive(handle handleid.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[handle]
	return ok
}

// nudge wakes the loop early so a newly created short-interval timer
// isn't stuck behind whatever wait the loop last computed.
func (t *Timer) nudge() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Timer) loop() {
	defer t.wg.Done()
	for {
		t.mu.Lock()
		if t.stop {
			t.mu.Unlock()
			return
		}
		wait := t.computeWaitLocked()
		t.mu.Unlock()

		timer := time.NewTimer(time.Duration(wait) * time.Millisecond)
		select {
		case <-timer.C:
		case <-t.wake:
			timer.Stop()
		}

		t.mu.Lock()
		stopping := t.stop
		t.mu.Unlock()
		if stopping {
			return
		}

		t.fireNext()
	}
}

// computeWaitLocked returns how long the loop should sleep, in
// milliseconds, given the current entry set. Must be called with t.mu
// held.
func (t *Timer) computeWaitLocked() int64 {
	if len(t.entries) == 0 {
		return maxIdleWaitMS
	}
	now := clock.NowMS()
	wait := t.baseWaitMS
	for _, e := range t.entries {
		remain := e.nextFireMS - now
		if remain < wait {
			wait = remain
		}
	}
	if wait < minTickMS {
		wait = minTickMS
	}
	return wait
}

// fireNext examines exactly one entry from the round-robin order — the one
// the cursor currently points at — advancing the cursor for next time.
// If that entry is due, its callback runs synchronously, right here, on
// this loop's own goroutine, before fireNext returns: this is the timer's
// single thread, and nothing else ever runs a timer callback. A caller
// wanting concurrent work should have the callback itself post through
// the dispatcher rather than block this goroutine.
func (t *Timer) fireNext() {
	t.mu.Lock()
	if len(t.order) == 0 {
		t.mu.Unlock()
		return
	}
	if t.cursor >= len(t.order) {
		t.cursor = 0
	}
	h := t.order[t.cursor]
	t.cursor++

	e := t.entries[h] // order and entries are always kept in lockstep
	now := clock.NowMS()
	if now < e.nextFireMS {
		t.mu.Unlock()
		return
	}
	e.nextFireMS = now + e.intervalMS
	t.mu.Unlock()

	result := e.method(e.handle, now)

	t.mu.Lock()
	if result < 0 {
		if cur, ok := t.entries[e.handle]; ok && cur == e {
			delete(t.entries, e.handle)
			t.removeFromOrderLocked(e.handle)
		}
	}
	t.mu.Unlock()
}

// Close stops the loop goroutine and waits for it to exit or ctx to
// expire, whichever comes first. Armed timers are simply discarded.
func (t *Timer) Close(ctx context.Context) error {
	t.mu.Lock()
	t.stop = true
	t.mu.Unlock()
	t.nudge()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
