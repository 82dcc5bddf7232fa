// Package dispatcher implements the in-process task-dispatch runtime: an
// elastic worker pool draining per-unit FIFO queues through a shared ready
// queue, plus a bounded result registry callers poll or block on. The
// timer package mints its handles here; timer callbacks and bus receivers
// may post their own follow-up work here. Nothing here talks to shared
// memory or the wall clock beyond internal/clock.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papanda1234/fjdispatchlite/internal/clock"
	"github.com/papanda1234/fjdispatchlite/internal/handleid"
	"github.com/papanda1234/fjdispatchlite/internal/xlog"
	"github.com/papanda1234/fjdispatchlite/unit"
)

// UnitID is the identity dispatched tasks are queued under. It is an alias
// for unit.ID so callers registering units against the timer or shmbus
// packages can pass the same value here without conversion.
type UnitID = unit.ID

// unitState is a per-unit FIFO of tasks plus enough bookkeeping to decide
// when the unit belongs back on the ready queue. queued and activeCount
// jointly stand in for the single "running" flag the design started from:
// sequential posts only add a ready entry while both are zero; parallel
// posts add one unconditionally, letting activeCount climb past one.
type unitState struct {
	fifo            []*Task
	queued          bool
	activeCount     int
	running         bool
	concurrentGuard atomic.Int32
}

// Dispatcher owns the ready queue, the per-unit FIFOs, and the worker pool
// that drains them. Zero value is not usable; construct with New.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	stop  bool
	units map[UnitID]*unitState
	ready []UnitID

	workers      map[int]*workerInfo
	nextWorkerID int
	workerCount  int
	wg           sync.WaitGroup

	monitorCancel context.CancelFunc

	results *resultRegistry
	handles *handleid.Allocator
}

// New builds and starts a Dispatcher: MinWorkers goroutines plus one
// monitor goroutine, all running before New returns.
func New(cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	handles := handleid.New()
	d := &Dispatcher{
		cfg:     cfg,
		logger:  xlog.For("dispatcher"),
		units:   make(map[UnitID]*unitState),
		workers: make(map[int]*workerInfo),
		results: newResultRegistry(handles),
		handles: handles,
	}
	d.cond = sync.NewCond(&d.mu)

	d.mu.Lock()
	for i := 0; i < cfg.MinWorkers; i++ {
		d.spawnWorkerLocked()
	}
	d.mu.Unlock()

	monitorCtx, cancel := context.WithCancel(context.Background())
	d.monitorCancel = cancel
	d.wg.Add(1)
	go d.monitorLoop(monitorCtx)

	return d
}

// MintHandle allocates a handle without reserving a result slot for it.
// Timer uses this to give each armed timer a stable identity independent
// of any single fire's task.
func (d *Dispatcher) MintHandle() handleid.Handle {
	return d.handles.Mint()
}

func (d *Dispatcher) getOrCreateUnitLocked(id UnitID) *unitState {
	st, ok := d.units[id]
	if !ok {
		st = &unitState{}
		d.units[id] = st
	}
	return st
}

// enqueue appends task to unit's FIFO and, depending on sequential, makes
// the unit ready for a worker to pick up. Returns ErrWorkerPoolSaturated
// (non-fatal; the task is enqueued regardless) when the pool is already at
// MaxWorkers and the ready queue keeps growing.
func (d *Dispatcher) enqueue(id UnitID, task *Task, sequential bool) error {
	if id == 0 {
		return ErrInvalidArgument
	}
	task.sequential = sequential

	d.mu.Lock()
	if d.stop {
		d.mu.Unlock()
		return ErrStopped
	}
	st := d.getOrCreateUnitLocked(id)
	st.fifo = append(st.fifo, task)

	makeReady := sequential && !st.queued && !st.running
	if !sequential {
		makeReady = true
	}
	if makeReady {
		d.ready = append(d.ready, id)
		st.queued = true
	}

	saturated := false
	if len(d.ready) > d.workerCount {
		if d.workerCount < d.cfg.MaxWorkers {
			d.spawnWorkerLocked()
		} else {
			saturated = true
		}
	}
	d.mu.Unlock()

	d.cond.Broadcast()
	if saturated {
		return ErrWorkerPoolSaturated
	}
	return nil
}

// PostMessage enqueues a request/response call: method is invoked with a
// copy of payload and its return value is recorded under the returned
// handle. sequential=true keeps this call in strict order relative to
// other sequential posts for the same unit; sequential=false lets it run
// concurrently with the unit's other parallel-mode work.
func (d *Dispatcher) PostMessage(id UnitID, method func(payload []byte) int, msgID uint32, payload []byte, sequential bool, srcName string, srcLine int) (handleid.Handle, error) {
	if method == nil {
		return 0, ErrInvalidArgument
	}
	payloadCopy := append([]byte(nil), payload...)
	h := d.results.reserve()
	task := newTask(func() int { return method(payloadCopy) }, srcName, srcLine, h)
	if err := d.enqueue(id, task, sequential); err != nil && err != ErrWorkerPoolSaturated {
		return 0, err
	} else if err == ErrWorkerPoolSaturated {
		return h, err
	}
	return h, nil
}

// PostEvent enqueues a payload-less call. Its return value is recorded
// under the returned handle just like PostMessage's. Events are always
// sequential; there is no parallel mode for them.
func (d *Dispatcher) PostEvent(id UnitID, method func() int, msgID uint32, srcName string, srcLine int) (handleid.Handle, error) {
	if method == nil {
		return 0, ErrInvalidArgument
	}
	h := d.results.reserve()
	task := newTask(method, srcName, srcLine, h)
	if err := d.enqueue(id, task, true); err != nil && err != ErrWorkerPoolSaturated {
		return 0, err
	} else if err == ErrWorkerPoolSaturated {
		return h, err
	}
	return h, nil
}

// PostMessageTo adapts a unit.MessageReceiver into PostMessage's raw
// callable shape, for units that implement the capability interface
// rather than closing over their own method directly.
func (d *Dispatcher) PostMessageTo(id UnitID, recv unit.MessageReceiver, method string, msgID uint32, payload []byte, sequential bool, srcName string, srcLine int) (handleid.Handle, error) {
	if recv == nil {
		return 0, ErrInvalidArgument
	}
	return d.PostMessage(id, func(p []byte) int {
		return recv.ReceiveMessage(method, msgID, p)
	}, msgID, payload, sequential, srcName, srcLine)
}

// PostEventTo adapts a unit.EventReceiver into PostEvent's raw callable
// shape, for units that implement the capability interface rather than
// closing over their own method directly.
func (d *Dispatcher) PostEventTo(id UnitID, recv unit.EventReceiver, method string, msgID uint32, srcName string, srcLine int) (handleid.Handle, error) {
	if recv == nil {
		return 0, ErrInvalidArgument
	}
	return d.PostEvent(id, func() int {
		return recv.ReceiveEvent(method, msgID)
	}, msgID, srcName, srcLine)
}

// EnqueueRaw enqueues a pre-built task, e.g. one the timer package mints
// its own handle for. task.Handle may be left zero, in which case no
// result is ever recorded for it.
func (d *Dispatcher) EnqueueRaw(id UnitID, task *Task, sequential bool) error {
	if task == nil || task.Run == nil {
		return ErrInvalidArgument
	}
	return d.enqueue(id, task, sequential)
}

// WaitResult blocks for up to timeoutMS milliseconds for handle's task to
// complete, returning its result and true, or false on timeout. A handle
// that was never issued, or was evicted from the registry before
// completing, behaves exactly like a slow one: this returns false once
// timeoutMS elapses.
func (d *Dispatcher) WaitResult(handle handleid.Handle, timeoutMS int64) (int, bool) {
	return d.results.wait(handle, timeoutMS)
}

func (d *Dispatcher) monitorLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.monitorTick()
		}
	}
}

func (d *Dispatcher) monitorTick() {
	now := clock.NowMS()
	d.mu.Lock()
	for _, w := range d.workers {
		if w.taskStartMS != 0 && now-w.taskStartMS >= d.cfg.HungTaskAfter.Milliseconds() {
			d.logger.Warn("hung task detected", "worker", w.id, "task", w.taskName, "trace_id", w.taskTraceID, "running_for_ms", now-w.taskStartMS)
		}
	}

	tentative := d.workerCount
	for _, w := range d.workers {
		if tentative <= d.cfg.MinWorkers {
			break
		}
		if w.taskStartMS == 0 && now-w.lastActiveMS >= d.cfg.IdleRetireAfter.Milliseconds() {
			w.cancel()
			tentative--
		}
	}
	d.mu.Unlock()
	d.cond.Broadcast()
}

// Close stops accepting new work, cancels every worker and the monitor,
// and waits unconditionally for them to exit or ctx to expire, whichever
// comes first. Already-queued tasks that a worker hasn't started yet are
// abandoned; tasks in flight are allowed to finish.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.stop {
		d.mu.Unlock()
		return nil
	}
	d.stop = true
	for _, w := range d.workers {
		w.cancel()
	}
	d.mu.Unlock()

	d.monitorCancel()
	d.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
