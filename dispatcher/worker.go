package dispatcher

import (
	"context"

	"github.com/papanda1234/fjdispatchlite/internal/clock"
)

// workerInfo is the monitor's view of one pool goroutine: what it's doing
// right now, if anything, and when it last finished a task.
type workerInfo struct {
	id           int
	cancel       context.CancelFunc
	lastActiveMS int64
	taskStartMS  int64
	taskName     string
	taskTraceID  string
}

func (d *Dispatcher) spawnWorkerLocked() {
	id := d.nextWorkerID
	d.nextWorkerID++
	ctx, cancel := context.WithCancel(context.Background())
	w := &workerInfo{id: id, cancel: cancel, lastActiveMS: clock.NowMS()}
	d.workers[id] = w
	d.workerCount++
	d.wg.Add(1)
	go d.runWorker(ctx, w)
}

// removeWorkerLocked deletes w from the pool's bookkeeping. Must be called
// with d.mu held, and only by the worker goroutine itself as it exits.
func (d *Dispatcher) removeWorkerLocked(id int) {
	if _, ok := d.workers[id]; ok {
		delete(d.workers, id)
		d.workerCount--
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, w *workerInfo) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for !d.stop && len(d.ready) == 0 && ctx.Err() == nil {
			d.cond.Wait()
		}
		if ctx.Err() != nil {
			d.removeWorkerLocked(w.id)
			d.mu.Unlock()
			return
		}
		if d.stop && len(d.ready) == 0 {
			d.removeWorkerLocked(w.id)
			d.mu.Unlock()
			return
		}

		unitID := d.ready[0]
		d.ready = d.ready[1:]
		st := d.units[unitID]
		st.queued = false
		if len(st.fifo) == 0 {
			// A parallel-mode entry that lost a race with another worker
			// draining the same unit; nothing left to do for this pop.
			d.mu.Unlock()
			continue
		}
		task := st.fifo[0]
		st.fifo = st.fifo[1:]
		st.activeCount++
		st.running = true
		w.taskStartMS = clock.NowMS()
		w.taskName = task.name()
		w.taskTraceID = task.TraceID
		d.mu.Unlock()

		result := d.runTask(unitID, st, task)

		d.mu.Lock()
		w.taskStartMS = 0
		w.taskName = ""
		w.taskTraceID = ""
		w.lastActiveMS = clock.NowMS()
		st.activeCount--
		st.running = st.activeCount > 0
		if len(st.fifo) > 0 {
			d.ready = append(d.ready, unitID)
			st.queued = true
		}
		d.mu.Unlock()

		if task.Handle != 0 {
			d.results.set(task.Handle, result)
		}
	}
}

// runTask executes task.Run, recovering a panic into TaskPanicSentinel so
// one bad unit never takes a worker down. When DetectConcurrentUnitAccess
// is on and task is parallel-mode, it also checks whether another worker
// is already running a task for the same unit and logs a diagnostic if so;
// the run proceeds either way, since parallel mode makes the caller
// responsible for any needed mutual exclusion.
func (d *Dispatcher) runTask(unitID UnitID, st *unitState, task *Task) (result int) {
	if d.cfg.DetectConcurrentUnitAccess && !task.sequential {
		n := st.concurrentGuard.Add(1)
		if n > 1 {
			d.logger.Warn("concurrent access to unit detected", "unit", unitID, "task", task.name(), "concurrent_workers", n)
		}
		defer st.concurrentGuard.Add(-1)
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("task panicked", "unit", unitID, "task", task.name(), "trace_id", task.TraceID, "recover", r)
			result = TaskPanicSentinel
		}
	}()
	return task.Run()
}
