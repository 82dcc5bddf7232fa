package dispatcher

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/papanda1234/fjdispatchlite/internal/handleid"
)

// TaskPanicSentinel is the result value recorded for a handle whose task
// panicked. The worker that ran it recovers and keeps serving other units.
const TaskPanicSentinel = -1 << 31

// Task is a single unit of work bound to one unit's FIFO. Run is executed
// by whichever worker dequeues it; its return value becomes the result
// recorded under Handle, if Handle is non-zero.
type Task struct {
	Run     func() int
	SrcName string
	SrcLine int

	// TraceID correlates one posted task across the "hung task detected"
	// and "task panicked" log lines a call can produce. Minted by
	// newTask rather than left to the caller, the way senechal-gw mints a
	// uuid.NewString() per job at enqueue time rather than trusting
	// callers to supply their own.
	TraceID string

	Handle     handleid.Handle
	sequential bool
}

func newTask(run func() int, srcName string, srcLine int, handle handleid.Handle) *Task {
	return &Task{
		Run:     run,
		SrcName: srcName,
		SrcLine: srcLine,
		TraceID: uuid.NewString(),
		Handle:  handle,
	}
}

func (t *Task) name() string {
	if t.SrcName == "" {
		return "task"
	}
	return fmt.Sprintf("%s:%d", t.SrcName, t.SrcLine)
}
