package dispatcher

import "errors"

var (
	// ErrInvalidArgument is returned for nil callables, zero unit IDs, or
	// other caller-side argument mistakes.
	ErrInvalidArgument = errors.New("dispatcher: invalid argument")

	// ErrWorkerPoolSaturated is returned when the pool is already at
	// MaxWorkers and the ready queue is still growing; the task is still
	// enqueued, this only signals sustained backpressure to the caller.
	ErrWorkerPoolSaturated = errors.New("dispatcher: worker pool saturated")

	// ErrStopped is returned by post operations made after Close.
	ErrStopped = errors.New("dispatcher: stopped")
)
