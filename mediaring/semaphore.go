package mediaring

import "time"

// WaitForever tells Write, Read, and TimedWait to block with no deadline.
const WaitForever int64 = -1

// peekPollInterval is how often a non-consuming peek re-checks the count
// on backends (chanSemaphore) that have no native non-consuming wait.
const peekPollInterval = 2 * time.Millisecond

// semaphore is the blocking counter Ring's empty/full slot counts are
// built from. Two implementations satisfy it: chanSemaphore for a
// same-process ring, and the cross-process futex-backed one in
// segment_linux.go, so Ring.Write/Read have exactly one code path
// regardless of which backend they're wired to.
type semaphore interface {
	// post increments the count by one, waking at most one waiter.
	post()
	// timedWait blocks until the count is positive (consuming one unit)
	// or timeoutMS elapses. timeoutMS < 0 blocks with no deadline.
	// Returns StatusOK, StatusTimeout, or StatusStopped.
	timedWait(timeoutMS int64) int
	// peek blocks until the count is positive or timeoutMS elapses,
	// without consuming a unit. timeoutMS < 0 blocks with no deadline.
	// Returns StatusOK, StatusTimeout, or StatusStopped.
	peek(timeoutMS int64) int
	// stopAll wakes every blocked waiter so it can observe StatusStopped.
	stopAll()
}

// chanSemaphore realizes semaphore for a single process using a buffered
// channel as the counting primitive: each token in the channel is one
// unit of count. It never needs the syscall-level futex path.
type chanSemaphore struct {
	tokens chan struct{}
	stopCh chan struct{}
}

func newChanSemaphore(initial, capacity int) *chanSemaphore {
	s := &chanSemaphore{
		tokens: make(chan struct{}, capacity),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < initial; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

func (s *chanSemaphore) post() {
	select {
	case s.tokens <- struct{}{}:
	default:
		// Capacity already full; the ring's own bookkeeping should make
		// this unreachable, but a dropped post is safer than a panic.
	}
}

func (s *chanSemaphore) timedWait(timeoutMS int64) int {
	if timeoutMS < 0 {
		select {
		case <-s.tokens:
			return StatusOK
		case <-s.stopCh:
			return StatusStopped
		}
	}
	timer := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-s.tokens:
		return StatusOK
	case <-timer.C:
		return StatusTimeout
	case <-s.stopCh:
		return StatusStopped
	}
}

// peek has no native non-consuming wait on a channel, so it polls the
// channel's length instead of reading from it.
func (s *chanSemaphore) peek(timeoutMS int64) int {
	if len(s.tokens) > 0 {
		return StatusOK
	}
	var deadline time.Time
	hasDeadline := timeoutMS >= 0
	if hasDeadline {
		deadline = time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	}
	ticker := time.NewTicker(peekPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return StatusStopped
		case <-ticker.C:
			if len(s.tokens) > 0 {
				return StatusOK
			}
			if hasDeadline && !time.Now().Before(deadline) {
				return StatusTimeout
			}
		}
	}
}

func (s *chanSemaphore) stopAll() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}
