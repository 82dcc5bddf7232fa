package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/papanda1234/fjdispatchlite/internal/handleid"
	"github.com/stretchr/testify/require"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := New(Config{MinWorkers: 2, MaxWorkers: 4, MonitorInterval: 50 * time.Millisecond})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, d.Close(ctx))
	})
	return d
}

func TestPostMessageSequentialOrder(t *testing.T) {
	d := testDispatcher(t)
	const unitID UnitID = 1

	var mu sync.Mutex
	var order []int

	for i := 0; i < 20; i++ {
		i := i
		_, err := d.PostMessage(unitID, func(payload []byte) int {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i
		}, 0, nil, true, "test", 0)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 20
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		require.Equal(t, i, v)
	}
}

func TestPostMessageResultRoundTrip(t *testing.T) {
	d := testDispatcher(t)
	h, err := d.PostMessage(1, func(payload []byte) int {
		return len(payload)
	}, 0, []byte("hello"), true, "test", 0)
	require.NoError(t, err)

	v, ok := d.WaitResult(h, 1000)
	require.True(t, ok)
	require.Equal(t, 5, v)
}

type fakeReceiver struct {
	mu       sync.Mutex
	messages []string
	events   []string
}

func (r *fakeReceiver) ReceiveMessage(method string, msgID uint32, payload []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, method)
	return len(payload)
}

func (r *fakeReceiver) ReceiveEvent(method string, msgID uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, method)
	return 0
}

func TestPostMessageToAdaptsMessageReceiver(t *testing.T) {
	d := testDispatcher(t)
	recv := &fakeReceiver{}

	h, err := d.PostMessageTo(1, recv, "DoThing", 7, []byte("hello"), true, "test", 0)
	require.NoError(t, err)

	v, ok := d.WaitResult(h, 1000)
	require.True(t, ok)
	require.Equal(t, 5, v)

	recv.mu.Lock()
	defer recv.mu.Unlock()
	require.Equal(t, []string{"DoThing"}, recv.messages)
}

func TestPostEventToAdaptsEventReceiver(t *testing.T) {
	d := testDispatcher(t)
	recv := &fakeReceiver{}

	h, err := d.PostEventTo(1, recv, "Ping", 3, "test", 0)
	require.NoError(t, err)

	_, ok := d.WaitResult(h, 1000)
	require.True(t, ok)

	recv.mu.Lock()
	defer recv.mu.Unlock()
	require.Equal(t, []string{"Ping"}, recv.events)
}

func TestWaitResultTimesOutOnUnknownHandle(t *testing.T) {
	d := testDispatcher(t)
	_, ok := d.WaitResult(999999, 50)
	require.False(t, ok)
}

func TestParallelTasksRunConcurrently(t *testing.T) {
	d := testDispatcher(t)
	var running atomic.Int32
	var maxSeen atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 3; i++ {
		_, err := d.PostMessage(1, func(payload []byte) int {
			n := running.Add(1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return 0
		}, 0, nil, false, "test", 0)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return running.Load() == 3
	}, time.Second, 5*time.Millisecond)
	close(release)
	require.GreaterOrEqual(t, int(maxSeen.Load()), 2)
}

func TestResultRegistryEvictsOldestHandle(t *testing.T) {
	d := testDispatcher(t)
	var handles []handleid.Handle
	for i := 0; i < resultCapacity+1; i++ {
		h, err := d.PostMessage(1, func(payload []byte) int { return 0 }, 0, nil, true, "test", 0)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	require.Eventually(t, func() bool {
		_, ok := d.WaitResult(handles[len(handles)-1], 1000)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := d.WaitResult(handles[0], 50)
	require.False(t, ok, "oldest handle should have been evicted")
}

func TestPostEventSequential(t *testing.T) {
	d := testDispatcher(t)
	done := make(chan int, 1)
	_, err := d.PostEvent(1, func() int {
		done <- 42
		return 42
	}, 0, "test", 0)
	require.NoError(t, err)

	select {
	case v := <-done:
		require.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("event never ran")
	}
}

func TestClosedDispatcherRejectsNewWork(t *testing.T) {
	d := New(Config{MinWorkers: 1, MaxWorkers: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	_, err := d.PostMessage(1, func(payload []byte) int { return 0 }, 0, nil, true, "test", 0)
	require.ErrorIs(t, err, ErrStopped)
}
