package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/papanda1234/fjdispatchlite/dispatcher"
	"github.com/papanda1234/fjdispatchlite/internal/handleid"
	"github.com/papanda1234/fjdispatchlite/unit"
	"github.com/stretchr/testify/require"
)

func testHarness(t *testing.T) (*dispatcher.Dispatcher, *Timer) {
	t.Helper()
	d := dispatcher.New(dispatcher.Config{MinWorkers: 1, MaxWorkers: 2})
	tm := New(d)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, tm.Close(ctx))
		require.NoError(t, d.Close(ctx))
	})
	return d, tm
}

// TestCreateTimerFiresFixedCountThenInactive is the literal scenario from
// the end-to-end test suite: a callback that posts a sequential event on
// every fire, returns 0 four consecutive times, then returns -1. Exactly
// four events must be dispatched, after which the timer reports inactive.
func TestCreateTimerFiresFixedCountThenInactive(t *testing.T) {
	d, tm := testHarness(t)

	var fires atomic.Int32
	dispatched := make(chan struct{}, 10)

	h, err := tm.CreateTimer(1, func(handle handleid.Handle, nowMS int64) int {
		n := fires.Add(1)
		_, err := d.PostEvent(1, func() int {
			dispatched <- struct{}{}
			return 0
		}, 0, "test", 0)
		require.NoError(t, err)
		if n >= 4 {
			return -1
		}
		return 0
	}, 50, "test", 0)
	require.NoError(t, err)
	require.True(t, tm.IsActive(h))

	for i := 0; i < 4; i++ {
		select {
		case <-dispatched:
		case <-time.After(2 * time.Second):
			t.Fatalf("event dispatched only %d/4 times", i)
		}
	}

	require.Eventually(t, func() bool {
		return !tm.IsActive(h)
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(4), fires.Load())
}

func TestCreateTimerRepeatsForeverUntilRemoved(t *testing.T) {
	_, tm := testHarness(t)

	fires := make(chan struct{}, 10)
	h, err := tm.CreateTimer(1, func(handle handleid.Handle, nowMS int64) int {
		select {
		case fires <- struct{}{}:
		default:
		}
		return 0
	}, 30, "test", 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		select {
		case <-fires:
		case <-time.After(2 * time.Second):
			t.Fatal("infinite timer stopped firing")
		}
	}
	require.True(t, tm.IsActive(h))
	require.True(t, tm.RemoveTimer(h))
	require.False(t, tm.IsActive(h))
}

func TestRemoveAllByUnit(t *testing.T) {
	_, tm := testHarness(t)
	noop := func(handleid.Handle, int64) int { return 0 }

	h1, _ := tm.CreateTimer(1, noop, 1000, "test", 0)
	h2, _ := tm.CreateTimer(1, noop, 1000, "test", 0)
	h3, _ := tm.CreateTimer(2, noop, 1000, "test", 0)

	removed := tm.RemoveAll(1)
	require.Equal(t, 2, removed)
	require.False(t, tm.IsActive(h1))
	require.False(t, tm.IsActive(h2))
	require.True(t, tm.IsActive(h3))
}

type tickReceiver struct {
	got chan unit.ID
}

func (r *tickReceiver) ReceiveTick(u unit.ID, nowMS int64) int {
	select {
	case r.got <- u:
	default:
	}
	return -1
}

func TestCreateTickTimerAdaptsTickReceiver(t *testing.T) {
	_, tm := testHarness(t)
	recv := &tickReceiver{got: make(chan unit.ID, 1)}

	h, err := tm.CreateTickTimer(9, recv, 15, "test", 0)
	require.NoError(t, err)
	require.True(t, tm.IsActive(h))

	select {
	case u := <-recv.got:
		require.Equal(t, unit.ID(9), u)
	case <-time.After(2 * time.Second):
		t.Fatal("tick receiver never fired")
	}

	require.Eventually(t, func() bool {
		return !tm.IsActive(h)
	}, time.Second, 10*time.Millisecond)
}

func TestCreateTimerRejectsInvalidArgs(t *testing.T) {
	_, tm := testHarness(t)
	_, err := tm.CreateTimer(1, nil, 100, "test", 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = tm.CreateTimer(1, func(handleid.Handle, int64) int { return 0 }, 14, "test", 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	h, err := tm.CreateTimer(1, func(handleid.Handle, int64) int { return -1 }, 15, "test", 0)
	require.NoError(t, err)
	require.True(t, tm.IsActive(h))
}
