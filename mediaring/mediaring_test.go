package mediaring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteThenTimedWaitThenRead(t *testing.T) {
	r, err := Create("test-basic", 8, 1024)
	require.NoError(t, err)
	defer r.Close()

	const ts int64 = 1717171717000
	status, err := r.Write([]byte("line\n"), ts, WaitForever)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	require.Equal(t, StatusOK, r.TimedWait(1000))

	payload, gotTS, status, err := r.Read(1000)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.Equal(t, 5, len(payload))
	require.Equal(t, "line\n", string(payload))
	require.Equal(t, ts, gotTS)
}

func TestTimedWaitTimesOutOnEmptyRing(t *testing.T) {
	r, err := Create("test-empty", 4, 64)
	require.NoError(t, err)
	defer r.Close()

	start := time.Now()
	status := r.TimedWait(50)
	require.Equal(t, StatusTimeout, status)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWriteRejectsOversizeFrame(t *testing.T) {
	r, err := Create("test-oversize", 4, 4)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Write([]byte("toolong"), 0, WaitForever)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestRoundTripPreservesMultipleFrames(t *testing.T) {
	r, err := Create("test-roundtrip", 4, 32)
	require.NoError(t, err)
	defer r.Close()

	frames := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for i, f := range frames {
		_, err := r.Write(f, int64(i), WaitForever)
		require.NoError(t, err)
	}
	for i, want := range frames {
		require.Equal(t, StatusOK, r.TimedWait(1000))
		got, ts, status, err := r.Read(1000)
		require.NoError(t, err)
		require.Equal(t, StatusOK, status)
		require.Equal(t, want, got)
		require.Equal(t, int64(i), ts)
	}
}

func TestCloseWakesBlockedTimedWait(t *testing.T) {
	r, err := Create("test-close", 2, 16)
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		done <- r.TimedWait(5000)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case status := <-done:
		require.Equal(t, StatusStopped, status)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked TimedWait")
	}
}

func TestWriteTimesOutOnFullRing(t *testing.T) {
	r, err := Create("test-write-full", 1, 16)
	require.NoError(t, err)
	defer r.Close()

	status, err := r.Write([]byte("a"), 0, WaitForever)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	start := time.Now()
	status, err = r.Write([]byte("b"), 0, 50)
	require.NoError(t, err)
	require.Equal(t, StatusTimeout, status)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestTimedWaitDoesNotConsumeFrame(t *testing.T) {
	r, err := Create("test-peek", 2, 16)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Write([]byte("x"), 42, WaitForever)
	require.NoError(t, err)

	require.Equal(t, StatusOK, r.TimedWait(1000))
	require.Equal(t, StatusOK, r.TimedWait(1000))

	payload, ts, status, err := r.Read(1000)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.Equal(t, "x", string(payload))
	require.Equal(t, int64(42), ts)
}

func TestSetControlPausesProducerWhileConsumerDrains(t *testing.T) {
	r, err := Create("test-control", 4, 16)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Write([]byte("queued-before-pause"), 1, WaitForever)
	require.NoError(t, err)

	r.SetControl(false)
	require.False(t, r.Started())

	status, err := r.Write([]byte("rejected"), 2, WaitForever)
	require.NoError(t, err)
	require.Equal(t, StatusStopped, status)

	// Consumer keeps draining even though the producer is disabled.
	require.Equal(t, StatusOK, r.TimedWait(1000))
	payload, ts, status, err := r.Read(1000)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	require.Equal(t, "queued-before-pause", string(payload))
	require.Equal(t, int64(1), ts)

	r.SetControl(true)
	require.True(t, r.Started())
	status, err = r.Write([]byte("resumed"), 3, WaitForever)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
}

func TestCreateRejectsInvalidSizes(t *testing.T) {
	_, err := Create("test-invalid", 0, 16)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = Create("test-invalid-2", 4, 0)
	require.ErrorIs(t, err, ErrInvalidSize)
}
