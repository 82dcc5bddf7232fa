package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeadlineMSFuture(t *testing.T) {
	before := NowMS()
	d := DeadlineMS(50)
	require.GreaterOrEqual(t, d, before+50)
}

func TestDeadlineMSNonPositive(t *testing.T) {
	before := NowMS()
	d := DeadlineMS(0)
	require.GreaterOrEqual(t, d, before)
	require.True(t, Expired(d) || d == NowMS())
}

func TestRemainingFloorsAtZero(t *testing.T) {
	past := NowMS() - 1000
	require.Equal(t, int64(0), Remaining(past))
}

func TestExpired(t *testing.T) {
	future := DeadlineMS(200)
	require.False(t, Expired(future))
	time.Sleep(250 * time.Millisecond)
	require.True(t, Expired(future))
}
