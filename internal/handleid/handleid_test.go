package handleid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMintIsMonotonic(t *testing.T) {
	a := New()
	prev := a.Mint()
	for i := 0; i < 1000; i++ {
		h := a.Mint()
		require.Greater(t, h, prev)
		prev = h
	}
}

func TestMintUniqueUnderConcurrency(t *testing.T) {
	a := New()
	const n = 2000
	seen := make(chan Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- a.Mint()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[Handle]struct{}, n)
	for h := range seen {
		_, dup := unique[h]
		require.False(t, dup, "duplicate handle minted")
		unique[h] = struct{}{}
	}
	require.Len(t, unique, n)
}

func TestMintWrapsBeforeOverflow(t *testing.T) {
	a := &Allocator{next: maxHandle}
	h := a.Mint()
	require.Equal(t, Handle(maxHandle), h)
	require.Equal(t, Handle(1), a.next)
}
