//go:build !linux || !(amd64 || arm64)

package mediaring

import "errors"

// ErrCrossProcessUnsupported is returned by Open on platforms without the
// mmap+futex backend; Create still succeeds, scoped to this process.
var ErrCrossProcessUnsupported = errors.New("mediaring: cross-process rings unsupported on this platform")

func createRing(name string, elemCount, elemSize int) (*Ring, error) {
	return newLocalRing(elemCount, elemSize), nil
}

func openRing(name string) (*Ring, error) {
	return nil, ErrCrossProcessUnsupported
}
