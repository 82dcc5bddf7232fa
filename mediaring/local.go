package mediaring

import "unsafe"

// newLocalRing builds a ring backed by a plain heap buffer instead of a
// shared-memory segment, for same-process use or as a fallback where
// shared memory isn't available. It uses chanSemaphore rather than the
// futex pair since there is no second process that could ever wait on it.
func newLocalRing(elemCount, elemSize int) *Ring {
	stride := slotStride(elemSize)
	buf := make([]byte, stride*elemCount)
	closed := new(uint32)
	controlFlag := new(uint32)
	*controlFlag = 1
	writeIdx := new(uint32)
	readIdx := new(uint32)

	return &Ring{
		elemSize:    elemSize,
		elemCount:   elemCount,
		slotSize:    stride,
		seg:         nil,
		base:        unsafe.Pointer(&buf[0]),
		closed:      closed,
		controlFlag: controlFlag,
		writeIdx:    writeIdx,
		readIdx:     readIdx,
		empty:       newChanSemaphore(elemCount, elemCount),
		full:        newChanSemaphore(0, elemCount),
		logger:      newLogger(),
	}
}
