// Package shmbus implements the shared-memory notification bus: a fixed
// ABI region visible to every process attached to it, holding a process
// table, a listener table sorted by message ID, a delivery queue, and a
// small payload arena for notifications that carry data. It is the
// cross-process sibling of the dispatcher package: instead of posting a
// callable into an in-process FIFO, a peer notifies a message ID and the
// bus fans it out to every other peer listening for it.
package shmbus

import "unsafe"

// payloadReuseAfterMS is the fixed age a delivered-and-processed payload
// slot must clear before it becomes eligible for reuse, independent of
// whatever threshold a caller later passes to ProfileAndGC.
const payloadReuseAfterMS = 5000

// SegmentName is the shared-memory region every peer of the same bus
// attaches to unless a caller names its own.
const SegmentName = "/fjsharedmem"

const (
	processCapacity  = 50
	listenerCapacity = 256
	deliveryCapacity = 512
	payloadSlots     = 200
	payloadSlotSize  = 512

	// auxRegionSize is a small scratch area past the fixed tables that
	// callers can use for their own shared, fixed-layout state via
	// Bus.Aux, without needing a second attach/segment.
	auxRegionSize = 4096
)

const (
	busMagic   uint64 = 0x666a736861726564
	busVersion uint32 = 1
)

// busHeader is the fixed control block at the start of the segment.
// listenerCount and deliveryCount are the authoritative lengths of their
// tables; the process table has no such counter; it is never compacted,
// so its occupancy is whatever a PID!=0 scan finds. The tables themselves
// follow the header contiguously in the layout order processTable,
// listenerTable, deliveryQueue, payloadArena.
type busHeader struct {
	magic       uint64
	version     uint32
	initialized uint32
	lock        uint32 // 0 unlocked, 1 locked; see crossLock
	stopped     uint32

	listenerCount int32
	deliveryCount int32

	// allocHint rotates which payload slot notifyLocked starts its
	// usable-slot scan from, so repeated allocations don't all contend
	// for slot 0.
	allocHint int32
}

const busHeaderSize = int(unsafe.Sizeof(busHeader{}))

// processEntry is one attached peer's row in the shared process table:
// pid, worker lifecycle, and refcount, plus WakeGen, the futex generation
// word backing this peer's crossCond. It is the table-wide crossLock plus
// a per-row condition variable that the original's separate
// pthread_mutex_t/pthread_cond_t pair collapses to in a lock-free futex
// world — every field mutation already happens under the bus's crossLock,
// so WakeGen only needs to double as the wait address, not guard its own
// access with a second lock.
//
// Unlike the listener and delivery tables, the process table is never
// compacted: Attach claims the first free (PID==0) slot and Detach zeroes
// its own slot in place rather than shifting later rows down, because a
// row's address — and so WakeGen's futex address — must stay fixed for as
// long as any process might still be waiting on it.
type processEntry struct {
	PID        int32
	Worker     int32 // synthetic worker identity; this peer's own PID
	Refcount   int32
	Running    uint8
	WorkerDone uint8
	_          uint16 // padding
	WakeGen    uint32
}

// listenerEntry maps one (msg ID, unit) pair to the peer that should be
// woken when that message ID is notified. The listener table is kept
// sorted by MsgID so lookups and inserts are a binary search plus a
// linear scan over same-ID ties, per internal/container's ordering
// contract.
type listenerEntry struct {
	MsgID uint32
	Unit  uint64
	PID   int32
}

// deliveryEntry is one queued notification awaiting pickup by its
// target's delivery worker.
type deliveryEntry struct {
	MsgID       uint32
	From        int32
	To          int32
	Unit        uint64
	PayloadSlot int32 // -1 if the notification carries no payload
	PayloadLen  uint32
}

// payloadSlot is one fixed-size cell of the payload arena. Notifications
// larger than payloadSlotSize are rejected rather than split. A slot is
// eligible for reuse once InUse==0, or once Processed==1 and it has sat
// unclaimed for at least payloadReuseAfterMS: the delivering worker sets
// Processed/ProcessedMS but never frees the slot itself, leaving reclaim
// to the next allocation's usable-slot scan or to an explicit
// Bus.ProfileAndGC call.
type payloadSlot struct {
	InUse       uint8
	Processed   uint8
	_           uint16 // padding
	Size        uint32
	MsgID       uint32
	FromPID     int32
	ToPID       int32
	SentMS      int64
	ProcessedMS int64
	Data        [payloadSlotSize]byte
}

func processTableOffset() int { return busHeaderSize }
func listenerTableOffset() int {
	return processTableOffset() + processCapacity*int(unsafe.Sizeof(processEntry{}))
}
func deliveryQueueOffset() int {
	return listenerTableOffset() + listenerCapacity*int(unsafe.Sizeof(listenerEntry{}))
}
func payloadArenaOffset() int {
	return deliveryQueueOffset() + deliveryCapacity*int(unsafe.Sizeof(deliveryEntry{}))
}
func auxRegionOffset() int {
	return payloadArenaOffset() + payloadSlots*int(unsafe.Sizeof(payloadSlot{}))
}
func segmentTotalSize() int {
	return auxRegionOffset() + auxRegionSize
}
