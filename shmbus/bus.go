package shmbus

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/papanda1234/fjdispatchlite/internal/clock"
	"github.com/papanda1234/fjdispatchlite/internal/container"
	"github.com/papanda1234/fjdispatchlite/internal/xlog"
	"github.com/papanda1234/fjdispatchlite/unit"
)

var pidCounter atomic.Int32

func init() {
	pidCounter.Store(int32(os.Getpid()))
}

// nextLocalPID mints a synthetic PID for each Attach rather than reusing
// os.Getpid() directly, so multiple Bus handles attached from the same
// test binary still get distinct peer identities the way separate
// processes would.
func nextLocalPID() int32 {
	return pidCounter.Add(1)
}

func listenerKey(e *listenerEntry) uint32 { return e.MsgID }

// Bus is one peer's attachment to a shared-memory notification bus: it
// owns a synthetic PeerID, a background delivery worker, and a local
// table mapping (unit, msg ID) to the receiver registered through Listen.
// Cross-process state (process table, listener table, delivery queue,
// payload arena) lives in the shared segment behind crossLock.
type Bus struct {
	seg  *segment
	hdr  *busHeader
	lock *crossLock
	self unit.PeerID

	// wakeCond is this peer's own process-row condition variable: Notify
	// signals it after queuing a delivery addressed here, and deliveryLoop
	// blocks on it instead of polling the shared queue on a timer.
	wakeCond *crossCond

	logger *slog.Logger

	mu        sync.Mutex
	receivers map[unit.ID]map[uint32]unit.NotificationReceiver

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Attach maps (creating if necessary) the named shared segment and claims
// a free row in its process table. An empty name attaches to SegmentName.
func Attach(name string) (*Bus, error) {
	if name == "" {
		name = SegmentName
	}
	seg, err := attachSegment(name)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		seg:       seg,
		hdr:       seg.header(),
		self:      unit.PeerID{PID: nextLocalPID()},
		logger:    xlog.For("shmbus"),
		receivers: make(map[unit.ID]map[uint32]unit.NotificationReceiver),
		stopCh:    make(chan struct{}),
	}
	b.lock = newCrossLock(&b.hdr.lock)

	b.lock.Lock()
	slots := b.processSlots()
	row := -1
	for i := range slots {
		if slots[i].PID == 0 {
			row = i
			break
		}
	}
	if row < 0 {
		b.lock.Unlock()
		seg.close()
		return nil, ErrProcessTableFull
	}
	slots[row] = processEntry{PID: b.self.PID, Worker: b.self.PID, Refcount: 1, Running: 1}
	b.wakeCond = newCrossCond(&slots[row].WakeGen)
	b.lock.Unlock()

	b.wg.Add(1)
	go b.deliveryLoop()
	return b, nil
}

// Self returns this attachment's synthetic peer identity.
func (b *Bus) Self() unit.PeerID { return b.self }

// Listen registers recv to be woken whenever msgID is notified, on behalf
// of unit u. A Notify sent by u itself through this same peer is not
// delivered to it; every other sender's is. Registering the exact same (msgID,
// u, this peer) triple twice is rejected with ErrAlreadyRegistered
// without disturbing the existing registration.
func (b *Bus) Listen(u unit.ID, msgID uint32, recv unit.NotificationReceiver) error {
	if recv == nil {
		return ErrInvalidArgument
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	lt := b.listenerTableView()
	idx, found := container.SearchFirst(lt, listenerKey, msgID)
	if found {
		for i := idx; i < lt.Len(); i++ {
			e := lt.At(i)
			if e.MsgID != msgID {
				break
			}
			if e.Unit == uint64(u) && e.PID == b.self.PID {
				return ErrAlreadyRegistered
			}
		}
	}
	if _, ok := container.InsertSorted(lt, listenerKey, listenerEntry{MsgID: msgID, Unit: uint64(u), PID: b.self.PID}); !ok {
		return ErrListenerTableFull
	}

	b.mu.Lock()
	if b.receivers[u] == nil {
		b.receivers[u] = make(map[uint32]unit.NotificationReceiver)
	}
	b.receivers[u][msgID] = recv
	b.mu.Unlock()
	return nil
}

// Unlisten removes u's registration for msgID, both locally and from the
// shared listener table.
func (b *Bus) Unlisten(u unit.ID, msgID uint32) {
	b.mu.Lock()
	delete(b.receivers[u], msgID)
	b.mu.Unlock()

	b.lock.Lock()
	defer b.lock.Unlock()
	lt := b.listenerTableView()
	idx, found := container.SearchFirst(lt, listenerKey, msgID)
	if !found {
		return
	}
	for idx < lt.Len() {
		e := lt.At(idx)
		if e.MsgID != msgID {
			return
		}
		if e.Unit == uint64(u) && e.PID == b.self.PID {
			lt.RemoveAt(idx)
			return
		}
		idx++
	}
}

// Notify delivers msgID (with an optional payload) to every listener
// registered for it, returning how many deliveries were queued. It never
// delivers back to its own sender, the unit from on this peer; other units
// listening through this same peer do receive it.
func (b *Bus) Notify(from unit.ID, msgID uint32, payload []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.notifyLocked(from, msgID, payload)
}

// NotifyLocked is Notify for callers already inside a WithLock callback.
func (b *Bus) NotifyLocked(from unit.ID, msgID uint32, payload []byte) (int, error) {
	return b.notifyLocked(from, msgID, payload)
}

// WithLock runs fn while holding the bus's cross-process lock, a Go
// RAII-style lock guard: the lock is always released via defer even if
// fn panics or returns early.
func (b *Bus) WithLock(fn func() error) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	return fn()
}

func (b *Bus) notifyLocked(from unit.ID, msgID uint32, payload []byte) (int, error) {
	if len(payload) > payloadSlotSize {
		return 0, ErrInvalidArgument
	}
	lt := b.listenerTableView()
	idx, found := container.SearchFirst(lt, listenerKey, msgID)
	if !found {
		return 0, nil
	}

	now := clock.NowMS()
	delivered := 0
	var err error
	touched := make(map[int32]struct{})
	for idx < lt.Len() {
		e := *lt.At(idx)
		if e.MsgID != msgID {
			break
		}
		idx++
		if e.PID == b.self.PID && e.Unit == uint64(from) {
			continue
		}

		slot := int32(-1)
		var plen uint32
		if len(payload) > 0 {
			s, ok := b.allocPayloadLocked(now, len(payload), msgID, b.self.PID, e.PID)
			if !ok {
				b.logger.Warn("payload arena full, delivering without payload", "msg_id", msgID)
			} else {
				arena := b.arenaSlots()
				copy(arena[s].Data[:], payload)
				slot = int32(s)
				plen = uint32(len(payload))
			}
		}

		dq := b.deliveryQueueView()
		if _, ok := dq.PushBack(deliveryEntry{
			MsgID: msgID, From: b.self.PID, To: e.PID, Unit: e.Unit,
			PayloadSlot: slot, PayloadLen: plen,
		}); !ok {
			if slot >= 0 {
				b.resetArenaSlotLocked(int(slot))
			}
			err = ErrDeliveryQueueFull
			break
		}
		delivered++
		touched[e.PID] = struct{}{}
	}
	for pid := range touched {
		b.signalProcessLocked(pid)
	}
	return delivered, err
}

// signalProcessLocked wakes pid's delivery worker if it is currently
// attached and running, mirroring the original's per-pid
// pthread_cond_broadcast under the process table's own mutex — here the
// bus's single crossLock, already held by the caller.
func (b *Bus) signalProcessLocked(pid int32) {
	slots := b.processSlots()
	for i := range slots {
		if slots[i].PID == pid && slots[i].Running == 1 {
			newCrossCond(&slots[i].WakeGen).Signal()
			return
		}
	}
}

// Aux returns a fixed-size scratch region of the shared segment that this
// module's own tables never touch, for callers who want to place their
// own small shared-layout structures without a second Attach.
func (b *Bus) Aux() []byte {
	base := unsafe.Add(b.seg.base(), auxRegionOffset())
	return unsafe.Slice((*byte)(base), auxRegionSize)
}

// ProfileAndGC enumerates the payload arena, reporting in-use and
// pending-delivery slot counts through the bus's diagnostic logger, and
// reclaims every slot that has been delivered (Processed==1) and has sat
// unclaimed for at least threshold. It returns how many slots it
// reclaimed. Calling it again immediately reclaims nothing new: it is
// idempotent when no traffic arrives between calls.
func (b *Bus) ProfileAndGC(threshold time.Duration) int {
	now := clock.NowMS()
	cutoffMS := threshold.Milliseconds()

	b.lock.Lock()
	defer b.lock.Unlock()

	slots := b.arenaSlots()
	var inUse, pending, reclaimed int
	for i := range slots {
		s := &slots[i]
		if s.InUse == 0 {
			continue
		}
		inUse++
		if s.Processed == 0 {
			pending++
			continue
		}
		if now-s.SentMS >= cutoffMS {
			*s = payloadSlot{}
			reclaimed++
		}
	}
	b.logger.Debug("payload arena profile", "in_use", inUse, "pending", pending, "reclaimed", reclaimed)
	return reclaimed
}

// Detach stops the delivery worker, removes this peer's rows from the
// shared process and listener tables, and unmaps the segment.
func (b *Bus) Detach() error {
	close(b.stopCh)
	// Wake our own blocked deliveryLoop the same way the original wakes a
	// worker thread it is about to retire: broadcast its condition so it
	// re-checks and finds stopCh already closed instead of sleeping until
	// some other peer's next Notify happens to signal it.
	if b.wakeCond != nil {
		b.wakeCond.Signal()
	}
	b.wg.Wait()

	b.lock.Lock()
	slots := b.processSlots()
	for i := range slots {
		if slots[i].PID == b.self.PID {
			slots[i] = processEntry{}
			break
		}
	}
	lt := b.listenerTableView()
	for i := 0; i < lt.Len(); {
		if lt.At(i).PID == b.self.PID {
			lt.RemoveAt(i)
			continue
		}
		i++
	}
	b.lock.Unlock()

	return b.seg.close()
}

// deliveryLoop is this peer's delivery worker: it blocks on its own
// process row's condition variable rather than polling the shared queue
// on a timer, waking only when a Notify actually touched this pid (or
// Detach is retiring it).
func (b *Bus) deliveryLoop() {
	defer b.wg.Done()
	var lastGen uint32
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		lastGen = b.wakeCond.Wait(lastGen, -1)
		select {
		case <-b.stopCh:
			return
		default:
		}
		b.drainDeliveries()
	}
}

type resolvedDelivery struct {
	entry   deliveryEntry
	payload []byte
}

// drainDeliveries pulls every row addressed to this peer out of the
// shared delivery queue and dispatches it locally. A row's payload slot
// is not freed here: the slot stays InUse with Processed/ProcessedMS set
// so it can only be reused once payloadReuseAfterMS has passed, per the
// arena's reuse invariant; freeing it is ProfileAndGC's job (or the next
// allocation's own usable-slot scan).
func (b *Bus) drainDeliveries() {
	now := clock.NowMS()

	b.lock.Lock()
	dq := b.deliveryQueueView()
	var mine []int
	for i := 0; i < dq.Len(); i++ {
		if dq.At(i).To == b.self.PID {
			mine = append(mine, i)
		}
	}
	if len(mine) == 0 {
		b.lock.Unlock()
		return
	}

	resolved := make([]resolvedDelivery, 0, len(mine))
	for i := len(mine) - 1; i >= 0; i-- {
		idx := mine[i]
		e := *dq.At(idx)
		var payload []byte
		if e.PayloadSlot >= 0 {
			slot := &b.arenaSlots()[e.PayloadSlot]
			if slot.InUse == 1 && slot.MsgID == e.MsgID && slot.ToPID == b.self.PID {
				payload = append([]byte(nil), slot.Data[:slot.Size]...)
				slot.Processed = 1
				slot.ProcessedMS = now
			}
		}
		resolved = append(resolved, resolvedDelivery{entry: e, payload: payload})
		dq.RemoveAt(idx)
	}
	b.lock.Unlock()

	// resolved was filled back to front; dispatch in queue (notify) order.
	for i := len(resolved) - 1; i >= 0; i-- {
		b.dispatchLocal(resolved[i].entry, resolved[i].payload)
	}
}

func (b *Bus) dispatchLocal(e deliveryEntry, payload []byte) {
	b.mu.Lock()
	recv := b.receivers[unit.ID(e.Unit)][e.MsgID]
	b.mu.Unlock()
	if recv == nil {
		return
	}
	from := unit.PeerID{PID: e.From}
	if payload != nil {
		if pr, ok := recv.(unit.PayloadNotificationReceiver); ok {
			pr.UpdateWithPayload(e.MsgID, from, payload)
			return
		}
	}
	recv.Update(e.MsgID, from)
}

// allocPayloadLocked scans the arena starting from the header's rotating
// hint for a slot that is either free (InUse==0) or has been delivered
// and sat unclaimed for at least payloadReuseAfterMS, claims it for
// (msgID, from, to), and advances the hint past it.
func (b *Bus) allocPayloadLocked(now int64, size int, msgID uint32, from, to int32) (int, bool) {
	slots := b.arenaSlots()
	n := len(slots)
	start := int(b.hdr.allocHint) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		s := &slots[idx]
		usable := s.InUse == 0 || (s.Processed == 1 && now-s.SentMS >= payloadReuseAfterMS)
		if !usable {
			continue
		}
		s.InUse = 1
		s.Processed = 0
		s.ProcessedMS = 0
		s.Size = uint32(size)
		s.MsgID = msgID
		s.FromPID = from
		s.ToPID = to
		s.SentMS = now
		b.hdr.allocHint = int32((idx + 1) % n)
		return idx, true
	}
	return 0, false
}

// resetArenaSlotLocked immediately frees a slot that was allocated for a
// row that never made it into the delivery queue (the queue was full),
// so it never got a chance to be delivered or marked processed.
func (b *Bus) resetArenaSlotLocked(slot int) {
	b.arenaSlots()[slot] = payloadSlot{}
}

// processSlots returns the process table as a raw, non-compacting slice:
// unlike the listener and delivery tables it is never wrapped in a
// container.FixedArray, since Attach/Detach need stable row addresses for
// their crossCond rather than an ordered, shiftable list.
func (b *Bus) processSlots() []processEntry {
	base := unsafe.Add(b.seg.base(), processTableOffset())
	return unsafe.Slice((*processEntry)(base), processCapacity)
}

func (b *Bus) listenerTableView() *container.FixedArray[listenerEntry] {
	base := unsafe.Add(b.seg.base(), listenerTableOffset())
	return container.NewFixedArray[listenerEntry](base, listenerCapacity, &b.hdr.listenerCount)
}

func (b *Bus) deliveryQueueView() *container.FixedArray[deliveryEntry] {
	base := unsafe.Add(b.seg.base(), deliveryQueueOffset())
	return container.NewFixedArray[deliveryEntry](base, deliveryCapacity, &b.hdr.deliveryCount)
}

func (b *Bus) arenaSlots() []payloadSlot {
	base := unsafe.Add(b.seg.base(), payloadArenaOffset())
	return unsafe.Slice((*payloadSlot)(base), payloadSlots)
}
