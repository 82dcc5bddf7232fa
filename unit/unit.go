// Package unit defines the identity type and capability interfaces shared
// by the dispatcher, timer, and shmbus packages. A unit is never owned or
// called through directly by this module; callers pick an ID and hand
// over bound callables, and everything downstream — the ready queue, the
// timer wheel, the notification bus — moves IDs and payloads, not pointers.
package unit

// ID is an opaque handle standing in for a unit's identity. Earlier designs
// keyed units by their in-process address; that broke the moment a unit
// could live behind IPC, so IDs are chosen by the caller and stay stable
// for the unit's lifetime regardless of where it runs. There is no
// registration step: an ID becomes known the first time it is used.
type ID uint64

// PeerID identifies a process attached to the shared-memory bus.
type PeerID struct {
	PID int32
}

// MessageReceiver is implemented by units that answer request/response
// style calls dispatched through Dispatcher.PostMessage.
type MessageReceiver interface {
	ReceiveMessage(method string, msgID uint32, payload []byte) int
}

// EventReceiver is implemented by units that answer payload-less calls
// dispatched through Dispatcher.PostEvent.
type EventReceiver interface {
	ReceiveEvent(method string, msgID uint32) int
}

// TickReceiver is implemented by units that want periodic callbacks from a
// Timer. u is the receiving unit's own ID, not the timer handle.
type TickReceiver interface {
	ReceiveTick(u ID, nowMS int64) int
}

// NotificationReceiver is implemented by units that want to be woken when a
// message ID they're listening for is notified on the shared-memory bus.
type NotificationReceiver interface {
	Update(msgID uint32, from PeerID)
}

// PayloadNotificationReceiver extends NotificationReceiver for units that
// also want the notification's payload bytes, when the sender attached one.
type PayloadNotificationReceiver interface {
	NotificationReceiver
	UpdateWithPayload(msgID uint32, from PeerID, payload []byte)
}
