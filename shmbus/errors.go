package shmbus

import "errors"

var (
	// ErrInvalidArgument is returned for a payload larger than one arena
	// slot, or other caller-side argument mistakes.
	ErrInvalidArgument = errors.New("shmbus: invalid argument")
	// ErrProcessTableFull is returned by Attach when the process table is
	// already at capacity.
	ErrProcessTableFull = errors.New("shmbus: process table full")
	// ErrListenerTableFull is returned by Listen when the listener table
	// is already at capacity.
	ErrListenerTableFull = errors.New("shmbus: listener table full")
	// ErrAlreadyRegistered is returned by Listen when the exact
	// (msg ID, unit, peer) triple is already present; advisory, not
	// fatal to the caller's Attach.
	ErrAlreadyRegistered = errors.New("shmbus: listener already registered")
	// ErrDeliveryQueueFull is returned by Notify when a match was found
	// but the delivery queue had no room to record it; earlier matches in
	// the same call already succeeded and are not rolled back.
	ErrDeliveryQueueFull = errors.New("shmbus: delivery queue full")
)
