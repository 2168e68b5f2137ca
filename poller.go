// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"time"
)

// Poller is the OS readiness mechanism behind one worker. Registrations are
// level triggered.
//
// Add, Modify, Delete, and Wake are safe to call from any goroutine. Wait
// and Close are only called by the owning worker.
type Poller interface {
	// Add starts watching h. An empty interest still reports errors and
	// hangups.
	Add(h Handle, interest Interest) error
	// Modify replaces the interest of a watched handle.
	Modify(h Handle, interest Interest) error
	// Delete stops watching h.
	Delete(h Handle) error
	// Wait blocks until at least one handle is ready, Wake is called, or
	// timeout elapses (negative means no timeout), calling fn for each ready
	// handle. It returns the number of handles reported.
	Wait(timeout time.Duration, fn func(h Handle, events IOEvents)) (int, error)
	// Wake interrupts a blocked Wait.
	Wake() error
	// Close releases the poller.
	Close() error
}

// PollerFactory creates a [Poller] for a new worker.
type PollerFactory func() (Poller, error)

// maxWaitEvents bounds the events returned by a single Wait.
const maxWaitEvents = 256

// timeoutMillis converts a Wait timeout to poll milliseconds, rounding up
// so sub-millisecond timers don't spin.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout > 0 && timeout < time.Millisecond {
		return 1
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
