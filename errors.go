// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"errors"
)

// Standard errors.
var (
	// ErrNilDevice is returned when an operation is given no device.
	ErrNilDevice = errors.New("iodev: nil device")

	// ErrNilCore is returned when an operation is given no core.
	ErrNilCore = errors.New("iodev: nil core")

	// ErrInvalidHandle is returned when a device would be created from the
	// sentinel handle.
	ErrInvalidHandle = errors.New("iodev: invalid handle")

	// ErrCoreUnavailable is returned when a device has no owning core, which
	// happens once it has been closed and recycled.
	ErrCoreUnavailable = errors.New("iodev: core unavailable")

	// ErrCoreClosed is returned by operations on a core that was shut down.
	ErrCoreClosed = errors.New("iodev: core closed")

	// ErrNoWorker is returned when binding needs a worker and none is
	// running.
	ErrNoWorker = errors.New("iodev: no worker available")

	// ErrWorkerClosed is returned by operations on a terminated worker.
	ErrWorkerClosed = errors.New("iodev: worker closed")

	// ErrAlreadyBound is returned when binding a device that is already
	// bound.
	ErrAlreadyBound = errors.New("iodev: device already bound")

	// ErrInvalidBindMode is returned for an unknown bind mode, or an
	// unspecified mode without a worker.
	ErrInvalidBindMode = errors.New("iodev: invalid bind mode")

	// ErrDeviceLimit is returned when the core already holds the
	// configured maximum number of live devices.
	ErrDeviceLimit = errors.New("iodev: device limit reached")
)

// Poller errors.
var (
	// ErrPollerClosed is returned by a closed poller.
	ErrPollerClosed = errors.New("iodev: poller closed")

	// ErrHandleRegistered is returned when adding a handle twice.
	ErrHandleRegistered = errors.New("iodev: handle already registered")

	// ErrHandleNotRegistered is returned when modifying or deleting an
	// unknown handle.
	ErrHandleNotRegistered = errors.New("iodev: handle not registered")

	// ErrPlatformNotSupported is returned where no poller implementation
	// exists.
	ErrPlatformNotSupported = errors.New("iodev: platform not supported")
)
