// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"fmt"
)

// Bind assigns the poll registration of d to worker(s), and applies its
// current interest there.
//
//   - [BindAuto] picks a worker with the core's [WorkerSelector], failing
//     with [ErrNoWorker] if none is running.
//   - [BindExplicit] uses w.
//   - [BindBroadcast] registers d with every running worker, and every
//     worker started before d is closed. w is ignored.
//   - [BindNone] is treated as [BindExplicit] if w is non-nil.
//
// A device is bound once. Binding it again fails with [ErrAlreadyBound].
// Binding a device that is closed meanwhile fails with [ErrCoreUnavailable],
// leaving no registration behind.
func (d *Device) Bind(mode BindKind, w *Worker) error {
	if d == nil {
		return ErrNilDevice
	}
	core := d.Core()
	if core == nil {
		return ErrCoreUnavailable
	}

	switch mode {
	case BindNone:
		if w == nil {
			return ErrInvalidBindMode
		}
		mode = BindExplicit
	case BindAuto:
		if w = core.selectWorker(); w == nil {
			return ErrNoWorker
		}
	case BindExplicit:
		if w == nil {
			return ErrNoWorker
		}
	case BindBroadcast:
		w = nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidBindMode, mode)
	}

	if w != nil {
		if w.core != core {
			return fmt.Errorf("%w: worker %d belongs to another core", ErrNoWorker, w.ID())
		}
		if w.State() == WorkerTerminated {
			return ErrWorkerClosed
		}
	}

	d.mu.Lock()
	if d.state.core != core || d.state.id == 0 {
		d.mu.Unlock()
		return ErrCoreUnavailable
	}
	if d.state.bind != BindNone {
		d.mu.Unlock()
		return ErrAlreadyBound
	}
	d.state.bind = mode
	d.state.worker = w
	id, h, kind := d.state.id, d.state.handle, d.state.kind
	d.mu.Unlock()
	ref := Ref{d: d, id: id}

	if hooks := core.testHooks; hooks != nil && hooks.BindPublished != nil {
		hooks.BindPublished(d)
	}

	if mode == BindBroadcast {
		workers := core.addBroadcast(ref)
		for _, w := range workers {
			if err := w.updatePollSet(d, id); err != nil {
				withDevice(core.log.warning(w), id, h, kind).
					Int(`worker`, w.ID()).
					Err(err).
					Log(`broadcast poll set update failed`)
			}
		}
		if core.Find(id) != d {
			// closed concurrently, possibly before it saw the binding
			core.detach(ref, h, mode, nil)
			return ErrCoreUnavailable
		}
		withDevice(core.log.debug(), id, h, kind).Int(`workers`, len(workers)).Log(`device bound to all workers`)
		return nil
	}

	w.register(ref)
	err := w.updatePollSet(d, id)
	if core.Find(id) != d {
		core.detach(ref, h, mode, w)
		return ErrCoreUnavailable
	}
	if err != nil {
		return err
	}
	withDevice(core.log.debug(), id, h, kind).
		Int(`worker`, w.ID()).
		Str(`bind`, mode.String()).
		Log(`device bound`)
	return nil
}
