// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

// Close tears d down: it is removed from the registry, detached from its
// worker(s), its handle released according to its [Kind], and it is
// returned to the pool. d must not be used afterwards.
//
// Close reports whether this call closed the device. Closing a device that
// is already closed is a no-op, returning false. OS errors are logged, not
// returned.
func (d *Device) Close() bool {
	if d == nil {
		return false
	}

	d.mu.Lock()
	id, core := d.state.id, d.state.core
	d.mu.Unlock()
	if core == nil || id == 0 || !core.registry.remove(id, d) {
		return false
	}

	d.mu.Lock()
	bind, w, h := d.state.bind, d.state.worker, d.state.handle
	d.mu.Unlock()

	core.detach(Ref{d: d, id: id}, h, bind, w)

	d.mu.Lock()
	h, kind := d.state.handle, d.state.kind
	d.state.interest = 0
	d.state.ioState = IOStateNone
	d.state.context = nil
	d.state.handler = nil
	d.state.handlerCtx = nil
	d.state.timer.Stop()
	d.state.timer = nil
	var err error
	if h.Valid() {
		switch kind.closeMode() {
		case closeAbortive:
			err = abortiveClose(h)
		case closeRelease:
			err = closeHandle(h)
		case closeDetach:
		}
	}
	d.state.handle = InvalidHandle
	d.mu.Unlock()

	b := withDevice(core.log.debug(), id, h, kind)
	if err != nil {
		b = b.Err(err)
	}
	b.Log(`device closed`)

	core.pool.put(d)
	return true
}

// LingerClose half-closes an accepted connection, letting the peer observe
// EOF while input is drained and discarded, and closes it once the peer is
// done or the linger timeout ([WithLingerTimeout]) expires. Devices of any
// other kind are closed immediately, see [Device.Close].
//
// LingerClose on a device that is already lingering restarts the timeout.
// It reports false if d was already closed.
func (d *Device) LingerClose() bool {
	if d == nil {
		return false
	}

	d.mu.Lock()
	id, core, kind := d.state.id, d.state.core, d.state.kind
	d.mu.Unlock()
	if core == nil || id == 0 {
		return false
	}
	if !kind.lingers() {
		return d.Close()
	}
	if core.Find(id) != d {
		return false
	}

	// a half-closed socket is always writable
	if err := d.RemoveInterest(InterestWrite); err != nil {
		withDevice(core.log.debug(), id, d.Handle(), kind).Err(err).Log(`write interest not removed`)
	}

	t := core.newTimer(CommandIdle, d, nil, nil)

	d.mu.Lock()
	if d.state.id != id || !d.state.handle.Valid() {
		d.mu.Unlock()
		return false
	}
	h := d.state.handle
	var err error
	if d.state.kind != KindLingerClosing {
		err = shutdownWrite(h)
		d.state.kind = KindLingerClosing
	}
	old := d.state.timer
	d.state.timer = t
	w := d.state.worker
	d.mu.Unlock()

	old.Stop()
	core.scheduleTimer(t, w, d, core.opts.lingerTimeout)

	b := withDevice(core.log.debug(), id, h, kind).Dur(`timeout`, core.opts.lingerTimeout)
	if err != nil {
		b = b.Err(err)
	}
	b.Log(`device lingering`)
	return true
}
