// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

// AddInterest requests notifications for flags, in addition to the current
// interest. The poll set is only updated if the interest changed.
//
// A device without a handle is closed instead.
func (d *Device) AddInterest(flags Interest) error {
	return d.changeInterest(flags, interestAdd)
}

// RemoveInterest stops notifications for flags. The poll set is only
// updated if the interest changed.
//
// A device without a handle is closed instead.
func (d *Device) RemoveInterest(flags Interest) error {
	return d.changeInterest(flags, interestRemove)
}

// SetInterest replaces the interest with flags, which may be empty. The
// poll set is only updated if the interest changed.
//
// A device without a handle is closed instead.
func (d *Device) SetInterest(flags Interest) error {
	return d.changeInterest(flags, interestSet)
}

type interestOp int

const (
	interestAdd interestOp = iota
	interestRemove
	interestSet
)

func (d *Device) changeInterest(flags Interest, op interestOp) error {
	if d == nil {
		return ErrNilDevice
	}

	d.mu.Lock()
	if !d.state.handle.Valid() {
		d.mu.Unlock()
		d.Close()
		return nil
	}
	flags &= interestMask
	if flags == 0 && op != interestSet {
		d.mu.Unlock()
		return nil
	}
	core := d.state.core
	if core == nil {
		d.mu.Unlock()
		return ErrCoreUnavailable
	}
	old := d.state.interest
	switch op {
	case interestAdd:
		d.state.interest |= flags
	case interestRemove:
		d.state.interest &^= flags
	case interestSet:
		d.state.interest = flags
	}
	changed := d.state.interest != old
	bind, w := d.state.bind, d.state.worker
	d.mu.Unlock()

	if !changed {
		return nil
	}

	switch bind {
	case BindBroadcast:
		return core.propagate(d)
	case BindAuto, BindExplicit:
		if w == nil {
			return ErrNoWorker
		}
		return w.UpdatePollSet(d)
	case BindNone:
		return nil
	default:
		return nil
	}
}
