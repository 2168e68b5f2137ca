// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"sync"
)

// pool is a free-list of recycled devices.
type pool struct {
	mu   sync.Mutex
	free []*Device
	// max is the idle cap, 0 is unbounded, negative disables reuse.
	max int
}

func newPool(max int) *pool {
	return &pool{max: max}
}

// get returns a recycled device, or allocates one. The device always has
// the sentinel handle and no interest.
func (p *pool) get() *Device {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		d := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return d
	}
	p.mu.Unlock()
	return newDeviceObject()
}

// put clears d and returns it to the free list. The caller must already have
// released the handle.
func (p *pool) put(d *Device) {
	d.reset()
	p.mu.Lock()
	if p.max < 0 || (p.max > 0 && len(p.free) >= p.max) {
		p.mu.Unlock()
		d.destroy()
		return
	}
	p.free = append(p.free, d)
	p.mu.Unlock()
}

// idle returns the number of devices available for reuse.
func (p *pool) idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// drain destroys every idle device.
func (p *pool) drain() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()
	for _, d := range free {
		d.destroy()
	}
}
