// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"sync"
)

// idBase is the first device id. Lower values are reserved.
const idBase = 100

// registry is the id-indexed table of live devices, plus the id counter.
type registry struct {
	data   map[uint64]*Device
	nextID uint64
	max    int
	mu     sync.RWMutex
}

func newRegistry(max int) *registry {
	return &registry{
		data:   make(map[uint64]*Device),
		nextID: idBase,
		max:    max,
	}
}

// reserve returns the next id, clamped to idBase.
func (r *registry) reserve() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nextID < idBase {
		r.nextID = idBase
	}
	id := r.nextID
	r.nextID++
	return id
}

// insert adds d under id.
func (r *registry) insert(id uint64, d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.data) >= r.max {
		return ErrDeviceLimit
	}
	r.data[id] = d
	return nil
}

// remove deletes id if it maps to d, reporting whether it did.
func (r *registry) remove(id uint64, d *Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.data[id]; !ok || v != d {
		return false
	}
	delete(r.data, id)
	return true
}

func (r *registry) find(id uint64) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data[id]
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// entry pairs a device with the id it was registered under.
type entry struct {
	id uint64
	d  *Device
}

// snapshot copies the table under the read lock. Devices must not be locked
// while the registry lock is held, so callers inspect them afterwards.
func (r *registry) snapshot() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entry, 0, len(r.data))
	for id, d := range r.data {
		out = append(out, entry{id: id, d: d})
	}
	return out
}
