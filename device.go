// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"net"
	"strconv"
	"sync"
)

// Endpoint is an address:port pair.
type Endpoint struct {
	IP   string
	Port int
}

// String renders the endpoint as host:port, using 0.0.0.0 for an empty IP.
func (e Endpoint) String() string {
	ip := e.IP
	if ip == "" {
		ip = "0.0.0.0"
	}
	return net.JoinHostPort(ip, strconv.Itoa(e.Port))
}

// Device is the in-process representation of one OS I/O handle, its poll
// interest, and its binding to worker(s).
//
// Devices are leased from the pool of the owning [Core], and returned to it
// by [Device.Close]. A *Device must not be retained past Close, since the
// same memory will be handed out again; use [Device.Ref] to hold on to a
// device across goroutines.
//
// All methods are safe for concurrent use. Accessors tolerate a nil
// receiver, returning zero values.
type Device struct {
	// mu guards state. It is held only for field reads and writes, never
	// across calls into a worker, the registry, or the pool.
	mu    sync.Mutex
	state deviceState
}

// deviceState holds every field that belongs to one lease. Recycling
// assigns the zero lease as a whole, so nothing can leak into the next one.
type deviceState struct {
	id   uint64
	core *Core

	handle   Handle
	kind     Kind
	interest Interest
	ioState  IOState
	bind     BindKind
	worker   *Worker
	timer    *Timer

	local  Endpoint
	remote Endpoint

	context    any
	handler    Handler
	handlerCtx any
}

// emptyState is the state of a device that is not leased.
func emptyState() deviceState {
	return deviceState{handle: InvalidHandle}
}

// newDeviceObject allocates a device with a sentinel handle.
func newDeviceObject() *Device {
	return &Device{state: emptyState()}
}

// reset clears the lease. The caller must not hold d.mu.
func (d *Device) reset() {
	d.mu.Lock()
	d.state = emptyState()
	d.mu.Unlock()
}

// destroy tears down a device that is being dropped by the pool, releasing
// any handle that was somehow left behind.
func (d *Device) destroy() {
	d.mu.Lock()
	h := d.state.handle
	d.state = emptyState()
	d.mu.Unlock()
	if h.Valid() {
		_ = closeHandle(h)
	}
}

// Ref is a weak, lease-checked reference to a device.
type Ref struct {
	d  *Device
	id uint64
}

// Ref returns a reference to the current lease of d.
func (d *Device) Ref() Ref {
	return Ref{d: d, id: d.ID()}
}

// ID returns the id of the referenced lease.
func (r Ref) ID() uint64 { return r.id }

// Device returns the device if the referenced lease is still live, nil once
// it has been closed (even if the memory was leased again).
func (r Ref) Device() *Device {
	if r.d == nil || r.id == 0 {
		return nil
	}
	r.d.mu.Lock()
	id, core := r.d.state.id, r.d.state.core
	r.d.mu.Unlock()
	if id != r.id || core == nil {
		return nil
	}
	if core.Find(id) != r.d {
		return nil
	}
	return r.d
}

// ID returns the process-unique id of the device, 0 if d is nil or not
// leased.
func (d *Device) ID() uint64 {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.id
}

// Core returns the core that leased the device.
func (d *Device) Core() *Core {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.core
}

// Worker returns the single owning worker, nil when unbound or broadcast.
func (d *Device) Worker() *Worker {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.worker
}

// Handle returns the OS handle, [InvalidHandle] if d is nil or closed.
func (d *Device) Handle() Handle {
	if d == nil {
		return InvalidHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.handle
}

// Kind returns the handle kind.
func (d *Device) Kind() Kind {
	if d == nil {
		return KindUnknown
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.kind
}

// Interest returns the requested readiness notifications.
func (d *Device) Interest() Interest {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.interest
}

// IOState returns the usability flag.
func (d *Device) IOState() IOState {
	if d == nil {
		return IOStateNone
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.ioState
}

// BindKind returns how the device is bound.
func (d *Device) BindKind() BindKind {
	if d == nil {
		return BindNone
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.bind
}

// Context returns the application context.
func (d *Device) Context() any {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.context
}

// SetContext replaces the application context.
func (d *Device) SetContext(ctx any) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.state.context = ctx
	d.mu.Unlock()
}

// Handler returns the event handler and its context.
func (d *Device) Handler() (Handler, any) {
	if d == nil {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.handler, d.state.handlerCtx
}

// SetHandler replaces the event handler and its context.
func (d *Device) SetHandler(h Handler, ctx any) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.state.handler = h
	d.state.handlerCtx = ctx
	d.mu.Unlock()
}

// LocalEndpoint returns the local address, zero until populated.
func (d *Device) LocalEndpoint() Endpoint {
	if d == nil {
		return Endpoint{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.local
}

// RemoteEndpoint returns the remote address, zero until populated.
func (d *Device) RemoteEndpoint() Endpoint {
	if d == nil {
		return Endpoint{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.remote
}

// SetLocalEndpoint sets the local address.
func (d *Device) SetLocalEndpoint(ip string, port int) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.state.local = Endpoint{IP: ip, Port: port}
	d.mu.Unlock()
}

// SetRemoteEndpoint sets the remote address.
func (d *Device) SetRemoteEndpoint(ip string, port int) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.state.remote = Endpoint{IP: ip, Port: port}
	d.mu.Unlock()
}

// LocalIP returns the local IP, "0.0.0.0" if absent.
func (d *Device) LocalIP() string { return ipOrAny(d.LocalEndpoint().IP) }

// LocalPort returns the local port.
func (d *Device) LocalPort() int { return d.LocalEndpoint().Port }

// RemoteIP returns the remote IP, "0.0.0.0" if absent.
func (d *Device) RemoteIP() string { return ipOrAny(d.RemoteEndpoint().IP) }

// RemotePort returns the remote port.
func (d *Device) RemotePort() int { return d.RemoteEndpoint().Port }

func ipOrAny(ip string) string {
	if ip == "" {
		return "0.0.0.0"
	}
	return ip
}

// DeviceInfo is a point-in-time copy of the observable fields of a device.
type DeviceInfo struct {
	ID       uint64
	Handle   Handle
	Kind     Kind
	Interest Interest
	IOState  IOState
	Bind     BindKind
	WorkerID int
	Local    Endpoint
	Remote   Endpoint
}

// Info returns a copy of the observable fields. WorkerID is -1 when there is
// no single owning worker.
func (d *Device) Info() DeviceInfo {
	if d == nil {
		return DeviceInfo{Handle: InvalidHandle, WorkerID: -1}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	info := DeviceInfo{
		ID:       d.state.id,
		Handle:   d.state.handle,
		Kind:     d.state.kind,
		Interest: d.state.interest,
		IOState:  d.state.ioState,
		Bind:     d.state.bind,
		WorkerID: -1,
		Local:    d.state.local,
		Remote:   d.state.remote,
	}
	if d.state.worker != nil {
		info.WorkerID = d.state.worker.ID()
	}
	return info
}

// pollState returns what a worker needs to (re)derive the registration.
func (d *Device) pollState() (id uint64, h Handle, interest Interest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.id, d.state.handle, d.state.interest
}
