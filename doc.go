// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package iodev implements the device layer of a multi-worker, event driven
// I/O engine.
//
// A [Device] wraps one OS handle (a listening or connected socket, a UDP
// endpoint, a timer or command descriptor, stdin/stdout), and tracks its
// read/write [Interest], how it is shut down ([Kind]), and which
// [Worker](s) poll it ([BindKind]). Devices are leased from, and recycled
// to, a pool owned by a [Core], which also keeps the registry of live
// devices and the running workers.
//
// # Lifecycle
//
//	d, err := core.CreateFromHandle(fd, iodev.KindAccepted, nil, handler, nil)
//	err = d.Bind(iodev.BindAuto, nil)
//	err = d.AddInterest(iodev.InterestWrite)
//	d.LingerClose() // or d.Close()
//
// [Device.Close] first removes the device from the registry, then detaches
// it from its worker(s), then releases the handle, then recycles it. A
// second Close is a no-op.
//
// # Concurrency
//
// Every device method is safe to call from any goroutine. The device lock
// is only held for field access, never across a call into a worker or the
// registry. Events for a device that is concurrently being closed may still
// be delivered; handlers should check [Event.Live].
//
// Broadcast devices follow a simple happens-before rule: binding appends
// the device to the core's broadcast list and snapshots the running
// workers in one critical section, and starting a worker appends it and
// snapshots the broadcast list in the same critical section, so every
// worker started before the device is closed polls it.
package iodev
