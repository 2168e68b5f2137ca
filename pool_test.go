// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package iodev

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// stateOptions compares deviceState values, treating references by
// identity.
var stateOptions = cmp.Options{
	cmp.AllowUnexported(deviceState{}),
	cmp.Comparer(func(a, b *Core) bool { return a == b }),
	cmp.Comparer(func(a, b *Worker) bool { return a == b }),
	cmp.Comparer(func(a, b *Timer) bool { return a == b }),
	cmp.Comparer(func(a, b Handler) bool { return (a == nil) == (b == nil) }),
}

// TestPool_resetClearsLease populates every field of a device through the
// public API, closes it, and checks that the next lease of the same memory
// is indistinguishable from a freshly allocated device.
func TestPool_resetClearsLease(t *testing.T) {
	c, _ := newTestCore(t, WithLingerTimeout(time.Hour))
	w := startWorkers(t, c, 1)[0]

	d, _ := newDeviceFromPair(t, c, KindAccepted, HandlerFunc(func(Event) {}))
	d.SetContext("context")
	d.SetHandler(HandlerFunc(func(Event) {}), "handler context")
	d.SetLocalEndpoint("127.0.0.1", 80)
	d.SetRemoteEndpoint("127.0.0.2", 8080)
	if err := d.Bind(BindExplicit, w); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := d.AddInterest(InterestWrite); err != nil {
		t.Fatalf("AddInterest failed: %v", err)
	}
	if !d.LingerClose() {
		t.Fatal("LingerClose failed")
	}

	d.mu.Lock()
	populated := d.state
	d.mu.Unlock()
	for name, zero := range map[string]bool{
		"id":       populated.id == 0,
		"core":     populated.core == nil,
		"handle":   !populated.handle.Valid(),
		"kind":     populated.kind == KindUnknown,
		"interest": populated.interest == 0,
		"ioState":  populated.ioState == IOStateNone,
		"bind":     populated.bind == BindNone,
		"worker":   populated.worker == nil,
		"timer":    populated.timer == nil,
		"local":    populated.local == Endpoint{},
		"remote":   populated.remote == Endpoint{},
		"context":  populated.context == nil,
		"handler":  populated.handler == nil,
		"hctx":     populated.handlerCtx == nil,
	} {
		if zero {
			t.Errorf("field %s was not populated", name)
		}
	}

	if !d.Close() {
		t.Fatal("Close failed")
	}

	leased := c.pool.get()
	if leased != d {
		t.Fatal("expected the recycled device")
	}
	fresh := newDeviceObject()

	leased.mu.Lock()
	got := leased.state
	leased.mu.Unlock()
	if diff := cmp.Diff(fresh.state, got, stateOptions); diff != "" {
		t.Errorf("recycled device leaks state (-fresh +recycled):\n%s", diff)
	}
	if !leased.mu.TryLock() {
		t.Fatal("recycled device lock is held")
	}
	leased.mu.Unlock()
}

func TestPool_getReturnsSentinel(t *testing.T) {
	p := newPool(0)
	d := p.get()
	if d.Handle() != InvalidHandle || d.Interest() != 0 {
		t.Fatalf("unexpected new device: %+v", d.Info())
	}
	d.state.id = 123
	d.state.interest = InterestRead
	p.put(d)
	if p.idle() != 1 {
		t.Fatalf("idle = %d, want 1", p.idle())
	}
	d = p.get()
	if d.Handle() != InvalidHandle || d.Interest() != 0 {
		t.Fatalf("unexpected recycled device: %+v", d.Info())
	}
}

func TestPool_max(t *testing.T) {
	p := newPool(2)
	for range 5 {
		p.put(newDeviceObject())
	}
	if n := p.idle(); n != 2 {
		t.Fatalf("idle = %d, want 2", n)
	}
	p.drain()
	if n := p.idle(); n != 0 {
		t.Fatalf("idle after drain = %d, want 0", n)
	}

	p = newPool(-1)
	p.put(newDeviceObject())
	if n := p.idle(); n != 0 {
		t.Fatalf("disabled pool kept %d devices", n)
	}
}

func TestCore_WithMaxPooled(t *testing.T) {
	c, _ := newTestCore(t, WithMaxPooled(1))
	a, _ := newDeviceFromPair(t, c, KindConnected, nil)
	b, _ := newDeviceFromPair(t, c, KindConnected, nil)
	a.Close()
	b.Close()
	if n := c.PooledDevices(); n != 1 {
		t.Fatalf("PooledDevices = %d, want 1", n)
	}
}
