// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package iodev

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"golang.org/x/sys/unix"
)

// fakePoller records every registration change, and only reports events
// injected with ready.
type fakePoller struct {
	mu     sync.Mutex
	fds    map[Handle]Interest
	adds   int
	mods   int
	dels   int
	closed bool

	wake  chan struct{}
	ready chan readyEvent
}

type readyEvent struct {
	h      Handle
	events IOEvents
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		fds:   make(map[Handle]Interest),
		wake:  make(chan struct{}, 1),
		ready: make(chan readyEvent, 64),
	}
}

func (p *fakePoller) Add(h Handle, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.fds[h]; ok {
		return ErrHandleRegistered
	}
	p.fds[h] = interest
	p.adds++
	return nil
}

func (p *fakePoller) Modify(h Handle, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.fds[h]; !ok {
		return ErrHandleNotRegistered
	}
	p.fds[h] = interest
	p.mods++
	return nil
}

func (p *fakePoller) Delete(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.fds[h]; !ok {
		return ErrHandleNotRegistered
	}
	delete(p.fds, h)
	p.dels++
	return nil
}

func (p *fakePoller) Wait(timeout time.Duration, fn func(h Handle, events IOEvents)) (int, error) {
	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case ev := <-p.ready:
		fn(ev.h, ev.events)
		return 1, nil
	case <-p.wake:
		return 0, nil
	case <-timer:
		return 0, nil
	}
}

func (p *fakePoller) Wake() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *fakePoller) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// counts returns the add, modify, and delete counts.
func (p *fakePoller) counts() (adds, mods, dels int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adds, p.mods, p.dels
}

// interest returns the registered interest of h.
func (p *fakePoller) interest(h Handle) (Interest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.fds[h]
	return v, ok
}

// fakePollers is a PollerFactory that keeps every poller it creates.
type fakePollers struct {
	mu  sync.Mutex
	all []*fakePoller
}

func (f *fakePollers) factory() (Poller, error) {
	p := newFakePoller()
	f.mu.Lock()
	f.all = append(f.all, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakePollers) get(i int) *fakePoller {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.all[i]
}

// newTestCore creates a core backed by fake pollers, shut down on cleanup.
func newTestCore(t *testing.T, opts ...CoreOption) (*Core, *fakePollers) {
	t.Helper()
	pollers := &fakePollers{}
	c, err := NewCore(append([]CoreOption{WithPollerFactory(pollers.factory)}, opts...)...)
	if err != nil {
		t.Fatalf("NewCore failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, pollers
}

// startWorkers starts n workers on c.
func startWorkers(t *testing.T, c *Core, n int) []*Worker {
	t.Helper()
	workers := make([]*Worker, n)
	for i := range workers {
		w, err := c.StartWorker(context.Background())
		if err != nil {
			t.Fatalf("StartWorker failed: %v", err)
		}
		workers[i] = w
	}
	return workers
}

// socketPair returns a connected stream socket pair. The second handle is
// closed on cleanup; the first is expected to be owned by a device.
func socketPair(t *testing.T) (Handle, Handle) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("SetNonblock failed: %v", err)
		}
	}
	t.Cleanup(func() { _ = unix.Close(fds[1]) })
	return Handle(fds[0]), Handle(fds[1])
}

// unixDup duplicates h, failing the test on error.
func unixDup(t *testing.T, h Handle) int {
	t.Helper()
	fd, err := unix.Dup(int(h))
	if err != nil {
		t.Fatalf("Dup failed: %v", err)
	}
	return fd
}

// handleOpen reports whether h is an open descriptor.
func handleOpen(h Handle) bool {
	_, err := unix.FcntlInt(uintptr(h), unix.F_GETFD, 0)
	return err == nil
}

// newDeviceFromPair creates a device around one end of a new socket pair.
func newDeviceFromPair(t *testing.T, c *Core, kind Kind, handler Handler) (*Device, Handle) {
	t.Helper()
	h, peer := socketPair(t)
	d, err := c.CreateFromHandle(h, kind, nil, handler, nil)
	if err != nil {
		_ = unix.Close(int(h))
		t.Fatalf("CreateFromHandle failed: %v", err)
	}
	return d, peer
}

// waitFor polls cond until it holds, failing after timeout.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// newBufferLogger returns a debug level JSON logger, and its output.
func newBufferLogger() (*logiface.Logger[logiface.Event], *lockedWriter) {
	out := &lockedWriter{}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(out), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger(), out
}

type lockedWriter struct {
	mu sync.Mutex
	w  bytes.Buffer
}

func (x *lockedWriter) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.w.Write(p)
}

func (x *lockedWriter) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.w.String()
}
