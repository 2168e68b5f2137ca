// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timerPending uint32 = iota
	timerFired
	timerStopped
)

// Timer delivers an [EventTimeout] event carrying a [Command], once, after a
// delay. It runs on a worker goroutine, or on a standalone timer goroutine
// if no worker is running.
type Timer struct {
	core    *Core
	when    time.Time
	cmd     Command
	ref     Ref
	handler Handler
	hctx    any
	state   atomic.Uint32

	// index in the worker heap, -1 when not in one
	index int

	// mu guards worker and standalone
	mu         sync.Mutex
	worker     *Worker
	standalone *time.Timer
}

// timerHeap is a min-heap of timers, owned by a worker goroutine.
type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// StartTimer fires cmd against d (which may be nil) after delay.
//
// The timer runs on w if given, otherwise the owner of d, otherwise a
// worker picked by the selector. The event goes to handler, or the handler
// of d if handler is nil. A [CommandIdle] timer on a [KindLingerClosing]
// device, that is still the device's current timer, closes the device
// after the handler has run.
func (c *Core) StartTimer(w *Worker, delay time.Duration, cmd Command, d *Device, handler Handler, hctx any) *Timer {
	t := c.newTimer(cmd, d, handler, hctx)
	c.scheduleTimer(t, w, d, delay)
	return t
}

func (c *Core) newTimer(cmd Command, d *Device, handler Handler, hctx any) *Timer {
	t := &Timer{
		core:    c,
		cmd:     cmd,
		handler: handler,
		hctx:    hctx,
		index:   -1,
	}
	if d != nil {
		t.ref = d.Ref()
	}
	return t
}

func (c *Core) scheduleTimer(t *Timer, w *Worker, d *Device, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	t.when = time.Now().Add(delay)

	if w == nil {
		w = d.Worker()
	}
	if w == nil {
		w = c.selectWorker()
	}
	if w != nil {
		if err := w.Submit(func() { w.pushTimer(t) }); err == nil {
			return
		}
	}

	c.log.warning(`timer`).Dur(`delay`, delay).Log(`no running worker, using standalone timer`)
	t.startStandalone(delay)
}

// StartTimer replaces the timer bound to d (stopping the previous one) with
// a new one, see [Core.StartTimer].
func (d *Device) StartTimer(delay time.Duration, cmd Command, handler Handler, hctx any) (*Timer, error) {
	if d == nil {
		return nil, ErrNilDevice
	}
	c := d.Core()
	if c == nil {
		return nil, ErrCoreUnavailable
	}
	t := c.newTimer(cmd, d, handler, hctx)

	d.mu.Lock()
	if d.state.core != c || d.state.id != t.ref.id {
		d.mu.Unlock()
		return nil, ErrCoreUnavailable
	}
	old := d.state.timer
	d.state.timer = t
	d.mu.Unlock()

	old.Stop()
	c.scheduleTimer(t, nil, d, delay)
	return t, nil
}

// Timer returns the timer currently bound to d, or nil.
func (d *Device) Timer() *Timer {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.timer
}

// Command returns the command the timer delivers.
func (t *Timer) Command() Command {
	if t == nil {
		return CommandNone
	}
	return t.cmd
}

// Active reports whether the timer has neither fired nor been stopped.
func (t *Timer) Active() bool {
	return t != nil && t.state.Load() == timerPending
}

// Stop prevents the timer from firing, reporting whether it did so. A
// timer waiting on a worker is removed from that worker's heap.
func (t *Timer) Stop() bool {
	if t == nil || !t.state.CompareAndSwap(timerPending, timerStopped) {
		return false
	}
	t.mu.Lock()
	if t.standalone != nil {
		t.standalone.Stop()
	}
	w := t.worker
	t.worker = nil
	t.mu.Unlock()

	if w != nil {
		// fails only once w has terminated, dropping its heap
		_ = w.Submit(func() { w.removeTimer(t) })
	}
	return true
}

func (t *Timer) startStandalone(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.worker = nil
	if t.state.Load() != timerPending {
		return
	}
	t.standalone = time.AfterFunc(delay, t.fire)
}

// pushTimer adds t to the heap of w, unless it was stopped first. Worker
// goroutine only.
func (w *Worker) pushTimer(t *Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Load() != timerPending {
		return
	}
	heap.Push(&w.timers, t)
	t.worker = w
}

// removeTimer drops a stopped timer from the heap of w. Worker goroutine
// only.
func (w *Worker) removeTimer(t *Timer) {
	if i := t.index; i >= 0 && i < len(w.timers) && w.timers[i] == t {
		heap.Remove(&w.timers, i)
	}
}

// fire delivers the timeout, at most once.
func (t *Timer) fire() {
	if !t.state.CompareAndSwap(timerPending, timerFired) {
		return
	}

	handler, hctx := t.handler, t.hctx
	d := t.ref.Device()
	if handler == nil && d != nil {
		handler, hctx = d.Handler()
	}
	if handler != nil {
		handler.HandleEvent(Event{
			Device:   t.ref.d,
			DeviceID: t.ref.id,
			Events:   EventTimeout,
			Command:  t.cmd,
			Context:  hctx,
		})
	}

	if t.cmd != CommandIdle {
		return
	}
	if d = t.ref.Device(); d == nil {
		return
	}
	d.mu.Lock()
	expired := d.state.kind == KindLingerClosing && d.state.timer == t
	if expired {
		d.state.timer = nil
	}
	id, h := d.state.id, d.state.handle
	d.mu.Unlock()
	if expired {
		withDevice(t.core.log.debug(), id, h, KindLingerClosing).Log(`linger timeout`)
		d.Close()
	}
}
