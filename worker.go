// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// maxPollTimeout caps how long a worker blocks when no timer is due.
const maxPollTimeout = 10 * time.Second

// lingerReadSize is the size of the buffer used to discard input from
// linger-closing devices.
const lingerReadSize = 16 * 1024

// Worker is a goroutine that owns a private poll set, and dispatches
// readiness and timer events for the devices registered with it.
type Worker struct {
	core   *Core
	id     int
	poller Poller
	state  workerState

	// pollMu guards entries and owned. Poll set updates are applied
	// synchronously by the calling goroutine while holding it.
	pollMu  sync.RWMutex
	entries map[Handle]pollEntry
	owned   map[*Device]uint64

	inboxMu     sync.Mutex
	inbox       *queue.Queue
	inboxClosed bool

	// worker goroutine only
	timers  timerHeap
	readBuf []byte

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// pollEntry is the registration of one handle on a worker.
type pollEntry struct {
	d        *Device
	id       uint64
	interest Interest
}

func newWorker(ctx context.Context, c *Core, id int, p Poller) *Worker {
	w := &Worker{
		core:    c,
		id:      id,
		poller:  p,
		entries: make(map[Handle]pollEntry),
		owned:   make(map[*Device]uint64),
		inbox:   queue.New(),
		done:    make(chan struct{}),
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	return w
}

// ID returns the index of the worker within its core, in start order.
func (w *Worker) ID() int {
	if w == nil {
		return -1
	}
	return w.id
}

// State returns the current worker state.
func (w *Worker) State() WorkerState {
	return w.state.Load()
}

// Done is closed once the worker has terminated.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// UpdatePollSet (re)derives the registration of d from its handle and
// interest. It is idempotent, and does nothing for a device that has been
// closed.
func (w *Worker) UpdatePollSet(d *Device) error {
	return w.updatePollSet(d, 0)
}

// updatePollSet is UpdatePollSet, restricted to the lease with the given id
// unless it is 0.
func (w *Worker) updatePollSet(d *Device, want uint64) error {
	if d == nil {
		return ErrNilDevice
	}

	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	if w.entries == nil {
		return ErrWorkerClosed
	}

	id, h, interest := d.pollState()
	if !h.Valid() || id == 0 || (want != 0 && id != want) || w.core.Find(id) != d {
		// closed, the closing goroutine detaches it
		return nil
	}

	if e, ok := w.entries[h]; ok {
		if e.d == d && e.id == id {
			if err := w.poller.Modify(h, interest); err != nil {
				return fmt.Errorf("iodev: worker %d: modify handle %d: %w", w.id, h, err)
			}
			e.interest = interest
			w.entries[h] = e
			return nil
		}
		// stale registration, the handle was reused
		_ = w.poller.Delete(h)
		delete(w.entries, h)
	}

	if err := w.poller.Add(h, interest); err != nil {
		return fmt.Errorf("iodev: worker %d: add handle %d: %w", w.id, h, err)
	}
	w.entries[h] = pollEntry{d: d, id: id, interest: interest}
	return nil
}

// RemoveFromPollSet deletes the registration of d, if any.
func (w *Worker) RemoveFromPollSet(d *Device) error {
	if d == nil {
		return ErrNilDevice
	}

	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	if w.entries == nil {
		return ErrWorkerClosed
	}
	_, h, _ := d.pollState()
	if e, ok := w.entries[h]; !ok || e.d != d {
		h = InvalidHandle
		for k, e := range w.entries {
			if e.d == d {
				h = k
				break
			}
		}
		if !h.Valid() {
			return nil
		}
	}
	delete(w.entries, h)
	if err := w.poller.Delete(h); err != nil && !errors.Is(err, ErrHandleNotRegistered) {
		return fmt.Errorf("iodev: worker %d: delete handle %d: %w", w.id, h, err)
	}
	return nil
}

// detach deletes the registration of one lease, if w still has it. The
// lease is normally registered under h.
func (w *Worker) detach(ref Ref, h Handle) error {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	if w.entries == nil {
		return ErrWorkerClosed
	}
	if e, ok := w.entries[h]; !ok || e.d != ref.d || e.id != ref.id {
		h = InvalidHandle
		for k, e := range w.entries {
			if e.d == ref.d && e.id == ref.id {
				h = k
				break
			}
		}
		if !h.Valid() {
			return nil
		}
	}
	delete(w.entries, h)
	if err := w.poller.Delete(h); err != nil && !errors.Is(err, ErrHandleNotRegistered) {
		return fmt.Errorf("iodev: worker %d: delete handle %d: %w", w.id, h, err)
	}
	return nil
}

// RegisterDevice records d as owned by w.
func (w *Worker) RegisterDevice(d *Device) {
	if d == nil {
		return
	}
	w.register(d.Ref())
}

func (w *Worker) register(ref Ref) {
	w.pollMu.Lock()
	w.owned[ref.d] = ref.id
	w.pollMu.Unlock()
}

// DeregisterDevice forgets d.
func (w *Worker) DeregisterDevice(d *Device) {
	w.pollMu.Lock()
	delete(w.owned, d)
	w.pollMu.Unlock()
}

// deregister forgets the lease, leaving a later lease of the same device.
func (w *Worker) deregister(ref Ref) {
	w.pollMu.Lock()
	if id, ok := w.owned[ref.d]; ok && id == ref.id {
		delete(w.owned, ref.d)
	}
	w.pollMu.Unlock()
}

// DeviceCount returns the number of devices owned by w.
func (w *Worker) DeviceCount() int {
	w.pollMu.RLock()
	defer w.pollMu.RUnlock()
	return len(w.owned)
}

// PollInterest returns the interest registered for h, and whether h is in
// the poll set.
func (w *Worker) PollInterest(h Handle) (Interest, bool) {
	w.pollMu.RLock()
	defer w.pollMu.RUnlock()
	e, ok := w.entries[h]
	return e.interest, ok
}

// Submit runs fn on the worker goroutine.
func (w *Worker) Submit(fn func()) error {
	if fn == nil {
		return nil
	}
	w.inboxMu.Lock()
	if w.inboxClosed {
		w.inboxMu.Unlock()
		return ErrWorkerClosed
	}
	w.inbox.Add(fn)
	w.inboxMu.Unlock()

	if err := w.poller.Wake(); err != nil && !errors.Is(err, ErrPollerClosed) {
		return err
	}
	return nil
}

// start runs the worker loop on a new goroutine.
func (w *Worker) start() {
	if w.state.TryTransition(WorkerAwake, WorkerRunning) {
		go w.run(w.ctx)
	}
}

// Shutdown stops the worker and waits for it to terminate, or for ctx to be
// done. Pending timers are moved to standalone timers, so they still fire.
func (w *Worker) Shutdown(ctx context.Context) error {
	if w == nil {
		return ErrWorkerClosed
	}
	if w.state.TryTransition(WorkerAwake, WorkerTerminating) {
		w.cancel()
		w.terminate()
		close(w.done)
		return nil
	}
	if w.state.Load() == WorkerTerminated {
		return ErrWorkerClosed
	}
	w.cancel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.terminate()

	stop := context.AfterFunc(ctx, func() {
		if w.state.TryTransition(WorkerRunning, WorkerTerminating) {
			_ = w.poller.Wake()
		}
	})
	defer stop()

	for w.state.Load() == WorkerRunning {
		w.runTasks()
		w.runTimers()
		if w.state.Load() != WorkerRunning {
			break
		}
		if _, err := w.poller.Wait(w.calculateTimeout(), w.dispatch); err != nil {
			w.core.log.err().Int(`worker`, w.id).Err(err).Log(`poll failed`)
			break
		}
	}
}

// terminate tears the worker down, on its own goroutine (or the caller of
// Shutdown, if it never started).
func (w *Worker) terminate() {
	w.state.TryTransition(WorkerRunning, WorkerTerminating)
	w.core.removeWorker(w)

	w.inboxMu.Lock()
	w.inboxClosed = true
	w.inboxMu.Unlock()
	w.runTasks()

	for _, t := range w.timers {
		t.index = -1
		t.startStandalone(time.Until(t.when))
	}
	w.timers = nil

	w.pollMu.Lock()
	w.entries = nil
	_ = w.poller.Close()
	w.pollMu.Unlock()

	w.state.Store(WorkerTerminated)
	w.core.log.debug().Int(`worker`, w.id).Log(`worker terminated`)
}

func (w *Worker) runTasks() {
	for {
		w.inboxMu.Lock()
		if w.inbox.Length() == 0 {
			w.inboxMu.Unlock()
			return
		}
		fn := w.inbox.Remove().(func())
		w.inboxMu.Unlock()
		w.safeExecute(fn)
	}
}

func (w *Worker) calculateTimeout() time.Duration {
	w.inboxMu.Lock()
	pending := w.inbox.Length()
	w.inboxMu.Unlock()
	if pending > 0 {
		return 0
	}

	timeout := maxPollTimeout
	if len(w.timers) > 0 {
		delay := time.Until(w.timers[0].when)
		if delay < 0 {
			delay = 0
		}
		timeout = min(timeout, delay)
	}
	return timeout
}

// runTimers fires every expired timer.
func (w *Worker) runTimers() {
	now := time.Now()
	for len(w.timers) > 0 {
		if w.timers[0].when.After(now) {
			break
		}
		t := heap.Pop(&w.timers).(*Timer)
		w.safeExecute(t.fire)
	}
}

// dispatch delivers the readiness of one handle.
func (w *Worker) dispatch(h Handle, events IOEvents) {
	w.pollMu.RLock()
	e, ok := w.entries[h]
	w.pollMu.RUnlock()
	if !ok {
		return
	}

	d := e.d
	d.mu.Lock()
	live := d.state.id == e.id && d.state.handle == h
	kind := d.state.kind
	handler, hctx := d.state.handler, d.state.handlerCtx
	d.mu.Unlock()
	if !live {
		return
	}

	if kind == KindLingerClosing {
		w.drain(d, e.id, h, events)
		return
	}
	if handler == nil {
		return
	}
	w.safeExecute(func() {
		handler.HandleEvent(Event{
			Device:   d,
			DeviceID: e.id,
			Events:   events,
			Context:  hctx,
		})
	})
}

// drain discards input from a linger-closing device, closing it once the
// peer has finished.
func (w *Worker) drain(d *Device, id uint64, h Handle, events IOEvents) {
	if events&(EventRead|EventHangup|EventError) == 0 {
		return
	}
	if w.readBuf == nil {
		w.readBuf = make([]byte, lingerReadSize)
	}
	n, err := readHandle(h, w.readBuf)
	if err != nil && isTemporary(err) {
		return
	}
	if n > 0 && err == nil {
		return
	}
	if ref := (Ref{d: d, id: id}); ref.Device() != nil {
		withDevice(w.core.log.debug(), id, h, KindLingerClosing).
			Int(`worker`, w.id).
			Err(err).
			Log(`linger drained`)
		d.Close()
	}
}

// safeExecute runs fn with panic recovery.
func (w *Worker) safeExecute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.core.log.err().
				Int(`worker`, w.id).
				Str(`panic`, fmt.Sprint(r)).
				Log(`handler panicked`)
		}
	}()
	fn()
}
