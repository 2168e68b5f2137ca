// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Core owns the device registry, the device pool, the id counter, and the
// set of running workers.
//
// Devices must be closed before the core is shut down; [Core.Shutdown] will
// close any that remain.
type Core struct {
	opts     *coreOptions
	log      *logger
	pool     *pool
	registry *registry

	// workersMu guards workers, broadcast, and nextWorkerID. Starting a
	// worker and binding a broadcast device each take it exactly once, so
	// every (device, worker) pair is applied by at least one side.
	workersMu    sync.Mutex
	workers      []*Worker
	broadcast    []Ref
	nextWorkerID int

	closed atomic.Bool

	testHooks *coreTestHooks
}

// coreTestHooks provides injection points for deterministic race testing.
type coreTestHooks struct {
	// BindPublished runs once Bind has recorded the binding on the device,
	// before any worker bookkeeping.
	BindPublished func(d *Device)
}

// NewCore creates a core with no workers.
func NewCore(opts ...CoreOption) (*Core, error) {
	cfg, err := resolveCoreOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Core{
		opts:     cfg,
		log:      newLogger(cfg.logger),
		pool:     newPool(cfg.maxPooled),
		registry: newRegistry(cfg.maxDevices),
	}, nil
}

// NewDevice leases a device from the pool, assigns it the next id, and
// registers it. The device has no handle; populate it, or use
// [Core.CreateFromHandle].
func (c *Core) NewDevice() (*Device, error) {
	if c == nil {
		return nil, ErrNilCore
	}
	if c.closed.Load() {
		return nil, ErrCoreClosed
	}

	d := c.pool.get()
	id := c.registry.reserve()

	d.mu.Lock()
	d.state = emptyState()
	d.state.id = id
	d.state.core = c
	d.mu.Unlock()

	if err := c.registry.insert(id, d); err != nil {
		c.pool.put(d)
		return nil, err
	}
	return d, nil
}

// CreateFromHandle creates a read-write device wrapping h, interested in
// readability. The device is not bound to any worker yet, see
// [Device.Bind].
func (c *Core) CreateFromHandle(h Handle, kind Kind, ctx any, handler Handler, handlerCtx any) (*Device, error) {
	if c == nil {
		return nil, ErrNilCore
	}
	if !h.Valid() {
		return nil, ErrInvalidHandle
	}

	d, err := c.NewDevice()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.state.handle = h
	d.state.kind = kind
	d.state.context = ctx
	d.state.handler = handler
	d.state.handlerCtx = handlerCtx
	d.state.ioState = IOStateReadWrite
	d.mu.Unlock()

	if err := d.AddInterest(InterestRead); err != nil {
		d.Close()
		return nil, err
	}

	withDevice(c.log.debug(), d.ID(), h, kind).Log(`device created`)
	return d, nil
}

// Find returns the live device with the given id, or nil.
func (c *Core) Find(id uint64) *Device {
	if c == nil {
		return nil
	}
	return c.registry.find(id)
}

// FindByHandle returns the live device wrapping h, or nil.
func (c *Core) FindByHandle(h Handle) *Device {
	if c == nil || !h.Valid() {
		return nil
	}
	for _, e := range c.registry.snapshot() {
		info := e.d.Info()
		if info.ID == e.id && info.Handle == h {
			return e.d
		}
	}
	return nil
}

// Count returns the number of live devices.
func (c *Core) Count() int {
	if c == nil {
		return 0
	}
	return c.registry.count()
}

// Range calls fn for each live device until fn returns false. Devices
// closed during iteration are skipped.
func (c *Core) Range(fn func(d *Device) bool) {
	if c == nil {
		return
	}
	entries := c.registry.snapshot()
	slices.SortFunc(entries, func(a, b entry) int { return compareID(a.id, b.id) })
	for _, e := range entries {
		if e.d.ID() != e.id {
			continue
		}
		if !fn(e.d) {
			return
		}
	}
}

// Snapshot returns the observable state of every live device, ordered by
// id ascending.
func (c *Core) Snapshot() []DeviceInfo {
	if c == nil {
		return nil
	}
	entries := c.registry.snapshot()
	out := make([]DeviceInfo, 0, len(entries))
	for _, e := range entries {
		info := e.d.Info()
		if info.ID != e.id {
			continue
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b DeviceInfo) int { return compareID(a.ID, b.ID) })
	return out
}

// SortByHandle orders infos by handle, descending.
func SortByHandle(infos []DeviceInfo) {
	slices.SortStableFunc(infos, func(a, b DeviceInfo) int {
		switch {
		case a.Handle > b.Handle:
			return -1
		case a.Handle < b.Handle:
			return 1
		default:
			return 0
		}
	})
}

func compareID(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// PooledDevices returns the number of idle devices available for reuse.
func (c *Core) PooledDevices() int {
	if c == nil {
		return 0
	}
	return c.pool.idle()
}

// Workers returns the running workers, in start order.
func (c *Core) Workers() []*Worker {
	if c == nil {
		return nil
	}
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	return slices.Clone(c.workers)
}

// selectWorker applies the configured selector to the running workers.
func (c *Core) selectWorker() *Worker {
	workers := c.Workers()
	if len(workers) == 0 {
		return nil
	}
	return c.opts.selector.Select(workers)
}

// addBroadcast records the lease for workers started later, returning the
// workers currently running.
func (c *Core) addBroadcast(ref Ref) []*Worker {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	if !slices.Contains(c.broadcast, ref) {
		c.broadcast = append(c.broadcast, ref)
	}
	return slices.Clone(c.workers)
}

// removeBroadcast forgets the lease, returning the workers currently
// running.
func (c *Core) removeBroadcast(ref Ref) []*Worker {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	if i := slices.Index(c.broadcast, ref); i >= 0 {
		c.broadcast = slices.Delete(c.broadcast, i, i+1)
	}
	return slices.Clone(c.workers)
}

// detach undoes the worker bookkeeping of a binding. Entries belonging to a
// later lease of the same device are left alone.
func (c *Core) detach(ref Ref, h Handle, bind BindKind, w *Worker) {
	switch bind {
	case BindBroadcast:
		for _, w := range c.removeBroadcast(ref) {
			if err := w.detach(ref, h); err != nil {
				c.log.debug().Uint64(`device`, ref.id).Int(`worker`, w.ID()).Err(err).Log(`detach failed`)
			}
		}
	case BindAuto, BindExplicit:
		if w != nil {
			if err := w.detach(ref, h); err != nil {
				c.log.debug().Uint64(`device`, ref.id).Int(`worker`, w.ID()).Err(err).Log(`detach failed`)
			}
			w.deregister(ref)
		}
	case BindNone:
	}
}

// BroadcastDevices returns the number of devices bound to every worker.
func (c *Core) BroadcastDevices() int {
	if c == nil {
		return 0
	}
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	return len(c.broadcast)
}

// propagate re-applies the poll registration of a broadcast device on every
// running worker.
func (c *Core) propagate(d *Device) error {
	c.workersMu.Lock()
	workers := slices.Clone(c.workers)
	c.workersMu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := w.UpdatePollSet(d); err != nil && !errors.Is(err, ErrWorkerClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartWorker creates a worker with its own poller and runs it on a new
// goroutine, until ctx is canceled or [Worker.Shutdown] is called.
//
// The worker picks up every broadcast device bound so far.
func (c *Core) StartWorker(ctx context.Context) (*Worker, error) {
	if c == nil {
		return nil, ErrNilCore
	}
	if c.closed.Load() {
		return nil, ErrCoreClosed
	}

	p, err := c.opts.pollerFactory()
	if err != nil {
		return nil, err
	}

	c.workersMu.Lock()
	if c.closed.Load() {
		c.workersMu.Unlock()
		_ = p.Close()
		return nil, ErrCoreClosed
	}
	w := newWorker(ctx, c, c.nextWorkerID, p)
	c.nextWorkerID++
	c.workers = append(c.workers, w)
	pending := slices.Clone(c.broadcast)
	c.workersMu.Unlock()

	for _, ref := range pending {
		if err := w.updatePollSet(ref.d, ref.id); err != nil {
			c.log.warning(`broadcast`).
				Int(`worker`, w.ID()).
				Uint64(`device`, ref.id).
				Err(err).
				Log(`failed to apply broadcast device`)
		}
	}

	w.start()

	c.log.debug().Int(`worker`, w.ID()).Int(`broadcast`, len(pending)).Log(`worker started`)
	return w, nil
}

// removeWorker drops a terminated worker from selection and fan-out.
func (c *Core) removeWorker(w *Worker) {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	if i := slices.Index(c.workers, w); i >= 0 {
		c.workers = slices.Delete(c.workers, i, i+1)
	}
}

// Shutdown closes every live device, stops every worker, and drops the
// pool. It returns ctx.Err() if ctx ends before the workers have stopped.
func (c *Core) Shutdown(ctx context.Context) error {
	if c == nil {
		return ErrNilCore
	}
	if c.closed.Swap(true) {
		return ErrCoreClosed
	}

	var closed int
	c.Range(func(d *Device) bool {
		if d.Close() {
			closed++
		}
		return true
	})

	var g errgroup.Group
	for _, w := range c.Workers() {
		g.Go(func() error {
			if err := w.Shutdown(ctx); err != nil && !errors.Is(err, ErrWorkerClosed) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	c.pool.drain()

	c.log.info().Int(`devices`, closed).Log(`core shut down`)
	return err
}
