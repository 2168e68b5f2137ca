// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"sync/atomic"
)

// WorkerSelector picks the owner of a device bound with [BindAuto].
// Select is given the running workers, in start order, and never an empty
// slice. Returning nil fails the bind with [ErrNoWorker].
type WorkerSelector interface {
	Select(workers []*Worker) *Worker
}

// WorkerSelectorFunc adapts a function to [WorkerSelector].
type WorkerSelectorFunc func(workers []*Worker) *Worker

// Select calls f(workers).
func (f WorkerSelectorFunc) Select(workers []*Worker) *Worker { return f(workers) }

// LeastLoaded selects the worker owning the fewest devices, the earliest
// started on ties. This is the default.
func LeastLoaded() WorkerSelector {
	return WorkerSelectorFunc(func(workers []*Worker) *Worker {
		var (
			best  *Worker
			count int
		)
		for _, w := range workers {
			if n := w.DeviceCount(); best == nil || n < count {
				best, count = w, n
			}
		}
		return best
	})
}

// RoundRobin cycles through the workers.
func RoundRobin() WorkerSelector {
	var next atomic.Uint64
	return WorkerSelectorFunc(func(workers []*Worker) *Worker {
		if len(workers) == 0 {
			return nil
		}
		i := next.Add(1) - 1
		return workers[i%uint64(len(workers))]
	})
}
