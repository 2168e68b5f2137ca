// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"sync/atomic"
)

// WorkerState represents the current state of a worker.
//
//	WorkerAwake → WorkerRunning          [start]
//	WorkerAwake → WorkerTerminating      [Shutdown before start]
//	WorkerRunning → WorkerTerminating    [Shutdown, or context done]
//	WorkerTerminating → WorkerTerminated [loop exit]
//
// Use TryTransition (CAS) for every transition except the final Store of
// WorkerTerminated.
type WorkerState uint32

const (
	// WorkerAwake indicates the worker has been created but not started.
	WorkerAwake WorkerState = iota
	// WorkerRunning indicates the worker is polling and dispatching.
	WorkerRunning
	// WorkerTerminating indicates shutdown has been requested.
	WorkerTerminating
	// WorkerTerminated indicates the worker has stopped.
	WorkerTerminated
)

// String returns a human-readable representation of the state.
func (s WorkerState) String() string {
	switch s {
	case WorkerAwake:
		return "Awake"
	case WorkerRunning:
		return "Running"
	case WorkerTerminating:
		return "Terminating"
	case WorkerTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// workerState is a lock-free state machine.
type workerState struct {
	v atomic.Uint32
}

func (s *workerState) Load() WorkerState {
	return WorkerState(s.v.Load())
}

func (s *workerState) Store(state WorkerState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *workerState) TryTransition(from, to WorkerState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
