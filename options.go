// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// DefaultLingerTimeout is how long [Device.LingerClose] lets a connection
// drain before it is closed.
const DefaultLingerTimeout = 2 * time.Second

// coreOptions holds configuration options for Core creation.
type coreOptions struct {
	logger        *logiface.Logger[logiface.Event]
	selector      WorkerSelector
	pollerFactory PollerFactory
	lingerTimeout time.Duration
	maxPooled     int
	maxDevices    int
}

// --- Core Options ---

// CoreOption configures a Core instance.
type CoreOption interface {
	applyCore(*coreOptions) error
}

// coreOptionImpl implements CoreOption.
type coreOptionImpl struct {
	applyCoreFunc func(*coreOptions) error
}

func (c *coreOptionImpl) applyCore(opts *coreOptions) error {
	return c.applyCoreFunc(opts)
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) CoreOption {
	return &coreOptionImpl{func(opts *coreOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithWorkerSelector sets the policy used by [BindAuto]. Defaults to
// [LeastLoaded].
func WithWorkerSelector(selector WorkerSelector) CoreOption {
	return &coreOptionImpl{func(opts *coreOptions) error {
		if selector == nil {
			return errors.New("iodev: nil worker selector")
		}
		opts.selector = selector
		return nil
	}}
}

// WithLingerTimeout sets the drain deadline used by [Device.LingerClose].
func WithLingerTimeout(d time.Duration) CoreOption {
	return &coreOptionImpl{func(opts *coreOptions) error {
		if d <= 0 {
			return errors.New("iodev: linger timeout must be positive")
		}
		opts.lingerTimeout = d
		return nil
	}}
}

// WithPollerFactory replaces the platform poller used by each worker.
func WithPollerFactory(factory PollerFactory) CoreOption {
	return &coreOptionImpl{func(opts *coreOptions) error {
		if factory == nil {
			return errors.New("iodev: nil poller factory")
		}
		opts.pollerFactory = factory
		return nil
	}}
}

// WithMaxPooled caps the number of idle devices kept for reuse. Zero means
// unbounded, negative disables pooling.
func WithMaxPooled(n int) CoreOption {
	return &coreOptionImpl{func(opts *coreOptions) error {
		opts.maxPooled = n
		return nil
	}}
}

// WithMaxDevices caps the number of live devices. Zero means unbounded.
func WithMaxDevices(n int) CoreOption {
	return &coreOptionImpl{func(opts *coreOptions) error {
		if n < 0 {
			return errors.New("iodev: max devices must not be negative")
		}
		opts.maxDevices = n
		return nil
	}}
}

// resolveCoreOptions applies CoreOption instances to coreOptions.
func resolveCoreOptions(opts []CoreOption) (*coreOptions, error) {
	cfg := &coreOptions{
		selector:      LeastLoaded(),
		pollerFactory: NewPoller,
		lingerTimeout: DefaultLingerTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyCore(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
