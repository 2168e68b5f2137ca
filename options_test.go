// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"testing"
	"time"
)

func TestResolveCoreOptions_defaults(t *testing.T) {
	cfg, err := resolveCoreOptions(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.selector == nil || cfg.pollerFactory == nil {
		t.Fatal("missing defaults")
	}
	if cfg.lingerTimeout != DefaultLingerTimeout {
		t.Errorf("lingerTimeout = %v", cfg.lingerTimeout)
	}
	if cfg.logger != nil || cfg.maxPooled != 0 || cfg.maxDevices != 0 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestResolveCoreOptions_nilOption(t *testing.T) {
	cfg, err := resolveCoreOptions([]CoreOption{nil, WithMaxPooled(3), nil})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.maxPooled != 3 {
		t.Errorf("maxPooled = %d", cfg.maxPooled)
	}
}

func TestNewCore_invalidOptions(t *testing.T) {
	for name, opt := range map[string]CoreOption{
		"nil selector":      WithWorkerSelector(nil),
		"nil factory":       WithPollerFactory(nil),
		"zero linger":       WithLingerTimeout(0),
		"negative linger":   WithLingerTimeout(-time.Second),
		"negative max live": WithMaxDevices(-1),
	} {
		t.Run(name, func(t *testing.T) {
			c, err := NewCore(opt)
			if err == nil {
				t.Fatal("expected an error")
			}
			if c != nil {
				t.Fatal("expected no core")
			}
		})
	}
}

func TestNewCore_options(t *testing.T) {
	sel := RoundRobin()
	c, err := NewCore(
		WithWorkerSelector(sel),
		WithLingerTimeout(time.Minute),
		WithMaxPooled(-1),
		WithMaxDevices(10),
	)
	if err != nil {
		t.Fatal(err)
	}
	if c.opts.lingerTimeout != time.Minute {
		t.Errorf("lingerTimeout = %v", c.opts.lingerTimeout)
	}
	if c.pool.max != -1 || c.registry.max != 10 {
		t.Errorf("limits not applied: pool=%d registry=%d", c.pool.max, c.registry.max)
	}
	if c.log.l != nil {
		t.Error("logger set without WithLogger")
	}
}
