// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// warnRates bounds how often a single warning category is logged.
var warnRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// logger wraps the configured logiface logger. Every method is safe on a nil
// underlying logger.
type logger struct {
	l     *logiface.Logger[logiface.Event]
	limit *catrate.Limiter
}

func newLogger(l *logiface.Logger[logiface.Event]) *logger {
	x := &logger{l: l}
	if l != nil {
		x.limit = catrate.NewLimiter(warnRates)
	}
	return x
}

// warning returns a warning builder, or nil if the category is currently
// being throttled.
func (x *logger) warning(category any) *logiface.Builder[logiface.Event] {
	if x.l == nil {
		return nil
	}
	if _, ok := x.limit.Allow(category); !ok {
		return nil
	}
	return x.l.Warning()
}

func (x *logger) debug() *logiface.Builder[logiface.Event] { return x.l.Debug() }

func (x *logger) info() *logiface.Builder[logiface.Event] { return x.l.Info() }

func (x *logger) err() *logiface.Builder[logiface.Event] { return x.l.Err() }

// withDevice adds the standard device fields to b.
func withDevice(b *logiface.Builder[logiface.Event], id uint64, h Handle, kind Kind) *logiface.Builder[logiface.Event] {
	return b.
		Uint64(`device`, id).
		Int(`handle`, int(h)).
		Str(`kind`, kind.String())
}
