// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"strconv"
	"strings"
)

// IOEvents is the set of conditions carried by an [Event].
type IOEvents uint32

const (
	// EventRead indicates the handle is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the handle is ready for writing.
	EventWrite
	// EventError indicates an error condition on the handle.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
	// EventTimeout indicates a timer bound to the device expired.
	EventTimeout
)

func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for _, v := range [...]struct {
		bit  IOEvents
		name string
	}{
		{EventRead, "read"},
		{EventWrite, "write"},
		{EventError, "error"},
		{EventHangup, "hangup"},
		{EventTimeout, "timeout"},
	} {
		if e&v.bit != 0 {
			parts = append(parts, v.name)
		}
	}
	return strings.Join(parts, "|")
}

// Command identifies why a timer fired.
type Command uint16

const (
	// CommandNone is the zero value.
	CommandNone Command = iota
	// CommandIdle is an idle / drain deadline. Delivered to a
	// [KindLingerClosing] device it closes the device.
	CommandIdle
	// CommandUser is the first value available to applications.
	CommandUser Command = 256
)

func (c Command) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandIdle:
		return "idle"
	default:
		if c >= CommandUser {
			return "user+" + strconv.Itoa(int(c-CommandUser))
		}
		return "Command(" + strconv.Itoa(int(c)) + ")"
	}
}

// Event is delivered to a [Handler], on the goroutine of the worker that
// polled it.
//
// The device may be closed concurrently. Handlers should use
// [Event.Live] (or check for [InvalidHandle]) and ignore events for
// devices that are gone.
type Event struct {
	// Device is the device the event is for.
	Device *Device
	// DeviceID is the id the device had when the event was dispatched.
	DeviceID uint64
	// Events is the set of conditions.
	Events IOEvents
	// Command is set for timer events.
	Command Command
	// Context is the handler context given when the device or timer was
	// created.
	Context any
}

// Live reports whether the device is still the lease the event was
// dispatched for, and has not been closed.
func (ev Event) Live() bool {
	return Ref{d: ev.Device, id: ev.DeviceID}.Device() != nil
}

// Handler receives readiness and timer events.
type Handler interface {
	HandleEvent(ev Event)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ev Event)

// HandleEvent calls f(ev).
func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }
