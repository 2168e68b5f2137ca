// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

// Package echo is a TCP echo service built on iodev devices.
//
// The listening socket is a [iodev.KindListen] device, bound to one worker
// or broadcast to all of them. Each accepted connection becomes a
// [iodev.KindAccepted] device, bound automatically. Output that cannot be
// written immediately is buffered, and reading pauses while the buffer is
// full. Connections finish with [iodev.Device.LingerClose].
package echo

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-iodev"
	"github.com/joeycumines/go-iodev/internal/netutil"
	"github.com/joeycumines/logiface"
)

// CommandIdle is the timer command used for the connection idle timeout.
const CommandIdle = iodev.CommandUser + 1

const (
	// DefaultMaxPending is the default per connection output buffer limit.
	DefaultMaxPending = 64 * 1024

	readSize = 4096
)

// Config configures a Server.
type Config struct {
	// Address is the TCP address to listen on, e.g. 127.0.0.1:7000.
	Address string
	// ReusePort sets SO_REUSEPORT on the listening socket.
	ReusePort bool
	// Broadcast binds the listener to every worker, instead of one.
	Broadcast bool
	// IdleTimeout closes connections that have been silent this long. Zero
	// disables it.
	IdleTimeout time.Duration
	// MaxPending is the number of unsent bytes at which reading pauses.
	// Defaults to DefaultMaxPending.
	MaxPending int
}

// Stats are running totals.
type Stats struct {
	Accepted uint64
	Finished uint64
	Rejected uint64
	Bytes    uint64
}

// Server accepts and echoes connections.
type Server struct {
	core     *iodev.Core
	log      *logiface.Logger[logiface.Event]
	cfg      Config
	listener *iodev.Device
	port     int

	accepted atomic.Uint64
	finished atomic.Uint64
	rejected atomic.Uint64
	bytes    atomic.Uint64
}

// Listen opens the listening socket and registers it with core. Workers may
// be started before or after.
func Listen(core *iodev.Core, cfg Config, log *logiface.Logger[logiface.Event]) (*Server, error) {
	if core == nil {
		return nil, iodev.ErrNilCore
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}

	lfd, err := netutil.Listen("tcp", cfg.Address, cfg.ReusePort)
	if err != nil {
		return nil, fmt.Errorf("echo: listen %s: %w", cfg.Address, err)
	}
	port, err := netutil.Port(lfd)
	if err != nil {
		_ = netutil.Close(lfd)
		return nil, err
	}

	s := &Server{
		core: core,
		log:  log,
		cfg:  cfg,
		port: port,
	}

	d, err := core.CreateFromHandle(iodev.Handle(lfd), iodev.KindListen, s, iodev.HandlerFunc(s.accept), nil)
	if err != nil {
		_ = netutil.Close(lfd)
		return nil, err
	}
	if err := d.FillEndpoints(); err != nil {
		d.Close()
		return nil, err
	}

	mode := iodev.BindAuto
	if cfg.Broadcast {
		mode = iodev.BindBroadcast
	}
	if err := d.Bind(mode, nil); err != nil {
		d.Close()
		return nil, fmt.Errorf("echo: bind listener: %w", err)
	}
	s.listener = d

	log.Info().
		Str(`address`, d.LocalEndpoint().String()).
		Str(`bind`, mode.String()).
		Log(`echo listening`)
	return s, nil
}

// Port returns the bound port.
func (s *Server) Port() int { return s.port }

// Listener returns the listening device.
func (s *Server) Listener() *iodev.Device { return s.listener }

// Stats returns the running totals.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Finished: s.finished.Load(),
		Rejected: s.rejected.Load(),
		Bytes:    s.bytes.Load(),
	}
}

// Close stops accepting. Open connections are left to finish.
func (s *Server) Close() error {
	if !s.listener.Close() {
		return errors.New("echo: already closed")
	}
	return nil
}

func (s *Server) accept(ev iodev.Event) {
	if !ev.Live() || ev.Events&iodev.EventRead == 0 {
		return
	}
	lfd := int(ev.Device.Handle())
	for {
		fd, err := netutil.Accept(lfd)
		if err != nil {
			if !netutil.WouldBlock(err) {
				s.log.Warning().Err(err).Log(`accept failed`)
			}
			return
		}
		s.open(fd)
	}
}

func (s *Server) open(fd int) {
	c := &conn{s: s}
	d, err := s.core.CreateFromHandle(iodev.Handle(fd), iodev.KindAccepted, nil, iodev.HandlerFunc(c.handle), c)
	if err != nil {
		_ = netutil.Close(fd)
		s.rejected.Add(1)
		s.log.Warning().Err(err).Log(`connection rejected`)
		return
	}
	_ = netutil.SetNoDelay(fd, true)
	if err := d.FillEndpoints(); err != nil {
		s.log.Debug().Uint64(`device`, d.ID()).Err(err).Log(`no endpoints`)
	}
	if err := d.Bind(iodev.BindAuto, nil); err != nil {
		d.Close()
		s.rejected.Add(1)
		s.log.Warning().Err(err).Log(`connection rejected`)
		return
	}
	s.accepted.Add(1)
	s.log.Debug().
		Uint64(`device`, d.ID()).
		Int(`worker`, d.Worker().ID()).
		Str(`remote`, d.RemoteEndpoint().String()).
		Log(`connection accepted`)

	c.mu.Lock()
	c.touch(d)
	c.mu.Unlock()
}

// conn is the state of one connection. Events are normally delivered by
// the owning worker, but timers may fall back to another goroutine.
type conn struct {
	s *Server

	mu     sync.Mutex
	buf    [readSize]byte
	out    []byte
	paused bool
	eof    bool
	done   bool
}

func (c *conn) handle(ev iodev.Event) {
	if !ev.Live() {
		return
	}
	d := ev.Device

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}

	if ev.Events&iodev.EventTimeout != 0 {
		if ev.Command == CommandIdle {
			c.s.log.Debug().Uint64(`device`, ev.DeviceID).Log(`connection idle`)
			c.finish(d)
		}
		return
	}
	if ev.Events&iodev.EventWrite != 0 {
		c.flush(d)
	}
	if !c.done && !c.paused && ev.Events&(iodev.EventRead|iodev.EventHangup|iodev.EventError) != 0 {
		c.read(d)
	}
}

func (c *conn) read(d *iodev.Device) {
	fd := int(d.Handle())
	var got bool
	for !c.done && !c.paused {
		n, err := netutil.Read(fd, c.buf[:])
		if err != nil {
			if !netutil.WouldBlock(err) {
				c.drop(d, err)
			}
			break
		}
		if n == 0 {
			c.eof = true
			if len(c.out) == 0 {
				c.finish(d)
			} else {
				c.pause(d)
			}
			return
		}
		got = true
		c.s.bytes.Add(uint64(n))
		c.send(d, c.buf[:n])
		if len(c.out) >= c.s.cfg.MaxPending {
			c.pause(d)
		}
	}
	if got && !c.done {
		c.touch(d)
	}
}

// send writes p, buffering whatever the socket does not take.
func (c *conn) send(d *iodev.Device, p []byte) {
	if len(c.out) == 0 {
		n, err := netutil.Write(int(d.Handle()), p)
		if err != nil && !netutil.WouldBlock(err) {
			c.drop(d, err)
			return
		}
		p = p[n:]
		if len(p) == 0 {
			return
		}
		if err := d.AddInterest(iodev.InterestWrite); err != nil {
			c.drop(d, err)
			return
		}
	}
	c.out = append(c.out, p...)
}

func (c *conn) flush(d *iodev.Device) {
	for len(c.out) > 0 {
		n, err := netutil.Write(int(d.Handle()), c.out)
		if err != nil {
			if !netutil.WouldBlock(err) {
				c.drop(d, err)
			}
			return
		}
		c.out = c.out[n:]
	}
	c.out = nil
	if err := d.RemoveInterest(iodev.InterestWrite); err != nil {
		c.drop(d, err)
		return
	}
	if c.eof {
		c.finish(d)
		return
	}
	if c.paused {
		c.paused = false
		if err := d.AddInterest(iodev.InterestRead); err != nil {
			c.drop(d, err)
		}
	}
}

func (c *conn) pause(d *iodev.Device) {
	if c.paused {
		return
	}
	c.paused = true
	if err := d.RemoveInterest(iodev.InterestRead); err != nil {
		c.drop(d, err)
	}
}

// touch restarts the idle timer.
func (c *conn) touch(d *iodev.Device) {
	if c.s.cfg.IdleTimeout <= 0 || c.done {
		return
	}
	if _, err := d.StartTimer(c.s.cfg.IdleTimeout, CommandIdle, nil, nil); err != nil {
		c.s.log.Debug().Uint64(`device`, d.ID()).Err(err).Log(`idle timer not started`)
	}
}

// finish half-closes the connection, and lets the core drain it.
func (c *conn) finish(d *iodev.Device) {
	c.done = true
	c.s.finished.Add(1)
	d.LingerClose()
}

// drop closes the connection immediately.
func (c *conn) drop(d *iodev.Device, err error) {
	if c.done {
		return
	}
	c.done = true
	c.s.finished.Add(1)
	c.s.log.Debug().Uint64(`device`, d.ID()).Err(err).Log(`connection dropped`)
	d.Close()
}
