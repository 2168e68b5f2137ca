// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin

package iodev

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is a kqueue instance, woken via a non-blocking self-pipe.
type kqueuePoller struct {
	kq       int
	wakeR    int
	wakeW    int
	eventBuf [maxWaitEvents]unix.Kevent_t
	fds      map[Handle]Interest
	fdMu     sync.Mutex
	closed   atomic.Bool

	// wakeMu orders Wake against Close, so the wake handle is never
	// written after it is released.
	wakeMu sync.RWMutex
}

// NewPoller creates the platform poller (kqueue).
func NewPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		_ = unix.Close(kq)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			cleanup()
			return nil, err
		}
	}

	changes := []unix.Kevent_t{{
		Ident:  uint64(fds[0]),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		cleanup()
		return nil, err
	}

	return &kqueuePoller{
		kq:    kq,
		wakeR: fds[0],
		wakeW: fds[1],
		fds:   make(map[Handle]Interest),
	}, nil
}

func (p *kqueuePoller) Add(h Handle, interest Interest) error {
	if !h.Valid() {
		return ErrInvalidHandle
	}

	// lock held across Kevent, to order against a concurrent Delete
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if _, ok := p.fds[h]; ok {
		return ErrHandleRegistered
	}
	if kevents := interestToKevents(h, interest, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			return err
		}
	}
	p.fds[h] = interest
	return nil
}

func (p *kqueuePoller) Modify(h Handle, interest Interest) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}
	old, ok := p.fds[h]
	if !ok {
		return ErrHandleNotRegistered
	}
	if removed := old &^ interest; removed != 0 {
		_, _ = unix.Kevent(p.kq, interestToKevents(h, removed, unix.EV_DELETE), nil, nil)
	}
	if added := interest &^ old; added != 0 {
		if _, err := unix.Kevent(p.kq, interestToKevents(h, added, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
			return err
		}
	}
	p.fds[h] = interest
	return nil
}

func (p *kqueuePoller) Delete(h Handle) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}
	old, ok := p.fds[h]
	if !ok {
		return ErrHandleNotRegistered
	}
	delete(p.fds, h)
	if kevents := interestToKevents(h, old, unix.EV_DELETE); len(kevents) > 0 {
		_, _ = unix.Kevent(p.kq, kevents, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) Wait(timeout time.Duration, fn func(h Handle, events IOEvents)) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	var ts *unix.Timespec
	if ms := timeoutMillis(timeout); ms >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(ms / 1000),
			Nsec: int64((ms % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}

	var count int
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd == p.wakeR {
			p.drainWake()
			continue
		}
		count++
		fn(Handle(fd), keventToEvents(&p.eventBuf[i]))
	}
	return count, nil
}

func (p *kqueuePoller) Wake() error {
	p.wakeMu.RLock()
	defer p.wakeMu.RUnlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if _, err := unix.Write(p.wakeW, []byte{1}); err != nil && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	return nil
}

func (p *kqueuePoller) drainWake() {
	var buf [64]byte
	for {
		if n, err := unix.Read(p.wakeR, buf[:]); err != nil || n <= 0 {
			return
		}
	}
}

func (p *kqueuePoller) Close() error {
	p.wakeMu.Lock()
	defer p.wakeMu.Unlock()
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	return errors.Join(unix.Close(p.wakeR), unix.Close(p.wakeW), unix.Close(p.kq))
}

func interestToKevents(h Handle, interest Interest, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if interest&InterestRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(h),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if interest&InterestWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(h),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
