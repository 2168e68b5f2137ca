// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package iodev

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is a level-triggered epoll instance, woken via an eventfd.
type epollPoller struct {
	epfd     int
	wakeFd   int
	eventBuf [maxWaitEvents]unix.EpollEvent
	fds      map[Handle]Interest
	fdMu     sync.Mutex
	closed   atomic.Bool

	// wakeMu orders Wake against Close, so the wake handle is never
	// written after it is released.
	wakeMu sync.RWMutex
}

// NewPoller creates the platform poller (epoll).
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{
		epfd:   epfd,
		wakeFd: wakeFd,
		fds:    make(map[Handle]Interest),
	}, nil
}

func (p *epollPoller) Add(h Handle, interest Interest) error {
	if !h.Valid() {
		return ErrInvalidHandle
	}

	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if _, ok := p.fds[h]; ok {
		return ErrHandleRegistered
	}
	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(h)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, int(h), &ev); err != nil {
		return err
	}
	p.fds[h] = interest
	return nil
}

func (p *epollPoller) Modify(h Handle, interest Interest) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if _, ok := p.fds[h]; !ok {
		return ErrHandleNotRegistered
	}
	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(h)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, int(h), &ev); err != nil {
		return err
	}
	p.fds[h] = interest
	return nil
}

func (p *epollPoller) Delete(h Handle) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if _, ok := p.fds[h]; !ok {
		return ErrHandleNotRegistered
	}
	delete(p.fds, h)
	// the kernel drops closed descriptors by itself
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, int(h), nil); err != nil &&
		!errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return err
	}
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration, fn func(h Handle, events IOEvents)) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}

	var count int
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd == p.wakeFd {
			p.drainWake()
			continue
		}
		count++
		fn(Handle(fd), epollToEvents(p.eventBuf[i].Events))
	}
	return count, nil
}

func (p *epollPoller) Wake() error {
	p.wakeMu.RLock()
	defer p.wakeMu.RUnlock()
	if p.closed.Load() {
		return ErrPollerClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wakeFd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return err
	}
	return nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) Close() error {
	p.wakeMu.Lock()
	defer p.wakeMu.Unlock()
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	return errors.Join(unix.Close(p.wakeFd), unix.Close(p.epfd))
}

func interestToEpoll(interest Interest) uint32 {
	var events uint32
	if interest&InterestRead != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&InterestWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= EventHangup
	}
	return events
}
