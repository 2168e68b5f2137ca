// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

// Package netutil opens raw non-blocking sockets, for use as device handles.
package netutil

import (
	"errors"
	"net"
	"strings"

	"golang.org/x/sys/unix"
)

// ListenBacklog is the accept queue length requested by Listen.
const ListenBacklog = 1024

// Listen opens a non-blocking TCP listening socket. Network is one of tcp,
// tcp4, or tcp6; only tcp6 selects IPv6.
func Listen(network, address string, reusePort bool) (int, error) {
	fam := unix.AF_INET
	resolve := "tcp4"
	if strings.HasSuffix(network, "6") {
		fam, resolve = unix.AF_INET6, "tcp6"
	}
	addr, err := net.ResolveTCPAddr(resolve, address)
	if err != nil {
		return -1, err
	}

	var sa unix.Sockaddr
	if fam == unix.AF_INET6 {
		var sa6 unix.SockaddrInet6
		if addr.IP != nil {
			copy(sa6.Addr[:], addr.IP.To16())
		}
		sa6.Port = addr.Port
		sa = &sa6
	} else {
		var sa4 unix.SockaddrInet4
		if addr.IP != nil {
			ip4 := addr.IP.To4()
			if ip4 == nil {
				return -1, &net.AddrError{Err: "not an IPv4 address", Addr: address}
			}
			copy(sa4.Addr[:], ip4)
		}
		sa4.Port = addr.Port
		sa = &sa4
	}

	fd, err := unix.Socket(fam, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err := SetReuseAddr(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if reusePort {
		if err := SetReusePort(fd, true); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, ListenBacklog); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Port returns the local port a socket is bound to.
func Port(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return sa.Port, nil
	case *unix.SockaddrInet6:
		return sa.Port, nil
	default:
		return 0, errors.New("netutil: not an inet socket")
	}
}

func SetReusePort(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolInt(enable))
}

func SetReuseAddr(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolInt(enable))
}

func SetNoDelay(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(enable))
}

// WouldBlock reports whether err means the operation should be retried once
// the socket is ready.
func WouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// Close closes a raw socket.
func Close(fd int) error { return unix.Close(fd) }

// Read reads from a raw socket. It never returns a negative count.
func Read(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write writes to a raw socket. It never returns a negative count.
func Write(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
