// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package iodev

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

func closeHandle(h Handle) error {
	return unix.Close(int(h))
}

func shutdownWrite(h Handle) error {
	return unix.Shutdown(int(h), unix.SHUT_WR)
}

// abortiveClose resets the connection instead of the orderly FIN sequence.
func abortiveClose(h Handle) error {
	fd := int(h)
	err1 := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
	err2 := unix.Shutdown(fd, unix.SHUT_RDWR)
	if errors.Is(err2, unix.ENOTCONN) {
		err2 = nil
	}
	return errors.Join(err1, err2, unix.Close(fd))
}

func readHandle(h Handle, buf []byte) (int, error) {
	n, err := unix.Read(int(h), buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

func isTemporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// FillEndpoints populates the local and remote endpoints from the socket
// addresses of the handle. The remote endpoint is left unchanged for
// unconnected sockets.
func (d *Device) FillEndpoints() error {
	h := d.Handle()
	if !h.Valid() {
		return ErrInvalidHandle
	}
	sa, err := unix.Getsockname(int(h))
	if err != nil {
		return err
	}
	if ip, port, ok := sockaddrEndpoint(sa); ok {
		d.SetLocalEndpoint(ip, port)
	}
	if sa, err := unix.Getpeername(int(h)); err == nil {
		if ip, port, ok := sockaddrEndpoint(sa); ok {
			d.SetRemoteEndpoint(ip, port)
		}
	}
	return nil
}

func sockaddrEndpoint(sa unix.Sockaddr) (string, int, bool) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(sa.Addr[:]).String(), sa.Port, true
	case *unix.SockaddrInet6:
		return net.IP(sa.Addr[:]).String(), sa.Port, true
	case *unix.SockaddrUnix:
		return sa.Name, 0, true
	default:
		return "", 0, false
	}
}
