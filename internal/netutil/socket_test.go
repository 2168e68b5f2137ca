// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package netutil

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListenAccept(t *testing.T) {
	lfd, err := Listen("tcp", "127.0.0.1:0", true)
	require.NoError(t, err)
	defer Close(lfd)

	port, err := Port(lfd)
	require.NoError(t, err)
	require.NotZero(t, port)

	_, err = Accept(lfd)
	require.True(t, WouldBlock(err), "err = %v", err)

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer client.Close()

	var fd int
	require.Eventually(t, func() bool {
		fd, err = Accept(lfd)
		return err == nil
	}, 2*time.Second, time.Millisecond)
	defer Close(fd)

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
	require.NoError(t, SetNoDelay(fd, true))

	buf := make([]byte, 8)
	_, err = Read(fd, buf)
	assert.True(t, WouldBlock(err))

	_, err = client.Write([]byte("hi"))
	require.NoError(t, err)
	var n int
	require.Eventually(t, func() bool {
		n, err = Read(fd, buf)
		return err == nil
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "hi", string(buf[:n]))

	n, err = Write(fd, []byte("ok"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestListen_errors(t *testing.T) {
	_, err := Listen("tcp", "not an address", false)
	assert.Error(t, err)

	lfd, err := Listen("tcp4", "127.0.0.1:0", false)
	require.NoError(t, err)
	defer Close(lfd)
	port, err := Port(lfd)
	require.NoError(t, err)

	// without SO_REUSEPORT on both, the port is taken
	_, err = Listen("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), false)
	assert.Error(t, err)
}
