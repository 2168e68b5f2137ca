// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !unix

package iodev

func closeHandle(Handle) error { return ErrPlatformNotSupported }

func shutdownWrite(Handle) error { return ErrPlatformNotSupported }

func abortiveClose(Handle) error { return ErrPlatformNotSupported }

func readHandle(Handle, []byte) (int, error) { return 0, ErrPlatformNotSupported }

func isTemporary(error) bool { return false }

// FillEndpoints is not supported on this platform.
func (d *Device) FillEndpoints() error { return ErrPlatformNotSupported }
