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

// Handle is an OS-level I/O handle (a file descriptor on unix).
type Handle int

// InvalidHandle is the sentinel "no handle" value.
const InvalidHandle Handle = -1

// Valid reports whether h is not the sentinel.
func (h Handle) Valid() bool { return h >= 0 }

// Kind classifies the OS handle a [Device] wraps. It decides how the device
// is shut down, see [Device.Close] and [Device.LingerClose].
type Kind uint8

const (
	// KindUnknown is the zero value, used by devices that have not been
	// populated yet.
	KindUnknown Kind = iota
	// KindListen is a listening TCP socket.
	KindListen
	// KindConnected is an outbound (dialled) TCP connection.
	KindConnected
	// KindAccepted is an inbound TCP connection, returned by accept.
	KindAccepted
	// KindUDPServer is a bound UDP socket.
	KindUDPServer
	// KindUDPClient is a connected UDP socket.
	KindUDPClient
	// KindRawSocket is a raw socket.
	KindRawSocket
	// KindTimer is a timer handle (e.g. timerfd).
	KindTimer
	// KindUserCommand is an application command channel (e.g. eventfd).
	KindUserCommand
	// KindLingerClosing is an accepted connection that is draining, after
	// [Device.LingerClose].
	KindLingerClosing
	// KindStdin is the process standard input.
	KindStdin
	// KindStdout is the process standard output.
	KindStdout
	// KindUnixListen is a listening unix domain stream socket.
	KindUnixListen
	// KindUnixConnected is an outbound unix domain stream connection.
	KindUnixConnected
	// KindUnixAccepted is an inbound unix domain stream connection.
	KindUnixAccepted
)

// String returns the label used by the registry dump.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindListen:
		return "TCP LISTEN"
	case KindConnected:
		return "TCP CONNECTED"
	case KindAccepted:
		return "TCP ACCEPTED"
	case KindUDPServer:
		return "UDP LISTEN"
	case KindUDPClient:
		return "UDP CLIENT"
	case KindRawSocket:
		return "RAW SOCKET"
	case KindTimer:
		return "TIMER"
	case KindUserCommand:
		return "USER CMD"
	case KindLingerClosing:
		return "TCP LINGER"
	case KindStdin:
		return "STDIN"
	case KindStdout:
		return "STDOUT"
	case KindUnixListen:
		return "USOCK LISTEN"
	case KindUnixConnected:
		return "USOCK CONNECTED"
	case KindUnixAccepted:
		return "USOCK ACCEPTED"
	default:
		return "Unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// closeMode is what Close does with the OS handle of a given kind.
type closeMode uint8

const (
	// closeRelease just releases the handle.
	closeRelease closeMode = iota
	// closeAbortive sets linger off (reset on close), shuts down both
	// directions, then releases the handle.
	closeAbortive
	// closeDetach leaves the handle open, it is owned by the process.
	closeDetach
)

func (k Kind) closeMode() closeMode {
	switch k {
	case KindConnected, KindAccepted, KindUnixConnected, KindUnixAccepted, KindLingerClosing:
		return closeAbortive
	case KindStdin, KindStdout:
		return closeDetach
	case KindUnknown, KindListen, KindUDPServer, KindUDPClient, KindRawSocket,
		KindTimer, KindUserCommand, KindUnixListen:
		return closeRelease
	default:
		return closeRelease
	}
}

// lingers reports whether LingerClose drains this kind, rather than closing
// it immediately.
func (k Kind) lingers() bool {
	switch k {
	case KindAccepted, KindUnixAccepted, KindLingerClosing:
		return true
	case KindUnknown, KindListen, KindConnected, KindUDPServer, KindUDPClient,
		KindRawSocket, KindTimer, KindUserCommand, KindStdin, KindStdout,
		KindUnixListen, KindUnixConnected:
		return false
	default:
		return false
	}
}

// Interest is the set of readiness conditions a device wants notifications
// for.
type Interest uint8

const (
	// InterestRead requests readable notifications.
	InterestRead Interest = 1 << iota
	// InterestWrite requests writable notifications.
	InterestWrite
)

// interestMask covers every defined interest bit.
const interestMask = InterestRead | InterestWrite

// Has reports whether every bit in flags is set.
func (i Interest) Has(flags Interest) bool { return i&flags == flags }

// String renders the interest as e.g. "read|write", or "none".
func (i Interest) String() string {
	if i&interestMask == 0 {
		return "none"
	}
	var parts []string
	if i&InterestRead != 0 {
		parts = append(parts, "read")
	}
	if i&InterestWrite != 0 {
		parts = append(parts, "write")
	}
	return strings.Join(parts, "|")
}

// IOState is the coarse usability flag of a device.
type IOState uint8

const (
	// IOStateNone means the device is not usable (not populated, or closed).
	IOStateNone IOState = iota
	// IOStateReadWrite means the device may be read from and written to.
	IOStateReadWrite
)

// BindKind decides which worker(s) own a device's poll registration.
type BindKind uint8

const (
	// BindNone is the unbound state. Passed to [Device.Bind] it means
	// "unspecified": explicit if a worker was given, an error otherwise.
	BindNone BindKind = iota
	// BindAuto lets the core pick a worker with its [WorkerSelector].
	BindAuto
	// BindExplicit uses the worker given by the caller.
	BindExplicit
	// BindBroadcast registers the device with every worker, including
	// workers started later.
	BindBroadcast
)

// String returns a short label.
func (b BindKind) String() string {
	switch b {
	case BindNone:
		return "none"
	case BindAuto:
		return "auto"
	case BindExplicit:
		return "explicit"
	case BindBroadcast:
		return "broadcast"
	default:
		return "BindKind(" + strconv.Itoa(int(b)) + ")"
	}
}
