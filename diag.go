// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package iodev

import (
	"bufio"
	"fmt"
	"io"
)

// Dump writes one line per live device, ordered by id: id, handle, kind
// label, local endpoint, and remote endpoint. It is for operational
// inspection only; devices may be closed while it runs.
func (c *Core) Dump(w io.Writer) error {
	if c == nil {
		return ErrNilCore
	}
	bw := bufio.NewWriter(w)
	for _, info := range c.Snapshot() {
		if _, err := fmt.Fprintln(bw, FormatInfo(info)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FormatInfo renders a device the way [Core.Dump] does.
func FormatInfo(info DeviceInfo) string {
	return fmt.Sprintf("%5d %5d %s %s %s",
		info.ID,
		info.Handle,
		info.Kind,
		info.Local,
		info.Remote,
	)
}
