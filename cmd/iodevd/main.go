// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

// Command iodevd runs a TCP echo service on an iodev core, optionally
// writing the device table to a file at an interval.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-iodev"
	"github.com/joeycumines/go-iodev/internal/echo"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/natefinch/atomic"
)

// shutdownTimeout bounds how long workers get to stop.
const shutdownTimeout = 10 * time.Second

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, sigCh))
}

func run(args []string, stdout, stderr io.Writer, sigCh <-chan os.Signal) int {
	opts, err := parseFlags(stderr, args)
	if errors.Is(err, errHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}
	cfg, err := LoadConfig(opts)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	level, _ := parseLevel(cfg.LogLevel)
	log := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	core, err := iodev.NewCore(
		iodev.WithLogger(log),
		iodev.WithLingerTimeout(time.Duration(cfg.LingerTimeout)),
		iodev.WithMaxDevices(cfg.MaxDevices),
		iodev.WithMaxPooled(cfg.MaxPooled),
	)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	code := serve(ctx, cfg, core, log, stdout, sigCh)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := core.Shutdown(shutdownCtx); err != nil {
		log.Err().Err(err).Log(`shutdown failed`)
		code = 1
	}
	return code
}

func serve(ctx context.Context, cfg Config, core *iodev.Core, log *logiface.Logger[logiface.Event], stdout io.Writer, sigCh <-chan os.Signal) int {
	for range cfg.Workers {
		if _, err := core.StartWorker(ctx); err != nil {
			log.Err().Err(err).Log(`failed to start worker`)
			return 1
		}
	}

	srv, err := echo.Listen(core, echo.Config{
		Address:     cfg.Listen,
		ReusePort:   cfg.ReusePort,
		Broadcast:   cfg.Broadcast,
		IdleTimeout: time.Duration(cfg.IdleTimeout),
	}, log)
	if err != nil {
		log.Err().Err(err).Log(`failed to listen`)
		return 1
	}
	fmt.Fprintf(stdout, "listening on %s\n", srv.Listener().LocalEndpoint())

	var tick <-chan time.Time
	if cfg.DumpFile != "" {
		t := time.NewTicker(time.Duration(cfg.DumpInterval))
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case sig := <-sigCh:
			log.Info().Str(`signal`, sig.String()).Log(`shutting down`)
			if cfg.DumpFile != "" {
				if err := writeDump(core, cfg.DumpFile); err != nil {
					log.Warning().Err(err).Log(`device table not written`)
				}
			}
			_ = srv.Close()
			st := srv.Stats()
			fmt.Fprintf(stdout, "accepted=%d finished=%d rejected=%d bytes=%d\n", st.Accepted, st.Finished, st.Rejected, st.Bytes)
			return 0
		case <-tick:
			if err := writeDump(core, cfg.DumpFile); err != nil {
				log.Warning().Err(err).Log(`device table not written`)
			}
		}
	}
}

// writeDump replaces path with the current device table.
func writeDump(core *iodev.Core, path string) error {
	var buf bytes.Buffer
	if err := core.Dump(&buf); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}
