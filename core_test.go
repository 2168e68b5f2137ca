// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package iodev

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCore_Shutdown(t *testing.T) {
	log, out := newBufferLogger()
	c, pollers := newTestCore(t, WithLogger(log), WithLingerTimeout(time.Hour))
	workers := startWorkers(t, c, 2)

	var handles []Handle
	for _, kind := range []Kind{KindListen, KindAccepted, KindConnected} {
		d, _ := newDeviceFromPair(t, c, kind, nil)
		handles = append(handles, d.Handle())
		require.NoError(t, d.Bind(BindAuto, nil))
	}
	lingering, _ := newDeviceFromPair(t, c, KindAccepted, nil)
	handles = append(handles, lingering.Handle())
	require.True(t, lingering.LingerClose())
	timer := lingering.Timer()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	assert.Equal(t, 0, c.Count())
	assert.Empty(t, c.Workers())
	assert.Equal(t, 0, c.PooledDevices())
	assert.False(t, timer.Active())
	for _, h := range handles {
		assert.False(t, handleOpen(h), "handle %d", h)
	}
	for i, w := range workers {
		assert.Equal(t, WorkerTerminated, w.State(), "worker %d", i)
		assert.True(t, pollers.get(i).closed, "poller %d", i)
	}
	assert.True(t, strings.Contains(out.String(), `core shut down`))

	_, err := c.NewDevice()
	assert.ErrorIs(t, err, ErrCoreClosed)
	_, err = c.StartWorker(context.Background())
	assert.ErrorIs(t, err, ErrCoreClosed)
	assert.ErrorIs(t, c.Shutdown(ctx), ErrCoreClosed)
}

func TestCore_StartWorker_factoryError(t *testing.T) {
	boom := errors.New("boom")
	c, err := NewCore(WithPollerFactory(func() (Poller, error) { return nil, boom }))
	require.NoError(t, err)
	defer c.Shutdown(context.Background())

	_, err = c.StartWorker(context.Background())
	require.ErrorIs(t, err, boom)
	require.Empty(t, c.Workers())
}

func TestCore_Workers(t *testing.T) {
	c, _ := newTestCore(t)
	workers := startWorkers(t, c, 3)
	for i, w := range workers {
		assert.Equal(t, i, w.ID())
	}
	assert.Equal(t, workers, c.Workers())

	require.NoError(t, workers[1].Shutdown(context.Background()))
	assert.Equal(t, []*Worker{workers[0], workers[2]}, c.Workers())

	// ids are never reused
	w := startWorkers(t, c, 1)[0]
	assert.Equal(t, 3, w.ID())
	assert.Equal(t, -1, (*Worker)(nil).ID())
}
