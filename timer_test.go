// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package iodev

import (
	"container/heap"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCore_StartTimer(t *testing.T) {
	c, _ := newTestCore(t)
	startWorkers(t, c, 1)

	fired := make(chan Event, 2)
	timer := c.StartTimer(nil, 10*time.Millisecond, CommandUser, nil, HandlerFunc(func(ev Event) {
		fired <- ev
	}), "tctx")
	require.True(t, timer.Active())
	require.Equal(t, CommandUser, timer.Command())

	select {
	case ev := <-fired:
		assert.Nil(t, ev.Device)
		assert.Equal(t, uint64(0), ev.DeviceID)
		assert.Equal(t, EventTimeout, ev.Events)
		assert.Equal(t, CommandUser, ev.Command)
		assert.Equal(t, "tctx", ev.Context)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Active())
	assert.False(t, timer.Stop())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, fired)
}

func TestTimer_Stop(t *testing.T) {
	for _, workers := range []int{0, 1} {
		c, _ := newTestCore(t)
		startWorkers(t, c, workers)

		timer := c.StartTimer(nil, 20*time.Millisecond, CommandUser, nil, HandlerFunc(func(Event) {
			t.Error("stopped timer fired")
		}), nil)
		require.True(t, timer.Stop())
		require.False(t, timer.Stop())
		require.False(t, timer.Active())
		time.Sleep(50 * time.Millisecond)
	}

	var nilTimer *Timer
	assert.False(t, nilTimer.Stop())
	assert.False(t, nilTimer.Active())
	assert.Equal(t, CommandNone, nilTimer.Command())
}

func TestTimer_order(t *testing.T) {
	c, _ := newTestCore(t)
	w := startWorkers(t, c, 1)[0]

	var (
		mu    sync.Mutex
		order []Command
		wg    sync.WaitGroup
	)
	record := HandlerFunc(func(ev Event) {
		mu.Lock()
		order = append(order, ev.Command)
		mu.Unlock()
		wg.Done()
	})
	delays := []time.Duration{60, 20, 40, 0, 80}
	wg.Add(len(delays))
	for i, delay := range delays {
		c.StartTimer(w, delay*time.Millisecond, CommandUser+Command(i), nil, record, nil)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Command{CommandUser + 3, CommandUser + 1, CommandUser + 2, CommandUser, CommandUser + 4}, order)
}

func TestTimer_standaloneFallback(t *testing.T) {
	log, out := newBufferLogger()
	c, _ := newTestCore(t, WithLogger(log))

	fired := make(chan Event, 1)
	c.StartTimer(nil, time.Millisecond, CommandUser, nil, HandlerFunc(func(ev Event) {
		fired <- ev
	}), nil)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("standalone timer did not fire")
	}
	assert.True(t, strings.Contains(out.String(), `no running worker`))
}

func TestDevice_StartTimer(t *testing.T) {
	c, _ := newTestCore(t)
	w := startWorkers(t, c, 1)[0]

	events := make(chan Event, 4)
	d, _ := newDeviceFromPair(t, c, KindConnected, HandlerFunc(func(ev Event) { events <- ev }))
	d.SetHandler(HandlerFunc(func(ev Event) { events <- ev }), "device hctx")
	require.NoError(t, d.Bind(BindExplicit, w))

	first, err := d.StartTimer(time.Hour, CommandUser, nil, nil)
	require.NoError(t, err)
	second, err := d.StartTimer(10*time.Millisecond, CommandUser+1, nil, nil)
	require.NoError(t, err)
	assert.False(t, first.Active())
	assert.Same(t, second, d.Timer())

	select {
	case ev := <-events:
		assert.Same(t, d, ev.Device)
		assert.Equal(t, d.ID(), ev.DeviceID)
		assert.Equal(t, CommandUser+1, ev.Command)
		assert.Equal(t, EventTimeout, ev.Events)
		assert.Equal(t, "device hctx", ev.Context)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	// not an idle timer on a lingering device, so nothing is closed
	assert.Same(t, d, c.Find(d.ID()))

	orphan := newDeviceObject()
	_, err = orphan.StartTimer(0, CommandUser, nil, nil)
	assert.ErrorIs(t, err, ErrCoreUnavailable)
}

func TestTimer_closedDevice(t *testing.T) {
	c, _ := newTestCore(t)
	startWorkers(t, c, 1)
	d, _ := newDeviceFromPair(t, c, KindAccepted, nil)

	fired := make(chan Event, 1)
	c.StartTimer(nil, 20*time.Millisecond, CommandIdle, d, HandlerFunc(func(ev Event) {
		fired <- ev
	}), nil)
	require.True(t, d.Close())

	select {
	case ev := <-fired:
		assert.False(t, ev.Live())
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

// TestTimer_staleIdle checks an idle timer that was replaced does not close
// the lingering device it was started for.
func TestTimer_staleIdle(t *testing.T) {
	c, _ := newTestCore(t, WithLingerTimeout(time.Hour))
	startWorkers(t, c, 1)
	d, _ := newDeviceFromPair(t, c, KindAccepted, nil)
	require.True(t, d.LingerClose())

	stale := c.newTimer(CommandIdle, d, nil, nil)
	stale.fire()
	assert.Same(t, d, c.Find(d.ID()))
	assert.False(t, stale.Active())
}

func TestTimerHeap(t *testing.T) {
	var h timerHeap
	now := time.Now()
	timers := make([]*Timer, 5)
	for i, offset := range []int{3, 1, 4, 0, 2} {
		timers[i] = &Timer{when: now.Add(time.Duration(offset) * time.Second), index: -1}
		heap.Push(&h, timers[i])
	}
	for i, tm := range h {
		require.Equal(t, i, tm.index)
	}
	var prev time.Time
	for h.Len() > 0 {
		tm := heap.Pop(&h).(*Timer)
		require.False(t, tm.when.Before(prev))
		require.Equal(t, -1, tm.index)
		prev = tm.when
	}
}

// heapLen returns the number of timers in the heap of w, read on the
// worker goroutine.
func heapLen(t *testing.T, w *Worker) int {
	t.Helper()
	ch := make(chan int, 1)
	require.NoError(t, w.Submit(func() { ch <- len(w.timers) }))
	select {
	case n := <-ch:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not run the task")
		return 0
	}
}

func TestTimer_restartKeepsHeapBounded(t *testing.T) {
	c, _ := newTestCore(t)
	w := startWorkers(t, c, 1)[0]
	d, _ := newDeviceFromPair(t, c, KindAccepted, nil)
	require.NoError(t, d.Bind(BindExplicit, w))

	for i := range 500 {
		_, err := d.StartTimer(time.Hour, CommandUser, nil, nil)
		require.NoError(t, err)
		require.Equal(t, 1, heapLen(t, w), "restart %d", i)
	}

	require.True(t, d.Timer().Stop())
	assert.Equal(t, 0, heapLen(t, w))

	// stopped before the worker got to it
	tm := c.StartTimer(w, time.Hour, CommandUser, nil, nil, nil)
	require.True(t, tm.Stop())
	assert.Equal(t, 0, heapLen(t, w))
}

func TestTimer_stopKeepsOthers(t *testing.T) {
	c, _ := newTestCore(t)
	w := startWorkers(t, c, 1)[0]

	fired := make(chan int, 3)
	timers := make([]*Timer, 3)
	for i := range timers {
		timers[i] = c.StartTimer(w, time.Duration(i+1)*100*time.Millisecond, CommandUser, nil, HandlerFunc(func(Event) {
			fired <- i
		}), nil)
	}
	require.Equal(t, 3, heapLen(t, w))
	require.True(t, timers[1].Stop())
	require.Equal(t, 2, heapLen(t, w))

	for _, want := range []int{0, 2} {
		select {
		case got := <-fired:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("timer did not fire")
		}
	}
	assert.Equal(t, 0, heapLen(t, w))
}
