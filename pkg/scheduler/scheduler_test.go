// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestSignalBatching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New()
	sig := NewSignal()

	var runs atomic.Int64
	block := make(chan struct{})
	s.AddTask("manager", func() {
		runs.Add(1)
		<-block
	}, sig)
	s.Run(ctx)

	// Many releases before the handler is scheduled collapse into one run.
	for i := 0; i < 10; i++ {
		sig.Release()
	}
	waitFor(t, func() bool { return runs.Load() == 1 })
	close(block)

	time.Sleep(20 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("handler ran %d times for one release batch, want 1", got)
	}
}

func TestReleaseBeforeAddTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New()
	sig := NewSignal()
	sig.Release()

	var runs atomic.Int64
	s.AddTask("manager", func() { runs.Add(1) }, sig)
	s.Run(ctx)

	waitFor(t, func() bool { return runs.Load() == 1 })
}

func TestReleaseAfterHandlerRunsAgain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New()
	sig := NewSignal()

	var runs atomic.Int64
	s.AddTask("manager", func() { runs.Add(1) }, sig)
	s.Run(ctx)

	sig.Release()
	waitFor(t, func() bool { return runs.Load() == 1 })
	sig.Release()
	waitFor(t, func() bool { return runs.Load() == 2 })
}

func TestHandlersNeverConcurrent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New()
	var inFlight atomic.Int64
	var violations atomic.Int64
	var total atomic.Int64

	handler := func() {
		if inFlight.Add(1) != 1 {
			violations.Add(1)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		total.Add(1)
	}

	sigs := make([]*Signal, 4)
	for i := range sigs {
		sigs[i] = NewSignal()
		s.AddTask("t", handler, sigs[i])
	}
	s.Run(ctx)

	for i := 0; i < 20; i++ {
		for _, sig := range sigs {
			sig.Release()
		}
		time.Sleep(time.Millisecond)
	}

	waitFor(t, func() bool { return total.Load() >= 8 })
	if violations.Load() != 0 {
		t.Errorf("%d concurrent handler executions observed", violations.Load())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New()
	sig := NewSignal()
	s.AddTask("noop", func() {}, sig)
	s.Run(ctx)
	cancel()
	s.Wait()
}
