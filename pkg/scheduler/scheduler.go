// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

// Package scheduler provides the cooperative task substrate the station
// core runs on: a binary completion Signal that the timing engine can
// release from its real-time context, and a Scheduler that runs the
// registered handler at most once per release batch, outside that
// context, on a single dispatch goroutine.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
)

// Signal is a binary completion latch. Release may be called any number
// of times, from any context, before the owning task is scheduled; the
// task's handler then runs exactly once for the whole batch.
type Signal struct {
	set  atomic.Bool
	wake chan<- struct{} // shared scheduler wakeup, set on registration
}

// NewSignal creates an unregistered signal. Release before registration
// latches the signal; the handler runs on the first dispatch after
// AddTask.
func NewSignal() *Signal {
	return &Signal{}
}

// Release latches the signal and wakes the scheduler. Never blocks, so
// it is safe to call from the timing engine's tick path.
func (s *Signal) Release() {
	s.set.Store(true)
	if s.wake != nil {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// consume returns true at most once per release batch.
func (s *Signal) consume() bool {
	return s.set.Swap(false)
}

type task struct {
	name    string
	handler func()
	sig     *Signal
}

// Scheduler dispatches task handlers on one goroutine, preserving the
// single-threaded cooperative execution model of the firmware core: no
// two handlers ever run concurrently.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*task
	wake  chan struct{}

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New() *Scheduler {
	return &Scheduler{wake: make(chan struct{}, 1)}
}

// AddTask registers a handler to run whenever sig has been released.
// The handler runs outside the releasing context, at most once per
// release batch.
func (s *Scheduler) AddTask(name string, handler func(), sig *Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig.wake = s.wake
	s.tasks = append(s.tasks, &task{name: name, handler: handler, sig: sig})
	// A release that happened before registration must not be lost.
	if sig.set.Load() {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Run dispatches released tasks until ctx is cancelled. It is the only
// goroutine that invokes handlers.
func (s *Scheduler) Run(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				s.dispatch()
			}
		}
	}()
}

// Wait blocks until the dispatch goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// dispatch runs every task whose signal was released. A release that
// arrives mid-scan latches for the next wakeup; nothing is dropped.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	tasks := make([]*task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		if t.sig.consume() {
			t.handler()
		}
	}
}
