// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package station

import (
	"sync/atomic"

	"github.com/spoorlab/dccstation/pkg/scheduler"
)

// Engine is the timing/ISR core: Tick fires on each timer compare
// match, toggles the track output, and reprograms the timer with the
// next half-bit interval. All cursor state lives here, outside any
// buffer; the buffers' arrays are read-only to the engine except for
// the repeat counter it owns while a buffer is in StateRun.
//
// The hot path (mid-array traversal) takes no lock. Only the traversal
// boundary, where buffer states change and the list cursor moves,
// enters the pool's critical section.
type Engine struct {
	pool  *Pool
	drv   TrackDriver
	timer Timer
	sig   *scheduler.Signal
	prof  Profile

	// Read cursor into the active buffer's run-length array.
	cur        *Buffer
	idx        int
	unit       uint8 // half-bit pairs left in the current run entry
	one        bool  // value of the current run
	secondHalf bool
	polarity   bool

	packetsSent atomic.Uint64

	// Rolling interrupt-entry jitter, advisory only: a periodic phase
	// nudge keeps long-run error bounded without affecting the bit
	// pattern.
	jitterEnabled bool
	lateSum       uint64
	lateTicks     uint64
	avgLate       atomic.Uint32
	syncs         atomic.Uint64
}

// NewEngine creates the timing engine with its cursor parked on the
// fixed idle buffer.
func NewEngine(pool *Pool, drv TrackDriver, timer Timer, sig *scheduler.Signal, prof Profile, jitter bool) *Engine {
	e := &Engine{
		pool:          pool,
		drv:           drv,
		timer:         timer,
		sig:           sig,
		prof:          prof,
		jitterEnabled: jitter,
	}
	e.cur = pool.Fixed()
	e.startBuffer(e.cur)
	return e
}

// startBuffer resets the read cursor onto a buffer's array. The first
// entry is always the preamble one-run.
func (e *Engine) startBuffer(b *Buffer) {
	if b.runs[0] == 0 {
		e.pool.Halt("buffer %v entered transmission with an empty run-length array (state %v)", b.target, b.State())
		return
	}
	e.cur = b
	e.idx = 0
	e.unit = b.runs[0]
	e.one = true
	e.secondHalf = false
}

// PacketsSent returns the number of completed array traversals.
func (e *Engine) PacketsSent() uint64 {
	return e.packetsSent.Load()
}

// IRQDelay returns the rolling average tick overshoot in prescaled
// cycles.
func (e *Engine) IRQDelay() uint32 {
	return e.avgLate.Load()
}

// IRQSyncs returns how many phase recalibrations have been applied.
func (e *Engine) IRQSyncs() uint64 {
	return e.syncs.Load()
}

// Tick is the timer compare-match handler: one call per half-bit.
// lateCycles is the measured overshoot past the armed deadline.
func (e *Engine) Tick(lateCycles uint32) {
	e.polarity = !e.polarity
	e.drv.SetOutput(e.polarity)

	if e.jitterEnabled {
		e.recordJitter(lateCycles)
	}

	if !e.secondHalf {
		// First half emitted; the second half of the same bit has the
		// same duration.
		e.secondHalf = true
		e.arm(e.prof.halfCycles(e.one))
		return
	}
	e.secondHalf = false

	// A full bit went out; consume one unit from the current run.
	e.unit--
	if e.unit == 0 {
		e.advance()
	}
	e.arm(e.prof.halfCycles(e.one))
}

// advance moves to the next run entry, or through the traversal
// boundary when the terminating zero count is reached.
func (e *Engine) advance() {
	e.idx++
	if e.idx < len(e.cur.runs) {
		if n := e.cur.runs[e.idx]; n != 0 {
			e.one = !e.one
			e.unit = n
			return
		}
	}
	e.wrap()
}

// wrap handles the end of a full array traversal: repeat accounting,
// the run/reload to load hand-off, and the seamless switch to the next
// playable buffer. The next buffer's first transition begins on the
// very next half-bit boundary.
func (e *Engine) wrap() {
	e.packetsSent.Add(1)

	e.pool.mu.Lock()
	b := e.cur
	switch b.State() {
	case StateReload:
		// A live buffer was told to replace its content; finish the
		// array, then hand it to the manager task.
		b.setState(StateLoad)
		e.sig.Release()
	case StateRun:
		if b.duration != 0 {
			b.duration--
			if b.duration == 0 {
				b.setState(StateLoad)
				e.sig.Release()
			}
		} else if b.pendHead != nil {
			// Duration 0 repeats the encoded packet forever, but queued
			// packets behind it must still progress: hand the buffer to
			// the manager at this boundary. Also catches an extension
			// that raced the manager's load-to-run store and missed the
			// reload flip.
			b.setState(StateLoad)
			e.sig.Release()
		}
	case StateFixed:
		// The idle buffer repeats forever.
	default:
		e.pool.mu.Unlock()
		e.pool.Halt("buffer %v observed in state %v on the active list", b.target, b.State())
		return
	}

	// Round-robin to the next playable buffer. Buffers in StateLoad
	// belong to the manager task and are skipped; the fixed buffer
	// guarantees the scan terminates.
	nb := b.next
	for !nb.State().playable() {
		if nb == b {
			e.pool.mu.Unlock()
			e.pool.Halt("no playable buffer on the active list")
			return
		}
		nb = nb.next
	}
	e.startBuffer(nb)
	e.pool.mu.Unlock()
}

// arm programs the next compare interval, applying the advisory phase
// nudge when the rolling overshoot warrants one.
func (e *Engine) arm(cycles uint32) {
	if e.jitterEnabled {
		if avg := e.avgLate.Load(); avg > 0 && avg < cycles/4 && e.lateTicks == 0 {
			// Shorten one interval per averaging window to pull the
			// phase back; never enough to distort a half-bit beyond
			// tolerance.
			cycles -= avg
			e.syncs.Add(1)
		}
	}
	e.timer.Arm(cycles)
}

const jitterWindow = 1024

// recordJitter folds one overshoot sample into the rolling average.
func (e *Engine) recordJitter(lateCycles uint32) {
	e.lateSum += uint64(lateCycles)
	e.lateTicks++
	if e.lateTicks >= jitterWindow {
		e.avgLate.Store(uint32(e.lateSum / e.lateTicks))
		e.lateSum = 0
		e.lateTicks = 0
	}
}
