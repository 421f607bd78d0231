// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package station

import (
	"context"
	"sync/atomic"
	"time"
)

// TrackDriver is the physical pin the timing engine toggles, one call
// per half-bit. Implementations must be non-blocking; the engine's tick
// path cannot stall.
type TrackDriver interface {
	SetOutput(high bool)
}

// Timer is the hardware compare timer the engine reprograms on every
// tick with the next half-bit interval, in prescaled clock cycles.
type Timer interface {
	Arm(cycles uint32)
}

// TickerHost drives an Engine in wall-clock time: it plays the role of
// the hardware timer, sleeping for each armed interval and invoking the
// engine's tick with the measured overshoot. Tests bypass it and call
// Tick directly.
type TickerHost struct {
	prof   Profile
	cycles atomic.Uint32
}

// NewTickerHost creates a host timer for the given profile.
func NewTickerHost(prof Profile) *TickerHost {
	h := &TickerHost{prof: prof}
	h.cycles.Store(prof.OneHalfCycles)
	return h
}

// Arm implements Timer.
func (h *TickerHost) Arm(cycles uint32) {
	h.cycles.Store(cycles)
}

// Run ticks the engine until ctx is cancelled. The overshoot between
// the armed deadline and the actual wakeup is reported to the engine in
// prescaled cycles for its jitter accounting.
func (h *TickerHost) Run(ctx context.Context, e *Engine) {
	next := time.Now()
	for {
		next = next.Add(h.prof.CycleDuration(h.cycles.Load()))
		d := time.Until(next)
		if d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		} else if ctx.Err() != nil {
			return
		}
		late := time.Since(next)
		var lateCycles uint32
		if late > 0 {
			lateCycles = uint32(uint64(late) * uint64(h.prof.ClockHz) / uint64(h.prof.Prescaler) / uint64(time.Second))
		}
		e.Tick(lateCycles)
	}
}

// NullDriver discards the track output. Used when the station runs
// without hardware attached.
type NullDriver struct{}

// SetOutput implements TrackDriver.
func (NullDriver) SetOutput(bool) {}
