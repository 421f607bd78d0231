// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package station

import (
	"fmt"
	"time"
)

// DCC half-bit periods: a "1" bit is two 58 us halves, a "0" bit two
// 100 us halves. The timing engine arms the timer in prescaled clock
// cycles; the table below fixes prescaler and compare counts per
// supported clock frequency, selected once at initialization.
const (
	OneHalfBitMicros  = 58
	ZeroHalfBitMicros = 100
)

// Profile carries the compare-register constants for one clock
// frequency.
type Profile struct {
	ClockHz        uint32
	Prescaler      uint32
	OneHalfCycles  uint32 // 58 us in prescaled cycles
	ZeroHalfCycles uint32 // 100 us in prescaled cycles
}

// profiles is the build-time configuration table. Counts are rounded to
// the available timer resolution; the residual error is within the DCC
// timing tolerances.
var profiles = map[uint32]Profile{
	16_000_000: {ClockHz: 16_000_000, Prescaler: 8, OneHalfCycles: 116, ZeroHalfCycles: 200},
	20_000_000: {ClockHz: 20_000_000, Prescaler: 8, OneHalfCycles: 145, ZeroHalfCycles: 250},
	25_000_000: {ClockHz: 25_000_000, Prescaler: 8, OneHalfCycles: 181, ZeroHalfCycles: 313},
}

// ProfileFor selects the timing profile for a clock frequency.
func ProfileFor(clockHz uint32) (Profile, error) {
	p, ok := profiles[clockHz]
	if !ok {
		return Profile{}, fmt.Errorf("station: no timing profile for %d Hz clock", clockHz)
	}
	return p, nil
}

// SupportedClocks lists the clock frequencies the table covers.
func SupportedClocks() []uint32 {
	out := make([]uint32, 0, len(profiles))
	for hz := range profiles {
		out = append(out, hz)
	}
	return out
}

// halfCycles returns the compare count for a half-bit of the given
// value.
func (p Profile) halfCycles(one bool) uint32 {
	if one {
		return p.OneHalfCycles
	}
	return p.ZeroHalfCycles
}

// CycleDuration converts prescaled cycles to wall time.
func (p Profile) CycleDuration(cycles uint32) time.Duration {
	return time.Duration(uint64(cycles) * uint64(p.Prescaler) * uint64(time.Second) / uint64(p.ClockHz))
}
