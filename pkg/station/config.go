// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package station

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/spoorlab/dccstation/pkg/dcc"
)

// Config holds the persisted station constants, selected once at
// initialization.
type Config struct {
	// ClockHz selects the timing profile; must be in the table.
	ClockHz uint32 `cbor:"clock_hz"`

	// Buffers is the transmission buffer pool size, fixed idle buffer
	// included.
	Buffers int `cbor:"buffers"`

	// PendingSlots is the pending-packet arena size.
	PendingSlots int `cbor:"pending_slots"`

	// Preamble and ServicePreamble are the one-run lengths framing
	// normal and service-mode packets; Postamble the trailing one-run.
	Preamble        uint8 `cbor:"preamble"`
	ServicePreamble uint8 `cbor:"service_preamble"`
	Postamble       uint8 `cbor:"postamble"`

	// SpeedMode selects the radiated speed instruction format.
	SpeedMode dcc.SpeedMode `cbor:"speed_mode"`

	// JitterCompensation enables the advisory timer phase nudging.
	JitterCompensation bool `cbor:"jitter_compensation"`
}

// DefaultConfig returns the shipping constants.
func DefaultConfig() Config {
	return Config{
		ClockHz:            16_000_000,
		Buffers:            16,
		PendingSlots:       32,
		Preamble:           dcc.PreambleBits,
		ServicePreamble:    dcc.ServicePreambleBits,
		Postamble:          dcc.PostambleBits,
		SpeedMode:          dcc.Speed28,
		JitterCompensation: true,
	}
}

// Validate rejects configurations the pool or timing table cannot
// honor.
func (c Config) Validate() error {
	if _, err := ProfileFor(c.ClockHz); err != nil {
		return err
	}
	if c.Buffers < 2 {
		return fmt.Errorf("station: config needs at least 2 buffers, got %d", c.Buffers)
	}
	if c.PendingSlots < 1 {
		return fmt.Errorf("station: config needs at least 1 pending slot, got %d", c.PendingSlots)
	}
	if c.Preamble < dcc.PreambleBits {
		return fmt.Errorf("station: preamble %d below the DCC minimum %d", c.Preamble, dcc.PreambleBits)
	}
	if c.ServicePreamble < c.Preamble {
		return fmt.Errorf("station: service preamble %d below normal preamble %d", c.ServicePreamble, c.Preamble)
	}
	if c.Postamble < 1 {
		return fmt.Errorf("station: postamble must be at least 1")
	}
	return nil
}

// LoadConfig reads a CBOR-encoded Config, filling unset fields from the
// defaults.
func LoadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	if err := cbor.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("station: decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SaveConfig writes a Config in CBOR.
func SaveConfig(w io.Writer, c Config) error {
	if err := cbor.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("station: encoding config: %w", err)
	}
	return nil
}
