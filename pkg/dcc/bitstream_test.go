// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package dcc

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeBitstreamMotionScenario(t *testing.T) {
	// Motion command for address 3, speed 64, forward, short preamble:
	// 14 preamble ones, then for each of the three bytes (address,
	// speed instruction, checksum) a 0 start bit and 8 data bits,
	// then a single trailing one.
	p, err := Motion(3, 64, Forward, Speed28)
	if err != nil {
		t.Fatalf("Motion: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("packet length = %d bytes, want 3", p.Len())
	}

	var runs [MaxTransitions]uint8
	if err := EncodeBitstream(p, PreambleBits, PostambleBits, &runs); err != nil {
		t.Fatalf("EncodeBitstream: %v", err)
	}

	wantBits := 14 + 3*9 + 1
	if got := BitLength(runs[:]); got != wantBits {
		t.Errorf("BitLength = %d, want %d", got, wantBits)
	}

	preamble, data, _, err := DecodeBitstream(runs[:])
	if err != nil {
		t.Fatalf("DecodeBitstream: %v", err)
	}
	if preamble != 14 {
		t.Errorf("preamble = %d, want 14", preamble)
	}
	if !bytes.Equal(data, p.Bytes()) {
		t.Errorf("decoded bytes = % 02X, want % 02X", data, p.Bytes())
	}
}

func TestEncodeBitstreamLayout(t *testing.T) {
	// Idle packet 0xFF 0x00 0xFF: the run structure is fully known.
	// preamble ones, 0 start, 8 ones, 0 start + 8 zeros merged,
	// 0 start, 8 ones + postamble merged.
	var runs [MaxTransitions]uint8
	if err := EncodeBitstream(Idle(), PreambleBits, PostambleBits, &runs); err != nil {
		t.Fatalf("EncodeBitstream: %v", err)
	}
	want := []uint8{14, 1, 8, 10, 9, 0}
	if !bytes.Equal(runs[:len(want)], want) {
		t.Errorf("runs = %v, want %v", runs[:len(want)], want)
	}
}

func TestEncodeBitstreamRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		make      func() (Packet, error)
		preamble  uint8
		postamble uint8
	}{
		{
			name:     "motion short preamble",
			make:     func() (Packet, error) { return Motion(3, 64, Forward, Speed28) },
			preamble: PreambleBits, postamble: PostambleBits,
		},
		{
			name:     "motion 128-step service preamble",
			make:     func() (Packet, error) { return Motion(9000, 100, Reverse, Speed128) },
			preamble: ServicePreambleBits, postamble: PostambleBits,
		},
		{
			name:     "accessory",
			make:     func() (Packet, error) { return Accessory(261, true) },
			preamble: PreambleBits, postamble: PostambleBits,
		},
		{
			name:     "function with cutout gap postamble",
			make:     func() (Packet, error) { return Function(42, 7, true) },
			preamble: PreambleBits, postamble: 26,
		},
		{
			name:     "idle",
			make:     func() (Packet, error) { return Idle(), nil },
			preamble: PreambleBits, postamble: PostambleBits,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.make()
			if err != nil {
				t.Fatalf("compose: %v", err)
			}
			var runs [MaxTransitions]uint8
			if err := EncodeBitstream(p, tt.preamble, tt.postamble, &runs); err != nil {
				t.Fatalf("EncodeBitstream: %v", err)
			}
			preamble, data, postamble, err := DecodeBitstream(runs[:])
			if err != nil {
				t.Fatalf("DecodeBitstream: %v", err)
			}
			if preamble != int(tt.preamble) {
				t.Errorf("preamble = %d, want %d", preamble, tt.preamble)
			}
			if !bytes.Equal(data, p.Bytes()) {
				t.Errorf("decoded bytes = % 02X, want % 02X", data, p.Bytes())
			}
			// A trailing 1 data bit merges into the postamble run, so
			// the decoder attributes it correctly by byte framing.
			if postamble != int(tt.postamble) {
				t.Errorf("postamble = %d, want %d", postamble, tt.postamble)
			}
		})
	}
}

func TestEncodeBitstreamOverflow(t *testing.T) {
	// An excessive postamble cannot fit a single uint8 run count.
	p := Idle()
	var runs [MaxTransitions]uint8
	err := EncodeBitstream(p, 250, 250, &runs)
	if !errors.Is(err, ErrBitstreamOverflow) {
		t.Fatalf("err = %v, want ErrBitstreamOverflow", err)
	}
	for i, r := range runs {
		if r != 0 {
			t.Fatalf("runs[%d] = %d after failed encode, want zeroed array", i, r)
		}
	}
}

func TestDecodeBitstreamRejectsCorruption(t *testing.T) {
	p, _ := Motion(3, 64, Forward, Speed28)
	var runs [MaxTransitions]uint8
	if err := EncodeBitstream(p, PreambleBits, PostambleBits, &runs); err != nil {
		t.Fatalf("EncodeBitstream: %v", err)
	}
	// Flip one data bit by splitting a run; the checksum must now fail.
	runs[2]-- // shorten the first data run
	runs[3]++ // extend the following run
	if _, _, _, err := DecodeBitstream(runs[:]); err == nil {
		t.Fatal("DecodeBitstream accepted a corrupted array")
	}
}

func TestBitLengthEmpty(t *testing.T) {
	if got := BitLength([]uint8{0}); got != 0 {
		t.Errorf("BitLength = %d, want 0", got)
	}
}
