// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package dcc

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomPacket composes a random valid packet of any supported kind.
func randomPacket(rng *rand.Rand) Packet {
	for {
		var p Packet
		var err error
		switch rng.Intn(4) {
		case 0:
			addr := uint16(rng.Intn(MaxLongAddress + 1))
			mode := SpeedMode(rng.Intn(2))
			p, err = Motion(addr, uint8(rng.Intn(MaxSpeed+1)), Direction(rng.Intn(2)), mode)
		case 1:
			p, err = Accessory(uint16(rng.Intn(MaxAccessoryAddress)+1), rng.Intn(2) == 1)
		case 2:
			addr := uint16(rng.Intn(MaxLongAddress + 1))
			p, err = Function(addr, uint8(rng.Intn(MaxFunction+1)), rng.Intn(2) == 1)
		default:
			p = Idle()
		}
		if err == nil {
			return p
		}
	}
}

// TestFuzzBitstream_RoundTrip encodes random valid packets with random
// framing and verifies the reference decoder reproduces the exact bytes.
func TestFuzzBitstream_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		p := randomPacket(rng)
		preamble := uint8(PreambleBits + rng.Intn(ServicePreambleBits-PreambleBits+1))
		postamble := uint8(1 + rng.Intn(30))

		var runs [MaxTransitions]uint8
		if err := EncodeBitstream(p, preamble, postamble, &runs); err != nil {
			t.Fatalf("Round %d: EncodeBitstream(% 02X, %d, %d): %v", i, p.Bytes(), preamble, postamble, err)
		}

		gotPre, data, gotPost, err := DecodeBitstream(runs[:])
		if err != nil {
			t.Fatalf("Round %d: DecodeBitstream: %v", i, err)
		}
		if gotPre != int(preamble) || gotPost != int(postamble) {
			t.Errorf("Round %d: framing = (%d,%d), want (%d,%d)", i, gotPre, gotPost, preamble, postamble)
		}
		if !bytes.Equal(data, p.Bytes()) {
			t.Errorf("Round %d: decoded % 02X, want % 02X", i, data, p.Bytes())
		}
	}
}

// TestFuzzBitstream_RandomArrays feeds random run-length arrays to the
// reference decoder and verifies it never panics.
func TestFuzzBitstream_RandomArrays(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		runs := make([]uint8, rng.Intn(MaxTransitions)+1)
		for j := range runs {
			runs[j] = uint8(rng.Intn(40))
		}
		DecodeBitstream(runs)
		Bits(runs)
		BitLength(runs)
		FormatRuns(runs)
	}
}

// TestFuzzCompose_NeverOverlong verifies no composer output exceeds the
// fixed maximum command length.
func TestFuzzCompose_NeverOverlong(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		p := randomPacket(rng)
		if p.Len() < 3 || p.Len() > MaxPacketBytes {
			t.Fatalf("Round %d: packet length %d outside [3,%d]", i, p.Len(), MaxPacketBytes)
		}
		var check byte
		for _, b := range p.Bytes() {
			check ^= b
		}
		if check != 0 {
			t.Fatalf("Round %d: checksum does not cancel: % 02X", i, p.Bytes())
		}
	}
}
