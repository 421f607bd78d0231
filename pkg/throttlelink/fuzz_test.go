// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

import (
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

// randomCommand builds a random command message with in-range fields.
func randomCommand(rng *rand.Rand) *Message {
	reply := ReplyPolicy(rng.Intn(3))
	duration := uint8(rng.Intn(256))
	switch rng.Intn(5) {
	case 0:
		return NewDriveCommand(uint16(rng.Intn(10240)), uint8(rng.Intn(128)), uint8(rng.Intn(2)), duration, reply)
	case 1:
		return NewAccessoryCommand(uint16(rng.Intn(511)+1), rng.Intn(2) == 1, duration, reply)
	case 2:
		return NewFunctionCommand(uint16(rng.Intn(10240)), uint8(rng.Intn(29)), rng.Intn(2) == 1, duration, reply)
	case 3:
		return NewStateCommand(uint16(rng.Intn(10240)), uint8(rng.Intn(128)), uint8(rng.Intn(2)), rng.Uint32()&0x1FFFFFFF, duration, reply)
	default:
		return NewEmergencyStop()
	}
}

// TestFuzzFrame_RoundTrip encodes random valid commands and verifies the
// decoder reproduces the type and payload, and the validator accepts them.
func TestFuzzFrame_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	enc := NewEncoder()
	dec := NewDecoder()
	for i := 0; i < rounds; i++ {
		msg := randomCommand(rng)
		frame, err := enc.Encode(msg)
		if err != nil {
			t.Fatalf("Round %d: Encode: %v", i, err)
		}

		var decoded *Message
		for _, b := range frame {
			m, err := dec.DecodeByte(b)
			if err != nil {
				t.Fatalf("Round %d: DecodeByte: %v", i, err)
			}
			if m != nil {
				decoded = m
			}
		}
		if decoded == nil {
			t.Fatalf("Round %d: no message decoded", i)
		}
		if decoded.Type() != msg.Type() {
			t.Fatalf("Round %d: type = 0x%02X, want 0x%02X", i, decoded.Type(), msg.Type())
		}
		if len(decoded.PayloadMap()) != len(msg.PayloadMap()) {
			t.Fatalf("Round %d: payload keys = %d, want %d", i, len(decoded.PayloadMap()), len(msg.PayloadMap()))
		}
		if errs := ValidateMessage(decoded); len(errs) != 0 {
			t.Fatalf("Round %d: validator rejected a valid command: %v", i, errs[0].Message)
		}
	}
}

// TestFuzzDecoder_RandomBytes feeds random byte soup to the decoder and
// verifies it never panics and keeps accepting clean frames afterwards.
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	dec := NewDecoder()
	ping, err := NewEncoder().Encode(NewPingRequest())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for i := 0; i < rounds; i++ {
		soup := make([]byte, rng.Intn(64))
		for j := range soup {
			soup[j] = byte(rng.Intn(256))
		}
		for _, b := range soup {
			dec.DecodeByte(b)
		}

		// A clean frame still decodes after arbitrary garbage.
		var decoded *Message
		for _, b := range ping {
			m, _ := dec.DecodeByte(b)
			if m != nil {
				decoded = m
			}
		}
		if decoded == nil || decoded.Type() != MsgPingRequest {
			t.Fatalf("Round %d: decoder lost sync after garbage", i)
		}
	}
}
