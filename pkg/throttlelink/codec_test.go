// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

import (
	"bytes"
	"testing"
)

// payloadValuesEqual compares payload values accounting for CBOR type
// coercion: uint64 may decode as int64 and vice versa.
func payloadValuesEqual(expected, actual interface{}) bool {
	switch e := expected.(type) {
	case uint64:
		switch a := actual.(type) {
		case uint64:
			return e == a
		case int64:
			return a >= 0 && uint64(a) == e
		}
	case bool:
		if a, ok := actual.(bool); ok {
			return e == a
		}
	case string:
		if a, ok := actual.(string); ok {
			return e == a
		}
	}
	return false
}

// decodeFrame runs one encoded frame through a fresh decoder.
func decodeFrame(t *testing.T, frame []byte) *Message {
	t.Helper()
	decoder := NewDecoder()
	var decoded *Message
	for _, b := range frame {
		m, err := decoder.DecodeByte(b)
		if err != nil {
			t.Fatalf("Decoder error: %v", err)
		}
		if m != nil {
			decoded = m
		}
	}
	if decoded == nil {
		t.Fatal("Decoder did not produce a message")
	}
	return decoded
}

func TestEncodeFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		msgType    uint8
		payloadMap map[int]interface{}
	}{
		{
			name:       "ping request with no payload",
			msgType:    MsgPingRequest,
			payloadMap: nil,
		},
		{
			name:       "emergency stop with no payload",
			msgType:    MsgEmergencyStop,
			payloadMap: nil,
		},
		{
			name:    "drive command",
			msgType: MsgDriveCommand,
			payloadMap: map[int]interface{}{
				KeyAddress:  uint64(3),
				KeyValue:    uint64(64),
				KeyFlag:     uint64(1),
				KeyDuration: uint64(0),
			},
		},
		{
			name:    "accessory command",
			msgType: MsgAccessoryCommand,
			payloadMap: map[int]interface{}{
				KeyAddress:  uint64(200),
				KeyValue:    true,
				KeyDuration: uint64(4),
			},
		},
		{
			name:    "state command with function bitmap",
			msgType: MsgStateCommand,
			payloadMap: map[int]interface{}{
				KeyAddress:   uint64(4098),
				KeyValue:     uint64(90),
				KeyFlag:      uint64(0),
				KeyFunctions: uint64(0x1F00021),
				KeyDuration:  uint64(0),
				KeyReply:     uint64(ReplyPolicyAtEnd),
			},
		},
		{
			name:    "nack with reason text",
			msgType: MsgNack,
			payloadMap: map[int]interface{}{
				KeyText:     "no free transmission buffer",
				KeyEchoType: uint64(MsgDriveCommand),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeFrameFromValues(tt.msgType, tt.payloadMap)
			if err != nil {
				t.Fatalf("EncodeFrameFromValues failed: %v", err)
			}

			// Verify framing
			if encoded[0] != StartByte {
				t.Errorf("frame should start with StartByte (0x%02X), got 0x%02X", StartByte, encoded[0])
			}
			if encoded[len(encoded)-1] != EndByte {
				t.Errorf("frame should end with EndByte (0x%02X), got 0x%02X", EndByte, encoded[len(encoded)-1])
			}

			decoded := decodeFrame(t, encoded)

			if decoded.Type() != tt.msgType {
				t.Errorf("msgType mismatch: got 0x%02X, want 0x%02X", decoded.Type(), tt.msgType)
			}

			// Verify payload values survived the round-trip
			if tt.payloadMap != nil {
				decodedPayload := decoded.PayloadMap()
				if decodedPayload == nil {
					t.Fatal("expected payload map, got nil")
				}
				for key, expectedValue := range tt.payloadMap {
					actualValue, ok := decodedPayload[key]
					if !ok {
						t.Errorf("missing payload key %d", key)
						continue
					}
					if !payloadValuesEqual(expectedValue, actualValue) {
						t.Errorf("payload[%d] mismatch: got %v (%T), want %v (%T)",
							key, actualValue, actualValue, expectedValue, expectedValue)
					}
				}
			} else {
				decodedPayload := decoded.PayloadMap()
				if len(decodedPayload) > 0 {
					t.Errorf("expected nil payload, got %v", decodedPayload)
				}
			}
		})
	}
}

func TestDecoderRejectsCorruptedCRC(t *testing.T) {
	encoded, err := EncodeFrameFromValues(MsgDriveCommand, map[int]interface{}{
		KeyAddress: uint64(3),
		KeyValue:   uint64(40),
		KeyFlag:    uint64(1),
	})
	if err != nil {
		t.Fatalf("EncodeFrameFromValues failed: %v", err)
	}

	// Flip a payload bit. Index 2 is past the start byte and length
	// byte and cannot collide with a framing byte after the flip of
	// bit 0 alone in CBOR's small-int range.
	corrupted := make([]byte, len(encoded))
	copy(corrupted, encoded)
	corrupted[3] ^= 0x01

	decoder := NewDecoder()
	var gotErr error
	for _, b := range corrupted {
		m, err := decoder.DecodeByte(b)
		if err != nil {
			gotErr = err
		}
		if m != nil {
			t.Fatal("decoder accepted a corrupted frame")
		}
	}
	if gotErr == nil {
		t.Fatal("expected a CRC or framing error, got none")
	}
}

func TestDecoderResyncsAfterGarbage(t *testing.T) {
	encoded, err := EncodeFrameFromValues(MsgPingRequest, nil)
	if err != nil {
		t.Fatalf("EncodeFrameFromValues failed: %v", err)
	}

	// Garbage, a truncated frame, then a clean frame: the decoder must
	// still deliver the clean one.
	stream := []byte{0x00, 0x12, 0x34}
	stream = append(stream, encoded[:len(encoded)/2]...)
	stream = append(stream, encoded...)

	decoder := NewDecoder()
	var decoded *Message
	for _, b := range stream {
		m, _ := decoder.DecodeByte(b)
		if m != nil {
			decoded = m
		}
	}
	if decoded == nil {
		t.Fatal("decoder did not recover the clean frame")
	}
	if decoded.Type() != MsgPingRequest {
		t.Errorf("type mismatch: got 0x%02X, want 0x%02X", decoded.Type(), MsgPingRequest)
	}
}

func TestStuffBytes(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		expect []byte
	}{
		{
			name:   "no special bytes",
			input:  []byte{0x01, 0x02, 0x03},
			expect: []byte{0x01, 0x02, 0x03},
		},
		{
			name:   "escape start byte",
			input:  []byte{0x01, StartByte, 0x03},
			expect: []byte{0x01, EscByte, StartByte ^ EscXor, 0x03},
		},
		{
			name:   "escape end byte",
			input:  []byte{0x01, EndByte, 0x03},
			expect: []byte{0x01, EscByte, EndByte ^ EscXor, 0x03},
		},
		{
			name:   "escape escape byte",
			input:  []byte{0x01, EscByte, 0x03},
			expect: []byte{0x01, EscByte, EscByte ^ EscXor, 0x03},
		},
		{
			name:   "multiple special bytes",
			input:  []byte{StartByte, EndByte, EscByte},
			expect: []byte{EscByte, StartByte ^ EscXor, EscByte, EndByte ^ EscXor, EscByte, EscByte ^ EscXor},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := stuffBytes(tt.input)
			if !bytes.Equal(result, tt.expect) {
				t.Errorf("stuffBytes(%v) = %v, want %v", tt.input, result, tt.expect)
			}
		})
	}
}

func TestUnstuffBytesRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{0x00, 0x01, 0x02},
		{StartByte, EndByte, EscByte},
		{0x7E, 0x7D, 0x7F, 0x00, 0xFF},
		{0xFF, 0xFE, 0xFD},
	}

	for _, input := range inputs {
		stuffed := stuffBytes(input)
		unstuffed, err := UnstuffBytes(stuffed)
		if err != nil {
			t.Errorf("UnstuffBytes error for input %v: %v", input, err)
			continue
		}
		if !bytes.Equal(unstuffed, input) {
			t.Errorf("roundtrip failed: input=%v, stuffed=%v, unstuffed=%v", input, stuffed, unstuffed)
		}
	}
}

func TestUnstuffBytes_IncompleteEscape(t *testing.T) {
	input := []byte{0x01, 0x02, EscByte}

	_, err := UnstuffBytes(input)
	if err == nil {
		t.Error("expected error for incomplete escape sequence, got nil")
	}
}

func TestEncodeFrame_PayloadTooLarge(t *testing.T) {
	// Exceeds MaxPayloadSize once CBOR encoded
	largePayload := make(map[int]interface{})
	for i := 0; i < 200; i++ {
		largePayload[i] = uint64(i)
	}

	_, err := EncodeFrameFromValues(MsgStatus, largePayload)
	if err == nil {
		t.Error("expected error for oversized payload, got nil")
	}
}

func TestCalculateCRC(t *testing.T) {
	// Known CRC-16-CCITT vector: "123456789" with 0xFFFF initial value
	crc := CalculateCRC([]byte("123456789"))
	if crc != 0x29B1 {
		t.Errorf("CRC = 0x%04X, want 0x29B1", crc)
	}

	// Empty data returns the initial value
	if got := CalculateCRC(nil); got != 0xFFFF {
		t.Errorf("CRC of empty data = 0x%04X, want 0xFFFF", got)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	snap := StatusSnapshot{
		FreeBuffers: 13,
		PacketsSent: 99281,
		IRQDelay:    7,
		IRQSyncs:    4,
		Scan: []ScanRow{
			{Kind: 0, Address: 3, Action: 0x01004001, Repeats: 0, Pending: 0},
			{Kind: 1, Address: 200, Action: 0x0400C801, Repeats: 2, Pending: 1},
		},
	}

	frame, err := NewEncoder().Encode(NewStatus(snap))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded := decodeFrame(t, frame)
	if decoded.Type() != MsgStatus {
		t.Fatalf("type = 0x%02X, want STATUS", decoded.Type())
	}

	got := ParseStatus(decoded.PayloadMap())
	if got.FreeBuffers != snap.FreeBuffers || got.PacketsSent != snap.PacketsSent ||
		got.IRQDelay != snap.IRQDelay || got.IRQSyncs != snap.IRQSyncs {
		t.Errorf("counters mismatch: got %+v, want %+v", got, snap)
	}
	if len(got.Scan) != len(snap.Scan) {
		t.Fatalf("scan rows = %d, want %d", len(got.Scan), len(snap.Scan))
	}
	for i := range snap.Scan {
		if got.Scan[i] != snap.Scan[i] {
			t.Errorf("scan[%d] = %+v, want %+v", i, got.Scan[i], snap.Scan[i])
		}
	}
}
