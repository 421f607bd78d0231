// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

import (
	"fmt"
	"time"
)

// Decoder implements the link frame decoder state machine
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	escapeNext  bool
	message     *Message
	payload     []byte
	rawBuffer   []byte // Accumulate raw bytes including framing
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxFrameSize),
		rawBuffer: make([]byte, 0, MaxFrameSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.escapeNext = false
	d.message = nil
	d.payload = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes since the last frame
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed message, or nil while the frame is incomplete.
// Returns an error if decoding fails.
func (d *Decoder) DecodeByte(b byte) (*Message, error) {
	// Always accumulate raw bytes for verification
	d.rawBuffer = append(d.rawBuffer, b)

	// Handle byte stuffing
	if b == EscByte && !d.escapeNext {
		d.escapeNext = true
		return nil, nil
	}

	originalB := b
	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	// Handle framing bytes
	if originalB == StartByte && !d.escapeNext {
		d.Reset()
		d.rawBuffer = append(d.rawBuffer[:0], originalB)
		d.state = stateLength
		return nil, nil
	}

	if originalB == EndByte && !d.escapeNext {
		if d.state == stateCRC2 {
			// Frame complete - validate CRC
			msg := d.message
			calculatedCRC := CalculateCRC(d.buffer[:d.bufferIndex])

			if msg.crc != calculatedCRC {
				err := fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", calculatedCRC, msg.crc)
				d.Reset()
				return nil, err
			}

			msg.cborPayload = d.payload
			msg.timestamp = time.Now()

			d.Reset()
			return msg, nil
		}
		d.Reset()
		return nil, fmt.Errorf("unexpected END byte in state %d", d.state)
	}

	// State machine
	switch d.state {
	case stateIdle:
		// Waiting for START byte
		return nil, nil

	case stateLength:
		if b > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.message = &Message{length: b}
		d.payload = make([]byte, 0, b)
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if b == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		// Check for buffer overflow before accepting byte
		if d.bufferIndex >= MaxFrameSize {
			d.Reset()
			return nil, fmt.Errorf("buffer overflow: frame exceeds max size")
		}
		d.payload = append(d.payload, b)
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if len(d.payload) >= int(d.message.length) {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.message.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.message.crc |= uint16(b)
		// Wait for END byte
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// Decode runs a byte slice through the decoder, returning every complete
// message it contains. Decode errors abort at the first failure.
func (d *Decoder) Decode(data []byte) ([]*Message, error) {
	var msgs []*Message
	for _, b := range data {
		msg, err := d.DecodeByte(b)
		if err != nil {
			return msgs, err
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}
