// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

import "time"

// Message represents a decoded link frame
type Message struct {
	length      uint8
	cborPayload []byte // Raw CBOR bytes: [msg_type, payload_map]
	crc         uint16
	timestamp   time.Time

	// Cached parsed values (lazy parsing)
	msgType    uint8
	payloadMap map[int]interface{}
	parsed     bool
	parseErr   error
}

// NewMessage creates a message from raw decoded frame fields
func NewMessage(length uint8, cborPayload []byte, crc uint16) *Message {
	return &Message{
		length:      length,
		cborPayload: cborPayload,
		crc:         crc,
		timestamp:   time.Now(),
	}
}

// NewMessageWithPayload creates a message from a type and payload map.
// The CBOR encoding and CRC are computed at encode time.
func NewMessageWithPayload(msgType uint8, payload map[int]interface{}) *Message {
	return &Message{
		msgType:    msgType,
		payloadMap: payload,
		parsed:     true,
		timestamp:  time.Now(),
	}
}

// ensureParsed parses the CBOR payload if not already done
func (m *Message) ensureParsed() {
	if m.parsed {
		return
	}
	m.parsed = true
	if len(m.cborPayload) == 0 {
		return
	}
	m.msgType, m.payloadMap, m.parseErr = ParseCBORMessage(m.cborPayload)
}

// Length returns the frame's CBOR payload length
func (m *Message) Length() uint8 {
	return m.length
}

// Type returns the message type (parsed from CBOR)
func (m *Message) Type() uint8 {
	m.ensureParsed()
	return m.msgType
}

// Payload returns the raw CBOR payload bytes
func (m *Message) Payload() []byte {
	return m.cborPayload
}

// PayloadMap returns the decoded CBOR payload map (nil for empty payloads)
func (m *Message) PayloadMap() map[int]interface{} {
	m.ensureParsed()
	return m.payloadMap
}

// ParseError returns any error from parsing the CBOR payload
func (m *Message) ParseError() error {
	m.ensureParsed()
	return m.parseErr
}

// CRC returns the frame's CRC value
func (m *Message) CRC() uint16 {
	return m.crc
}

// Timestamp returns the frame's decode timestamp
func (m *Message) Timestamp() time.Time {
	return m.timestamp
}

// IsCommand returns true for throttle-to-station command types
func (m *Message) IsCommand() bool {
	t := m.Type()
	return t >= MsgDriveCommand && t <= MsgPingRequest
}
