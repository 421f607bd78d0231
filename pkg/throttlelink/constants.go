// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

// Package throttlelink implements the binary link protocol between host
// software (throttles, layout controllers, monitors) and the command
// station.
//
// Frames are byte-stuffed between START and END markers and carry a
// CRC-16-CCITT over a CBOR message of the form [msg_type, payload_map].
// This package provides frame encoding/decoding, CRC validation,
// command builders, payload formatting, and the station-side server.
package throttlelink

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	MaxFrameSize   = 128 // 3 overhead + 125 payload
	MaxPayloadSize = 125
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Message types - Commands (Throttle → Station) 0x10-0x1F
const (
	MsgDriveCommand     = 0x10
	MsgAccessoryCommand = 0x11
	MsgFunctionCommand  = 0x12
	MsgStateCommand     = 0x13
	MsgEmergencyStop    = 0x14
	MsgStatusRequest    = 0x1E
	MsgPingRequest      = 0x1F
)

// Message types - Responses (Station → Throttle) 0x20-0x2F
const (
	MsgAck          = 0x20
	MsgNack         = 0x21
	MsgReply        = 0x22
	MsgStatus       = 0x23
	MsgPingResponse = 0x2F
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	statePayload
	stateCRC1
	stateCRC2
)

// ReplyPolicy selects when the station acknowledges a command's
// transmission over the track.
type ReplyPolicy int

// Reply policy wire values
const (
	ReplyPolicyNone    ReplyPolicy = 0x00
	ReplyPolicyAtStart ReplyPolicy = 0x01
	ReplyPolicyAtEnd   ReplyPolicy = 0x02
)

// Payload map keys for command messages. Command payloads share a key
// layout so the validator and formatter can treat them uniformly.
const (
	KeyAddress   = 0
	KeyValue     = 1 // speed, function number, or accessory state
	KeyFlag      = 2 // direction bit, or function on/off
	KeyFunctions = 3 // 29-bit function bitmap (state command)
	KeyDuration  = 4
	KeyReply     = 5
)

// Payload map keys for status messages.
const (
	KeyFreeBuffers = 0
	KeyPacketsSent = 1
	KeyIRQDelay    = 2
	KeyIRQSyncs    = 3
	KeyScan        = 4
	KeyUptimeMs    = 0 // ping response
	KeyText        = 0 // reply text, nack reason
	KeyEchoType    = 1 // ack/nack echoed command type
)

// Scan entry map keys within a status payload.
const (
	ScanKeyKind    = 0
	ScanKeyAddress = 1
	ScanKeyAction  = 2
	ScanKeyRepeats = 3
	ScanKeyPending = 4
)
