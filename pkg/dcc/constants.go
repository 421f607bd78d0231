// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

// Package dcc composes and encodes Digital Command Control track packets.
//
// DCC is the binary wire protocol used to address and command model-railway
// decoders over the rails. This package provides the packet composers (speed,
// accessory, function group), the run-length bitstream encoder that turns a
// composed packet into timed signal transitions, and a reference decoder used
// for verification and debugging.
package dcc

// Packet size limits
const (
	// MaxPacketBytes is the longest command this station composes,
	// including the trailing XOR checksum byte.
	MaxPacketBytes = 6
)

// Framing bit counts
const (
	PreambleBits        = 14 // normal operations packets
	ServicePreambleBits = 20 // service / programming track packets
	PostambleBits       = 1  // single packet-end one bit
)

// MaxTransitions bounds the run-length transition array. The worst case is
// a packet whose bytes alternate 0/1 on every bit, which opens a new run
// per bit: 9 runs per data byte (start bit plus 8 data bits), one run for
// the preamble, one for the postamble, plus the zero terminator. Sized for
// MaxPacketBytes with margin for extended postambles.
const MaxTransitions = 2 + 9*MaxPacketBytes + 2

// Mobile decoder addressing
const (
	AddressBroadcast  = 0     // all mobile decoders
	MaxShortAddress   = 127   // 7-bit address space
	MaxLongAddress    = 10239 // 14-bit address space
	longAddressMarker = 0xC0  // high byte prefix for 14-bit addresses
)

// Accessory decoder addressing: 9 bits, split into a 7-bit decoder
// address and a 2-bit output number on the wire.
const (
	MinAccessoryAddress = 1
	MaxAccessoryAddress = 511
)

// Speed domain of the public API: 0 is stop, 1 is emergency stop,
// 2..127 select one of 126 speed steps.
const (
	SpeedStop          = 0
	SpeedEmergencyStop = 1
	MaxSpeed           = 127
)

// Function numbers supported by the group instructions.
const MaxFunction = 28

// Instruction opcodes
const (
	opSpeed28       = 0x40 // 01DCSSSS baseline speed and direction
	opSpeed128      = 0x3F // advanced operations, 126-step speed
	opFunctionG1    = 0x80 // F0-F4
	opFunctionG2a   = 0xB0 // F5-F8
	opFunctionG2b   = 0xA0 // F9-F12
	opFunctionG3Ext = 0xDE // F13-F20 (extended, two bytes)
	opFunctionG4Ext = 0xDF // F21-F28 (extended, two bytes)
)

// SpeedMode selects the speed-instruction format radiated to mobile
// decoders. The public API speed domain is always 0..127; in Speed28 the
// value is quantized onto the 28 baseline steps.
type SpeedMode uint8

const (
	Speed28  SpeedMode = iota // baseline 2-byte short-address packet
	Speed128                  // advanced operations 0x3F instruction
)

// Direction of travel for mobile decoders.
type Direction uint8

const (
	Reverse Direction = 0
	Forward Direction = 1
)
