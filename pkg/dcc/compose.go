// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package dcc

import "fmt"

// Composer functions build complete DCC packets ready for bitstream
// encoding. Each returns ErrPacketTooLong if the result would exceed
// MaxPacketBytes and a validation error for out-of-range inputs; no
// packet is produced on failure.

// ErrInvalidAddress is returned for addresses outside the DCC ranges.
var ErrInvalidAddress = fmt.Errorf("dcc: address out of range")

// ErrInvalidSpeed is returned for speed values above MaxSpeed.
var ErrInvalidSpeed = fmt.Errorf("dcc: speed out of range")

// ErrInvalidFunction is returned for function numbers above MaxFunction.
var ErrInvalidFunction = fmt.Errorf("dcc: function number out of range")

// addressBytes encodes a mobile decoder address: one byte for the 7-bit
// space (0 is the broadcast address), two bytes with the 0xC0 marker for
// the 14-bit space.
func addressBytes(addr uint16) ([]byte, error) {
	if addr <= MaxShortAddress {
		return []byte{byte(addr)}, nil
	}
	if addr <= MaxLongAddress {
		return []byte{longAddressMarker | byte(addr>>8), byte(addr)}, nil
	}
	return nil, ErrInvalidAddress
}

// Idle composes the broadcast idle packet permanently radiated by the
// fixed buffer when nothing else is queued.
func Idle() Packet {
	p, _ := newPacket(0xFF, 0x00)
	return p
}

// Reset composes the broadcast decoder reset packet.
func Reset() Packet {
	p, _ := newPacket(0x00, 0x00)
	return p
}

// Raw composes a packet from arbitrary body bytes, appending the
// checksum. For debugging tools; no semantic validation is applied.
func Raw(body ...byte) (Packet, error) {
	return newPacket(body...)
}

// speed28Byte quantizes the 0..127 API speed domain onto the baseline
// 28-step instruction byte 01DCSSSS.
func speed28Byte(speed uint8, dir Direction) byte {
	b := byte(opSpeed28)
	if dir == Forward {
		b |= 0x20
	}
	switch speed {
	case SpeedStop:
		return b // SSSS=0000, C=0
	case SpeedEmergencyStop:
		return b | 0x01 // SSSS=0001, C=0
	}
	// Map 2..127 onto steps 1..28, then onto the split speed code:
	// code = step+3, SSSS = code>>1, C = code&1.
	step := 1 + uint16(speed-2)*27/125
	code := byte(step) + 3
	return b | (code >> 1) | ((code & 1) << 4)
}

// Motion composes the speed-and-direction packet for a mobile decoder.
// Speed 0 is stop, 1 is emergency stop, 2..127 select a speed step.
// Speed28 packs the instruction into a single baseline byte; Speed128
// emits the two-byte advanced operations instruction.
func Motion(addr uint16, speed uint8, dir Direction, mode SpeedMode) (Packet, error) {
	if speed > MaxSpeed {
		return Packet{}, ErrInvalidSpeed
	}
	ab, err := addressBytes(addr)
	if err != nil {
		return Packet{}, err
	}
	switch mode {
	case Speed128:
		sb := byte(speed)
		if dir == Forward {
			sb |= 0x80
		}
		return newPacket(append(ab, opSpeed128, sb)...)
	default:
		return newPacket(append(ab, speed28Byte(speed, dir))...)
	}
}

// EmergencyStopAll composes the broadcast emergency stop packet.
func EmergencyStopAll() Packet {
	p, _ := Motion(AddressBroadcast, SpeedEmergencyStop, Forward, Speed28)
	return p
}

// Accessory composes the 2-byte basic accessory instruction. The 9-bit
// address selects a 7-bit decoder address plus a 2-bit output number;
// state drives the output bit with the activate flag always set.
func Accessory(addr uint16, on bool) (Packet, error) {
	if addr < MinAccessoryAddress || addr > MaxAccessoryAddress {
		return Packet{}, ErrInvalidAddress
	}
	dec := addr >> 2
	out := byte(addr & 0x03)
	b1 := 0x80 | byte(dec&0x3F)
	b2 := byte((dec>>6)&0x07)<<4 | out<<1
	if on {
		b2 |= 0x01
	}
	// The XOR sets the instruction marker bit, complements the high
	// address bits, and sets the activate bit.
	b2 ^= 0xF8
	return newPacket(b1, b2)
}

// functionGroup returns the group instruction byte(s) covering fn, the
// lowest function number of the group, and whether the group uses the
// two-byte extended form.
func functionGroup(fn uint8) (op byte, base uint8, extended bool) {
	switch {
	case fn <= 4:
		return opFunctionG1, 0, false
	case fn <= 8:
		return opFunctionG2a, 5, false
	case fn <= 12:
		return opFunctionG2b, 9, false
	case fn <= 20:
		return opFunctionG3Ext, 13, true
	default:
		return opFunctionG4Ext, 21, true
	}
}

// groupInstruction builds the instruction byte(s) for a whole function
// group from a bitmap whose bit 0 is the group's lowest function.
func groupInstruction(op byte, bits uint8, extended bool) []byte {
	if extended {
		return []byte{op, bits}
	}
	if op == opFunctionG1 {
		// F0 rides in bit 4 of the group-one instruction; F1..F4
		// occupy bits 0..3.
		return []byte{op | (bits&0x01)<<4 | (bits>>1)&0x0F}
	}
	return []byte{op | bits&0x0F}
}

// Function composes the group instruction that sets a single function
// on or off. The other functions of the group are radiated as off;
// callers that track full group state should use FunctionGroup instead.
func Function(addr uint16, fn uint8, on bool) (Packet, error) {
	if fn > MaxFunction {
		return Packet{}, ErrInvalidFunction
	}
	op, base, extended := functionGroup(fn)
	var bits uint8
	if on {
		bits = 1 << (fn - base)
	}
	return FunctionGroupBits(addr, op, bits, extended)
}

// FunctionGroup composes the group instruction carrying the explicit
// bitmap for the group containing fn. Bit 0 of bits is the group's
// lowest function number. No change detection is performed; callers
// control deduplication.
func FunctionGroup(addr uint16, fn uint8, bits uint8) (Packet, error) {
	if fn > MaxFunction {
		return Packet{}, ErrInvalidFunction
	}
	op, _, extended := functionGroup(fn)
	return FunctionGroupBits(addr, op, bits, extended)
}

// FunctionGroupBits composes a function-group packet from a raw group
// opcode and bitmap.
func FunctionGroupBits(addr uint16, op byte, bits uint8, extended bool) (Packet, error) {
	ab, err := addressBytes(addr)
	if err != nil {
		return Packet{}, err
	}
	return newPacket(append(ab, groupInstruction(op, bits, extended)...)...)
}
