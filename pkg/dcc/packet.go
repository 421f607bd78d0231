// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package dcc

import "fmt"

// Packet is one fully composed DCC command: the address and instruction
// bytes with the XOR checksum already appended. Packets are small
// fixed-capacity values so they can be copied into pending-packet slots
// without heap allocation.
type Packet struct {
	bytes [MaxPacketBytes]byte
	n     uint8
}

// ErrPacketTooLong is returned when a composer would exceed MaxPacketBytes.
var ErrPacketTooLong = fmt.Errorf("dcc: packet exceeds %d bytes", MaxPacketBytes)

// newPacket seals a byte sequence into a Packet, appending the checksum.
// The checksum byte is the XOR of all preceding bytes.
func newPacket(body ...byte) (Packet, error) {
	if len(body)+1 > MaxPacketBytes {
		return Packet{}, ErrPacketTooLong
	}
	var p Packet
	var check byte
	for _, b := range body {
		p.bytes[p.n] = b
		check ^= b
		p.n++
	}
	p.bytes[p.n] = check
	p.n++
	return p, nil
}

// Len returns the number of bytes in the packet, checksum included.
func (p Packet) Len() int {
	return int(p.n)
}

// Bytes returns the packet's byte sequence, checksum included.
func (p Packet) Bytes() []byte {
	return p.bytes[:p.n]
}

// Checksum returns the trailing checksum byte.
func (p Packet) Checksum() byte {
	if p.n == 0 {
		return 0
	}
	return p.bytes[p.n-1]
}

// String renders the packet bytes in hex for diagnostics.
func (p Packet) String() string {
	s := ""
	for i, b := range p.Bytes() {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%02X", b)
	}
	return s
}
