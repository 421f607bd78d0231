// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package dcc

import "fmt"

// The bitstream encoder turns a packet into a run-length transition
// array: runs[0] counts leading 1 bits, runs[1] the following 0 bits,
// alternating, terminated by a zero count. The timing engine walks this
// array one half-bit at a time, so the representation is exactly what
// the track output needs and nothing more.

// ErrBitstreamOverflow is returned when a packet plus framing would not
// fit the fixed transition-array capacity.
var ErrBitstreamOverflow = fmt.Errorf("dcc: run-length array capacity exceeded")

// ErrBitstreamMalformed is returned by the reference decoder for arrays
// that do not decode to a framed DCC packet.
var ErrBitstreamMalformed = fmt.Errorf("dcc: malformed run-length array")

// runWriter appends bits to a run-length array, merging consecutive
// same-valued bits into the open run instead of opening degenerate
// zero-length runs.
type runWriter struct {
	runs *[MaxTransitions]uint8
	idx  int  // open run entry
	one  bool // value of the open run
	err  error
}

func (w *runWriter) emit(one bool, count uint8) {
	if w.err != nil || count == 0 {
		return
	}
	if one != w.one {
		w.idx++
		w.one = one
	}
	// Leave room for the zero terminator.
	if w.idx >= MaxTransitions-1 {
		w.err = ErrBitstreamOverflow
		return
	}
	if int(w.runs[w.idx])+int(count) > 0xFF {
		w.err = ErrBitstreamOverflow
		return
	}
	w.runs[w.idx] += count
}

// EncodeBitstream encodes a packet into runs with the given preamble and
// postamble lengths. preamble is 14 for normal commands and 20 for
// service-mode commands; postamble is normally 1, larger values create a
// deliberate silent gap used to observe a decoder cutout reply. On
// failure runs is left zeroed.
func EncodeBitstream(p Packet, preamble, postamble uint8, runs *[MaxTransitions]uint8) error {
	*runs = [MaxTransitions]uint8{}
	w := runWriter{runs: runs, one: true}
	w.emit(true, preamble)
	for _, b := range p.Bytes() {
		w.emit(false, 1) // byte-start bit
		for bit := 7; bit >= 0; bit-- {
			w.emit(b>>uint(bit)&1 == 1, 1)
		}
	}
	w.emit(true, postamble)
	if w.err != nil {
		*runs = [MaxTransitions]uint8{}
		return w.err
	}
	return nil
}

// Bits expands a run-length array back into the individual bits it
// describes. Used by the reference decoder and the encode debug command.
func Bits(runs []uint8) []bool {
	var bits []bool
	one := true
	for _, n := range runs {
		if n == 0 {
			break
		}
		for i := uint8(0); i < n; i++ {
			bits = append(bits, one)
		}
		one = !one
	}
	return bits
}

// DecodeBitstream is the reference decoder: it expands a run-length
// array and parses it back into preamble length, packet bytes (checksum
// included) and postamble length. It verifies the checksum. This is the
// inverse of EncodeBitstream for every array that encoder produces.
func DecodeBitstream(runs []uint8) (preamble int, data []byte, postamble int, err error) {
	bits := Bits(runs)
	i := 0
	for i < len(bits) && bits[i] {
		i++
	}
	preamble = i
	if preamble == 0 || i == len(bits) {
		return 0, nil, 0, ErrBitstreamMalformed
	}
	for {
		// A zero here starts another data byte; remaining ones are
		// the postamble.
		if bits[i] {
			break
		}
		i++
		if i+8 > len(bits) {
			return 0, nil, 0, ErrBitstreamMalformed
		}
		var b byte
		for k := 0; k < 8; k++ {
			b <<= 1
			if bits[i+k] {
				b |= 1
			}
		}
		data = append(data, b)
		i += 8
		if i == len(bits) {
			break
		}
	}
	for i < len(bits) {
		if !bits[i] {
			return 0, nil, 0, ErrBitstreamMalformed
		}
		postamble++
		i++
	}
	if len(data) < 2 {
		return 0, nil, 0, ErrBitstreamMalformed
	}
	var check byte
	for _, b := range data[:len(data)-1] {
		check ^= b
	}
	if check != data[len(data)-1] {
		return 0, nil, 0, fmt.Errorf("dcc: checksum mismatch: computed 0x%02X, got 0x%02X", check, data[len(data)-1])
	}
	return preamble, data, postamble, nil
}

// BitLength returns the total number of bits described by a run-length
// array.
func BitLength(runs []uint8) int {
	n := 0
	for _, r := range runs {
		if r == 0 {
			break
		}
		n += int(r)
	}
	return n
}
