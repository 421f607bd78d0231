// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package dcc

import (
	"strconv"
	"strings"
)

// FormatBits renders a run-length array as a human-readable bit string,
// grouping the preamble, start bits and data bytes for inspection.
func FormatBits(runs []uint8) string {
	bits := Bits(runs)
	var sb strings.Builder
	for i, b := range bits {
		if i > 0 && i%8 == 0 {
			sb.WriteByte(' ')
		}
		if b {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// FormatRuns renders a run-length array as "1x14 0x1 1x3 ..." pairs.
func FormatRuns(runs []uint8) string {
	var sb strings.Builder
	one := true
	for _, n := range runs {
		if n == 0 {
			break
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		if one {
			sb.WriteString("1x")
		} else {
			sb.WriteString("0x")
		}
		sb.WriteString(strconv.Itoa(int(n)))
		one = !one
	}
	return sb.String()
}
