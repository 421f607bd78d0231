// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package station

import "fmt"

// The action word is an opaque uint32 recording exactly what a buffer
// is currently sending, for read-only introspection by the scan API.
// Layout: op in bits 24..31, primary value in bits 8..23, auxiliary
// flags in bits 0..7.

const (
	actionIdle      = 0x00
	actionSpeed     = 0x01
	actionEStop     = 0x02
	actionFunction  = 0x03
	actionAccessory = 0x04
	actionState     = 0x05
	actionRaw       = 0x06
)

func actionWord(op uint8, value uint16, aux uint8) uint32 {
	return uint32(op)<<24 | uint32(value)<<8 | uint32(aux)
}

// FormatAction renders an action word for display.
func FormatAction(w uint32) string {
	op := uint8(w >> 24)
	value := uint16(w >> 8)
	aux := uint8(w)
	switch op {
	case actionIdle:
		return "idle"
	case actionSpeed:
		dir := "rev"
		if aux != 0 {
			dir = "fwd"
		}
		return fmt.Sprintf("speed %d %s", value, dir)
	case actionEStop:
		return "emergency stop"
	case actionFunction:
		state := "off"
		if aux != 0 {
			state = "on"
		}
		return fmt.Sprintf("F%d %s", value, state)
	case actionAccessory:
		state := "off"
		if aux != 0 {
			state = "on"
		}
		return fmt.Sprintf("output %s", state)
	case actionState:
		return fmt.Sprintf("state speed %d fn %#x", value, aux)
	case actionRaw:
		return fmt.Sprintf("raw x%d", value)
	}
	return fmt.Sprintf("unknown %#08x", w)
}
