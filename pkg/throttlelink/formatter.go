// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

import (
	"fmt"
	"time"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m *Message) string {
	timestamp := m.Timestamp().Format("15:04:05.000")
	msgType := FormatMessageType(m.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", timestamp, msgType, m.Type(), m.Length())
	result += FormatPayloadMap(m.Type(), m.PayloadMap())

	return result
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	// Commands (0x10-0x1F)
	case MsgDriveCommand:
		return "DRIVE_COMMAND"
	case MsgAccessoryCommand:
		return "ACCESSORY_COMMAND"
	case MsgFunctionCommand:
		return "FUNCTION_COMMAND"
	case MsgStateCommand:
		return "STATE_COMMAND"
	case MsgEmergencyStop:
		return "EMERGENCY_STOP"
	case MsgStatusRequest:
		return "STATUS_REQUEST"
	case MsgPingRequest:
		return "PING_REQUEST"

	// Responses (0x20-0x2F)
	case MsgAck:
		return "ACK"
	case MsgNack:
		return "NACK"
	case MsgReply:
		return "REPLY"
	case MsgStatus:
		return "STATUS"
	case MsgPingResponse:
		return "PING_RESPONSE"

	default:
		return "UNKNOWN"
	}
}

// FormatPayloadMap formats the CBOR payload map based on message type
func FormatPayloadMap(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case MsgEmergencyStop, MsgStatusRequest, MsgPingRequest:
		return "  (no payload)\n"

	case MsgDriveCommand:
		addr, _ := GetMapUint(m, KeyAddress)
		speed, _ := GetMapUint(m, KeyValue)
		dir, _ := GetMapUint(m, KeyFlag)
		return fmt.Sprintf("  Address: %d, Speed: %s, Direction: %s%s\n",
			addr, formatSpeed(speed), formatDirection(dir), formatCommandTail(m))

	case MsgAccessoryCommand:
		addr, _ := GetMapUint(m, KeyAddress)
		on, _ := GetMapBool(m, KeyValue)
		return fmt.Sprintf("  Address: %d, Output: %s%s\n",
			addr, formatOnOff(on), formatCommandTail(m))

	case MsgFunctionCommand:
		addr, _ := GetMapUint(m, KeyAddress)
		fn, _ := GetMapUint(m, KeyValue)
		on, _ := GetMapBool(m, KeyFlag)
		return fmt.Sprintf("  Address: %d, F%d: %s%s\n",
			addr, fn, formatOnOff(on), formatCommandTail(m))

	case MsgStateCommand:
		addr, _ := GetMapUint(m, KeyAddress)
		speed, _ := GetMapUint(m, KeyValue)
		dir, _ := GetMapUint(m, KeyFlag)
		fns, _ := GetMapUint(m, KeyFunctions)
		return fmt.Sprintf("  Address: %d, Speed: %s, Direction: %s, Functions: %#08x%s\n",
			addr, formatSpeed(speed), formatDirection(dir), fns, formatCommandTail(m))

	case MsgAck:
		echo, _ := GetMapUint(m, KeyEchoType)
		return fmt.Sprintf("  Accepted: %s\n", FormatMessageType(uint8(echo)))

	case MsgNack:
		echo, _ := GetMapUint(m, KeyEchoType)
		reason, _ := GetMapString(m, KeyText)
		return fmt.Sprintf("  Rejected: %s (%s)\n", FormatMessageType(uint8(echo)), reason)

	case MsgReply:
		text, _ := GetMapString(m, KeyText)
		return fmt.Sprintf("  Reply: %s\n", text)

	case MsgStatus:
		s := ParseStatus(m)
		result := fmt.Sprintf("  Free buffers: %d, Packets sent: %d, IRQ delay: %d cycles, IRQ syncs: %d\n",
			s.FreeBuffers, s.PacketsSent, s.IRQDelay, s.IRQSyncs)
		for _, r := range s.Scan {
			result += fmt.Sprintf("    %s %d: action=%#08x repeats=%d pending=%d\n",
				formatKind(r.Kind), r.Address, r.Action, r.Repeats, r.Pending)
		}
		return result

	case MsgPingResponse:
		uptime, _ := GetMapUint(m, KeyUptimeMs)
		return fmt.Sprintf("  Uptime: %s\n", formatDuration(uptime))

	default:
		return fmt.Sprintf("  Raw: %v\n", m)
	}
}

// formatCommandTail renders the shared duration and reply-policy suffix
func formatCommandTail(m map[int]interface{}) string {
	result := ""
	if d, ok := GetMapUint(m, KeyDuration); ok {
		if d == 0 {
			result += ", Duration: forever"
		} else {
			result += fmt.Sprintf(", Duration: %d", d)
		}
	}
	if r, ok := GetMapUint(m, KeyReply); ok {
		result += fmt.Sprintf(", Reply: %s", formatReplyPolicy(ReplyPolicy(r)))
	}
	return result
}

func formatSpeed(speed uint64) string {
	switch speed {
	case 0:
		return "stop"
	case 1:
		return "emergency stop"
	default:
		return fmt.Sprintf("%d", speed)
	}
}

func formatDirection(dir uint64) string {
	if dir == 0 {
		return "reverse"
	}
	return "forward"
}

func formatOnOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func formatKind(kind uint8) string {
	if kind == 0 {
		return "mobile"
	}
	return "accessory"
}

func formatReplyPolicy(r ReplyPolicy) string {
	switch r {
	case ReplyPolicyNone:
		return "none"
	case ReplyPolicyAtStart:
		return "at-start"
	case ReplyPolicyAtEnd:
		return "at-end"
	default:
		return fmt.Sprintf("unknown (%d)", int(r))
	}
}

func formatDuration(ms uint64) string {
	return time.Duration(ms * uint64(time.Millisecond)).String()
}
