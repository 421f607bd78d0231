// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

// Command builder functions create Message structs ready for encoding.
// These are convenience wrappers around NewMessageWithPayload that
// ensure correct payload key usage per the link protocol.

// NewDriveCommand creates a DRIVE_COMMAND message (0x10).
// Speed values: 0 stop, 1 emergency stop, 2..127 speed steps.
// Direction: 0 reverse, 1 forward.
// Duration 0 repeats the packet until the address is re-commanded.
func NewDriveCommand(address uint16, speed uint8, direction uint8, duration uint8, reply ReplyPolicy) *Message {
	payload := map[int]interface{}{
		KeyAddress:  uint64(address),
		KeyValue:    uint64(speed),
		KeyFlag:     uint64(direction),
		KeyDuration: uint64(duration),
	}
	if reply != ReplyPolicyNone {
		payload[KeyReply] = uint64(reply)
	}
	return NewMessageWithPayload(MsgDriveCommand, payload)
}

// NewAccessoryCommand creates an ACCESSORY_COMMAND message (0x11).
// Addresses 1..511 select the accessory decoder output; on activates it.
func NewAccessoryCommand(address uint16, on bool, duration uint8, reply ReplyPolicy) *Message {
	payload := map[int]interface{}{
		KeyAddress:  uint64(address),
		KeyValue:    on,
		KeyDuration: uint64(duration),
	}
	if reply != ReplyPolicyNone {
		payload[KeyReply] = uint64(reply)
	}
	return NewMessageWithPayload(MsgAccessoryCommand, payload)
}

// NewFunctionCommand creates a FUNCTION_COMMAND message (0x12).
// Function numbers 0..28; on sets the function, off clears it. The
// station radiates the whole group the function belongs to.
func NewFunctionCommand(address uint16, function uint8, on bool, duration uint8, reply ReplyPolicy) *Message {
	payload := map[int]interface{}{
		KeyAddress:  uint64(address),
		KeyValue:    uint64(function),
		KeyFlag:     on,
		KeyDuration: uint64(duration),
	}
	if reply != ReplyPolicyNone {
		payload[KeyReply] = uint64(reply)
	}
	return NewMessageWithPayload(MsgFunctionCommand, payload)
}

// NewStateCommand creates a STATE_COMMAND message (0x13).
// Radiates a locomotive's complete state: motion plus all five function
// groups from the 29-bit bitmap (bit 0 = F0 .. bit 28 = F28).
func NewStateCommand(address uint16, speed uint8, direction uint8, functions uint32, duration uint8, reply ReplyPolicy) *Message {
	payload := map[int]interface{}{
		KeyAddress:   uint64(address),
		KeyValue:     uint64(speed),
		KeyFlag:      uint64(direction),
		KeyFunctions: uint64(functions),
		KeyDuration:  uint64(duration),
	}
	if reply != ReplyPolicyNone {
		payload[KeyReply] = uint64(reply)
	}
	return NewMessageWithPayload(MsgStateCommand, payload)
}

// NewEmergencyStop creates an EMERGENCY_STOP message (0x14).
// The station broadcasts the emergency stop to all mobile decoders.
func NewEmergencyStop() *Message {
	return NewMessageWithPayload(MsgEmergencyStop, nil)
}

// NewStatusRequest creates a STATUS_REQUEST message (0x1E).
// The station responds with STATUS carrying counters and the scan table.
func NewStatusRequest() *Message {
	return NewMessageWithPayload(MsgStatusRequest, nil)
}

// NewPingRequest creates a PING_REQUEST message (0x1F).
// The station responds with PING_RESPONSE containing uptime.
func NewPingRequest() *Message {
	return NewMessageWithPayload(MsgPingRequest, nil)
}

// NewAck creates an ACK message (0x20) echoing the accepted command type.
func NewAck(echoType uint8) *Message {
	return NewMessageWithPayload(MsgAck, map[int]interface{}{
		KeyEchoType: uint64(echoType),
	})
}

// NewNack creates a NACK message (0x21) with the rejection reason.
func NewNack(echoType uint8, reason string) *Message {
	return NewMessageWithPayload(MsgNack, map[int]interface{}{
		KeyText:     reason,
		KeyEchoType: uint64(echoType),
	})
}

// NewReply creates a REPLY message (0x22) carrying a transmission
// acknowledgement requested through a command's reply policy.
func NewReply(text string) *Message {
	return NewMessageWithPayload(MsgReply, map[int]interface{}{
		KeyText: text,
	})
}

// NewPingResponse creates a PING_RESPONSE message (0x2F).
func NewPingResponse(uptimeMs uint64) *Message {
	return NewMessageWithPayload(MsgPingResponse, map[int]interface{}{
		KeyUptimeMs: uptimeMs,
	})
}

// StatusSnapshot is the station state carried by a STATUS message.
type StatusSnapshot struct {
	FreeBuffers uint32
	PacketsSent uint64
	IRQDelay    uint32
	IRQSyncs    uint64
	Scan        []ScanRow
}

// ScanRow is one active-buffer row of the status scan table.
type ScanRow struct {
	Kind    uint8 // 0 mobile, 1 accessory
	Address uint16
	Action  uint32
	Repeats uint8
	Pending uint16
}

// NewStatus creates a STATUS message (0x23) from a snapshot.
func NewStatus(s StatusSnapshot) *Message {
	rows := make([]interface{}, 0, len(s.Scan))
	for _, r := range s.Scan {
		rows = append(rows, map[int]interface{}{
			ScanKeyKind:    uint64(r.Kind),
			ScanKeyAddress: uint64(r.Address),
			ScanKeyAction:  uint64(r.Action),
			ScanKeyRepeats: uint64(r.Repeats),
			ScanKeyPending: uint64(r.Pending),
		})
	}
	return NewMessageWithPayload(MsgStatus, map[int]interface{}{
		KeyFreeBuffers: uint64(s.FreeBuffers),
		KeyPacketsSent: s.PacketsSent,
		KeyIRQDelay:    uint64(s.IRQDelay),
		KeyIRQSyncs:    s.IRQSyncs,
		KeyScan:        rows,
	})
}

// ParseStatus decodes a STATUS payload back into a snapshot.
func ParseStatus(m map[int]interface{}) StatusSnapshot {
	var s StatusSnapshot
	if v, ok := GetMapUint(m, KeyFreeBuffers); ok {
		s.FreeBuffers = uint32(v)
	}
	s.PacketsSent, _ = GetMapUint(m, KeyPacketsSent)
	if v, ok := GetMapUint(m, KeyIRQDelay); ok {
		s.IRQDelay = uint32(v)
	}
	s.IRQSyncs, _ = GetMapUint(m, KeyIRQSyncs)
	rows, _ := GetMapList(m, KeyScan)
	for _, raw := range rows {
		rm, ok := raw.(map[interface{}]interface{})
		if !ok {
			continue
		}
		entry := make(map[int]interface{}, len(rm))
		for key, val := range rm {
			switch k := key.(type) {
			case uint64:
				entry[int(k)] = val
			case int64:
				entry[int(k)] = val
			}
		}
		var r ScanRow
		if v, ok := GetMapUint(entry, ScanKeyKind); ok {
			r.Kind = uint8(v)
		}
		if v, ok := GetMapUint(entry, ScanKeyAddress); ok {
			r.Address = uint16(v)
		}
		if v, ok := GetMapUint(entry, ScanKeyAction); ok {
			r.Action = uint32(v)
		}
		if v, ok := GetMapUint(entry, ScanKeyRepeats); ok {
			r.Repeats = uint8(v)
		}
		if v, ok := GetMapUint(entry, ScanKeyPending); ok {
			r.Pending = uint16(v)
		}
		s.Scan = append(s.Scan, r)
	}
	return s
}
