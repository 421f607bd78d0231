// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/spoorlab/dccstation/pkg/dcc"
	"github.com/spoorlab/dccstation/pkg/station"
)

// fakeCommander records dispatched commands and simulates exhaustion.
type fakeCommander struct {
	calls     []string
	exhausted bool
	lastReply station.ReplyRequest
}

func (f *fakeCommander) MobileCommand(addr uint16, speed uint8, dir dcc.Direction, duration uint8, reply station.ReplyRequest) bool {
	f.calls = append(f.calls, "mobile")
	f.lastReply = reply
	return !f.exhausted
}

func (f *fakeCommander) AccessoryCommand(addr uint16, on bool, duration uint8, reply station.ReplyRequest) bool {
	f.calls = append(f.calls, "accessory")
	f.lastReply = reply
	return !f.exhausted
}

func (f *fakeCommander) FunctionCommand(addr uint16, fn uint8, on bool, duration uint8, reply station.ReplyRequest) bool {
	f.calls = append(f.calls, "function")
	f.lastReply = reply
	return !f.exhausted
}

func (f *fakeCommander) StateCommand(addr uint16, speed uint8, dir dcc.Direction, functions uint32, duration uint8, reply station.ReplyRequest) bool {
	f.calls = append(f.calls, "state")
	f.lastReply = reply
	return !f.exhausted
}

func (f *fakeCommander) EmergencyStopAll(reply station.ReplyRequest) bool {
	f.calls = append(f.calls, "estop")
	return !f.exhausted
}

func (f *fakeCommander) FreeBuffers() int    { return 12 }
func (f *fakeCommander) PacketsSent() uint64 { return 500 }
func (f *fakeCommander) IRQDelay() uint32    { return 3 }
func (f *fakeCommander) IRQSyncs() uint64    { return 1 }

func (f *fakeCommander) Scan() []station.ScanEntry {
	return []station.ScanEntry{
		{Target: station.Target{Kind: station.Mobile, Address: 3}, Repeats: 0, Pending: 2},
	}
}

// scriptConn replays queued input frames and captures the responses.
type scriptConn struct {
	in  bytes.Reader
	out bytes.Buffer
}

func (c *scriptConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *scriptConn) Write(p []byte) (int, error) { return c.out.Write(p) }

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// serveScript runs the given messages through a stream session and
// returns the decoded responses.
func serveScript(t *testing.T, cmd Commander, msgs ...*Message) []*Message {
	t.Helper()
	var input bytes.Buffer
	for _, m := range msgs {
		frame, err := NewEncoder().Encode(m)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		input.Write(frame)
	}

	conn := &scriptConn{}
	conn.in.Reset(input.Bytes())

	srv := NewServer(cmd, quietLogger(), "")
	err := srv.ServeStream(context.Background(), conn)
	if err == nil {
		t.Fatal("ServeStream returned nil after input drained")
	}

	responses, err := NewDecoder().Decode(conn.out.Bytes())
	if err != nil {
		t.Fatalf("response decode: %v", err)
	}
	return responses
}

func TestServerDispatchesCommands(t *testing.T) {
	cmd := &fakeCommander{}
	responses := serveScript(t, cmd,
		NewDriveCommand(3, 64, 1, 0, ReplyPolicyNone),
		NewAccessoryCommand(200, true, 4, ReplyPolicyNone),
		NewFunctionCommand(3, 13, true, 1, ReplyPolicyNone),
		NewStateCommand(3, 50, 1, 0x21, 0, ReplyPolicyNone),
		NewEmergencyStop(),
	)

	want := []string{"mobile", "accessory", "function", "state", "estop"}
	if len(cmd.calls) != len(want) {
		t.Fatalf("dispatched %v, want %v", cmd.calls, want)
	}
	for i, w := range want {
		if cmd.calls[i] != w {
			t.Errorf("call %d = %s, want %s", i, cmd.calls[i], w)
		}
	}

	if len(responses) != 5 {
		t.Fatalf("got %d responses, want 5", len(responses))
	}
	for i, r := range responses {
		if r.Type() != MsgAck {
			t.Errorf("response %d type = %s, want ACK", i, FormatMessageType(r.Type()))
		}
	}
}

func TestServerNacksInvalidCommand(t *testing.T) {
	cmd := &fakeCommander{}
	responses := serveScript(t, cmd,
		NewDriveCommand(20000, 64, 1, 0, ReplyPolicyNone),
	)

	if len(cmd.calls) != 0 {
		t.Fatalf("invalid command reached the station: %v", cmd.calls)
	}
	if len(responses) != 1 || responses[0].Type() != MsgNack {
		t.Fatalf("expected 1 NACK, got %v", responses)
	}
	if echo, _ := GetMapUint(responses[0].PayloadMap(), KeyEchoType); echo != MsgDriveCommand {
		t.Errorf("NACK echo type = 0x%02X, want DRIVE_COMMAND", echo)
	}
}

func TestServerNacksWhenExhausted(t *testing.T) {
	cmd := &fakeCommander{exhausted: true}
	responses := serveScript(t, cmd,
		NewDriveCommand(3, 64, 1, 0, ReplyPolicyNone),
	)

	if len(responses) != 1 || responses[0].Type() != MsgNack {
		t.Fatalf("expected 1 NACK, got %v", responses)
	}
	reason, _ := GetMapString(responses[0].PayloadMap(), KeyText)
	if reason != "no free transmission buffer" {
		t.Errorf("NACK reason = %q", reason)
	}
}

func TestServerWiresReplyPolicy(t *testing.T) {
	cmd := &fakeCommander{}
	serveScript(t, cmd,
		NewDriveCommand(3, 64, 1, 2, ReplyPolicyAtEnd),
	)

	if cmd.lastReply.When != station.ReplyAtEnd {
		t.Fatalf("reply policy = %d, want at-end", cmd.lastReply.When)
	}
	if cmd.lastReply.Sink == nil {
		t.Fatal("reply sink not wired to the session")
	}
}

func TestServerAnswersStatus(t *testing.T) {
	cmd := &fakeCommander{}
	responses := serveScript(t, cmd, NewStatusRequest())

	if len(responses) != 1 || responses[0].Type() != MsgStatus {
		t.Fatalf("expected 1 STATUS, got %v", responses)
	}
	snap := ParseStatus(responses[0].PayloadMap())
	if snap.FreeBuffers != 12 || snap.PacketsSent != 500 {
		t.Errorf("counters = %+v", snap)
	}
	if len(snap.Scan) != 1 || snap.Scan[0].Address != 3 || snap.Scan[0].Pending != 2 {
		t.Errorf("scan = %+v", snap.Scan)
	}
}

func TestServerAnswersPing(t *testing.T) {
	cmd := &fakeCommander{}
	responses := serveScript(t, cmd, NewPingRequest())

	if len(responses) != 1 || responses[0].Type() != MsgPingResponse {
		t.Fatalf("expected 1 PING_RESPONSE, got %v", responses)
	}
	if _, ok := GetMapUint(responses[0].PayloadMap(), KeyUptimeMs); !ok {
		t.Error("ping response missing uptime")
	}
}

func TestServerStatisticsTrackFrames(t *testing.T) {
	cmd := &fakeCommander{}
	var input bytes.Buffer
	good, _ := NewEncoder().Encode(NewPingRequest())
	input.Write(good)
	bad, _ := NewEncoder().Encode(NewDriveCommand(20000, 1, 1, 0, ReplyPolicyNone))
	input.Write(bad)

	conn := &scriptConn{}
	conn.in.Reset(input.Bytes())
	srv := NewServer(cmd, quietLogger(), "")
	srv.ServeStream(context.Background(), conn)

	stats := srv.Statistics()
	if stats.TotalFrames != 2 {
		t.Errorf("TotalFrames = %d, want 2", stats.TotalFrames)
	}
	if stats.ValidFrames != 1 {
		t.Errorf("ValidFrames = %d, want 1", stats.ValidFrames)
	}
	if stats.MalformedFrames != 1 {
		t.Errorf("MalformedFrames = %d, want 1", stats.MalformedFrames)
	}
}
