// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/spoorlab/dccstation/pkg/dcc"
	"github.com/spoorlab/dccstation/pkg/station"
)

// Commander is the station surface the link server drives. The command
// station satisfies it; tests substitute a fake.
type Commander interface {
	MobileCommand(addr uint16, speed uint8, dir dcc.Direction, duration uint8, reply station.ReplyRequest) bool
	AccessoryCommand(addr uint16, on bool, duration uint8, reply station.ReplyRequest) bool
	FunctionCommand(addr uint16, fn uint8, on bool, duration uint8, reply station.ReplyRequest) bool
	StateCommand(addr uint16, speed uint8, dir dcc.Direction, functions uint32, duration uint8, reply station.ReplyRequest) bool
	EmergencyStopAll(reply station.ReplyRequest) bool
	FreeBuffers() int
	PacketsSent() uint64
	IRQDelay() uint32
	IRQSyncs() uint64
	Scan() []station.ScanEntry
}

// Server decodes link frames from throttle connections and dispatches
// them into the command station. One Server handles any number of
// concurrent sessions over serial streams and WebSockets.
type Server struct {
	cmd      Commander
	log      logrus.FieldLogger
	password string
	start    time.Time
	upgrader websocket.Upgrader

	statsMu sync.Mutex
	stats   *Statistics
}

// NewServer creates a link server for the given station. password, when
// non-empty, is required as HTTP basic auth on WebSocket sessions.
func NewServer(cmd Commander, log logrus.FieldLogger, password string) *Server {
	return &Server{
		cmd:      cmd,
		log:      log,
		password: password,
		start:    time.Now(),
		stats:    NewStatistics(),
	}
}

// Statistics returns a copy of the server's frame counters.
func (s *Server) Statistics() Statistics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return *s.stats
}

func (s *Server) recordFrame(msg *Message, decodeErr error, verrs []ValidationError) {
	s.statsMu.Lock()
	s.stats.Update(msg, decodeErr, verrs)
	s.statsMu.Unlock()
}

func (s *Server) recordRejection() {
	s.statsMu.Lock()
	s.stats.RejectedCommands++
	s.statsMu.Unlock()
}

// session is one throttle connection. Writes are serialized because
// transmission replies fire from the station's manager goroutine while
// the read loop answers commands.
type session struct {
	log   logrus.FieldLogger
	mu    sync.Mutex
	write func(frame []byte) error
}

// send encodes and writes a message under the session write lock.
func (c *session) send(m *Message) error {
	frame, err := EncodeFrameFromValues(m.Type(), m.PayloadMap())
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(frame)
}

// Reply implements station.ReplySink by sending a REPLY frame.
func (c *session) Reply(text string) {
	if err := c.send(NewReply(text)); err != nil {
		c.log.WithError(err).Warn("failed to send transmission reply")
	}
}

// ServeStream runs a session over a byte stream (a serial port). It
// returns when the stream errors or the context is cancelled; the
// caller closes the stream to unblock the read.
func (s *Server) ServeStream(ctx context.Context, rw io.ReadWriter) error {
	sess := &session{
		log: s.log.WithField("transport", "stream"),
		write: func(frame []byte) error {
			_, err := rw.Write(frame)
			return err
		},
	}
	dec := NewDecoder()
	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := rw.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read: %w", err)
		}
		for _, b := range buf[:n] {
			msg, err := dec.DecodeByte(b)
			if err != nil {
				s.recordFrame(nil, err, nil)
				sess.log.WithError(err).Debug("frame decode failed")
				continue
			}
			if msg != nil {
				s.dispatch(sess, msg)
			}
		}
	}
}

// HandleWebSocket upgrades an HTTP request and runs a session over the
// WebSocket. Frames travel in binary messages, one or more per message.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.password != "" {
		_, pass, ok := r.BasicAuth()
		if !ok || pass != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="dccstation"`)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.WithFields(logrus.Fields{
		"transport": "websocket",
		"remote":    conn.RemoteAddr().String(),
	})
	log.Info("throttle connected")
	defer log.Info("throttle disconnected")

	sess := &session{
		log: log,
		write: func(frame []byte) error {
			return conn.WriteMessage(websocket.BinaryMessage, frame)
		},
	}
	dec := NewDecoder()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, b := range data {
			msg, err := dec.DecodeByte(b)
			if err != nil {
				s.recordFrame(nil, err, nil)
				log.WithError(err).Debug("frame decode failed")
				continue
			}
			if msg != nil {
				s.dispatch(sess, msg)
			}
		}
	}
}

// dispatch validates a message and routes it into the station,
// answering with ACK/NACK or the requested data.
func (s *Server) dispatch(sess *session, msg *Message) {
	verrs := ValidateMessage(msg)
	s.recordFrame(msg, nil, verrs)
	if len(verrs) > 0 {
		sess.log.WithField("type", FormatMessageType(msg.Type())).
			WithField("reason", verrs[0].Message).Debug("command rejected")
		s.respond(sess, NewNack(msg.Type(), verrs[0].Message))
		return
	}

	switch msg.Type() {
	case MsgDriveCommand:
		s.handleDrive(sess, msg)
	case MsgAccessoryCommand:
		s.handleAccessory(sess, msg)
	case MsgFunctionCommand:
		s.handleFunction(sess, msg)
	case MsgStateCommand:
		s.handleState(sess, msg)
	case MsgEmergencyStop:
		s.accept(sess, msg.Type(), s.cmd.EmergencyStopAll(station.ReplyRequest{}))
	case MsgStatusRequest:
		s.respond(sess, NewStatus(s.snapshot()))
	case MsgPingRequest:
		s.respond(sess, NewPingResponse(uint64(time.Since(s.start).Milliseconds())))
	default:
		s.respond(sess, NewNack(msg.Type(), "unsupported message type"))
	}
}

func (s *Server) respond(sess *session, m *Message) {
	if err := sess.send(m); err != nil {
		sess.log.WithError(err).Warn("failed to send response")
	}
}

// accept answers a command with ACK, or with the exhaustion NACK when
// the station reported a transient failure.
func (s *Server) accept(sess *session, echoType uint8, ok bool) {
	if !ok {
		s.recordRejection()
		s.respond(sess, NewNack(echoType, "no free transmission buffer"))
		return
	}
	s.respond(sess, NewAck(echoType))
}

// replyRequest builds the station-side reply hook for a command's
// wire reply policy.
func replyRequest(sess *session, m map[int]interface{}, text string) station.ReplyRequest {
	policy, _ := GetMapUint(m, KeyReply)
	switch ReplyPolicy(policy) {
	case ReplyPolicyAtStart:
		return station.ReplyRequest{When: station.ReplyAtStart, Sink: sess, Text: text}
	case ReplyPolicyAtEnd:
		return station.ReplyRequest{When: station.ReplyAtEnd, Sink: sess, Text: text}
	default:
		return station.ReplyRequest{}
	}
}

func (s *Server) handleDrive(sess *session, msg *Message) {
	m := msg.PayloadMap()
	addr, _ := GetMapUint(m, KeyAddress)
	speed, _ := GetMapUint(m, KeyValue)
	dir, _ := GetMapUint(m, KeyFlag)
	duration, _ := GetMapUint(m, KeyDuration)

	reply := replyRequest(sess, m, fmt.Sprintf("drive %d", addr))
	ok := s.cmd.MobileCommand(uint16(addr), uint8(speed), dcc.Direction(dir), uint8(duration), reply)
	s.accept(sess, msg.Type(), ok)
}

func (s *Server) handleAccessory(sess *session, msg *Message) {
	m := msg.PayloadMap()
	addr, _ := GetMapUint(m, KeyAddress)
	on, _ := GetMapBool(m, KeyValue)
	duration, _ := GetMapUint(m, KeyDuration)

	reply := replyRequest(sess, m, fmt.Sprintf("accessory %d", addr))
	ok := s.cmd.AccessoryCommand(uint16(addr), on, uint8(duration), reply)
	s.accept(sess, msg.Type(), ok)
}

func (s *Server) handleFunction(sess *session, msg *Message) {
	m := msg.PayloadMap()
	addr, _ := GetMapUint(m, KeyAddress)
	fn, _ := GetMapUint(m, KeyValue)
	on, _ := GetMapBool(m, KeyFlag)
	duration, _ := GetMapUint(m, KeyDuration)

	reply := replyRequest(sess, m, fmt.Sprintf("function %d F%d", addr, fn))
	ok := s.cmd.FunctionCommand(uint16(addr), uint8(fn), on, uint8(duration), reply)
	s.accept(sess, msg.Type(), ok)
}

func (s *Server) handleState(sess *session, msg *Message) {
	m := msg.PayloadMap()
	addr, _ := GetMapUint(m, KeyAddress)
	speed, _ := GetMapUint(m, KeyValue)
	dir, _ := GetMapUint(m, KeyFlag)
	fns, _ := GetMapUint(m, KeyFunctions)
	duration, _ := GetMapUint(m, KeyDuration)

	reply := replyRequest(sess, m, fmt.Sprintf("state %d", addr))
	ok := s.cmd.StateCommand(uint16(addr), uint8(speed), dcc.Direction(dir), uint32(fns), uint8(duration), reply)
	s.accept(sess, msg.Type(), ok)
}

// snapshot gathers the station counters and scan table for a STATUS
// response.
func (s *Server) snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		FreeBuffers: uint32(s.cmd.FreeBuffers()),
		PacketsSent: s.cmd.PacketsSent(),
		IRQDelay:    s.cmd.IRQDelay(),
		IRQSyncs:    s.cmd.IRQSyncs(),
	}
	for _, e := range s.cmd.Scan() {
		snap.Scan = append(snap.Scan, ScanRow{
			Kind:    uint8(e.Target.Kind),
			Address: e.Target.Address,
			Action:  e.Action,
			Repeats: e.Repeats,
			Pending: uint16(e.Pending),
		})
	}
	return snap
}
