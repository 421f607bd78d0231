// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package station

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/spoorlab/dccstation/pkg/dcc"
	"github.com/spoorlab/dccstation/pkg/scheduler"
)

// Station wires the pool, timing engine, manager task and scheduler
// into the public command API. Command entry points never block: they
// compose, extend a buffer and return; failures are transient
// backpressure the caller may retry.
type Station struct {
	cfg   Config
	prof  Profile
	pool  *Pool
	eng   *Engine
	mgr   *Manager
	sched *scheduler.Scheduler
	host  *TickerHost
	drv   TrackDriver
	log   logrus.FieldLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	scanMu  sync.Mutex
	scanBuf []ScanEntry
	scanPos int
}

// New builds a station radiating through drv. The caller starts
// transmission with Start and stops it with Close.
func New(cfg Config, drv TrackDriver, log logrus.FieldLogger) (*Station, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prof, err := ProfileFor(cfg.ClockHz)
	if err != nil {
		return nil, err
	}
	if drv == nil {
		drv = NullDriver{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	pool, err := NewPool(cfg.Buffers, cfg.PendingSlots, cfg.Preamble, cfg.Postamble, log)
	if err != nil {
		return nil, err
	}

	s := &Station{
		cfg:   cfg,
		prof:  prof,
		pool:  pool,
		sched: scheduler.New(),
		drv:   drv,
		log:   log,
	}
	s.host = NewTickerHost(prof)
	sig := scheduler.NewSignal()
	s.eng = NewEngine(pool, drv, s.host, sig, prof, cfg.JitterCompensation)
	s.mgr = NewManager(pool)
	s.sched.AddTask("buffer-manager", s.mgr.Run, sig)
	return s, nil
}

// Start begins radiating: the scheduler dispatches the manager task and
// the host timer drives the engine until Close.
func (s *Station) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.sched.Run(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.host.Run(ctx, s.eng)
	}()
	s.log.WithFields(logrus.Fields{
		"clock_hz": s.cfg.ClockHz,
		"buffers":  s.cfg.Buffers,
	}).Info("command station radiating")
}

// Close stops transmission and releases the track output low.
func (s *Station) Close() error {
	var result *multierror.Error
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
		s.sched.Wait()
	}
	s.drv.SetOutput(false)
	if c, ok := s.drv.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing track driver: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Engine exposes the timing engine, for hosts that drive ticks
// themselves instead of using Start.
func (s *Station) Engine() *Engine {
	return s.eng
}

// Manager exposes the refill task for externally scheduled operation.
func (s *Station) Manager() *Manager {
	return s.mgr
}

// submit composes the common path of all command entry points: acquire
// or reuse the target's buffer, extend it with each packet, complete.
// Only the last packet carries the reply expectation.
func (s *Station) submit(target Target, action uint32, preamble uint8, duration uint8, reply ReplyRequest, pkts ...dcc.Packet) bool {
	b, seq, err := s.pool.Acquire(target, true)
	if err != nil {
		return false
	}
	for i, pkt := range pkts {
		r := ReplyRequest{}
		if i == len(pkts)-1 {
			r = reply
		}
		if err := s.pool.Extend(b, seq, pkt, preamble, s.cfg.Postamble, duration, r); err != nil {
			s.pool.Cancel(b, seq)
			return false
		}
	}
	b.action.Store(action)
	if err := s.pool.Complete(b, seq); err != nil {
		return false
	}
	return true
}

// MobileCommand sets a locomotive's speed and direction. Speed 0 stops,
// 1 is emergency stop, 2..127 select a speed step. duration 0 repeats
// until overwritten.
func (s *Station) MobileCommand(addr uint16, speed uint8, dir dcc.Direction, duration uint8, reply ReplyRequest) bool {
	pkt, err := dcc.Motion(addr, speed, dir, s.cfg.SpeedMode)
	if err != nil {
		s.log.WithError(err).Debug("mobile command rejected")
		return false
	}
	op := uint8(actionSpeed)
	if speed == dcc.SpeedEmergencyStop {
		op = actionEStop
	}
	target := Target{Kind: Mobile, Address: addr}
	return s.submit(target, actionWord(op, uint16(speed), uint8(dir)), s.cfg.Preamble, duration, reply, pkt)
}

// AccessoryCommand switches an accessory decoder output.
func (s *Station) AccessoryCommand(addr uint16, on bool, duration uint8, reply ReplyRequest) bool {
	pkt, err := dcc.Accessory(addr, on)
	if err != nil {
		s.log.WithError(err).Debug("accessory command rejected")
		return false
	}
	aux := uint8(0)
	if on {
		aux = 1
	}
	target := Target{Kind: AccessoryKind, Address: addr}
	return s.submit(target, actionWord(actionAccessory, addr, aux), s.cfg.Preamble, duration, reply, pkt)
}

// FunctionCommand sets a single decoder function on or off.
func (s *Station) FunctionCommand(addr uint16, fn uint8, on bool, duration uint8, reply ReplyRequest) bool {
	pkt, err := dcc.Function(addr, fn, on)
	if err != nil {
		s.log.WithError(err).Debug("function command rejected")
		return false
	}
	aux := uint8(0)
	if on {
		aux = 1
	}
	target := Target{Kind: Mobile, Address: addr}
	return s.submit(target, actionWord(actionFunction, uint16(fn), aux), s.cfg.Preamble, duration, reply, pkt)
}

// StateCommand radiates a locomotive's full state: motion plus the
// explicit function bitmap (bit 0 = F0 .. bit 28 = F28) as one buffer
// holding the whole packet train. No change detection is applied.
func (s *Station) StateCommand(addr uint16, speed uint8, dir dcc.Direction, functions uint32, duration uint8, reply ReplyRequest) bool {
	motion, err := dcc.Motion(addr, speed, dir, s.cfg.SpeedMode)
	if err != nil {
		s.log.WithError(err).Debug("state command rejected")
		return false
	}
	pkts := []dcc.Packet{motion}
	groups := []struct {
		fn    uint8 // any function of the group
		shift uint8 // bitmap position of the group's lowest function
		width uint8
	}{
		{0, 0, 5}, {5, 5, 4}, {9, 9, 4}, {13, 13, 8}, {21, 21, 8},
	}
	for _, g := range groups {
		bits := uint8(functions >> g.shift & (1<<g.width - 1))
		pkt, err := dcc.FunctionGroup(addr, g.fn, bits)
		if err != nil {
			s.log.WithError(err).Debug("state command rejected")
			return false
		}
		pkts = append(pkts, pkt)
	}
	target := Target{Kind: Mobile, Address: addr}
	action := actionWord(actionState, uint16(speed), uint8(functions&0x1F))
	return s.submit(target, action, s.cfg.Preamble, duration, reply, pkts...)
}

// RawCommand radiates caller-composed packets to a target. service
// selects the long programming-track preamble; postamble 0 uses the
// configured default, larger values stretch the trailing one-run for
// cutout-gap observation. No validation beyond packet composition is
// applied.
func (s *Station) RawCommand(target Target, service bool, postamble uint8, duration uint8, reply ReplyRequest, pkts ...dcc.Packet) bool {
	if len(pkts) == 0 {
		return false
	}
	pre := s.cfg.Preamble
	if service {
		pre = s.cfg.ServicePreamble
	}
	post := s.cfg.Postamble
	if postamble != 0 {
		post = postamble
	}
	b, seq, err := s.pool.Acquire(target, true)
	if err != nil {
		return false
	}
	for i, pkt := range pkts {
		r := ReplyRequest{}
		if i == len(pkts)-1 {
			r = reply
		}
		if err := s.pool.Extend(b, seq, pkt, pre, post, duration, r); err != nil {
			s.pool.Cancel(b, seq)
			return false
		}
	}
	b.action.Store(actionWord(actionRaw, uint16(len(pkts)), post))
	if err := s.pool.Complete(b, seq); err != nil {
		return false
	}
	return true
}

// EmergencyStopAll broadcasts the emergency stop to every mobile
// decoder.
func (s *Station) EmergencyStopAll(reply ReplyRequest) bool {
	return s.MobileCommand(dcc.AddressBroadcast, dcc.SpeedEmergencyStop, dcc.Forward, 0, reply)
}

// FreeBuffers returns the free transmission buffer count.
func (s *Station) FreeBuffers() int {
	return s.pool.FreeBuffers()
}

// PacketsSent returns the number of completed packet transmissions.
func (s *Station) PacketsSent() uint64 {
	return s.eng.PacketsSent()
}

// IRQDelay returns the rolling average timer overshoot in prescaled
// cycles.
func (s *Station) IRQDelay() uint32 {
	return s.eng.IRQDelay()
}

// IRQSyncs returns the number of advisory phase recalibrations applied.
func (s *Station) IRQSyncs() uint64 {
	return s.eng.IRQSyncs()
}

// ScanEntry is one live target's snapshot, as walked by external
// observers (the display).
type ScanEntry struct {
	Target  Target
	State   BufferState
	Action  uint32
	Repeats uint8
	Pending int
}

// ResetScan snapshots the active list for a read-only walk. The
// snapshot is taken in one critical section so the display never
// observes a half-mutated list.
func (s *Station) ResetScan() {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	s.scanBuf = s.scanBuf[:0]
	s.scanPos = 0

	pl := s.pool
	pl.mu.Lock()
	for b := pl.fixed.next; b != pl.fixed; b = b.next {
		s.scanBuf = append(s.scanBuf, ScanEntry{
			Target:  b.target,
			State:   b.State(),
			Action:  b.Action(),
			Repeats: b.duration,
			Pending: b.pendingCount(),
		})
	}
	pl.mu.Unlock()
}

// ScanNext returns the next snapshot entry; ok is false when the walk
// is exhausted.
func (s *Station) ScanNext() (ScanEntry, bool) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scanPos >= len(s.scanBuf) {
		return ScanEntry{}, false
	}
	e := s.scanBuf[s.scanPos]
	s.scanPos++
	return e, true
}

// Scan is the convenience form: ResetScan plus a full walk.
func (s *Station) Scan() []ScanEntry {
	s.ResetScan()
	var out []ScanEntry
	for {
		e, ok := s.ScanNext()
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}
