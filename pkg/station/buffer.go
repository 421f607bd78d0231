// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

// Package station implements the DCC command station core: the
// transmission buffer pool and its produce/consume state machine, the
// timing engine that radiates the track signal, the manager task that
// refills buffers, and the public command API.
package station

import (
	"sync/atomic"

	"github.com/spoorlab/dccstation/pkg/dcc"
)

// BufferState tags the produce/consume state machine. Each state value
// designates exactly one writer for the buffer's mutable fields:
//
//	StateEmpty  - pool (free list); the buffer owns nothing
//	StateFixed  - nobody; the permanent idle buffer, never freed
//	StateLoad   - manager task; run-length array may be rewritten
//	StateRun    - timing engine; array is read-only, repeat counter
//	              decremented per full traversal
//	StateReload - timing engine; finishes the current traversal, then
//	              flips to StateLoad instead of repeating
type BufferState uint32

const (
	StateEmpty BufferState = iota
	StateFixed
	StateLoad
	StateRun
	StateReload
)

// String returns the state name for diagnostics.
func (s BufferState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFixed:
		return "fixed"
	case StateLoad:
		return "load"
	case StateRun:
		return "run"
	case StateReload:
		return "reload"
	}
	return "invalid"
}

// live reports whether a buffer in this state belongs to the active
// circular list.
func (s BufferState) live() bool {
	return s == StateFixed || s == StateLoad || s == StateRun || s == StateReload
}

// playable reports whether the timing engine may radiate the buffer's
// run-length array. Load buffers are skipped: their array is owned by
// the manager task.
func (s BufferState) playable() bool {
	return s == StateFixed || s == StateRun || s == StateReload
}

// TargetKind distinguishes mobile from accessory decoder targets.
type TargetKind uint8

const (
	Mobile TargetKind = iota
	AccessoryKind
)

func (k TargetKind) String() string {
	if k == AccessoryKind {
		return "accessory"
	}
	return "mobile"
}

// Target identifies what a buffer radiates to: decoder kind plus
// address. At most one live buffer exists per target when commands use
// overwrite semantics.
type Target struct {
	Kind    TargetKind
	Address uint16
}

// ReplyWhen selects when a requested reply fires.
type ReplyWhen uint8

const (
	ReplyNone    ReplyWhen = iota
	ReplyAtStart           // when the packet becomes the one being radiated
	ReplyAtEnd             // when the buffer is freed after full completion
)

// ReplySink receives the acknowledgement text when a reply policy fires.
// Implementations must not call back into the station.
type ReplySink interface {
	Reply(text string)
}

// ReplyRequest is the caller-supplied reply expectation attached to a
// command.
type ReplyRequest struct {
	When ReplyWhen
	Sink ReplySink
	Text string
}

// pending is one fully composed command awaiting bitstream encoding,
// linked into a buffer's queue. Slots live in a fixed arena and cycle
// through the pool's free list; they are never heap-allocated after
// pool construction.
type pending struct {
	packet    dcc.Packet
	preamble  uint8
	postamble uint8
	duration  uint8 // remaining repeats; 0 repeats forever
	reply     ReplyRequest
	next      *pending
}

// Buffer is one slot of the circular active list: the unit of
// radiation. The runs array is walked by the timing engine while the
// buffer is playable and rewritten by the manager task while it is in
// StateLoad; the state tag arbitrates, so no per-field locking exists.
type Buffer struct {
	state  atomic.Uint32
	target Target
	action atomic.Uint32 // opaque "last action" word for introspection
	seq    uint64        // acquire sequence, guards stale overwrites

	// Owned by the state's designated writer.
	duration uint8 // repeat counter; 0 means repeat forever
	runs     [dcc.MaxTransitions]uint8

	// Pending queue, guarded by the pool's critical section.
	pendHead *pending
	pendTail *pending

	// Reply policy adopted from the most recently encoded pending.
	reply ReplyRequest

	// Circular list links: next pointer plus a back-pointer to the
	// slot holding our next pointer, for O(1) removal.
	next     *Buffer
	prevNext **Buffer

	// Free-list link while StateEmpty.
	free *Buffer
}

// State returns the buffer's current state tag.
func (b *Buffer) State() BufferState {
	return BufferState(b.state.Load())
}

func (b *Buffer) setState(s BufferState) {
	b.state.Store(uint32(s))
}

// Target returns the buffer's target identity.
func (b *Buffer) Target() Target {
	return b.target
}

// Action returns the opaque action word recording what the buffer is
// currently sending.
func (b *Buffer) Action() uint32 {
	return b.action.Load()
}

// pendingCount walks the queue; caller holds the pool critical section.
func (b *Buffer) pendingCount() int {
	n := 0
	for p := b.pendHead; p != nil; p = p.next {
		n++
	}
	return n
}
