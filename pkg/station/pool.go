// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package station

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/spoorlab/dccstation/pkg/dcc"
)

// Resource-exhaustion failures. Transient: callers retry once resources
// return to the free lists through normal transmission completion.
var (
	ErrNoFreeBuffer  = fmt.Errorf("station: no free transmission buffer")
	ErrNoFreePending = fmt.Errorf("station: no free pending-packet slot")
	ErrStaleSequence = fmt.Errorf("station: stale overwrite sequence")
	ErrNotOwned      = fmt.Errorf("station: buffer not under construction")
)

// Pool owns the fixed arenas of transmission buffers and pending-packet
// slots, the free lists, and the circular active list. Its mutex is the
// analogue of the firmware's global interrupt mask: a short critical
// section around list-pointer mutation and state transitions, never
// around steady-state array traversal.
type Pool struct {
	mu sync.Mutex

	bufArena  []Buffer
	pendArena []pending
	freeBuf   *Buffer
	freePend  *pending
	freeCount int

	// fixed is the permanent idle buffer: the active list is circular
	// and always contains at least this buffer, so the timing engine
	// never special-cases an empty list.
	fixed *Buffer

	seq uint64 // monotonic acquire sequence, stamps buffers

	log logrus.FieldLogger

	// Halt is invoked on a programmer/invariant violation. Continuing
	// would radiate an undefined signal to the track, so the default
	// logs and terminates the process.
	Halt func(format string, args ...interface{})

	exhaustedLogged bool
}

// NewPool builds the arenas and the active list containing only the
// fixed idle buffer.
func NewPool(buffers, pendingSlots int, preamble, postamble uint8, log logrus.FieldLogger) (*Pool, error) {
	if buffers < 2 {
		return nil, fmt.Errorf("station: pool needs at least 2 buffers (fixed + 1), got %d", buffers)
	}
	if pendingSlots < 1 {
		return nil, fmt.Errorf("station: pool needs at least 1 pending slot, got %d", pendingSlots)
	}
	pl := &Pool{
		bufArena:  make([]Buffer, buffers),
		pendArena: make([]pending, pendingSlots),
		log:       log,
	}
	pl.Halt = func(format string, args ...interface{}) {
		pl.log.Fatalf("invariant violation, halting: "+format, args...)
	}

	// Slot 0 is the fixed buffer; the rest go to the free list.
	pl.fixed = &pl.bufArena[0]
	pl.fixed.setState(StateFixed)
	pl.fixed.target = Target{Kind: Mobile, Address: dcc.AddressBroadcast}
	pl.fixed.action.Store(actionWord(actionIdle, 0, 0))
	if err := dcc.EncodeBitstream(dcc.Idle(), preamble, postamble, &pl.fixed.runs); err != nil {
		return nil, fmt.Errorf("station: encoding idle packet: %w", err)
	}
	pl.fixed.next = pl.fixed
	pl.fixed.prevNext = &pl.fixed.next

	for i := buffers - 1; i >= 1; i-- {
		b := &pl.bufArena[i]
		b.setState(StateEmpty)
		b.free = pl.freeBuf
		pl.freeBuf = b
		pl.freeCount++
	}
	for i := pendingSlots - 1; i >= 0; i-- {
		p := &pl.pendArena[i]
		p.next = pl.freePend
		pl.freePend = p
	}
	return pl, nil
}

// Fixed returns the permanent idle buffer.
func (pl *Pool) Fixed() *Buffer {
	return pl.fixed
}

// FreeBuffers returns the number of buffers on the free list.
func (pl *Pool) FreeBuffers() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.freeCount
}

// logExhausted reports a resource-exhaustion episode once, then stays
// quiet until resources have been freed again. Caller holds mu.
func (pl *Pool) logExhausted(what string) {
	if !pl.exhaustedLogged {
		pl.exhaustedLogged = true
		pl.log.WithField("resource", what).Warn("transmission resources exhausted; commands will fail until buffers free up")
	}
}

// findLive returns the live buffer for a target, or nil. Caller holds mu.
func (pl *Pool) findLive(target Target) *Buffer {
	for b := pl.fixed.next; b != pl.fixed; b = b.next {
		if b.target == target && b.State().live() {
			return b
		}
	}
	return nil
}

// Acquire pulls a buffer from the free list for the given target. With
// overwrite set and a live buffer already radiating to that target, the
// live buffer is returned instead and its pending queue is superseded
// outright; at most one live buffer exists per target. The returned
// sequence must accompany Extend/Complete/Cancel calls for this
// acquisition; a later acquisition of the same buffer invalidates it.
func (pl *Pool) Acquire(target Target, overwrite bool) (*Buffer, uint64, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pl.seq++
	if overwrite {
		if b := pl.findLive(target); b != nil {
			pl.dropPendingLocked(b)
			b.seq = pl.seq
			return b, pl.seq, nil
		}
	}
	b := pl.freeBuf
	if b == nil {
		pl.logExhausted("buffer")
		return nil, 0, ErrNoFreeBuffer
	}
	pl.freeBuf = b.free
	pl.freeCount--
	b.free = nil
	b.target = target
	b.seq = pl.seq
	b.duration = 0
	b.reply = ReplyRequest{}
	b.pendHead, b.pendTail = nil, nil
	b.setState(StateLoad)
	return b, pl.seq, nil
}

// Extend appends a composed packet to a buffer under construction or
// already running. Extending a running buffer flips it to StateReload so
// the timing engine triggers a reload at the next traversal boundary
// rather than mid-transmission.
func (pl *Pool) Extend(b *Buffer, seq uint64, pkt dcc.Packet, preamble, postamble, duration uint8, reply ReplyRequest) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if b.seq != seq {
		return ErrStaleSequence
	}
	p := pl.freePend
	if p == nil {
		pl.logExhausted("pending slot")
		return ErrNoFreePending
	}
	pl.freePend = p.next

	p.packet = pkt
	p.preamble = preamble
	p.postamble = postamble
	p.duration = duration
	p.reply = reply
	p.next = nil
	if b.pendTail != nil {
		b.pendTail.next = p
	} else {
		b.pendHead = p
	}
	b.pendTail = p

	if b.State() == StateRun {
		b.setState(StateReload)
	}
	return nil
}

// Complete finalizes construction. A newly acquired buffer gets its
// first pending packet encoded synchronously (outside interrupt
// context) and joins the active list in StateRun, so transmission can
// start on the next traversal boundary. For an extension of a live
// buffer the reload mechanism takes over asynchronously and Complete
// only validates the sequence.
func (pl *Pool) Complete(b *Buffer, seq uint64) error {
	pl.mu.Lock()
	if b.seq != seq {
		pl.mu.Unlock()
		return ErrStaleSequence
	}
	st := b.State()
	if st != StateLoad {
		// Live extension; the engine finishes the current array and
		// the manager task reloads.
		pl.mu.Unlock()
		if st == StateReload {
			return nil
		}
		return ErrNotOwned
	}
	if b.pendHead == nil {
		pl.mu.Unlock()
		return ErrNotOwned
	}
	inList := b.prevNext != nil
	pl.mu.Unlock()

	if inList {
		// Already circulating (a reload emptied it to StateLoad while
		// we extended it); the manager task will pick it up.
		return nil
	}

	// The buffer is invisible to the engine until inserted, so the
	// encode needs no critical section.
	var fired *ReplyRequest
	if ok, _ := pl.encodeHead(b, &fired); !ok {
		// First packet unencodable; the API validated sizes, so this
		// is a capacity overflow. Fail construction cleanly.
		pl.Cancel(b, seq)
		return dcc.ErrBitstreamOverflow
	}

	pl.mu.Lock()
	b.setState(StateRun)
	pl.insertLocked(b)
	pl.mu.Unlock()

	if fired != nil {
		fired.Sink.Reply(fired.Text)
	}
	return nil
}

// Cancel returns a not-yet-completed buffer and its pending chain to
// the free lists.
func (pl *Pool) Cancel(b *Buffer, seq uint64) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if b.seq != seq {
		return ErrStaleSequence
	}
	if b.State() != StateLoad || b.prevNext != nil {
		return ErrNotOwned
	}
	pl.dropPendingLocked(b)
	pl.releaseLocked(b)
	return nil
}

// encodeHead pops the head pending packet and encodes it into the
// buffer's run-length array, adopting its framing, duration and reply
// policy. had reports whether a head packet existed; ok whether it
// encoded (a popped packet returns to the free list either way). If
// the encoded packet is the queue's last entry and requests a reply at
// start, fired is set for the caller to release outside the critical
// section.
//
// The caller must own the buffer (StateLoad, or not yet inserted).
func (pl *Pool) encodeHead(b *Buffer, fired **ReplyRequest) (ok, had bool) {
	pl.mu.Lock()
	p := b.pendHead
	if p == nil {
		pl.mu.Unlock()
		return false, false
	}
	b.pendHead = p.next
	if b.pendHead == nil {
		b.pendTail = nil
	}
	wasLast := b.pendHead == nil
	pl.mu.Unlock()

	ok = dcc.EncodeBitstream(p.packet, p.preamble, p.postamble, &b.runs) == nil
	if ok {
		b.duration = p.duration
		b.reply = p.reply
		if p.reply.When == ReplyAtStart && wasLast && p.reply.Sink != nil {
			// "Received at least once" semantics: the reply fires the
			// moment this packet becomes the one being radiated, not
			// when it finishes.
			req := p.reply
			*fired = &req
			b.reply = ReplyRequest{} // consumed; nothing fires at end
		}
	}

	pl.mu.Lock()
	p.next = pl.freePend
	pl.freePend = p
	pl.exhaustedLogged = false
	pl.mu.Unlock()
	return ok, true
}

// insertLocked links a buffer into the circular active list, after the
// fixed buffer. Caller holds mu.
func (pl *Pool) insertLocked(b *Buffer) {
	b.next = pl.fixed.next
	b.next.prevNext = &b.next
	pl.fixed.next = b
	b.prevNext = &pl.fixed.next
}

// removeLocked unlinks a buffer from the circular list in O(1) via its
// back-pointer. Caller holds mu; the engine cursor must not be on b.
func (pl *Pool) removeLocked(b *Buffer) {
	if b.prevNext == nil {
		pl.Halt("removing buffer %v not in active list", b.target)
		return
	}
	*b.prevNext = b.next
	b.next.prevNext = b.prevNext
	b.next = nil
	b.prevNext = nil
}

// releaseLocked puts a buffer back on the free list. Caller holds mu.
func (pl *Pool) releaseLocked(b *Buffer) {
	if b == pl.fixed {
		pl.Halt("attempt to free the fixed buffer")
		return
	}
	if b.pendHead != nil {
		pl.Halt("freeing buffer %v with pending packets attached", b.target)
		return
	}
	b.setState(StateEmpty)
	b.action.Store(0)
	b.reply = ReplyRequest{}
	b.free = pl.freeBuf
	pl.freeBuf = b
	pl.freeCount++
	pl.exhaustedLogged = false
}

// dropPendingLocked returns a buffer's whole pending chain to the free
// list. Caller holds mu.
func (pl *Pool) dropPendingLocked(b *Buffer) {
	for p := b.pendHead; p != nil; {
		next := p.next
		p.next = pl.freePend
		pl.freePend = p
		p = next
	}
	b.pendHead, b.pendTail = nil, nil
}
