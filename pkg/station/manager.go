// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package station

// Manager is the background task woken by the timing engine's
// completion signal. One invocation drains every buffer currently in
// StateLoad, not just one: several buffers can cross their traversal
// boundary between two schedulings of the task.
type Manager struct {
	pool *Pool
}

// NewManager creates the refill task over a pool.
func NewManager(pool *Pool) *Manager {
	return &Manager{pool: pool}
}

// Run is the task handler registered with the scheduler.
func (m *Manager) Run() {
	for {
		b := m.nextLoad()
		if b == nil {
			return
		}
		m.service(b)
	}
}

// nextLoad finds a buffer awaiting service. The list is rescanned from
// the top after each service so detaching never invalidates iteration.
func (m *Manager) nextLoad() *Buffer {
	pl := m.pool
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for b := pl.fixed.next; b != pl.fixed; b = b.next {
		if b.State() == StateLoad {
			return b
		}
	}
	return nil
}

// service refills or retires one load-state buffer. While in StateLoad
// the buffer's array and adopted fields are exclusively ours; the
// engine skips load buffers.
func (m *Manager) service(b *Buffer) {
	pl := m.pool

	for {
		var fired *ReplyRequest
		ok, had := pl.encodeHead(b, &fired)
		if ok {
			b.setState(StateRun)
			if fired != nil {
				fired.Sink.Reply(fired.Text)
			}
			return
		}
		if had {
			// The head packet was unencodable (capacity overflow);
			// encodeHead already recycled its slot. Try the next.
			pl.log.WithField("target", b.target).Warn("dropping unencodable pending packet")
			continue
		}

		// Nothing left to send: detach from the circular list and
		// return the buffer to the free list.
		pl.mu.Lock()
		reply := b.reply
		pl.removeLocked(b)
		pl.releaseLocked(b)
		pl.mu.Unlock()

		if reply.When == ReplyAtEnd && reply.Sink != nil {
			reply.Sink.Reply(reply.Text)
		}
		return
	}
}
