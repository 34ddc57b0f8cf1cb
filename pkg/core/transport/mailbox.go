// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"

	"github.com/gomlx/ringmm/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// envelope is a message that arrived (or is being offered) and wasn't matched yet.
type envelope struct {
	source int
	tag    Tag
	data   []float64

	// delivered, if not nil, is triggered when the message is copied to a receive buffer.
	delivered *Request
}

// posting is a receive posted and not matched yet.
type posting struct {
	source int
	tag    Tag
	dst    []float64
	done   *Request
}

func (p *posting) matches(env *envelope) bool {
	return p.tag == env.tag && (p.source == AnySource || p.source == env.source)
}

// Mailbox matches incoming messages with posted receives for one rank, in arrival order.
//
// It is used by the transport implementations, and is safe for concurrent use.
type Mailbox struct {
	rank int

	mu      sync.Mutex
	arrived []*envelope
	posted  []*posting
	closed  bool
}

// NewMailbox returns an empty mailbox for the given rank.
func NewMailbox(rank int) *Mailbox {
	return &Mailbox{rank: rank}
}

// Deliver offers a message to the mailbox.
//
// If delivered is not nil, it is triggered once the message is copied to a receive buffer: the caller must not
// reuse data until then. If delivered is nil the mailbox takes ownership of data.
func (m *Mailbox) Deliver(source int, tag Tag, data []float64, delivered *Request) {
	env := &envelope{source: source, tag: tag, data: data, delivered: delivered}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if delivered != nil {
			delivered.Trigger(Status{Source: source, Err: ErrClosed})
		}
		return
	}
	for i, p := range m.posted {
		if p.matches(env) {
			m.posted = append(m.posted[:i], m.posted[i+1:]...)
			m.mu.Unlock()
			complete(p, env)
			return
		}
	}
	m.arrived = append(m.arrived, env)
	m.mu.Unlock()
	if klog.V(3).Enabled() {
		klog.Infof("rank %d: message %s from rank %d queued (%d values)", m.rank, tag, source, len(data))
	}
}

// Post posts a receive, returning the request that completes when a matching message is copied into dst.
func (m *Mailbox) Post(source int, tag Tag, dst []float64) *Request {
	p := &posting{source: source, tag: tag, dst: dst, done: xsync.NewLatchWithValue[Status]()}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return completed(source, ErrClosed)
	}
	for i, env := range m.arrived {
		if p.matches(env) {
			m.arrived = append(m.arrived[:i], m.arrived[i+1:]...)
			m.mu.Unlock()
			complete(p, env)
			return p.done
		}
	}
	m.posted = append(m.posted, p)
	m.mu.Unlock()
	return p.done
}

// Close fails every pending request with ErrClosed. Further Deliver and Post fail immediately.
func (m *Mailbox) Close() {
	m.mu.Lock()
	arrived, posted := m.arrived, m.posted
	m.arrived, m.posted, m.closed = nil, nil, true
	m.mu.Unlock()
	for _, env := range arrived {
		if env.delivered != nil {
			env.delivered.Trigger(Status{Source: env.source, Err: ErrClosed})
		}
	}
	for _, p := range posted {
		p.done.Trigger(Status{Source: p.source, Err: ErrClosed})
	}
}

// Pending returns the number of unmatched messages and receives.
func (m *Mailbox) Pending() (arrived, posted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.arrived), len(m.posted)
}

// complete copies the message into the posted buffer and triggers both sides.
func complete(p *posting, env *envelope) {
	var err error
	if len(env.data) != len(p.dst) {
		err = errors.Wrapf(ErrSizeMismatch, "message %s from rank %d has %d values, receive buffer has %d",
			env.tag, env.source, len(env.data), len(p.dst))
	} else {
		copy(p.dst, env.data)
	}
	if env.delivered != nil {
		env.delivered.Trigger(Status{Source: env.source, Err: err})
	}
	p.done.Trigger(Status{Source: env.source, Err: err})
}
