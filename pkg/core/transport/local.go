// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"

	"github.com/gomlx/ringmm/pkg/support/xsync"
	"github.com/pkg/errors"
)

// Local is the Transport of one rank of an in-process group, see NewLocalGroup.
//
// Sends are rendezvous: a send completes once the receiver copied the data into its receive buffer.
type Local struct {
	rank      int
	mailboxes []*Mailbox
}

var _ Transport = (*Local)(nil)

// NewLocalGroup creates the transports of a group of size ranks living in the same process.
// Element r of the returned slice is to be used by rank r.
func NewLocalGroup(size int) ([]*Local, error) {
	if size <= 0 {
		return nil, errors.Errorf("group size must be > 0, got %d", size)
	}
	mailboxes := make([]*Mailbox, size)
	for rank := range mailboxes {
		mailboxes[rank] = NewMailbox(rank)
	}
	group := make([]*Local, size)
	for rank := range group {
		group[rank] = &Local{rank: rank, mailboxes: mailboxes}
	}
	return group, nil
}

// Rank implements Transport.
func (l *Local) Rank() int { return l.rank }

// Size implements Transport.
func (l *Local) Size() int { return len(l.mailboxes) }

// Isend implements Transport.
func (l *Local) Isend(_ context.Context, to int, tag Tag, data []float64) *Request {
	if to < 0 || to >= len(l.mailboxes) {
		return completed(l.rank, errors.Errorf("rank %d: invalid destination rank %d", l.rank, to))
	}
	delivered := xsync.NewLatchWithValue[Status]()
	l.mailboxes[to].Deliver(l.rank, tag, data, delivered)
	return delivered
}

// Irecv implements Transport.
func (l *Local) Irecv(_ context.Context, source int, tag Tag, dst []float64) *Request {
	if source != AnySource && (source < 0 || source >= len(l.mailboxes)) {
		return completed(source, errors.Errorf("rank %d: invalid source rank %d", l.rank, source))
	}
	return l.mailboxes[l.rank].Post(source, tag, dst)
}

// Close implements Transport. It closes only this rank's mailbox.
func (l *Local) Close() error {
	l.mailboxes[l.rank].Close()
	return nil
}
