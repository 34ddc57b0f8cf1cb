// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transport defines point-to-point, non-blocking message passing between the ranks of a group.
//
// Messages are float64 vectors matched on (source, tag), with AnySource as a wildcard for the source.
// Both Isend and Irecv return immediately with a Request that completes when the operation does, so the
// caller can overlap computation with communication and then wait with a bounded timeout.
//
// Two implementations are provided: Local (ranks are goroutines of the same process, see NewLocalGroup)
// and grpcring (ranks are processes talking gRPC, see package transport/grpcring).
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gomlx/ringmm/pkg/support/xsync"
	"github.com/pkg/errors"
)

// AnySource can be used as source in Irecv to match messages from any rank.
const AnySource = -1

// Kind of message, the namespace of a Tag.
type Kind uint8

const (
	// KindRing messages carry operand blocks around the ring. Seq is the round that consumes them.
	KindRing Kind = iota + 1

	// KindGather messages carry a member's result slice to the writer of a collective write.
	KindGather

	// KindRelease messages release the members of a collective operation.
	KindRelease

	// KindBarrier messages announce the arrival of a rank at a barrier.
	KindBarrier
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindRing:
		return "ring"
	case KindGather:
		return "gather"
	case KindRelease:
		return "release"
	case KindBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Tag identifies a message. Two messages from the same source must not share a tag while one of them is pending.
type Tag struct {
	Kind Kind
	Seq  int
}

// String implements fmt.Stringer.
func (t Tag) String() string {
	return fmt.Sprintf("%s#%d", t.Kind, t.Seq)
}

// RingTag returns the tag of the ring message consumed at the given round.
func RingTag(round int) Tag { return Tag{Kind: KindRing, Seq: round} }

// Status of a completed Request.
type Status struct {
	// Source rank of the message matched by a receive. For sends, it's the sender's rank.
	Source int

	// Err is the error the operation completed with, nil on success.
	Err error
}

// Request is the completion of a non-blocking operation.
type Request = xsync.LatchWithValue[Status]

// ErrClosed is reported by operations pending or posted after the transport is closed.
var ErrClosed = errors.New("transport closed")

// ErrSizeMismatch is reported when a message doesn't fit exactly the receive buffer.
var ErrSizeMismatch = errors.New("message size mismatch")

// Transport is the view one rank has of its group.
type Transport interface {
	// Rank of the owner of this transport in [0, Size()).
	Rank() int

	// Size of the group.
	Size() int

	// Isend posts a non-blocking send of data to rank `to`. The contents of data must not be modified until the
	// returned request completes.
	Isend(ctx context.Context, to int, tag Tag, data []float64) *Request

	// Irecv posts a non-blocking receive of the message with the given tag from source (or AnySource) into dst.
	// The message must have exactly len(dst) values. dst must not be read until the returned request completes.
	Irecv(ctx context.Context, source int, tag Tag, dst []float64) *Request

	// Close releases the resources and fails all pending requests with ErrClosed.
	Close() error
}

// Wait waits for the request with a bounded timeout (timeout <= 0 waits indefinitely) and returns the status.
// Timeouts are reported wrapping xsync.ErrTimeout, and cancellations with the context error.
func Wait(ctx context.Context, req *Request, timeout time.Duration) (Status, error) {
	status, err := req.WaitContext(ctx, timeout)
	if err != nil {
		return status, err
	}
	return status, status.Err
}

func completed(source int, err error) *Request {
	req := xsync.NewLatchWithValue[Status]()
	req.Trigger(Status{Source: source, Err: err})
	return req
}
