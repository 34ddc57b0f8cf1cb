// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ring implements the ring exchange coordinator: the per-rank loop that multiplies the B block it
// holds while the next one is in flight, and then passes its block on to its successor.
//
// After P rounds every B block visited every rank exactly once: at round i, rank r holds the block originally
// owned by rank (r-i) mod P.
package ring

import (
	"context"
	"time"

	"github.com/gomlx/ringmm/pkg/core/distributed"
	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/gomlx/ringmm/pkg/core/multiply"
	"github.com/gomlx/ringmm/pkg/core/timing"
	"github.com/gomlx/ringmm/pkg/core/transport"
	"github.com/gomlx/ringmm/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrRingTimeout is returned when a block is not received, or not accepted by the successor, within the
// configured timeout.
var ErrRingTimeout = errors.New("ring exchange timed out")

// DefaultTimeout for receives and sends.
const DefaultTimeout = 10 * time.Minute

// Round describes a completed round of one rank, as reported to Config.OnRound.
type Round struct {
	Rank, Round int

	// Owner is the rank that originally owned the B block multiplied in this round.
	Owner int

	// ColumnOffset is the first column of C written in this round.
	ColumnOffset int

	// Compute is the time spent in the multiplication.
	Compute time.Duration
}

// Config of the Coordinator.
type Config struct {
	// RecvTimeout bounds the wait for the block of the next round. If <= 0, waits indefinitely.
	RecvTimeout time.Duration

	// SendTimeout bounds the wait for the successor to accept the block. If <= 0, waits indefinitely.
	SendTimeout time.Duration

	// Offset selects the columns of C that receive each round's product.
	Offset multiply.OffsetPolicy

	// OnRound, if set, is called synchronously after the multiplication of every round.
	OnRound func(Round)
}

// DefaultConfig returns a Config with DefaultTimeout and the rotating offset policy.
func DefaultConfig() Config {
	return Config{
		RecvTimeout: DefaultTimeout,
		SendTimeout: DefaultTimeout,
		Offset:      multiply.OffsetRotating,
	}
}

// Coordinator runs the ring exchange for one rank.
type Coordinator struct {
	transport  transport.Transport
	ring       distributed.Ring
	multiplier *multiply.Multiplier
	config     Config
	recorder   *timing.Recorder
}

// New creates the Coordinator of the rank owning t.
// If recorder is nil, the phases are measured on a private one.
func New(t transport.Transport, multiplier *multiply.Multiplier, config Config, recorder *timing.Recorder) (*Coordinator, error) {
	r, err := distributed.NewRing(t.Size())
	if err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = timing.NewRecorder(nil)
	}
	return &Coordinator{
		transport:  t,
		ring:       r,
		multiplier: multiplier,
		config:     config,
		recorder:   recorder,
	}, nil
}

// Recorder used to measure the phases of the exchange.
func (c *Coordinator) Recorder() *timing.Recorder { return c.recorder }

// Run performs the P rounds of the exchange, accumulating into c the products of a with every B block.
//
// a is the sliceRows × N slice of A of this rank, b its N × sliceRows slice of B and c the sliceRows × N
// result. The contents of b are undefined after Run, since its storage is reused for inbound blocks.
//
// All ranks of the transport must call Run concurrently.
func (c *Coordinator) Run(ctx context.Context, a, b, cMat *matrix.Slice) error {
	rank, numRanks := c.transport.Rank(), c.ring.Size()
	sliceRows := a.Rows()
	if b.Rows() != a.Cols() || b.Cols() != sliceRows {
		return errors.Errorf("rank %d: B slice %s doesn't match A slice %s", rank, b, a)
	}
	if sliceRows*numRanks != cMat.Cols() {
		return errors.Errorf("rank %d: C slice %s doesn't hold %d blocks of %d columns", rank, cMat, numRanks, sliceRows)
	}

	current := b
	var inbound *matrix.Slice
	if numRanks > 1 {
		var err error
		inbound, err = matrix.New(b.Rows(), b.Cols())
		if err != nil {
			return errors.WithMessagef(err, "rank %d: allocating inbound B buffer", rank)
		}
	}
	var recvReq *transport.Request
	prev, next := c.ring.Prev(rank), c.ring.Next(rank)

	loopStart := c.recorder.Now()
	defer c.recorder.Since(timing.PhaseLoop, loopStart)
	for round := range numRanks {
		// Receive: collect the block of this round, and post the receive of the next one.
		recvStart := c.recorder.Now()
		if round > 0 {
			status, err := transport.Wait(ctx, recvReq, c.config.RecvTimeout)
			if err != nil {
				return c.ringError(err, round, "receiving block from rank %d", prev)
			}
			if status.Source != prev {
				return errors.Errorf("rank %d, round %d: received block from rank %d, expected predecessor %d",
					rank, round, status.Source, prev)
			}
			current, inbound = inbound, current
		}
		if round < numRanks-1 {
			recvReq = c.transport.Irecv(ctx, transport.AnySource, transport.RingTag(round+1), inbound.Flat())
		}
		c.recorder.Since(timing.PhaseRecvWait, recvStart)

		// Multiply.
		owner := c.ring.OwnerAt(rank, round)
		colOffset := c.config.Offset.ColumnOffset(rank, owner, sliceRows)
		computeStart := c.recorder.Now()
		if err := c.multiplier.Multiply(ctx, a, current, cMat, colOffset); err != nil {
			return errors.WithMessagef(err, "rank %d, round %d", rank, round)
		}
		computeTicks := c.recorder.Since(timing.PhaseCompute, computeStart)
		if klog.V(1).Enabled() {
			klog.Infof("rank %d, round %d/%d: multiplied block of rank %d into columns [%d, %d)",
				rank, round+1, numRanks, owner, colOffset, colOffset+sliceRows)
		}
		if c.config.OnRound != nil {
			c.config.OnRound(Round{
				Rank:         rank,
				Round:        round,
				Owner:        owner,
				ColumnOffset: colOffset,
				Compute:      timing.TicksToDuration(computeTicks),
			})
		}

		// Send: pass the block on, and wait for the successor to take it before its storage is reused.
		if round < numRanks-1 {
			sendStart := c.recorder.Now()
			sendReq := c.transport.Isend(ctx, next, transport.RingTag(round+1), current.Flat())
			if _, err := transport.Wait(ctx, sendReq, c.config.SendTimeout); err != nil {
				return c.ringError(err, round, "sending block to rank %d", next)
			}
			c.recorder.Since(timing.PhaseSendWait, sendStart)
		}
	}
	return nil
}

func (c *Coordinator) ringError(err error, round int, format string, args ...any) error {
	rank := c.transport.Rank()
	if errors.Is(err, xsync.ErrTimeout) {
		err = ErrRingTimeout
	}
	err = errors.WithMessagef(err, format, args...)
	err = errors.WithMessagef(err, "rank %d, round %d", rank, round)
	klog.Errorf("%v", err)
	return err
}
