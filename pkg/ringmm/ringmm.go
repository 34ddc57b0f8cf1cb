// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ringmm computes C = A·B for square N × N matrices on a group of P ranks, and writes C to disk.
//
// Each rank owns a horizontal slice of A and C, and one column block of B. The B blocks rotate around a ring
// of ranks, while each rank multiplies the block it holds with T worker goroutines. At the end each rank writes
// its C slice to the output file of its color (see package placement).
//
// Ranks can be goroutines of one process (RunLocal) or processes connected by gRPC (Run with a
// grpcring.Transport).
package ringmm

import (
	"context"
	"time"

	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/gomlx/ringmm/pkg/core/multiply"
	"github.com/gomlx/ringmm/pkg/core/operands"
	"github.com/gomlx/ringmm/pkg/core/placement"
	"github.com/gomlx/ringmm/pkg/core/ring"
	"github.com/gomlx/ringmm/pkg/core/timing"
	"github.com/gomlx/ringmm/pkg/core/transport"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// teardownSeq is the barrier sequence of the final barrier.
const teardownSeq = 0

// Result of one rank.
type Result struct {
	Rank int

	// Plan used to write the C slice.
	Plan placement.Plan

	// BytesWritten to disk by this rank: in a collective write the leader writes for all members.
	BytesWritten int64

	// DroppedRows at the end of the slice, not computed.
	DroppedRows int

	Phases timing.Snapshot
}

// Run executes the rank that owns t: it initializes its operands, runs the ring exchange, writes its C slice,
// and waits for all the ranks of the group to finish.
//
// All ranks of the group must call Run with the same configuration. t is not closed.
func Run(ctx context.Context, config Config, t transport.Transport) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if t.Size() != config.NumRanks {
		return nil, errors.WithMessagef(ErrConfig, "configured for %d ranks, but the group has %d",
			config.NumRanks, t.Size())
	}
	layout, err := config.Layout()
	if err != nil {
		return nil, err
	}
	rank := t.Rank()
	recorder := timing.NewRecorder(config.Clock)
	start := recorder.Now()

	ops, err := operands.ForRank(config.N, config.NumRanks, rank)
	if err != nil {
		return nil, errors.WithMessagef(err, "rank %d", rank)
	}
	c, err := matrix.New(config.SliceRows(), config.N)
	if err != nil {
		return nil, errors.WithMessagef(err, "rank %d: allocating C slice", rank)
	}
	multiplier, err := multiply.New(config.Threads, config.SliceRows())
	if err != nil {
		return nil, errors.WithMessage(ErrConfig, err.Error())
	}
	coordinator, err := ring.New(t, multiplier, ring.Config{
		RecvTimeout: config.RecvTimeout,
		SendTimeout: config.SendTimeout,
		Offset:      config.Offset,
		OnRound:     config.OnRound,
	}, recorder)
	if err != nil {
		return nil, err
	}
	if err := coordinator.Run(ctx, ops.A, ops.B, c); err != nil {
		return nil, err
	}
	if klog.V(2).Enabled() {
		klog.Infof("rank %d: C = %s", rank, c.Summary(4, 2))
	}

	plan := placement.New(layout, rank, config.Compact, config.SliceBytes())
	if klog.V(1).Enabled() {
		klog.Infof("%s", plan)
	}
	writer := &placement.Writer{Dir: config.OutputDir, Transport: t, Timeout: config.IOTimeout}
	var written int64
	err = recorder.Measure(timing.PhaseIO, func() (err error) {
		written, err = writer.Write(ctx, plan, c.Flat())
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := transport.Barrier(ctx, t, transport.AllRanks(t.Size()), teardownSeq, config.IOTimeout); err != nil {
		return nil, err
	}
	recorder.Since(timing.PhaseTotal, start)
	return &Result{
		Rank:         rank,
		Plan:         plan,
		BytesWritten: written,
		DroppedRows:  multiplier.DroppedRows(),
		Phases:       recorder.Snapshot(),
	}, nil
}

// RunLocal runs all the ranks as goroutines of this process, connected by a local transport.
// It returns the results indexed by rank.
//
// The first error of any rank cancels the others.
func RunLocal(ctx context.Context, config Config) ([]*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	group, err := transport.NewLocalGroup(config.NumRanks)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, t := range group {
			_ = t.Close()
		}
	}()
	results := make([]*Result, config.NumRanks)
	g, gCtx := errgroup.WithContext(ctx)
	for rank, t := range group {
		g.Go(func() error {
			result, err := Run(gCtx, config, t)
			if err != nil {
				return err
			}
			results[rank] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Report of a run, built from the result of rank 0.
func Report(config Config, result *Result) *timing.Report {
	return &timing.Report{
		N:          config.N,
		NumRanks:   config.NumRanks,
		Threads:    config.Threads,
		NumColors:  result.Plan.Layout.NumColors(),
		Compact:    config.Compact,
		Collective: result.Plan.Mode == placement.Collective,
		SliceBytes: result.Plan.ByteSize,
		Phases:     result.Phases,
	}
}

// Elapsed returns the total time measured for the result.
func (r *Result) Elapsed() time.Duration {
	return timing.TicksToDuration(r.Phases.Ticks(timing.PhaseTotal))
}
