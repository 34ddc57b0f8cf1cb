// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package placement

import (
	"context"
	"os"
	"time"

	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/gomlx/ringmm/pkg/core/transport"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// collectiveSeq is the tag sequence of collective writes. Barriers use non-negative sequences.
const collectiveSeq = -1

// Release status sent by the writer of a collective write.
const (
	releaseOK     = 0.0
	releaseFailed = 1.0
)

// FileMode of created output files.
var FileMode os.FileMode = 0o644

// Writer writes C slices according to their plans.
type Writer struct {
	// Dir where output files are created.
	Dir string

	// Transport used by collective writes. It can be nil if only independent writes are used.
	Transport transport.Transport

	// Timeout bounds each wait of a collective write. If <= 0 waits indefinitely.
	Timeout time.Duration
}

// Write the slice data of plan.Rank, and returns the number of bytes this rank wrote to disk.
//
// In Collective mode every member of the color must call Write: members ship their slice to the leader of the
// color, which writes all of them and then releases the members. In Independent mode the slice is written
// directly.
func (w *Writer) Write(ctx context.Context, plan Plan, data []float64) (int64, error) {
	if int64(len(data))*matrix.Float64Size != plan.ByteSize {
		return 0, errors.Errorf("rank %d: slice has %d bytes, plan expects %d",
			plan.Rank, int64(len(data))*matrix.Float64Size, plan.ByteSize)
	}
	if plan.Mode == Independent || len(plan.Layout.Members(plan.Color)) == 1 {
		return writeAt(plan.Path(w.Dir), plan.Offset, data)
	}
	if w.Transport == nil {
		return 0, errors.Errorf("rank %d: collective write requires a transport", plan.Rank)
	}
	if plan.Layout.Leader(plan.Color) == plan.Rank {
		return w.gatherAndWrite(ctx, plan, data)
	}
	return 0, w.shipToLeader(ctx, plan, data)
}

func (w *Writer) shipToLeader(ctx context.Context, plan Plan, data []float64) error {
	leader := plan.Layout.Leader(plan.Color)
	status := make([]float64, 1)
	released := w.Transport.Irecv(ctx, leader, transport.Tag{Kind: transport.KindRelease, Seq: collectiveSeq}, status)
	sent := w.Transport.Isend(ctx, leader, transport.Tag{Kind: transport.KindGather, Seq: collectiveSeq}, data)
	if _, err := transport.Wait(ctx, sent, w.Timeout); err != nil {
		return errors.WithMessagef(err, "rank %d: sending slice to writer rank %d", plan.Rank, leader)
	}
	if _, err := transport.Wait(ctx, released, w.Timeout); err != nil {
		return errors.WithMessagef(err, "rank %d: waiting for writer rank %d", plan.Rank, leader)
	}
	if status[0] != releaseOK {
		return errors.Errorf("rank %d: writer rank %d failed to write %s", plan.Rank, leader, plan.FileName)
	}
	return nil
}

func (w *Writer) gatherAndWrite(ctx context.Context, plan Plan, data []float64) (written int64, err error) {
	members := plan.Layout.Members(plan.Color)
	defer func() {
		// Release members whatever the outcome, so they don't wait for the timeout.
		status := releaseOK
		if err != nil {
			status = releaseFailed
		}
		releases := make([]*transport.Request, 0, len(members)-1)
		for _, member := range members[1:] {
			releases = append(releases, w.Transport.Isend(ctx, member,
				transport.Tag{Kind: transport.KindRelease, Seq: collectiveSeq}, []float64{status}))
		}
		if releaseErr := transport.WaitAll(ctx, releases, w.Timeout); releaseErr != nil && err == nil {
			err = errors.WithMessagef(releaseErr, "rank %d: releasing members of collective write", plan.Rank)
		}
	}()

	gathered := make([][]float64, len(members))
	requests := make([]*transport.Request, len(members))
	gathered[0] = data
	for ii, member := range members[1:] {
		gathered[ii+1] = make([]float64, len(data))
		requests[ii+1] = w.Transport.Irecv(ctx, member,
			transport.Tag{Kind: transport.KindGather, Seq: collectiveSeq}, gathered[ii+1])
	}

	f, err := os.OpenFile(plan.Path(w.Dir), os.O_RDWR|os.O_CREATE, FileMode)
	if err != nil {
		return 0, errors.Wrapf(err, "rank %d: opening %s", plan.Rank, plan.Path(w.Dir))
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "rank %d: closing %s", plan.Rank, plan.Path(w.Dir))
		}
	}()
	for ii, member := range members {
		if ii > 0 {
			if _, err = transport.Wait(ctx, requests[ii], w.Timeout); err != nil {
				return written, errors.WithMessagef(err, "rank %d: gathering slice of rank %d", plan.Rank, member)
			}
		}
		memberPlan := New(plan.Layout, member, plan.Compact, plan.ByteSize)
		n, err := f.WriteAt(matrix.EncodeLittleEndian(gathered[ii]), memberPlan.Offset)
		written += int64(n)
		if err != nil {
			return written, errors.Wrapf(err, "rank %d: writing slice of rank %d to %s", plan.Rank, member, f.Name())
		}
		if klog.V(2).Enabled() {
			klog.Infof("%s (written by rank %d)", memberPlan, plan.Rank)
		}
	}
	return written, nil
}

func writeAt(path string, offset int64, data []float64) (written int64, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode)
	if err != nil {
		return 0, errors.Wrapf(err, "opening %s", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "closing %s", path)
		}
	}()
	n, err := f.WriteAt(matrix.EncodeLittleEndian(data), offset)
	if err != nil {
		return int64(n), errors.Wrapf(err, "writing %d bytes at offset %d of %s", len(data)*matrix.Float64Size, offset, path)
	}
	return int64(n), nil
}

// ReadResult reads an output file as float64 values.
func ReadResult(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if len(data)%matrix.Float64Size != 0 {
		return nil, errors.Errorf("%s has %d bytes, not a multiple of %d", path, len(data), matrix.Float64Size)
	}
	values := make([]float64, len(data)/matrix.Float64Size)
	if err := matrix.DecodeLittleEndian(data, values); err != nil {
		return nil, err
	}
	return values, nil
}
