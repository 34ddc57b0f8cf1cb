// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package multiply implements the local block multiplier: the multiply-accumulate of a rank's A slice with
// the B block it currently holds, split over a fixed number of workers.
package multiply

import (
	"context"
	"fmt"
	"strings"

	"github.com/gomlx/ringmm/internal/workerspool"
	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OffsetPolicy selects the columns of C that receive the partial product of each round.
type OffsetPolicy int

const (
	// OffsetRotating writes the product with the block originally owned by rank `owner` into columns
	// [owner*sliceRows, (owner+1)*sliceRows) of C, so that after a full rotation C holds the exact product.
	OffsetRotating OffsetPolicy = iota

	// OffsetFixed writes every round's product into the columns of the rank itself,
	// [rank*sliceRows, (rank+1)*sliceRows), whatever block it holds: the columns of the rank accumulate the sum
	// of all rounds, the others stay zero.
	OffsetFixed
)

// String implements fmt.Stringer.
func (p OffsetPolicy) String() string {
	switch p {
	case OffsetRotating:
		return "rotating"
	case OffsetFixed:
		return "fixed"
	default:
		return fmt.Sprintf("OffsetPolicy(%d)", int(p))
	}
}

// ParseOffsetPolicy parses "rotating" or "fixed" (case-insensitive).
func ParseOffsetPolicy(s string) (OffsetPolicy, error) {
	switch strings.ToLower(s) {
	case "rotating":
		return OffsetRotating, nil
	case "fixed":
		return OffsetFixed, nil
	}
	return 0, errors.Errorf("unknown offset policy %q, valid values are \"rotating\" or \"fixed\"", s)
}

// ColumnOffset returns the first column of C written when rank holds the block originally owned by owner.
func (p OffsetPolicy) ColumnOffset(rank, owner, sliceRows int) int {
	if p == OffsetFixed {
		return rank * sliceRows
	}
	return owner * sliceRows
}

// Multiplier multiplies sliceRows × N A slices with N × width B blocks, using a fixed number of workers,
// each owning a contiguous range of rows.
type Multiplier struct {
	pool    *workerspool.Pool
	ranges  []workerspool.Range
	dropped int
}

// New creates a Multiplier for slices of sliceRows rows split among `threads` workers.
//
// If threads doesn't divide sliceRows, the last sliceRows % threads rows are never computed: they are
// reported by DroppedRows (and logged).
func New(threads, sliceRows int) (*Multiplier, error) {
	if threads <= 0 {
		return nil, errors.Errorf("number of threads must be > 0, got %d", threads)
	}
	if sliceRows <= 0 {
		return nil, errors.Errorf("number of rows per slice must be > 0, got %d", sliceRows)
	}
	ranges, dropped := workerspool.Partition(sliceRows, threads)
	if dropped > 0 {
		klog.Warningf("%d threads don't divide %d rows: the last %d rows of each slice will not be computed",
			threads, sliceRows, dropped)
	}
	return &Multiplier{
		pool:    workerspool.New().SetMaxParallelism(threads),
		ranges:  ranges,
		dropped: dropped,
	}, nil
}

// Threads returns the number of workers.
func (m *Multiplier) Threads() int { return len(m.ranges) }

// Ranges returns the row range of each worker.
func (m *Multiplier) Ranges() []workerspool.Range { return m.ranges }

// DroppedRows returns how many rows at the end of the slice are not computed.
func (m *Multiplier) DroppedRows() int { return m.dropped }

// Multiply accumulates C[s][colOffset+j] += Σ_k A[s][k]·B[k][j] for every row s covered by the workers and
// every column j of b.
//
// Workers are spawned for this call and all joined before it returns; each one writes only its own rows of C.
// A failing worker makes Multiply return an error (wrapping workerspool.ErrWorkerFailed if it panicked).
func (m *Multiplier) Multiply(ctx context.Context, a, b, c *matrix.Slice, colOffset int) error {
	sliceRows, n, width := a.Rows(), a.Cols(), b.Cols()
	if b.Rows() != n {
		return errors.Errorf("multiply: A is %d × %d but B has %d rows", sliceRows, n, b.Rows())
	}
	if c.Rows() != sliceRows {
		return errors.Errorf("multiply: A has %d rows but C has %d", sliceRows, c.Rows())
	}
	if colOffset < 0 || colOffset+width > c.Cols() {
		return errors.Errorf("multiply: columns [%d, %d) out of range for C with %d columns",
			colOffset, colOffset+width, c.Cols())
	}
	if last := m.ranges[len(m.ranges)-1].End; last > sliceRows {
		return errors.Errorf("multiply: workers cover %d rows, but A has only %d", last, sliceRows)
	}

	return m.pool.ForkJoin(ctx, len(m.ranges), func(ctx context.Context, worker int) error {
		rows := m.ranges[worker]
		if klog.V(3).Enabled() {
			klog.Infof("multiply worker #%d: rows %s, columns [%d, %d)", worker, rows, colOffset, colOffset+width)
		}
		multiplyRows(a, b, c, rows, colOffset)
		return nil
	})
}

// multiplyRows is the naive triple loop over the given rows.
//
// The accumulation into each C element follows k in increasing order starting from its current value.
func multiplyRows(a, b, c *matrix.Slice, rows workerspool.Range, colOffset int) {
	n, width := a.Cols(), b.Cols()
	bFlat, bStride := b.Flat(), b.Stride()
	for s := rows.Start; s < rows.End; s++ {
		aRow := a.Row(s)
		cRow := c.Row(s)[colOffset : colOffset+width]
		for j := range width {
			acc := cRow[j]
			for k := range n {
				acc += aRow[k] * bFlat[k*bStride+j]
			}
			cRow[j] = acc
		}
	}
}

// Reference returns the product a × b computed with a single straightforward triple loop, for verification.
func Reference(a, b *matrix.Slice) (*matrix.Slice, error) {
	if a.Cols() != b.Rows() {
		return nil, errors.Errorf("multiply.Reference: cannot multiply %s by %s", a, b)
	}
	c, err := matrix.New(a.Rows(), b.Cols())
	if err != nil {
		return nil, err
	}
	for i := range a.Rows() {
		for j := range b.Cols() {
			acc := 0.0
			for k := range a.Cols() {
				acc += a.At(i, k) * b.At(k, j)
			}
			c.Set(i, j, acc)
		}
	}
	return c, nil
}
