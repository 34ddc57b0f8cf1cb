// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ringmm

import (
	"math"

	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/gomlx/ringmm/pkg/core/multiply"
	"github.com/gomlx/ringmm/pkg/core/operands"
	"github.com/gomlx/ringmm/pkg/core/placement"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// VerifyTolerance is the maximum relative difference accepted by Verify.
var VerifyTolerance = 1e-12

// Expected returns the C slices every rank should produce for config, indexed by rank.
//
// The product is computed independently with gonum, so it's meant for small N only: it allocates the full
// matrices.
func Expected(config Config) ([]*matrix.Slice, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	n, numRanks, sliceRows := config.N, config.NumRanks, config.SliceRows()
	a, b, err := operands.Global(n, numRanks)
	if err != nil {
		return nil, err
	}
	var product mat.Dense
	product.Mul(mat.NewDense(n, n, a.Flat()), mat.NewDense(n, n, b.Flat()))

	computedRows := sliceRows - sliceRows%config.Threads
	slices := make([]*matrix.Slice, numRanks)
	for rank := range numRanks {
		c, err := matrix.New(sliceRows, n)
		if err != nil {
			return nil, err
		}
		for i := range computedRows {
			globalRow := rank*sliceRows + i
			switch config.Offset {
			case multiply.OffsetRotating:
				mat.Row(c.Row(i), globalRow, &product)
			case multiply.OffsetFixed:
				// Every round accumulates into the columns of the rank itself.
				row := c.Row(i)[rank*sliceRows : (rank+1)*sliceRows]
				for owner := range numRanks {
					for j := range row {
						row[j] += product.At(globalRow, owner*sliceRows+j)
					}
				}
			}
		}
		slices[rank] = c
	}
	return slices, nil
}

// Verify reads the output files written by a run of config and compares them with the expected product.
func Verify(config Config) error {
	expected, err := Expected(config)
	if err != nil {
		return err
	}
	layout, err := config.Layout()
	if err != nil {
		return err
	}
	files := make(map[string][]float64)
	var maxDiff float64
	for rank, want := range expected {
		plan := placement.New(layout, rank, config.Compact, config.SliceBytes())
		values, found := files[plan.FileName]
		if !found {
			values, err = placement.ReadResult(plan.Path(config.OutputDir))
			if err != nil {
				return err
			}
			files[plan.FileName] = values
		}
		start, end := plan.Offset/matrix.Float64Size, plan.End()/matrix.Float64Size
		if int64(len(values)) < end {
			return errors.Errorf("%s has %d values, rank %d slice should be at [%d, %d)",
				plan.FileName, len(values), rank, start, end)
		}
		got := values[start:end]
		for ii, w := range want.Flat() {
			diff := math.Abs(got[ii] - w)
			if diff > VerifyTolerance*max(1, math.Abs(w)) {
				return errors.Errorf("rank %d: C[%d][%d] = %g, expected %g",
					rank, ii/config.N, ii%config.N, got[ii], w)
			}
			maxDiff = max(maxDiff, diff)
		}
	}
	klog.V(1).Infof("verified %d slices in %d file(s), max absolute difference %g", len(expected), len(files), maxDiff)
	return nil
}
