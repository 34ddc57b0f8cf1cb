// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package operands fills the operand slices of each rank with reproducible pseudo-random values.
//
// Rank r owns rows [r*sliceRows, (r+1)*sliceRows) of A (a sliceRows × N slice) and columns
// [r*sliceRows, (r+1)*sliceRows) of B (an N × sliceRows slice). Both are drawn from the same MT19937 stream,
// seeded with Seeds(r), so the conceptual global matrices only depend on N and the number of ranks.
package operands

import (
	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/gomlx/ringmm/pkg/support/rng"
	"github.com/pkg/errors"
)

// baseSeeds are the fixed seed slots; slot 0 is replaced by the rank.
var baseSeeds = [6]uint32{0x0, 0x123, 0x234, 0x345, 0x456, 0x789}

// Seeds returns the seed array of the given rank.
func Seeds(rank int) [6]uint32 {
	seeds := baseSeeds
	seeds[0] = uint32(rank)
	return seeds
}

// NewGenerator returns the random stream of the given rank.
func NewGenerator(rank int) *rng.Generator {
	seeds := Seeds(rank)
	return rng.New(seeds[:])
}

// Fill populates a (sliceRows × N) and b (N × sliceRows) from gen.
//
// Draws are interleaved: for each i in [0, sliceRows) and each j in [0, N), A[i][j] takes one value and
// then B[j][i] takes the next one. Each value consumes two raw draws (53-bit resolution).
func Fill(gen *rng.Generator, a, b *matrix.Slice) error {
	sliceRows, n := a.Rows(), a.Cols()
	if b.Rows() != n || b.Cols() != sliceRows {
		return errors.Errorf("operands.Fill: A is %d × %d, so B must be %d × %d, got %d × %d",
			sliceRows, n, n, sliceRows, b.Rows(), b.Cols())
	}
	for i := range sliceRows {
		aRow := a.Row(i)
		for j := range n {
			aRow[j] = gen.Float64Res53()
			b.Set(j, i, gen.Float64Res53())
		}
	}
	return nil
}

// Operands are the slices of one rank.
type Operands struct {
	A, B *matrix.Slice
}

// ForRank allocates and fills the operands of rank, for an N × N product over numRanks ranks.
func ForRank(n, numRanks, rank int) (*Operands, error) {
	if numRanks <= 0 || n%numRanks != 0 {
		return nil, errors.Errorf("matrix dimension %d must be divisible by the number of ranks %d", n, numRanks)
	}
	sliceRows := n / numRanks
	a, err := matrix.New(sliceRows, n)
	if err != nil {
		return nil, errors.WithMessage(err, "allocating A slice")
	}
	b, err := matrix.New(n, sliceRows)
	if err != nil {
		return nil, errors.WithMessage(err, "allocating B slice")
	}
	if err := Fill(NewGenerator(rank), a, b); err != nil {
		return nil, err
	}
	return &Operands{A: a, B: b}, nil
}

// Global returns the conceptual N × N matrices A and B, assembled from the operands of every rank.
//
// It's meant for verification on small problems: it allocates 2·N² values.
func Global(n, numRanks int) (a, b *matrix.Slice, err error) {
	if a, err = matrix.New(n, n); err != nil {
		return
	}
	if b, err = matrix.New(n, n); err != nil {
		return
	}
	for rank := range numRanks {
		ops, err := ForRank(n, numRanks, rank)
		if err != nil {
			return nil, nil, err
		}
		sliceRows := ops.A.Rows()
		offset := rank * sliceRows
		for i := range sliceRows {
			copy(a.Row(offset+i), ops.A.Row(i))
		}
		for k := range n {
			copy(b.Row(k)[offset:offset+sliceRows], ops.B.Row(k))
		}
	}
	return a, b, nil
}
