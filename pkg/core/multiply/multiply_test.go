// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiply

import (
	"context"
	"os"
	"testing"

	"github.com/gomlx/ringmm/internal/workerspool"
	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/gomlx/ringmm/pkg/core/operands"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	os.Exit(m.Run())
}

func TestOffsetPolicy(t *testing.T) {
	for _, p := range []OffsetPolicy{OffsetRotating, OffsetFixed} {
		parsed, err := ParseOffsetPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParseOffsetPolicy("diagonal")
	require.Error(t, err)

	assert.Equal(t, 6, OffsetRotating.ColumnOffset(1, 3, 2))
	assert.Equal(t, 2, OffsetFixed.ColumnOffset(1, 3, 2))
}

func TestNew(t *testing.T) {
	m := must.M1(New(4, 8))
	assert.Equal(t, 4, m.Threads())
	assert.Zero(t, m.DroppedRows())
	want := []workerspool.Range{{Start: 0, End: 2}, {Start: 2, End: 4}, {Start: 4, End: 6}, {Start: 6, End: 8}}
	assert.Equal(t, want, m.Ranges())

	m = must.M1(New(3, 8))
	assert.Equal(t, 2, m.DroppedRows())

	_, err := New(0, 8)
	require.Error(t, err)
	_, err = New(1, 0)
	require.Error(t, err)
}

// TestMultiply_SingleRankProduct: with one rank and one thread, C must be exactly A·B.
func TestMultiply_SingleRankProduct(t *testing.T) {
	const n = 8
	ops := must.M1(operands.ForRank(n, 1, 0))
	c := must.M1(matrix.New(n, n))
	m := must.M1(New(1, n))
	require.NoError(t, m.Multiply(context.Background(), ops.A, ops.B, c, 0))

	want := naive(ops.A, ops.B)
	assert.Equal(t, want.Flat(), c.Flat())
	ref := must.M1(Reference(ops.A, ops.B))
	assert.Equal(t, want.Flat(), ref.Flat())
}

func TestMultiply_ThreadsAgree(t *testing.T) {
	const n = 12
	ops := must.M1(operands.ForRank(n, 1, 0))
	want := naive(ops.A, ops.B)
	for _, threads := range []int{1, 2, 3, 4, 6, 12} {
		c := must.M1(matrix.New(n, n))
		m := must.M1(New(threads, n))
		require.NoError(t, m.Multiply(context.Background(), ops.A, ops.B, c, 0))
		assert.Equalf(t, want.Flat(), c.Flat(), "threads=%d", threads)
	}
}

func TestMultiply_DroppedRows(t *testing.T) {
	const n = 5
	ops := must.M1(operands.ForRank(n, 1, 0))
	want := naive(ops.A, ops.B)
	c := must.M1(matrix.New(n, n))
	m := must.M1(New(2, n))
	require.Equal(t, 1, m.DroppedRows())
	require.NoError(t, m.Multiply(context.Background(), ops.A, ops.B, c, 0))
	for i := range n - 1 {
		assert.Equal(t, want.Row(i), c.Row(i))
	}
	// The last row is never computed.
	assert.Equal(t, make([]float64, n), c.Row(n-1))
}

func TestMultiply_ColumnBlock(t *testing.T) {
	// A is 2 × 4, B a 4 × 2 block written at column offset 2 of a 2 × 4 C.
	a := must.M1(matrix.FromFlat(2, 4, []float64{1, 2, 3, 4, 5, 6, 7, 8}))
	b := must.M1(matrix.FromFlat(4, 2, []float64{1, 0, 0, 1, 1, 0, 0, 1}))
	c := must.M1(matrix.FromFlat(2, 4, []float64{9, 9, 1, 1, 9, 9, 1, 1}))
	m := must.M1(New(2, 2))
	require.NoError(t, m.Multiply(context.Background(), a, b, c, 2))
	assert.Equal(t, []float64{9, 9, 1 + 4, 1 + 6, 9, 9, 1 + 12, 1 + 14}, c.Flat())

	require.Error(t, m.Multiply(context.Background(), a, b, c, 3))
	require.Error(t, m.Multiply(context.Background(), a, must.M1(matrix.New(3, 2)), c, 0))
	require.Error(t, m.Multiply(context.Background(), a, b, must.M1(matrix.New(3, 4)), 0))
}

func naive(a, b *matrix.Slice) *matrix.Slice {
	c := must.M1(matrix.New(a.Rows(), b.Cols()))
	for i := 0; i < a.Rows(); i++ {
		for j := 0; j < b.Cols(); j++ {
			for k := 0; k < a.Cols(); k++ {
				c.Set(i, j, c.At(i, j)+a.At(i, k)*b.At(k, j))
			}
		}
	}
	return c
}
