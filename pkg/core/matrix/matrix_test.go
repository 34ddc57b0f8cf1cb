// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlice(t *testing.T) {
	s, err := New(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Rows())
	assert.Equal(t, 3, s.Cols())
	assert.Equal(t, 3, s.Stride())
	assert.Equal(t, int64(48), s.SizeBytes())

	s.Set(1, 2, 7)
	assert.Equal(t, 7.0, s.At(1, 2))
	assert.Equal(t, []float64{0, 0, 7}, s.Row(1))
	assert.Equal(t, 7.0, s.Flat()[5])

	c := s.Clone()
	c.Set(0, 0, 1)
	assert.Equal(t, 0.0, s.At(0, 0))
	assert.True(t, c.SameShape(s))
	c.Zero()
	assert.Equal(t, 0.0, c.At(1, 2))
}

func TestSlice_HandleSwap(t *testing.T) {
	current := must.M1(New(2, 2))
	inbound := must.M1(New(2, 2))
	current.Set(0, 0, 1)
	inbound.Set(0, 0, 2)
	currentData := current.Flat()
	current, inbound = inbound, current
	assert.Equal(t, 2.0, current.At(0, 0))
	assert.Equal(t, 1.0, inbound.At(0, 0))
	// The storage moved with the handle, nothing was copied.
	assert.Same(t, &currentData[0], &inbound.Flat()[0])
}

func TestNew_Allocation(t *testing.T) {
	_, err := New(0, 3)
	require.ErrorIs(t, err, ErrAllocation)

	saved := MaxElements
	defer func() { MaxElements = saved }()
	MaxElements = 100
	_, err = New(11, 10)
	require.ErrorIs(t, err, ErrAllocation)
	_, err = New(10, 10)
	require.NoError(t, err)
}

func TestFromFlat(t *testing.T) {
	s, err := FromFlat(2, 2, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.At(1, 0))
	_, err = FromFlat(3, 2, []float64{1, 2, 3, 4})
	require.Error(t, err)
}

func TestEncoding(t *testing.T) {
	values := []float64{0, 1, -2.5, 1e-300}
	data := EncodeLittleEndian(values)
	require.Len(t, data, 32)
	// 1.0 == 0x3FF0000000000000: last byte of the second value is 0x3F in little-endian.
	assert.Equal(t, byte(0x3f), data[15])
	assert.Equal(t, byte(0xf0), data[14])

	decoded := make([]float64, len(values))
	require.NoError(t, DecodeLittleEndian(data, decoded))
	assert.Equal(t, values, decoded)
	require.Error(t, DecodeLittleEndian(data[:31], decoded))
}

func TestSummary(t *testing.T) {
	s := must.M1(FromFlat(2, 2, []float64{1, 2, 3, 4}))
	assert.Equal(t, "Slice(2 × 2){\n  {1, 2}\n  {3, 4}\n}", s.Summary(3, 4))
}
