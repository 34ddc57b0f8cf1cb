// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package matrix implements Slice, the dense float64 storage of a horizontal (or column) slice of a matrix.
//
// A Slice is a single contiguous allocation addressed with a 2-D index: element (i, j) lives at
// data[i*stride+j]. Slices are allocated once and never resized; exchanging the roles of two slices
// is done by swapping the handles (pointers), never by copying contents.
package matrix

import (
	"bytes"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Float64Size is the size in bytes of one element.
const Float64Size = 8

// ErrAllocation is wrapped by errors returned when a Slice cannot be allocated.
var ErrAllocation = errors.New("allocation failed")

// MaxElements is the largest number of elements a single Slice may hold.
// Requests above it fail with ErrAllocation instead of crashing the process with an out-of-memory.
var MaxElements int64 = 1 << 34

// Slice is a rows × cols block of float64 values, stored row-major with an explicit row stride.
type Slice struct {
	rows, cols, stride int
	data               []float64
}

// New allocates a zero-filled rows × cols Slice, with stride == cols.
//
// It returns an error wrapping ErrAllocation if the dimensions are invalid, the size overflows or it is larger
// than MaxElements.
func New(rows, cols int) (*Slice, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.Wrapf(ErrAllocation, "invalid slice dimensions %d × %d", rows, cols)
	}
	if int64(rows) > math.MaxInt64/int64(cols) || int64(rows)*int64(cols) > MaxElements {
		return nil, errors.Wrapf(ErrAllocation, "slice %d × %d too large (limit is %d elements)",
			rows, cols, MaxElements)
	}
	return &Slice{rows: rows, cols: cols, stride: cols, data: make([]float64, rows*cols)}, nil
}

// FromFlat wraps data (not copied) as a rows × cols Slice.
func FromFlat(rows, cols int, data []float64) (*Slice, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return nil, errors.Errorf("matrix.FromFlat: %d values cannot be shaped as %d × %d", len(data), rows, cols)
	}
	return &Slice{rows: rows, cols: cols, stride: cols, data: data}, nil
}

// Rows returns the number of rows.
func (s *Slice) Rows() int { return s.rows }

// Cols returns the number of columns.
func (s *Slice) Cols() int { return s.cols }

// Stride returns the distance, in elements, between the start of consecutive rows.
func (s *Slice) Stride() int { return s.stride }

// Len returns the number of elements.
func (s *Slice) Len() int { return len(s.data) }

// SizeBytes returns the size of the contents in bytes.
func (s *Slice) SizeBytes() int64 { return int64(len(s.data)) * Float64Size }

// At returns element (i, j).
func (s *Slice) At(i, j int) float64 { return s.data[i*s.stride+j] }

// Set element (i, j) to v.
func (s *Slice) Set(i, j int, v float64) { s.data[i*s.stride+j] = v }

// Row returns row i, sharing the underlying storage.
func (s *Slice) Row(i int) []float64 {
	start := i * s.stride
	return s.data[start : start+s.cols : start+s.cols]
}

// Flat returns the whole contiguous storage, sharing it.
func (s *Slice) Flat() []float64 { return s.data }

// SameShape returns whether both slices have the same dimensions.
func (s *Slice) SameShape(other *Slice) bool {
	return s.rows == other.rows && s.cols == other.cols && s.stride == other.stride
}

// Zero sets all elements to 0.
func (s *Slice) Zero() {
	clear(s.data)
}

// Clone returns a deep copy.
func (s *Slice) Clone() *Slice {
	c := *s
	c.data = make([]float64, len(s.data))
	copy(c.data, s.data)
	return &c
}

// String implements fmt.Stringer.
func (s *Slice) String() string {
	return fmt.Sprintf("Slice(%d × %d)", s.rows, s.cols)
}

// Summary returns a multi-line rendering of the contents, with at most `edge` rows and columns shown
// at each border.
func (s *Slice) Summary(precision, edge int) string {
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }
	w("%s{\n", s)
	elided := func(i, n int) bool { return n > 2*edge && i >= edge && i < n-edge }
	for i := range s.rows {
		if elided(i, s.rows) {
			if i == edge {
				w("  ...\n")
			}
			continue
		}
		w("  {")
		for j := range s.cols {
			if elided(j, s.cols) {
				if j == edge {
					w(", ...")
				}
				continue
			}
			if j > 0 {
				w(", ")
			}
			w("%.*g", precision, s.At(i, j))
		}
		w("}\n")
	}
	w("}")
	return buf.String()
}
