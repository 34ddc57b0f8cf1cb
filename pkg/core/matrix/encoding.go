// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/pkg/errors"
)

// hostIsLittleEndian is true on every platform ringmm is deployed to, but checked nonetheless.
var hostIsLittleEndian = func() bool {
	var probe uint16 = 1
	return *(*byte)(unsafe.Pointer(&probe)) == 1
}()

// EncodeLittleEndian returns values as raw little-endian IEEE-754 bytes.
//
// On little-endian hosts the returned slice shares the memory of values (no copy), so it must not
// outlive nor be used concurrently with writes to values.
func EncodeLittleEndian(values []float64) []byte {
	if len(values) == 0 {
		return nil
	}
	if hostIsLittleEndian {
		return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*Float64Size)
	}
	buf := make([]byte, len(values)*Float64Size)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*Float64Size:], math.Float64bits(v))
	}
	return buf
}

// DecodeLittleEndian decodes raw little-endian IEEE-754 bytes into dst, which must have exactly
// len(data)/8 elements.
func DecodeLittleEndian(data []byte, dst []float64) error {
	if len(data) != len(dst)*Float64Size {
		return errors.Errorf("matrix.DecodeLittleEndian: %d bytes cannot be decoded into %d float64 values",
			len(data), len(dst))
	}
	if hostIsLittleEndian {
		copy(EncodeLittleEndian(dst), data)
		return nil
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*Float64Size:]))
	}
	return nil
}
