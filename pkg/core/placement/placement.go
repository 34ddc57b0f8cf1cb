// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package placement decides where each rank's C slice goes in the output files, and writes it there.
//
// Ranks are split into colors (see distributed.ColorLayout): each color writes its own file, and each rank
// writes its slice at an offset given by its position within the color. In compact layout slices are
// contiguous; in striped layout each slice starts at a multiple of numChunks·byteSize, where numChunks is the
// number of ChunkBytes chunks needed to hold a slice.
//
// Files are raw little-endian float64 values, no header.
package placement

import (
	"fmt"
	"path/filepath"

	"github.com/gomlx/ringmm/pkg/core/distributed"
)

// ChunkBytes is the granularity of the striped layout: 8 MiB.
const ChunkBytes = 8 << 20

// Mode of the write.
type Mode int

const (
	// Independent: each rank writes its own slice.
	Independent Mode = iota

	// Collective: all ranks of the group participate in the write, which completes only when all did.
	Collective
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Independent:
		return "independent"
	case Collective:
		return "collective"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Plan is where and how one rank writes its C slice.
type Plan struct {
	Rank int

	// Layout of the ranks in colors.
	Layout *distributed.ColorLayout

	// Color and Position of the rank in the layout.
	Color, Position int

	Compact bool

	// ByteSize of the C slice.
	ByteSize int64

	// NumChunks of ChunkBytes needed to hold ByteSize, at least 1.
	NumChunks int64

	// Offset in bytes of the slice within the file.
	Offset int64

	// FileName, relative to the output directory.
	FileName string

	Mode Mode
}

// NumChunks returns the number of ChunkBytes chunks for a slice of byteSize bytes, at least 1.
// Like the offsets it's derived from, it's rounded down: a slice of 1.5 chunks counts as 1 chunk.
func NumChunks(byteSize int64) int64 {
	return max(1, byteSize/ChunkBytes)
}

// FileName of the output of the given color.
func FileName(layout *distributed.ColorLayout, color int) string {
	if layout.NumColors() == 1 {
		return "result.bin"
	}
	return fmt.Sprintf("result%d.bin", color)
}

// New returns the plan of rank.
func New(layout *distributed.ColorLayout, rank int, compact bool, byteSize int64) Plan {
	p := Plan{
		Rank:      rank,
		Layout:    layout,
		Color:     layout.Color(rank),
		Position:  layout.Position(rank),
		Compact:   compact,
		ByteSize:  byteSize,
		NumChunks: NumChunks(byteSize),
		Mode:      Independent,
	}
	p.FileName = FileName(layout, p.Color)
	if layout.IsGlobal() {
		p.Mode = Collective
	}

	// With a single color the position is the rank.
	multiplier := int64(p.Position)
	if p.Compact {
		p.Offset = multiplier * byteSize
	} else {
		p.Offset = multiplier * p.NumChunks * byteSize
	}
	return p
}

// Path of the output file within dir.
func (p Plan) Path(dir string) string {
	return filepath.Join(dir, p.FileName)
}

// End of the slice in the file: Offset + ByteSize.
func (p Plan) End() int64 { return p.Offset + p.ByteSize }

// String implements fmt.Stringer.
func (p Plan) String() string {
	layout := "striped"
	if p.Compact {
		layout = "compact"
	}
	return fmt.Sprintf("rank %d -> %s[%d:%d] (color %d, position %d, %s, %s)",
		p.Rank, p.FileName, p.Offset, p.End(), p.Color, p.Position, layout, p.Mode)
}
