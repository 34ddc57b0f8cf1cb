// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// AxisPosition is the mesh axis along which the ranks of one color are laid out.
	AxisPosition = "position"

	// AxisColor is the mesh axis enumerating the colors.
	AxisColor = "color"
)

// ColorLayout splits numRanks ranks into numColors = numRanks / ranksPerColor groups ("colors").
//
// Rank r has color r mod numColors and position r / numColors within its color. The ranks are arranged on
// a Mesh with axes {AxisPosition: ranksPerColor, AxisColor: numColors}, so that the flat mesh index is the rank.
type ColorLayout struct {
	numRanks      int
	ranksPerColor int
	numColors     int
	members       [][]int
}

// NewColorLayout creates the color layout. ranksPerColor must be > 0 and divide numRanks.
func NewColorLayout(numRanks, ranksPerColor int) (*ColorLayout, error) {
	if numRanks <= 0 {
		return nil, errors.Errorf("number of ranks must be > 0, got %d", numRanks)
	}
	if ranksPerColor <= 0 || ranksPerColor > numRanks {
		return nil, errors.Errorf("ranks per color must be in [1, %d], got %d", numRanks, ranksPerColor)
	}
	if numRanks%ranksPerColor != 0 {
		return nil, errors.Errorf("ranks per color (%d) must divide the number of ranks (%d)", ranksPerColor, numRanks)
	}
	numColors := numRanks / ranksPerColor
	mesh, err := NewMesh([]int{ranksPerColor, numColors}, []string{AxisPosition, AxisColor})
	if err != nil {
		return nil, err
	}
	members, err := mesh.ComputeGroups([]string{AxisPosition})
	if err != nil {
		return nil, err
	}
	return &ColorLayout{
		numRanks:      numRanks,
		ranksPerColor: ranksPerColor,
		numColors:     numColors,
		members:       members,
	}, nil
}

// NumColors returns the number of color groups.
func (l *ColorLayout) NumColors() int { return l.numColors }

// RanksPerColor returns the number of ranks in each color group.
func (l *ColorLayout) RanksPerColor() int { return l.ranksPerColor }

// IsGlobal returns whether there is a single group with every rank.
func (l *ColorLayout) IsGlobal() bool { return l.ranksPerColor == l.numRanks }

// Color returns the color of rank.
func (l *ColorLayout) Color(rank int) int { return rank % l.numColors }

// Position returns the position of rank among the ranks of its color.
func (l *ColorLayout) Position(rank int) int { return rank / l.numColors }

// Members returns the ranks of the given color, ordered by position. The returned slice must not be modified.
func (l *ColorLayout) Members(color int) []int { return l.members[color] }

// Leader returns the rank at position 0 of the given color.
func (l *ColorLayout) Leader(color int) int { return l.members[color][0] }

// String implements fmt.Stringer.
func (l *ColorLayout) String() string {
	return fmt.Sprintf("ColorLayout(ranks=%d, colors=%d, ranksPerColor=%d)", l.numRanks, l.numColors, l.ranksPerColor)
}
