// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed defines the topology of a group of cooperating ranks:
//
//   - Mesh: arranges the ranks along named axes, and computes the groups of ranks along them.
//   - Ring: the directed cycle used to rotate operand blocks, and its rotation schedule.
//   - ColorLayout: the partition of ranks into color groups, each sharing one output file.
package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Mesh defines the logical topology of a set of ranks.
//
// Rank numbers are the flat (row-major) index of the rank's coordinates on the mesh axes.
type Mesh struct {
	// axesNames are the names of the mesh axes.
	axesNames []string

	// axesSizes defines the number of ranks along each mesh axis.
	axesSizes []int

	// nameToAxis maps axis names to their index.
	nameToAxis map[string]int

	// numRanks is the total number of ranks in the mesh.
	numRanks int
}

// IsNameValid checks whether a name is a valid identifier for a mesh axis name.
func IsNameValid(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NewMesh creates a new logical topology of a set of ranks.
//
//   - axesSizes: defines the number of ranks along each mesh axis, one value per axis. They must be > 0.
//   - axesNames: the names of the mesh axes. One value per axis.
func NewMesh(axesSizes []int, axesNames []string) (*Mesh, error) {
	if len(axesSizes) != len(axesNames) {
		return nil, errors.Errorf("axesSizes and axesNames must have the same length, got %d and %d",
			len(axesSizes), len(axesNames))
	}
	if len(axesSizes) == 0 {
		return nil, errors.New("Mesh axesSizes cannot be empty")
	}

	numRanks := 1
	nameToAxis := make(map[string]int, len(axesSizes))
	for i, name := range axesNames {
		if !IsNameValid(name) {
			return nil, errors.Errorf(
				"Mesh axis name %q at index %d is not a valid identifier, it must start with a ASCII letter "+
					"and be followed only by letters, numbers or underscore", name, i)
		}
		if _, found := nameToAxis[name]; found {
			return nil, errors.Errorf("Mesh axis name %q is duplicated", name)
		}
		if axesSizes[i] <= 0 {
			return nil, errors.Errorf("Mesh axis %q must have size > 0, got %d", name, axesSizes[i])
		}
		nameToAxis[name] = i
		numRanks *= axesSizes[i]
	}

	return &Mesh{
		axesNames:  slices.Clone(axesNames),
		axesSizes:  slices.Clone(axesSizes),
		nameToAxis: nameToAxis,
		numRanks:   numRanks,
	}, nil
}

// NumRanks returns the total number of ranks in the mesh.
func (m *Mesh) NumRanks() int {
	return m.numRanks
}

// NumAxes returns the number of axes in the mesh.
func (m *Mesh) NumAxes() int {
	return len(m.axesSizes)
}

// AxesNames returns a copy of the mesh's axis names.
func (m *Mesh) AxesNames() []string {
	return slices.Clone(m.axesNames)
}

// AxesSizes returns a copy of the mesh's axesSizes.
func (m *Mesh) AxesSizes() []int {
	return slices.Clone(m.axesSizes)
}

// AxisSize returns the number of ranks along the given mesh axis.
func (m *Mesh) AxisSize(axisName string) (int, error) {
	idx, found := m.nameToAxis[axisName]
	if !found {
		return 0, errors.Errorf("mesh axis %q not found", axisName)
	}
	return m.axesSizes[idx], nil
}

// Coordinates returns the per-axis indices of rank.
func (m *Mesh) Coordinates(rank int) []int {
	indices := make([]int, len(m.axesSizes))
	remaining := rank
	for i := len(m.axesSizes) - 1; i >= 0; i-- {
		indices[i] = remaining % m.axesSizes[i]
		remaining /= m.axesSizes[i]
	}
	return indices
}

// String implements the fmt.Stringer interface.
func (m *Mesh) String() string {
	var sb strings.Builder
	sb.WriteString("Mesh(axesSizes={")
	for i, name := range m.axesNames {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %d", name, m.axesSizes[i])
	}
	sb.WriteString("})")
	return sb.String()
}

// ComputeGroups returns the groups of ranks that vary only along the given axes.
//
// Each group (a []int) lists the ranks ordered by their position along the given axes.
// The other axes are split into different groups, ordered by their coordinates.
//
// Example:
//
//	m := NewMesh([]int{2, 2}, []string{"position", "color"})
//	colorGroups, _ := m.ComputeGroups([]string{"position"})  // -> [][]int{{0, 2}, {1, 3}}
//	rowGroups, _ := m.ComputeGroups([]string{"color"})       // -> [][]int{{0, 1}, {2, 3}}
//	globalGroups, _ := m.ComputeGroups([]string{"position", "color"})  // -> [][]int{{0, 1, 2, 3}}
func (m *Mesh) ComputeGroups(axes []string) ([][]int, error) {
	axisIndices := make([]int, 0, len(axes))
	for _, axis := range axes {
		idx, found := m.nameToAxis[axis]
		if !found {
			return nil, errors.Errorf("axis %q not found in mesh", axis)
		}
		if slices.Contains(axisIndices, idx) {
			return nil, errors.Errorf("axis %q is duplicated: each axis can only appear once", axis)
		}
		axisIndices = append(axisIndices, idx)
	}
	nonAxisIndices := make([]int, 0, len(m.axesSizes)-len(axisIndices))
	for i := range m.axesSizes {
		if !slices.Contains(axisIndices, i) {
			nonAxisIndices = append(nonAxisIndices, i)
		}
	}

	groupSize := 1
	for _, idx := range axisIndices {
		groupSize *= m.axesSizes[idx]
	}
	groups := make([][]int, m.numRanks/groupSize)
	for i := range groups {
		groups[i] = make([]int, groupSize)
	}

	for rank := 0; rank < m.numRanks; rank++ {
		indices := m.Coordinates(rank)

		// Group index from the other axes.
		groupIdx, multiplier := 0, 1
		for i := len(nonAxisIndices) - 1; i >= 0; i-- {
			axisIdx := nonAxisIndices[i]
			groupIdx += indices[axisIdx] * multiplier
			multiplier *= m.axesSizes[axisIdx]
		}

		// Position within the group from the requested axes.
		posInGroup := 0
		multiplier = 1
		for i := len(axisIndices) - 1; i >= 0; i-- {
			axisIdx := axisIndices[i]
			posInGroup += indices[axisIdx] * multiplier
			multiplier *= m.axesSizes[axisIdx]
		}
		groups[groupIdx][posInGroup] = rank
	}
	return groups, nil
}
