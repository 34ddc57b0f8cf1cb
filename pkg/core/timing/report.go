// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package timing

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
)

// Report of a run, as printed by rank 0.
type Report struct {
	N, NumRanks, Threads int
	NumColors            int
	Compact              bool
	Collective           bool

	// SliceBytes is the size of the C slice of rank 0, written during the I/O phase.
	SliceBytes int64

	Phases Snapshot
}

// Bandwidth of the I/O phase in GiB/s.
func (r *Report) Bandwidth() float64 {
	return BandwidthGiBs(r.SliceBytes, r.Phases.Ticks(PhaseIO))
}

// Summary is the one-line summary of the run. Seconds are truncated to integers.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d size, %d ranks, %d threads, %d seconds runtime, %d seconds in compute, %f GB/s bandwidth",
		r.N, r.NumRanks, r.Threads,
		uint64(r.Phases.Seconds(PhaseTotal)), uint64(r.Phases.Seconds(PhaseLoop)),
		r.Bandwidth())
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

func newPlainTable(renderer *lipgloss.Renderer) *lgtable.Table {
	header := renderer.NewStyle().Inherit(headerRowStyle)
	odd := renderer.NewStyle().Inherit(oddRowStyle)
	even := renderer.NewStyle().Inherit(evenRowStyle)
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(renderer.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				return header
			case row%2 == 0:
				s = odd
			default:
				s = even
			}
			if col == 0 {
				s = s.Align(lipgloss.Left)
			} else {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

// Table renders the phases and parameters of the run as a table.
//
// Colors are used only if w is a terminal that supports them.
func (r *Report) Table(w io.Writer) string {
	renderer := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	table := newPlainTable(renderer).Headers("", "value")
	layout := "striped"
	if r.Compact {
		layout = "compact"
	}
	mode := "independent"
	if r.Collective {
		mode = "collective"
	}
	table.Row("matrix", fmt.Sprintf("%s × %s", humanize.Comma(int64(r.N)), humanize.Comma(int64(r.N))))
	table.Row("ranks × threads", fmt.Sprintf("%d × %d", r.NumRanks, r.Threads))
	table.Row("output", fmt.Sprintf("%d file(s), %s, %s", r.NumColors, layout, mode))
	for _, phase := range Phases {
		table.Row(phase.String(), fmt.Sprintf("%.3fs", r.Phases.Seconds(phase)))
	}
	table.Row("C slice per rank", humanize.IBytes(uint64(r.SliceBytes)))
	table.Row("bandwidth", fmt.Sprintf("%s/s", humanize.IBytes(uint64(r.Bandwidth()*(1<<30)))))
	return table.Render()
}

// Write the summary line followed by the table.
func (r *Report) Write(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString(r.Summary())
	sb.WriteString("\n")
	sb.WriteString(r.Table(w))
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
