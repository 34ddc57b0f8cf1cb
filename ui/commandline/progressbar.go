// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline implements the command-line display of the progress of the ring exchange.
package commandline

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/ringmm/pkg/core/ring"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// RoundProgress displays a progress bar of the rounds of one rank, with a table of the last round's stats.
type RoundProgress struct {
	numRounds int
	out       io.Writer
	bar       *progressbar.ProgressBar

	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan ring.Round
	asyncUpdatesDone sync.WaitGroup
	closeOnce        sync.Once

	computeTimes []time.Duration
}

// NewRoundProgress creates a progress display for numRounds rounds, drawn on out.
//
// Rounds are reported with OnRound, and Done must be called at the end.
func NewRoundProgress(out io.Writer, numRounds int) *RoundProgress {
	p := &RoundProgress{
		numRounds:     numRounds,
		out:           out,
		termenv:       termenv.NewOutput(out),
		statsStyle:    lipgloss.NewStyle().PaddingLeft(8),
		isFirstOutput: true,
		updates:       make(chan ring.Round, numRounds+1), // Never blocks the ring.
	}
	p.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	p.bar = progressbar.NewOptions(numRounds,
		progressbar.OptionSetDescription("      [bold]rounds[reset]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(out),
	)
	p.asyncUpdatesDone.Add(1)
	go p.draw()
	return p
}

// OnRound enqueues the update of a completed round. It can be used as ring.Config.OnRound.
// It must not be called after Done.
func (p *RoundProgress) OnRound(r ring.Round) {
	p.updates <- r
}

// Done waits for pending updates to be drawn and finishes the display.
func (p *RoundProgress) Done() {
	p.closeOnce.Do(func() { close(p.updates) })
	p.asyncUpdatesDone.Wait()
	p.termenv.ShowCursor()
	_, _ = fmt.Fprintln(p.out)
}

// MedianCompute returns the median compute time of the rounds drawn so far.
// Only valid after Done.
func (p *RoundProgress) MedianCompute() time.Duration {
	if len(p.computeTimes) == 0 {
		return 0
	}
	sorted := slices.Clone(p.computeTimes)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// draw asynchronously draws updates: the terminal may be slower than the rounds, in particular over
// a remote connection.
func (p *RoundProgress) draw() {
	defer p.asyncUpdatesDone.Done()
	for update := range p.updates {
		// Exhaust the updates in the buffer:
		amount := 1
		p.computeTimes = append(p.computeTimes, update.Compute)
	exhaust:
		for {
			select {
			case newUpdate, ok := <-p.updates:
				if !ok {
					break exhaust
				}
				amount++
				update = newUpdate
				p.computeTimes = append(p.computeTimes, update.Compute)
			default:
				break exhaust
			}
		}

		p.statsTable.Data(lgtable.NewStringData())
		p.statsTable.Row("Round", fmt.Sprintf("%d of %d", update.Round+1, p.numRounds))
		p.statsTable.Row("Block of rank", strconv.Itoa(update.Owner))
		p.statsTable.Row("Columns", fmt.Sprintf("[%d, ...)", update.ColumnOffset))
		p.statsTable.Row("Last compute", FormatDuration(update.Compute))
		p.statsTable.Row("Median compute", FormatDuration(p.MedianCompute()))
		const numRows = 5

		// Clear the previous lines that will be overwritten: the table with its borders and the bar.
		p.termenv.HideCursor()
		if !p.isFirstOutput {
			p.termenv.CursorPrevLine(numRows + 2 + 1)
		}
		p.isFirstOutput = false

		_, _ = fmt.Fprintln(p.out, p.statsStyle.Render(p.statsTable.String()))
		_ = p.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprintln(p.out)
		p.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// FormatDuration pretty prints duration with 2 decimal places, in the largest unit that fits.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%.2fh", d.Hours())
	case d >= time.Minute:
		return fmt.Sprintf("%.2fm", d.Minutes())
	case d >= time.Second || d == 0:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2fms", d.Seconds()*1e3)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", d.Seconds()*1e6)
	}
	return fmt.Sprintf("%dns", d.Nanoseconds())
}
