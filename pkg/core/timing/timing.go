// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package timing measures the phases of a run in clock ticks, and reports them.
//
// Ticks are counted at a nominal rate of NominalClockRate per second, so that the numbers reported are
// comparable with those of cycle-counter based measurements at 1.6GHz.
package timing

import (
	"fmt"
	"sync"
	"time"
)

// NominalClockRate is the number of ticks per second used to convert ticks to seconds.
const NominalClockRate = 1.6e9

// Clock is a monotonic source of ticks.
type Clock interface {
	Ticks() uint64
}

// ClockFunc adapts a function to a Clock.
type ClockFunc func() uint64

// Ticks implements Clock.
func (fn ClockFunc) Ticks() uint64 { return fn() }

type monotonicClock struct {
	start time.Time
}

// NewClock returns a Clock that counts NominalClockRate ticks per second of monotonic time since its creation.
func NewClock() Clock {
	return &monotonicClock{start: time.Now()}
}

// Ticks implements Clock.
func (c *monotonicClock) Ticks() uint64 {
	return DurationToTicks(time.Since(c.start))
}

// DurationToTicks converts a duration to ticks at the nominal rate.
func DurationToTicks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d.Seconds() * NominalClockRate)
}

// TicksToDuration converts ticks at the nominal rate to a duration.
func TicksToDuration(ticks uint64) time.Duration {
	return time.Duration(Seconds(ticks) * float64(time.Second))
}

// Seconds converts ticks to seconds at the nominal rate.
func Seconds(ticks uint64) float64 {
	return float64(ticks) / NominalClockRate
}

// BandwidthGiBs returns the bandwidth in GiB/s of writing bytes in ioTicks ticks.
// It returns 0 if no time was measured.
func BandwidthGiBs(bytes int64, ioTicks uint64) float64 {
	if ioTicks == 0 {
		return 0
	}
	return float64(bytes) / Seconds(ioTicks) / (1024.0 * 1024.0 * 1024.0)
}

// Phase of a run.
type Phase int

const (
	PhaseRecvWait Phase = iota
	PhaseCompute
	PhaseSendWait
	PhaseLoop
	PhaseIO
	PhaseTotal
	numPhases
)

// Phases lists all phases in the order they are reported.
var Phases = []Phase{PhaseRecvWait, PhaseCompute, PhaseSendWait, PhaseLoop, PhaseIO, PhaseTotal}

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseRecvWait:
		return "receive wait"
	case PhaseCompute:
		return "compute"
	case PhaseSendWait:
		return "send wait"
	case PhaseLoop:
		return "ring loop"
	case PhaseIO:
		return "I/O"
	case PhaseTotal:
		return "total"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Recorder accumulates ticks per phase. It is safe for concurrent use.
type Recorder struct {
	clock Clock
	mu    sync.Mutex
	ticks [numPhases]uint64
}

// NewRecorder creates a Recorder using the given clock. If clock is nil, NewClock() is used.
func NewRecorder(clock Clock) *Recorder {
	if clock == nil {
		clock = NewClock()
	}
	return &Recorder{clock: clock}
}

// Now returns the current ticks of the clock.
func (r *Recorder) Now() uint64 { return r.clock.Ticks() }

// Add accumulates ticks into phase.
func (r *Recorder) Add(phase Phase, ticks uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks[phase] += ticks
}

// Since accumulates into phase the ticks elapsed since start, as returned by Now.
// It returns the elapsed ticks.
func (r *Recorder) Since(phase Phase, start uint64) uint64 {
	now := r.clock.Ticks()
	var elapsed uint64
	if now > start {
		elapsed = now - start
	}
	r.Add(phase, elapsed)
	return elapsed
}

// Measure runs fn and accumulates its duration into phase.
func (r *Recorder) Measure(phase Phase, fn func() error) error {
	start := r.Now()
	defer r.Since(phase, start)
	return fn()
}

// Ticks returns the ticks accumulated so far in phase.
func (r *Recorder) Ticks(phase Phase) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks[phase]
}

// Snapshot returns the accumulated ticks of every phase.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{ticks: r.ticks}
}

// Snapshot of the ticks of every phase.
type Snapshot struct {
	ticks [numPhases]uint64
}

// Ticks of phase.
func (s Snapshot) Ticks(phase Phase) uint64 { return s.ticks[phase] }

// Seconds of phase.
func (s Snapshot) Seconds(phase Phase) float64 { return Seconds(s.ticks[phase]) }
