// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package timing

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by step ticks at every call.
func fakeClock(step uint64) Clock {
	var now atomic.Uint64
	return ClockFunc(func() uint64 { return now.Add(step) })
}

func TestConversions(t *testing.T) {
	assert.Equal(t, 1.0, Seconds(1_600_000_000))
	assert.Equal(t, uint64(1_600_000_000), DurationToTicks(time.Second))
	assert.Equal(t, uint64(0), DurationToTicks(-time.Second))
	assert.Equal(t, 2*time.Second, TicksToDuration(3_200_000_000))

	// 1 GiB in half a second.
	assert.InDelta(t, 2.0, BandwidthGiBs(1<<30, 800_000_000), 1e-12)
	assert.Zero(t, BandwidthGiBs(1<<30, 0))
}

func TestMonotonicClock(t *testing.T) {
	clock := NewClock()
	first := clock.Ticks()
	time.Sleep(time.Millisecond)
	assert.Greater(t, clock.Ticks(), first)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(fakeClock(10))
	start := r.Now()
	assert.Equal(t, uint64(10), r.Since(PhaseRecvWait, start))
	require.NoError(t, r.Measure(PhaseCompute, func() error {
		r.Now()
		return nil
	}))
	r.Add(PhaseCompute, 5)
	assert.Equal(t, uint64(10), r.Ticks(PhaseRecvWait))
	assert.Equal(t, uint64(25), r.Ticks(PhaseCompute))

	snap := r.Snapshot()
	r.Add(PhaseIO, 100)
	assert.Zero(t, snap.Ticks(PhaseIO))
	assert.Equal(t, uint64(100), r.Ticks(PhaseIO))
}

func TestReport(t *testing.T) {
	r := NewRecorder(fakeClock(1))
	r.Add(PhaseTotal, 3*1_600_000_000+5)
	r.Add(PhaseLoop, 2*1_600_000_000)
	r.Add(PhaseIO, 1_600_000_000)
	report := &Report{
		N: 4, NumRanks: 2, Threads: 1, NumColors: 1, Compact: true, Collective: true,
		SliceBytes: 1 << 30,
		Phases:     r.Snapshot(),
	}
	assert.Equal(t, "4 size, 2 ranks, 1 threads, 3 seconds runtime, 2 seconds in compute, 1.000000 GB/s bandwidth",
		report.Summary())

	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, report.Summary()+"\n"))
	for _, want := range []string{"compute", "I/O", "1.0 GiB", "compact, collective"} {
		assert.Contains(t, out, want)
	}
}
