// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ringmm

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/gomlx/ringmm/pkg/core/multiply"
	"github.com/gomlx/ringmm/pkg/core/operands"
	"github.com/gomlx/ringmm/pkg/core/placement"
	"github.com/gomlx/ringmm/pkg/core/ring"
	"github.com/gomlx/ringmm/pkg/core/timing"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	os.Exit(m.Run())
}

func testConfig(t *testing.T, n, numRanks, threads, ranksPerColor int, compact bool) Config {
	config := DefaultConfig()
	config.N = n
	config.NumRanks = numRanks
	config.Threads = threads
	config.RanksPerColor = ranksPerColor
	config.Compact = compact
	config.OutputDir = t.TempDir()
	config.RecvTimeout = 10 * time.Second
	config.SendTimeout = 10 * time.Second
	config.IOTimeout = 10 * time.Second
	return config
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.N, valid.NumRanks, valid.Threads, valid.RanksPerColor = 8, 2, 2, 2
	require.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero N", func(c *Config) { c.N = 0 }},
		{"zero ranks", func(c *Config) { c.NumRanks = 0 }},
		{"N not divisible by ranks", func(c *Config) { c.NumRanks = 3 }},
		{"zero threads", func(c *Config) { c.Threads = 0 }},
		{"more threads than rows", func(c *Config) { c.Threads = 5 }},
		{"threads don't divide rows", func(c *Config) { c.Threads = 3 }},
		{"zero ranks per color", func(c *Config) { c.RanksPerColor = 0 }},
		{"ranks per color don't divide ranks", func(c *Config) { c.NumRanks, c.RanksPerColor = 4, 3 }},
		{"invalid offset policy", func(c *Config) { c.Offset = multiply.OffsetPolicy(7) }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			tc.modify(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig), "error should wrap ErrConfig: %v", err)
		})
	}

	c := valid
	c.Threads, c.AllowRowRemainder = 3, true
	require.NoError(t, c.Validate())
}

func TestConfig_ParseSettings(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.ParseSettings(
		"n=64; ranks=4;threads=2;ranks_per_color=2;compact=0;out=/tmp/x;recv_timeout=3s;"+
			"send_timeout=1m;io_timeout=500ms;offset=fixed;allow_row_remainder=true;"))
	assert.Equal(t, 64, c.N)
	assert.Equal(t, 4, c.NumRanks)
	assert.Equal(t, 2, c.Threads)
	assert.Equal(t, 2, c.RanksPerColor)
	assert.False(t, c.Compact)
	assert.Equal(t, "/tmp/x", c.OutputDir)
	assert.Equal(t, 3*time.Second, c.RecvTimeout)
	assert.Equal(t, time.Minute, c.SendTimeout)
	assert.Equal(t, 500*time.Millisecond, c.IOTimeout)
	assert.Equal(t, multiply.OffsetFixed, c.Offset)
	assert.True(t, c.AllowRowRemainder)

	for _, bad := range []string{"n", "n=x", "color=3", "compact=maybe", "recv_timeout=3"} {
		err := c.ParseSettings(bad)
		require.Errorf(t, err, "settings %q", bad)
		assert.True(t, errors.Is(err, ErrConfig))
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv(ConfigEnvVar, "n=32;threads=4")
	c := DefaultConfig()
	require.NoError(t, c.ApplyEnv())
	assert.Equal(t, 32, c.N)
	assert.Equal(t, 4, c.Threads)

	t.Setenv(ConfigEnvVar, "bogus=1")
	require.Error(t, c.ApplyEnv())
}

func TestParseCompact(t *testing.T) {
	for value, want := range map[string]bool{"0": false, "1": true, "2": true, "true": true, "false": false} {
		got, err := ParseCompact(value)
		require.NoError(t, err)
		assert.Equalf(t, want, got, "ParseCompact(%q)", value)
	}
	_, err := ParseCompact("yes")
	require.Error(t, err)
}

// TestRunLocal_EndToEnd: N=4, P=2, T=1, ranks_per_color=2, compact=1 writes the exact product to result.bin.
func TestRunLocal_EndToEnd(t *testing.T) {
	config := testConfig(t, 4, 2, 1, 2, true)
	results, err := RunLocal(context.Background(), config)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for rank, result := range results {
		assert.Equal(t, rank, result.Rank)
		assert.Equal(t, placement.Collective, result.Plan.Mode)
		assert.Zero(t, result.DroppedRows)
	}
	// The leader writes both slices.
	assert.Equal(t, int64(2*2*4*8), results[0].BytesWritten)
	assert.Zero(t, results[1].BytesWritten)

	values := must.M1(placement.ReadResult(filepath.Join(config.OutputDir, "result.bin")))
	globalA, globalB := must.M2(operands.Global(4, 2))
	want := must.M1(multiply.Reference(globalA, globalB))
	assert.Equal(t, want.Flat(), values)
	require.NoError(t, Verify(config))

	var buf bytes.Buffer
	require.NoError(t, Report(config, results[0]).Write(&buf))
	assert.Contains(t, buf.String(), "4 size, 2 ranks, 1 threads")
}

func TestRunLocal_Elapsed(t *testing.T) {
	config := testConfig(t, 4, 2, 1, 1, true)
	var ticks atomic.Uint64
	config.Clock = timing.ClockFunc(func() uint64 { return ticks.Add(1_600) }) // 1µs per reading.
	results, err := RunLocal(context.Background(), config)
	require.NoError(t, err)
	for _, result := range results {
		total := result.Phases.Ticks(timing.PhaseTotal)
		require.Positive(t, total)
		assert.Equal(t, timing.TicksToDuration(total), result.Elapsed())
		assert.Positive(t, result.Phases.Ticks(timing.PhaseIO))
		assert.Less(t, result.Phases.Ticks(timing.PhaseIO), total)
	}
}

func TestRunLocal_Layouts(t *testing.T) {
	testCases := []struct {
		name                           string
		n, numRanks, threads, perColor int
		compact                        bool
		wantFiles                      []string
	}{
		{"single rank", 6, 1, 2, 1, true, []string{"result.bin"}},
		{"striped collective", 8, 4, 2, 4, false, []string{"result.bin"}},
		{"two colors compact", 8, 4, 1, 2, true, []string{"result0.bin", "result1.bin"}},
		{"two colors striped", 12, 4, 3, 2, false, []string{"result0.bin", "result1.bin"}},
		{"file per rank", 9, 3, 1, 1, true, []string{"result0.bin", "result1.bin", "result2.bin"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := testConfig(t, tc.n, tc.numRanks, tc.threads, tc.perColor, tc.compact)
			_, err := RunLocal(context.Background(), config)
			require.NoError(t, err)
			for _, name := range tc.wantFiles {
				assert.FileExists(t, filepath.Join(config.OutputDir, name))
			}
			require.NoError(t, Verify(config))
		})
	}
}

func TestRunLocal_FixedOffset(t *testing.T) {
	config := testConfig(t, 6, 3, 1, 3, true)
	config.Offset = multiply.OffsetFixed
	_, err := RunLocal(context.Background(), config)
	require.NoError(t, err)
	require.NoError(t, Verify(config))

	// The fixed policy doesn't produce the product.
	rotating := config
	rotating.Offset = multiply.OffsetRotating
	require.Error(t, Verify(rotating))
}

func TestRunLocal_DroppedRows(t *testing.T) {
	config := testConfig(t, 10, 2, 2, 2, true)
	config.AllowRowRemainder = true
	results, err := RunLocal(context.Background(), config)
	require.NoError(t, err)
	assert.Equal(t, 1, results[0].DroppedRows)

	expected := must.M1(Expected(config))
	assert.Equal(t, make([]float64, 10), expected[0].Row(4))
	require.NoError(t, Verify(config))
}

func TestRunLocal_OnRound(t *testing.T) {
	config := testConfig(t, 8, 4, 1, 4, true)
	var mu sync.Mutex
	var rounds []ring.Round
	config.OnRound = func(r ring.Round) {
		mu.Lock()
		defer mu.Unlock()
		rounds = append(rounds, r)
	}
	_, err := RunLocal(context.Background(), config)
	require.NoError(t, err)
	assert.Len(t, rounds, 16)
}

func TestRunLocal_Errors(t *testing.T) {
	config := testConfig(t, 8, 3, 1, 1, true)
	_, err := RunLocal(context.Background(), config)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))

	saved := matrix.MaxElements
	defer func() { matrix.MaxElements = saved }()
	matrix.MaxElements = 4
	config = testConfig(t, 8, 2, 1, 2, true)
	_, err = RunLocal(context.Background(), config)
	require.Error(t, err)
	assert.True(t, errors.Is(err, matrix.ErrAllocation), "unexpected error %v", err)

	config = testConfig(t, 4, 1, 1, 1, true)
	config.OutputDir = filepath.Join(t.TempDir(), "missing")
	matrix.MaxElements = saved
	_, err = RunLocal(context.Background(), config)
	require.Error(t, err)
}
