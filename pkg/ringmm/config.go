// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ringmm

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/ringmm/pkg/core/distributed"
	"github.com/gomlx/ringmm/pkg/core/multiply"
	"github.com/gomlx/ringmm/pkg/core/ring"
	"github.com/gomlx/ringmm/pkg/core/timing"
	"github.com/pkg/errors"
)

// ErrConfig is returned (wrapped) for invalid configurations.
var ErrConfig = errors.New("invalid configuration")

// DefaultN is the default dimension of the matrices.
const DefaultN = 16384

// ConfigEnvVar is the environment variable with configuration overrides.
//
// The format is "key=value;key=value", see Config.ParseSettings for the keys.
const ConfigEnvVar = "RINGMM_CONFIG"

// Config of a run.
type Config struct {
	// N is the dimension of the square matrices.
	N int

	// NumRanks in the group, P.
	NumRanks int

	// Threads per rank used in the multiplication, T.
	Threads int

	// RanksPerColor is the number of ranks sharing an output file.
	RanksPerColor int

	// Compact places the slices contiguously in the output files, otherwise they are striped.
	Compact bool

	// OutputDir where the result files are written.
	OutputDir string

	// RecvTimeout and SendTimeout bound the waits of the ring exchange.
	RecvTimeout, SendTimeout time.Duration

	// IOTimeout bounds the waits of the collective write and of the final barrier.
	IOTimeout time.Duration

	// Offset policy of the columns of C written in each round.
	Offset multiply.OffsetPolicy

	// AllowRowRemainder accepts a number of threads that doesn't divide the rows of a slice: the remaining
	// rows are not computed.
	AllowRowRemainder bool

	// OnRound, if set, is called by every rank after each round. Not settable from a configuration string.
	OnRound func(ring.Round)

	// Clock used to measure phases. If nil, timing.NewClock() is used. Not settable from a configuration string.
	Clock timing.Clock
}

// DefaultConfig for a single rank, single thread run of DefaultN.
func DefaultConfig() Config {
	return Config{
		N:             DefaultN,
		NumRanks:      1,
		Threads:       1,
		RanksPerColor: 1,
		Compact:       true,
		OutputDir:     ".",
		RecvTimeout:   ring.DefaultTimeout,
		SendTimeout:   ring.DefaultTimeout,
		IOTimeout:     ring.DefaultTimeout,
		Offset:        multiply.OffsetRotating,
	}
}

// SliceRows is the number of rows of A and C owned by each rank.
func (c Config) SliceRows() int { return c.N / c.NumRanks }

// SliceBytes is the size in bytes of a C slice.
func (c Config) SliceBytes() int64 { return int64(c.SliceRows()) * int64(c.N) * 8 }

// Validate returns an error wrapping ErrConfig if the configuration is invalid.
func (c Config) Validate() error {
	switch {
	case c.N <= 0:
		return errors.WithMessagef(ErrConfig, "matrix dimension must be > 0, got %d", c.N)
	case c.NumRanks <= 0:
		return errors.WithMessagef(ErrConfig, "number of ranks must be > 0, got %d", c.NumRanks)
	case c.N%c.NumRanks != 0:
		return errors.WithMessagef(ErrConfig, "matrix dimension %d must be divisible by the number of ranks %d",
			c.N, c.NumRanks)
	case c.Threads <= 0:
		return errors.WithMessagef(ErrConfig, "number of threads must be > 0, got %d", c.Threads)
	case c.Threads > c.SliceRows():
		return errors.WithMessagef(ErrConfig, "%d threads for only %d rows per rank", c.Threads, c.SliceRows())
	case c.SliceRows()%c.Threads != 0 && !c.AllowRowRemainder:
		return errors.WithMessagef(ErrConfig, "%d threads don't divide the %d rows per rank, "+
			"set allow_row_remainder to skip the last %d rows", c.Threads, c.SliceRows(), c.SliceRows()%c.Threads)
	case c.RanksPerColor <= 0 || c.NumRanks%c.RanksPerColor != 0:
		return errors.WithMessagef(ErrConfig, "ranks per color (%d) must be > 0 and divide the number of ranks (%d)",
			c.RanksPerColor, c.NumRanks)
	case c.Offset != multiply.OffsetRotating && c.Offset != multiply.OffsetFixed:
		return errors.WithMessagef(ErrConfig, "invalid offset policy %s", c.Offset)
	}
	return nil
}

// Layout of the ranks in colors.
func (c Config) Layout() (*distributed.ColorLayout, error) {
	layout, err := distributed.NewColorLayout(c.NumRanks, c.RanksPerColor)
	if err != nil {
		return nil, errors.WithMessage(ErrConfig, err.Error())
	}
	return layout, nil
}

// ParseSettings applies settings formatted as "key=value;key=value" to the configuration.
//
// Keys: n, ranks, threads, ranks_per_color, compact, out, recv_timeout, send_timeout, io_timeout, offset
// and allow_row_remainder. Durations use time.ParseDuration format, booleans strconv.ParseBool.
func (c *Config) ParseSettings(settings string) error {
	for _, part := range strings.Split(settings, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return errors.WithMessagef(ErrConfig, "setting %q is not formatted as key=value", part)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if err := c.set(key, value); err != nil {
			return errors.WithMessagef(ErrConfig, "setting %q: %v", part, err)
		}
	}
	return nil
}

// ApplyEnv applies the settings in the environment variable ConfigEnvVar, if defined.
func (c *Config) ApplyEnv() error {
	settings, found := os.LookupEnv(ConfigEnvVar)
	if !found {
		return nil
	}
	return errors.WithMessagef(c.ParseSettings(settings), "parsing $%s", ConfigEnvVar)
}

func (c *Config) set(key, value string) (err error) {
	switch key {
	case "n":
		c.N, err = strconv.Atoi(value)
	case "ranks":
		c.NumRanks, err = strconv.Atoi(value)
	case "threads":
		c.Threads, err = strconv.Atoi(value)
	case "ranks_per_color":
		c.RanksPerColor, err = strconv.Atoi(value)
	case "compact":
		c.Compact, err = parseFlag(value)
	case "out":
		c.OutputDir = value
	case "recv_timeout":
		c.RecvTimeout, err = time.ParseDuration(value)
	case "send_timeout":
		c.SendTimeout, err = time.ParseDuration(value)
	case "io_timeout":
		c.IOTimeout, err = time.ParseDuration(value)
	case "offset":
		c.Offset, err = multiply.ParseOffsetPolicy(value)
	case "allow_row_remainder":
		c.AllowRowRemainder, err = parseFlag(value)
	default:
		err = errors.Errorf("unknown key %q", key)
	}
	return
}

// parseFlag accepts the forms of strconv.ParseBool and any integer, where non-zero is true.
func parseFlag(value string) (bool, error) {
	if i, err := strconv.Atoi(value); err == nil {
		return i != 0, nil
	}
	return strconv.ParseBool(value)
}

// ParseCompact parses the compact positional argument: like the C atoi, any non-zero integer is true.
func ParseCompact(value string) (bool, error) {
	return parseFlag(value)
}
