// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	testCases := [][2]string{
		{"", ""},
		{"/tmp/out", "/tmp/out"},
		{"~", usr.HomeDir},
		{"~/results", filepath.Join(usr.HomeDir, "results")},
		{"~" + usr.Username + "/x", filepath.Join(usr.HomeDir, "x")},
	}
	for _, tc := range testCases {
		got, err := ReplaceTildeInDir(tc[0])
		require.NoError(t, err)
		assert.Equalf(t, tc[1], got, "ReplaceTildeInDir(%q)", tc[0])
	}

	_, err = ReplaceTildeInDir("~no_such_user_for_ringmm_tests/x")
	require.Error(t, err)
}

func TestPrepareOutputDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "a", "b")
	got, err := PrepareOutputDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, dir)

	// Existing directory.
	_, err = PrepareOutputDir(dir)
	require.NoError(t, err)

	file := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = PrepareOutputDir(file)
	require.Error(t, err)
}
