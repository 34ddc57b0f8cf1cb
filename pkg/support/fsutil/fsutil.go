// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DirMode of directories created by PrepareOutputDir.
var DirMode os.FileMode = 0o755

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user (e.g: `~unknown/...`)
func ReplaceTildeInDir(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~") {
		return dir, nil
	}
	userName, rest, _ := strings.Cut(dir[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// PrepareOutputDir expands a leading "~" in dir, creates it if it doesn't exist, and returns the expanded path.
// It fails if dir exists but is not a directory.
func PrepareOutputDir(dir string) (string, error) {
	dir, err := ReplaceTildeInDir(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return "", errors.Errorf("output path %q is not a directory", dir)
		}
		return dir, nil
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return "", errors.Wrapf(err, "creating output directory %q", dir)
		}
		return dir, nil
	default:
		return "", errors.Wrapf(err, "checking output directory %q", dir)
	}
}
