// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil resolves the user-given paths of configuration files and kernel libraries.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file exists, or an error if it can't be checked.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "checking whether %q exists", path)
}

// ExpandHome replaces a leading "~" or "~<user>" in path by the home directory of the current (or named) user.
// Other paths are returned unchanged.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	userName, rest, _ := strings.Cut(path[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "home directory for path %q", path)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// FirstExisting returns the first of the paths, after ExpandHome, that exists, and whether one was found.
func FirstExisting(paths ...string) (string, bool, error) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		expanded, err := ExpandHome(path)
		if err != nil {
			return "", false, err
		}
		exists, err := FileExists(expanded)
		if err != nil {
			return "", false, err
		}
		if exists {
			return expanded, true, nil
		}
	}
	return "", false, nil
}
