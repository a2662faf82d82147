// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !(darwin || linux)

package cuda

import (
	"runtime"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/pkg/errors"
)

// nativeLibrary is not supported in this platform: only the emulated device is available.
type nativeLibrary struct{}

func loadNativeLibrary(configured string, deviceID int) (*nativeLibrary, error) {
	return nil, errors.Errorf("CUDA kernel libraries are not supported on %s, use the \"emulate\" option", runtime.GOOS)
}

func (lib *nativeLibrary) capability() (backends.Capability, error) {
	return backends.Capability{}, errors.New("no CUDA kernel library loaded")
}

func (lib *nativeLibrary) kernel(key backends.OpKey, symbol string) (backends.Kernel, error) {
	return nil, errors.Wrapf(backends.ErrNotImplemented, "symbol %q", symbol)
}

func (lib *nativeLibrary) close() {}

func (lib *nativeLibrary) asDevice() backends.Device { return nil }
