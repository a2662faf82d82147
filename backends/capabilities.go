// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

// Capability holds the hardware limits of a backend.
//
// It is probed once, when the backend is created, and it is read-only afterwards.
// A zero value in any of the limits means "no ceiling", which is the case for pure CPU backends.
type Capability struct {
	// MaxThreadsPerUnit is the maximum number of threads per scheduling unit (thread block in CUDA).
	MaxThreadsPerUnit int

	// MaxSharedMemBytes is the maximum fast-shared-memory per scheduling unit.
	MaxSharedMemBytes int

	// TotalDeviceMemBytes is the total memory of the device.
	TotalDeviceMemBytes int64

	// Flags are backend specific extra information, e.g.: "supports_float32_atomic_add".
	Flags map[string]string
}

// Unbounded returns whether the capability has no hardware ceiling.
func (c Capability) Unbounded() bool {
	return c.MaxThreadsPerUnit == 0 && c.MaxSharedMemBytes == 0 && c.TotalDeviceMemBytes == 0
}

// Flag returns the value of a backend specific flag.
func (c Capability) Flag(name string) (value string, found bool) {
	value, found = c.Flags[name]
	return
}

// Clone makes a deep copy of the Capability.
func (c Capability) Clone() Capability {
	c2 := c
	c2.Flags = make(map[string]string, len(c.Flags))
	maps.Copy(c2.Flags, c.Flags)
	return c2
}

// String implements fmt.Stringer.
func (c Capability) String() string {
	if c.Unbounded() && len(c.Flags) == 0 {
		return "unbounded"
	}
	parts := []string{
		fmt.Sprintf("threads/unit=%d", c.MaxThreadsPerUnit),
		fmt.Sprintf("shared-mem/unit=%s", humanize.IBytes(uint64(c.MaxSharedMemBytes))),
		fmt.Sprintf("device-mem=%s", humanize.IBytes(uint64(c.TotalDeviceMemBytes))),
	}
	for _, key := range slices.Sorted(maps.Keys(c.Flags)) {
		parts = append(parts, fmt.Sprintf("%s=%s", key, c.Flags[key]))
	}
	return strings.Join(parts, ", ")
}
