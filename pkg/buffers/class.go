// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package buffers manages the lifecycle of the buffers kernels operate on, in host memory and, when the
// backend has a device, mirrored in accelerator memory.
//
// There is one buffer per Class. Each follows the state machine
//
//	Unallocated -> CPUResident -> [AcceleratorMirrored] -> Unallocated (freed)
//
// Buffers are created lazily by Manager.Ensure, never resized in place: a change of shape (or of the
// owner of the arrays) frees the buffer and allocates a new one. Device memory is a manual resource, so
// buffers are only released explicitly, by Manager.Free or Manager.FreeAll.
package buffers

//go:generate go tool enumer -type=Class -trimprefix=Class -transform=snake -output=gen_class_enumer.go class.go
//go:generate go tool enumer -type=State -trimprefix=State -transform=snake -output=gen_state_enumer.go class.go

// Class of buffer. There is at most one buffer of each class at any time.
type Class int

const (
	// ClassEvents holds the [N*D] events (or the K gathered ones).
	ClassEvents Class = iota

	// ClassIndexList holds the [K] indices of a subset of the events.
	ClassIndexList

	// ClassComponents holds the components of the model being operated on.
	ClassComponents

	// ClassEvalResults holds the memberships and log-likelihoods computed for the events.
	ClassEvalResults
)

// State of the buffer of a Class.
type State int

const (
	// StateUnallocated is the state of a buffer never ensured, or freed.
	StateUnallocated State = iota

	// StateCPUResident is the state of a buffer in host memory only.
	StateCPUResident

	// StateAcceleratorMirrored is the state of a buffer in host memory with a same shaped copy on the device.
	StateAcceleratorMirrored
)
