// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"unsafe"
)

// DevicePtr is an opaque handle to memory allocated on a Device.
// The zero value is never a valid allocation.
type DevicePtr uintptr

// Device is the Backend's sub-interface that defines the API to allocate memory on an accelerator and
// to transfer data to/from it.
//
// All methods are synchronous: they return when the operation is complete.
type Device interface {
	// Name of the device, for logging.
	Name() string

	// Alloc allocates numBytes on the device.
	Alloc(numBytes int) (DevicePtr, error)

	// Free releases memory allocated with Alloc.
	// A freed pointer should never be used again.
	Free(ptr DevicePtr) error

	// CopyToDevice copies len(src) bytes from the host to the device memory dst.
	CopyToDevice(dst DevicePtr, src []byte) error

	// CopyFromDevice copies len(dst) bytes from the device memory src to the host.
	CopyFromDevice(dst []byte, src DevicePtr) error
}

// ComponentArrays are the arrays of a set of M components with dimension D.
type ComponentArrays struct {
	Weights   []float32 // [M]
	Means     []float32 // [M*D]
	Covars    []float32 // [M*D*D]
	CompProbs []float32 // [M], cluster probabilities as soft counts: the expected number of events of each component.
}

// ComponentsSize returns the number of float32 values of M components packed contiguously.
func ComponentsSize(m, d int) int {
	return m + m*d + m*d*d + m
}

// ComponentsView returns ComponentArrays pointing into a flat packed representation, laid out as
// [weights | means | covars | comp_probs]. This is the layout of components in device memory.
func ComponentsView(flat []float32, m, d int) ComponentArrays {
	pos := 0
	next := func(size int) []float32 {
		s := flat[pos : pos+size : pos+size]
		pos += size
		return s
	}
	var c ComponentArrays
	c.Weights = next(m)
	c.Means = next(m * d)
	c.Covars = next(m * d * d)
	c.CompProbs = next(m)
	return c
}

// CopyComponents copies the values of src to dst. Both must have the same shape.
func CopyComponents(dst, src ComponentArrays) {
	copy(dst.Weights, src.Weights)
	copy(dst.Means, src.Means)
	copy(dst.Covars, src.Covars)
	copy(dst.CompProbs, src.CompProbs)
}

// EvalArrays are the evaluation outputs for N events and M components.
type EvalArrays struct {
	Memberships    []float32 // [M*N], row m holds the membership of each event in component m.
	LogLikelihoods []float32 // [N]
}

// EvalSize returns the number of float32 values of the evaluation outputs packed contiguously.
func EvalSize(n, m int) int {
	return m*n + n
}

// EvalView returns EvalArrays pointing into a flat packed representation, laid out as
// [memberships | log_likelihoods].
func EvalView(flat []float32, n, m int) EvalArrays {
	return EvalArrays{
		Memberships:    flat[: m*n : m*n],
		LogLikelihoods: flat[m*n : m*n+n : m*n+n],
	}
}

// Operands are the buffers resident for a kernel call.
//
// Host slices are always set for resident buffers. Device pointers are set only when the buffers are
// mirrored on the backend's Device, in which case OnDevice is true and the device copy is the one
// the kernel should work on.
type Operands struct {
	OnDevice bool

	Events       []float32 // [N*D]
	EventsDevice DevicePtr

	Index       []int32 // [K]
	IndexDevice DevicePtr

	Components       ComponentArrays
	ComponentsDevice DevicePtr

	Eval       EvalArrays
	EvalDevice DevicePtr
}

// Float32Bytes returns the bytes used by the slice, without copying.
func Float32Bytes(flat []float32) []byte {
	if len(flat) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*4)
}

// Int32Bytes returns the bytes used by the slice, without copying.
func Int32Bytes(flat []int32) []byte {
	if len(flat) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(flat)*4)
}

// BytesAsFloat32 returns a float32 view of the bytes, without copying.
// The length of the bytes must be a multiple of 4.
func BytesAsFloat32(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(data)/4)
}

// BytesAsInt32 returns an int32 view of the bytes, without copying.
// The length of the bytes must be a multiple of 4.
func BytesAsInt32(data []byte) []int32 {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&data[0])), len(data)/4)
}
