// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/internal/em"
	"github.com/pkg/errors"
)

// DefaultEmulatedCapability describes the emulated device when no capability override is configured.
var DefaultEmulatedCapability = backends.Capability{
	MaxThreadsPerUnit:   1024,
	MaxSharedMemBytes:   48 << 10,
	TotalDeviceMemBytes: 1 << 30,
	Flags:               map[string]string{"emulated": "true"},
}

// emulatedDevice is host memory posing as device memory: allocations are tracked, bounded by the
// configured total device memory, and only reachable through the backends.Device API, or by the
// emulated kernels.
type emulatedDevice struct {
	mu          sync.Mutex
	allocations map[backends.DevicePtr][]byte
	nextPtr     backends.DevicePtr
	inUse       int64
	total       int64
}

// emulatedAlignment of the emulated device pointers.
const emulatedAlignment = 256

func newEmulatedDevice(totalMem int64) *emulatedDevice {
	return &emulatedDevice{
		allocations: make(map[backends.DevicePtr][]byte),
		nextPtr:     emulatedAlignment,
		total:       totalMem,
	}
}

var _ backends.Device = (*emulatedDevice)(nil)

// Name implements backends.Device.
func (d *emulatedDevice) Name() string { return "emulated CUDA device" }

// Alloc implements backends.Device.
func (d *emulatedDevice) Alloc(numBytes int) (backends.DevicePtr, error) {
	if numBytes <= 0 {
		return 0, errors.Errorf("invalid device allocation of %d bytes", numBytes)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inUse+int64(numBytes) > d.total {
		return 0, errors.Errorf("out of device memory: %s in use, %s requested, %s total",
			humanize.IBytes(uint64(d.inUse)), humanize.IBytes(uint64(numBytes)), humanize.IBytes(uint64(d.total)))
	}
	ptr := d.nextPtr
	d.nextPtr += backends.DevicePtr((numBytes + emulatedAlignment - 1) / emulatedAlignment * emulatedAlignment)
	d.allocations[ptr] = make([]byte, numBytes)
	d.inUse += int64(numBytes)
	return ptr, nil
}

// Free implements backends.Device.
func (d *emulatedDevice) Free(ptr backends.DevicePtr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, found := d.allocations[ptr]
	if !found {
		return errors.Errorf("freeing unknown device pointer 0x%x", uintptr(ptr))
	}
	d.inUse -= int64(len(data))
	delete(d.allocations, ptr)
	return nil
}

// bytes returns the memory of an allocation.
func (d *emulatedDevice) bytes(ptr backends.DevicePtr) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, found := d.allocations[ptr]
	if !found {
		return nil, errors.Errorf("unknown device pointer 0x%x", uintptr(ptr))
	}
	return data, nil
}

// CopyToDevice implements backends.Device.
func (d *emulatedDevice) CopyToDevice(dst backends.DevicePtr, src []byte) error {
	data, err := d.bytes(dst)
	if err != nil {
		return err
	}
	if len(src) > len(data) {
		return errors.Errorf("copying %d bytes into a device buffer of %d bytes", len(src), len(data))
	}
	copy(data, src)
	return nil
}

// CopyFromDevice implements backends.Device.
func (d *emulatedDevice) CopyFromDevice(dst []byte, src backends.DevicePtr) error {
	data, err := d.bytes(src)
	if err != nil {
		return err
	}
	if len(dst) > len(data) {
		return errors.Errorf("copying %d bytes from a device buffer of %d bytes", len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

// numLive returns the number of live allocations and the bytes they use.
func (d *emulatedDevice) numLive() (int, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.allocations), d.inUse
}

// views resolves the operands of an invocation to device memory, when they are mirrored on the device.
func (d *emulatedDevice) views(inv *backends.Invocation) (em.Views, error) {
	ops := &inv.Operands
	if !ops.OnDevice {
		return em.HostViews(inv)
	}
	args := inv.Args
	var v em.Views
	if ops.EventsDevice != 0 {
		data, err := d.bytes(ops.EventsDevice)
		if err != nil {
			return v, errors.WithMessage(err, "events")
		}
		v.Events = backends.BytesAsFloat32(data)
	}
	if ops.IndexDevice != 0 {
		data, err := d.bytes(ops.IndexDevice)
		if err != nil {
			return v, errors.WithMessage(err, "index list")
		}
		v.Index = backends.BytesAsInt32(data)
	}
	if ops.ComponentsDevice != 0 {
		data, err := d.bytes(ops.ComponentsDevice)
		if err != nil {
			return v, errors.WithMessage(err, "components")
		}
		flat := backends.BytesAsFloat32(data)
		if len(flat) < backends.ComponentsSize(args.M, args.D) {
			return v, errors.Errorf("device components hold %d values, M=%d and D=%d require %d",
				len(flat), args.M, args.D, backends.ComponentsSize(args.M, args.D))
		}
		v.Components = backends.ComponentsView(flat, args.M, args.D)
	}
	if ops.EvalDevice != 0 {
		data, err := d.bytes(ops.EvalDevice)
		if err != nil {
			return v, errors.WithMessage(err, "evaluation results")
		}
		flat := backends.BytesAsFloat32(data)
		// The evaluation buffer holds M+1 values per event. A buffer sized for another M is left over from
		// before a merge: operations reading it fail validating its empty view.
		if len(flat)%(args.M+1) == 0 {
			v.Eval = backends.EvalView(flat, len(flat)/(args.M+1), args.M)
		}
	}
	return v, nil
}
