// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gmmspecializer/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const numClasses = int(ClassEvalResults) + 1

// Stats are the counters of the Manager's activity, used for diagnostics and tests.
type Stats struct {
	// Allocations and Frees count buffer creations and releases, of any class.
	Allocations, Frees int

	// HostAllocations counts host memory taken for buffers (owned copies and transfer staging).
	HostAllocations int

	// DeviceAllocations and DeviceFrees count accelerator memory allocations and releases.
	DeviceAllocations, DeviceFrees int

	// HostToDevice and DeviceToHost count copies in each direction, and BytesTransferred their total size.
	HostToDevice, DeviceToHost int
	BytesTransferred           int64
}

// buffer is the state of one Class.
type buffer struct {
	class     Class
	state     State
	shape     []int
	owner     uuid.UUID
	numValues int

	// Host side: owned copies for events and index lists, aliases of the model's arrays otherwise.
	events     []float32
	index      []int32
	components backends.ComponentArrays
	eval       backends.EvalArrays

	// staging holds the packed components or evaluation results for device transfers.
	staging []float32

	devicePtr backends.DevicePtr
}

func (b *buffer) numBytes() int { return b.numValues * 4 }

// Manager owns the buffers of every Class, in host memory and mirrored on device if it has one.
//
// It is not safe for concurrent use: callers serialize their operations.
type Manager struct {
	device  backends.Device
	buffers [numClasses]*buffer
	pool    hostPool
	stats   Stats
}

// NewManager creates a Manager. If device is nil, buffers are only host resident.
func NewManager(device backends.Device) *Manager {
	return &Manager{device: device}
}

// HasDevice returns whether buffers are mirrored on an accelerator.
func (m *Manager) HasDevice() bool { return m.device != nil }

// Stats returns the activity counters.
func (m *Manager) Stats() Stats { return m.stats }

// State returns the state of the buffer of the class.
func (m *Manager) State(class Class) State {
	if b := m.buffers[class]; b != nil {
		return b.state
	}
	return StateUnallocated
}

// Shape returns the logical shape of the buffer of the class, or nil if it is not allocated.
func (m *Manager) Shape(class Class) []int {
	if b := m.buffers[class]; b != nil {
		return slices.Clone(b.shape)
	}
	return nil
}

// Owner returns the identity of the owner of the arrays of the buffer of the class, uuid.Nil if none.
func (m *Manager) Owner(class Class) uuid.UUID {
	if b := m.buffers[class]; b != nil {
		return b.owner
	}
	return uuid.Nil
}

// Ensure the buffer of the class holds the source's data.
//
// If the buffer is resident with the same shape and owner, its contents are refreshed without
// reallocation: events and index lists are copied again, components are uploaded again, and evaluation
// results (outputs only) are left as they are. Otherwise, any existing buffer of the class is freed, and a new
// one is allocated on the host and, if there is a device, mirrored there.
//
// Allocation failures are returned, leaving the class unallocated.
func (m *Manager) Ensure(class Class, src Source) error {
	if src.class != class {
		return errors.Errorf("ensuring buffer %s with a source for %s", class, src.class)
	}
	if b := m.buffers[class]; b != nil {
		if b.owner == src.owner && slices.Equal(b.shape, src.shape) {
			m.fillHost(b, src)
			if b.state == StateAcceleratorMirrored && class != ClassEvalResults {
				return m.upload(b)
			}
			return nil
		}
		if err := m.Free(class); err != nil {
			return errors.WithMessagef(err, "freeing superseded %s buffer", class)
		}
	}

	b := &buffer{
		class:     class,
		shape:     slices.Clone(src.shape),
		owner:     src.owner,
		numValues: src.numValues(),
	}
	switch class {
	case ClassEvents:
		b.events = m.pool.getFloat32(b.numValues)
		m.stats.HostAllocations++
	case ClassIndexList:
		b.index = m.pool.getInt32(b.numValues)
		m.stats.HostAllocations++
	}
	m.fillHost(b, src)
	b.state = StateCPUResident
	m.buffers[class] = b
	m.stats.Allocations++
	klog.V(2).Infof("buffers: allocated %s%v on host (%s)", class, b.shape, humanize.IBytes(uint64(b.numBytes())))

	if m.device == nil {
		return nil
	}
	ptr, err := m.device.Alloc(b.numBytes())
	if err != nil {
		m.releaseHost(b)
		m.buffers[class] = nil
		m.stats.Frees++
		return errors.WithMessagef(err, "allocating %s%v (%s) on %s", class, b.shape,
			humanize.IBytes(uint64(b.numBytes())), m.device.Name())
	}
	b.devicePtr = ptr
	b.state = StateAcceleratorMirrored
	m.stats.DeviceAllocations++
	if class == ClassComponents || class == ClassEvalResults {
		b.staging = m.pool.getFloat32(b.numValues)
		m.stats.HostAllocations++
	}
	klog.V(2).Infof("buffers: mirrored %s%v on %s", class, b.shape, m.device.Name())
	if class == ClassEvalResults {
		return nil
	}
	return m.upload(b)
}

// fillHost points or copies the host side of the buffer to the source's data.
func (m *Manager) fillHost(b *buffer, src Source) {
	switch b.class {
	case ClassEvents:
		if src.gatherIndex != nil {
			d := src.shape[1]
			for ii, idx := range src.gatherIndex {
				copy(b.events[ii*d:(ii+1)*d], src.events[int(idx)*d:(int(idx)+1)*d])
			}
		} else {
			copy(b.events, src.events)
		}
	case ClassIndexList:
		copy(b.index, src.index)
	case ClassComponents:
		b.components = src.components
	case ClassEvalResults:
		b.eval = src.eval
	}
}

// hostBytes returns the bytes transferred to or from the device, packing the components into the staging buffer
// for uploads if pack is true.
func (b *buffer) hostBytes(pack bool) []byte {
	switch b.class {
	case ClassEvents:
		return backends.Float32Bytes(b.events)
	case ClassIndexList:
		return backends.Int32Bytes(b.index)
	case ClassComponents:
		if pack {
			backends.CopyComponents(backends.ComponentsView(b.staging, b.shape[0], b.shape[1]), b.components)
		}
	}
	return backends.Float32Bytes(b.staging)
}

func (m *Manager) upload(b *buffer) error {
	data := b.hostBytes(true)
	if err := m.device.CopyToDevice(b.devicePtr, data); err != nil {
		return errors.WithMessagef(err, "copying %s%v to %s", b.class, b.shape, m.device.Name())
	}
	m.stats.HostToDevice++
	m.stats.BytesTransferred += int64(len(data))
	klog.V(2).Infof("buffers: copied %s%v to device (%s)", b.class, b.shape, humanize.IBytes(uint64(len(data))))
	return nil
}

func (m *Manager) download(b *buffer) error {
	data := b.hostBytes(false)
	if err := m.device.CopyFromDevice(data, b.devicePtr); err != nil {
		return errors.WithMessagef(err, "copying %s%v from %s", b.class, b.shape, m.device.Name())
	}
	switch b.class {
	case ClassComponents:
		backends.CopyComponents(b.components, backends.ComponentsView(b.staging, b.shape[0], b.shape[1]))
	case ClassEvalResults:
		view := backends.EvalView(b.staging, b.shape[0], b.shape[1])
		copy(b.eval.Memberships, view.Memberships)
		copy(b.eval.LogLikelihoods, view.LogLikelihoods)
	}
	m.stats.DeviceToHost++
	m.stats.BytesTransferred += int64(len(data))
	klog.V(2).Infof("buffers: copied %s%v from device (%s)", b.class, b.shape, humanize.IBytes(uint64(len(data))))
	return nil
}

// checkMirrored returns the buffer of the class if it is mirrored on the device.
func (m *Manager) checkMirrored(class Class) (*buffer, error) {
	b := m.buffers[class]
	if b == nil || b.state != StateAcceleratorMirrored {
		return nil, errors.Errorf("buffer %s is %s, not mirrored on the device", class, m.State(class))
	}
	return b, nil
}

// SyncToAccelerator copies the host data of the class to its device mirror, e.g. after the host side was mutated.
// It is a no-op without a device.
func (m *Manager) SyncToAccelerator(class Class) error {
	if m.device == nil {
		return nil
	}
	b, err := m.checkMirrored(class)
	if err != nil {
		return err
	}
	return m.upload(b)
}

// SyncFromAccelerator copies the device mirror of the class back to the host, e.g. after a kernel wrote results
// on the device. It is a no-op without a device.
func (m *Manager) SyncFromAccelerator(class Class) error {
	if m.device == nil {
		return nil
	}
	b, err := m.checkMirrored(class)
	if err != nil {
		return err
	}
	return m.download(b)
}

func (m *Manager) releaseHost(b *buffer) {
	m.pool.putFloat32(b.events)
	m.pool.putInt32(b.index)
	m.pool.putFloat32(b.staging)
	b.events, b.index, b.staging = nil, nil, nil
	b.components, b.eval = backends.ComponentArrays{}, backends.EvalArrays{}
}

// Free releases the device mirror of the class (if any), then its host storage.
// Freeing an unallocated class is a no-op.
func (m *Manager) Free(class Class) error {
	b := m.buffers[class]
	if b == nil {
		return nil
	}
	m.buffers[class] = nil
	var err error
	if b.devicePtr != 0 {
		err = m.device.Free(b.devicePtr)
		m.stats.DeviceFrees++
		if err != nil {
			err = errors.WithMessagef(err, "freeing %s%v on %s", class, b.shape, m.device.Name())
		}
	}
	m.releaseHost(b)
	b.state = StateUnallocated
	m.stats.Frees++
	klog.V(2).Infof("buffers: freed %s%v", class, b.shape)
	return err
}

// FreeAll frees the buffers of all classes, returning the first error.
func (m *Manager) FreeAll() error {
	var firstErr error
	for _, class := range ClassValues() {
		if err := m.Free(class); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Operands returns the resident buffers, to be passed to a kernel.
func (m *Manager) Operands() backends.Operands {
	ops := backends.Operands{OnDevice: m.device != nil}
	if b := m.buffers[ClassEvents]; b != nil {
		ops.Events, ops.EventsDevice = b.events, b.devicePtr
	}
	if b := m.buffers[ClassIndexList]; b != nil {
		ops.Index, ops.IndexDevice = b.index, b.devicePtr
	}
	if b := m.buffers[ClassComponents]; b != nil {
		ops.Components, ops.ComponentsDevice = b.components, b.devicePtr
	}
	if b := m.buffers[ClassEvalResults]; b != nil {
		ops.Eval, ops.EvalDevice = b.eval, b.devicePtr
	}
	return ops
}
