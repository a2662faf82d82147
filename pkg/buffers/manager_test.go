// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"testing"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// fakeDevice keeps allocations in host memory and records the order of the calls.
type fakeDevice struct {
	memory  map[backends.DevicePtr][]byte
	next    backends.DevicePtr
	calls   []string
	failAll bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{memory: make(map[backends.DevicePtr][]byte), next: 16}
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Alloc(numBytes int) (backends.DevicePtr, error) {
	d.calls = append(d.calls, "alloc")
	if d.failAll {
		return 0, errors.New("out of memory")
	}
	ptr := d.next
	d.next += 16
	d.memory[ptr] = make([]byte, numBytes)
	return ptr, nil
}

func (d *fakeDevice) Free(ptr backends.DevicePtr) error {
	d.calls = append(d.calls, "free")
	if _, found := d.memory[ptr]; !found {
		return errors.Errorf("double free of %d", ptr)
	}
	delete(d.memory, ptr)
	return nil
}

func (d *fakeDevice) CopyToDevice(dst backends.DevicePtr, src []byte) error {
	d.calls = append(d.calls, "to_device")
	copy(d.memory[dst], src)
	return nil
}

func (d *fakeDevice) CopyFromDevice(dst []byte, src backends.DevicePtr) error {
	d.calls = append(d.calls, "from_device")
	copy(dst, d.memory[src])
	return nil
}

func makeEvents(n, d int) []float32 {
	events := make([]float32, n*d)
	for ii := range events {
		events[ii] = float32(ii)
	}
	return events
}

func TestEnsureAndFree(t *testing.T) {
	for _, withDevice := range []bool{false, true} {
		var dev *fakeDevice
		var m *Manager
		if withDevice {
			dev = newFakeDevice()
			m = NewManager(dev)
		} else {
			m = NewManager(nil)
		}
		assert.Equal(t, StateUnallocated, m.State(ClassEvents))

		src, err := EventsSource(makeEvents(100, 2), 100, 2)
		require.NoError(t, err)
		require.NoError(t, m.Ensure(ClassEvents, src))
		if withDevice {
			assert.Equal(t, StateAcceleratorMirrored, m.State(ClassEvents))
		} else {
			assert.Equal(t, StateCPUResident, m.State(ClassEvents))
		}
		assert.Equal(t, []int{100, 2}, m.Shape(ClassEvents))

		// Same shape: refreshed, not reallocated.
		require.NoError(t, m.Ensure(ClassEvents, src))
		assert.Equal(t, 1, m.Stats().Allocations)
		assert.Equal(t, 0, m.Stats().Frees)

		// New shape: one free and one more allocation.
		src, err = EventsSource(makeEvents(200, 2), 200, 2)
		require.NoError(t, err)
		require.NoError(t, m.Ensure(ClassEvents, src))
		assert.Equal(t, 2, m.Stats().Allocations)
		assert.Equal(t, 1, m.Stats().Frees)
		assert.Equal(t, float32(399), m.Operands().Events[399])

		// Freeing twice: the second time is a no-op.
		require.NoError(t, m.Free(ClassEvents))
		stats := m.Stats()
		require.NoError(t, m.Free(ClassEvents))
		assert.Equal(t, stats, m.Stats())
		assert.Equal(t, StateUnallocated, m.State(ClassEvents))
		assert.Nil(t, m.Operands().Events)

		if withDevice {
			assert.Equal(t, 2, m.Stats().DeviceAllocations)
			assert.Equal(t, 2, m.Stats().DeviceFrees)
			assert.Empty(t, dev.memory)
		}
	}
}

func TestWrongClass(t *testing.T) {
	m := NewManager(nil)
	src, err := IndexSource([]int32{0, 1})
	require.NoError(t, err)
	require.Error(t, m.Ensure(ClassEvents, src))
	require.NoError(t, m.Ensure(ClassIndexList, src))
	assert.Equal(t, []int32{0, 1}, m.Operands().Index)
}

func TestGatheredEvents(t *testing.T) {
	m := NewManager(nil)
	events := makeEvents(5, 2)
	src, err := GatheredEventsSource(events, 2, []int32{4, 0})
	require.NoError(t, err)
	require.NoError(t, m.Ensure(ClassEvents, src))
	assert.Equal(t, []float32{8, 9, 0, 1}, m.Operands().Events)

	_, err = GatheredEventsSource(events, 2, []int32{5})
	require.Error(t, err)
}

func TestDeviceFreedFirst(t *testing.T) {
	dev := newFakeDevice()
	m := NewManager(dev)
	src, err := EventsSource(makeEvents(3, 1), 3, 1)
	require.NoError(t, err)
	require.NoError(t, m.Ensure(ClassEvents, src))
	assert.Equal(t, []string{"alloc", "to_device"}, dev.calls)
	dev.calls = nil
	require.NoError(t, m.FreeAll())
	assert.Equal(t, []string{"free"}, dev.calls)
	assert.Equal(t, StateUnallocated, m.State(ClassEvents))
}

func TestAllocationFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.failAll = true
	m := NewManager(dev)
	src, err := EventsSource(makeEvents(3, 1), 3, 1)
	require.NoError(t, err)
	require.Error(t, m.Ensure(ClassEvents, src))
	assert.Equal(t, StateUnallocated, m.State(ClassEvents))
	assert.Empty(t, dev.memory)
}

func newComponents(m, d int) backends.ComponentArrays {
	return backends.ComponentsView(make([]float32, backends.ComponentsSize(m, d)), m, d)
}

func TestComponentsOwnership(t *testing.T) {
	dev := newFakeDevice()
	m := NewManager(dev)
	owner1, owner2 := uuid.New(), uuid.New()

	c1 := newComponents(2, 2)
	c1.Weights[0] = 0.25
	src, err := ComponentsSource(owner1, 2, 2, c1)
	require.NoError(t, err)
	require.NoError(t, m.Ensure(ClassComponents, src))
	require.NoError(t, m.Ensure(ClassComponents, src))
	assert.Equal(t, 1, m.Stats().Allocations)
	assert.Equal(t, owner1, m.Owner(ClassComponents))

	// Same shape, different owner: the buffer is recreated.
	c2 := newComponents(2, 2)
	src, err = ComponentsSource(owner2, 2, 2, c2)
	require.NoError(t, err)
	require.NoError(t, m.Ensure(ClassComponents, src))
	assert.Equal(t, 2, m.Stats().Allocations)
	assert.Equal(t, 1, m.Stats().Frees)
	assert.Equal(t, owner2, m.Owner(ClassComponents))

	_, err = ComponentsSource(owner2, 3, 2, c2)
	require.Error(t, err)
}

func TestSyncRoundTrip(t *testing.T) {
	dev := newFakeDevice()
	m := NewManager(dev)
	owner := uuid.New()

	c := newComponents(2, 1)
	copy(c.Means, []float32{1, 2})
	src, err := ComponentsSource(owner, 2, 1, c)
	require.NoError(t, err)
	require.NoError(t, m.Ensure(ClassComponents, src))

	// Emulate a kernel writing on the device: the host view is updated only after syncing back.
	ptr := m.Operands().ComponentsDevice
	device := backends.ComponentsView(backends.BytesAsFloat32(dev.memory[ptr]), 2, 1)
	assert.Equal(t, []float32{1, 2}, device.Means)
	device.Means[1] = 7
	assert.Equal(t, float32(2), c.Means[1])
	require.NoError(t, m.SyncFromAccelerator(ClassComponents))
	assert.Equal(t, float32(7), c.Means[1])

	// Host mutation, synced to the device.
	c.Weights[0] = 0.5
	require.NoError(t, m.SyncToAccelerator(ClassComponents))
	assert.Equal(t, float32(0.5), device.Weights[0])

	// Evaluation results are outputs: allocated on the device, but never uploaded.
	eval := backends.EvalArrays{Memberships: make([]float32, 2*3), LogLikelihoods: make([]float32, 3)}
	src, err = EvalSource(owner, 3, 2, eval)
	require.NoError(t, err)
	uploads := m.Stats().HostToDevice
	require.NoError(t, m.Ensure(ClassEvalResults, src))
	assert.Equal(t, uploads, m.Stats().HostToDevice)
	devEval := backends.EvalView(backends.BytesAsFloat32(dev.memory[m.Operands().EvalDevice]), 3, 2)
	devEval.LogLikelihoods[2] = -3
	require.NoError(t, m.SyncFromAccelerator(ClassEvalResults))
	assert.Equal(t, float32(-3), eval.LogLikelihoods[2])

	require.Error(t, m.SyncFromAccelerator(ClassIndexList), "index list not allocated")
	require.NoError(t, m.FreeAll())
	assert.Empty(t, dev.memory)

	// Without a device syncing is a no-op.
	require.NoError(t, NewManager(nil).SyncFromAccelerator(ClassEvents))
}
