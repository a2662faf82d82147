// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package cuda

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// nativeLibrary is the shared library with the compiled kernel variants and the device memory functions.
//
// It is loaded with purego, without cgo. The device functions return 0 on success.
type nativeLibrary struct {
	path   string
	handle uintptr
	device int32
	mu     sync.Mutex

	deviceAlloc          func(numBytes int64) uintptr
	deviceFree           func(ptr uintptr) int32
	deviceCopyToDevice   func(dst uintptr, src unsafe.Pointer, numBytes int64) int32
	deviceCopyFromDevice func(dst unsafe.Pointer, src uintptr, numBytes int64) int32
	deviceInfo           func(device int32, maxThreads, maxSharedMem *int32, totalMem *int64) int32
	deviceSet            func(device int32) int32
}

// nativeCall is the single argument of every native kernel entry point: a pointer to it is passed,
// and the kernel returns the likelihood or distance as a float32.
//
// It must be kept in sync with the struct of the same layout in the kernel library.
type nativeCall struct {
	M, D, N, K         int32
	MinIters, MaxIters int32
	C1, C2             int32
	OtherM, LUTSize    int32
	Events             uintptr
	Index              uintptr
	Components         uintptr
	Eval               uintptr
	Merged             uintptr
	Other              uintptr
	LUT                uintptr
}

// findLibrary returns the path to the kernel library: the configured path, or $GMM_KERNEL_LIBRARY_PATH,
// or the first candidate found in DefaultLibraryDir.
func findLibrary(configured string) (string, error) {
	if configured != "" {
		return fsutil.ExpandHome(configured)
	}
	if path, found := os.LookupEnv(LibraryPathEnvVar); found && path != "" {
		return fsutil.ExpandHome(path)
	}
	path, found, err := fsutil.FirstExisting(
		filepath.Join(DefaultLibraryDir, "libgmm_cuda.so"), filepath.Join(DefaultLibraryDir, "libgmm_cuda.dylib"))
	if err != nil {
		return "", err
	}
	if !found {
		return "", errors.Errorf("no CUDA kernel library found: set $%s, the \"library=<path>\" option, or install it in %s",
			LibraryPathEnvVar, DefaultLibraryDir)
	}
	return path, nil
}

func loadNativeLibrary(configured string, deviceID int) (lib *nativeLibrary, err error) {
	path, err := findLibrary(configured)
	if err != nil {
		return nil, err
	}
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, errors.Wrapf(err, "loading CUDA kernel library %q", path)
	}
	lib = &nativeLibrary{path: path, handle: handle, device: int32(deviceID)}
	defer func() {
		if err != nil {
			_ = purego.Dlclose(handle)
		}
	}()
	for _, f := range []struct {
		symbol string
		fn     any
	}{
		{"gmm_device_alloc", &lib.deviceAlloc},
		{"gmm_device_free", &lib.deviceFree},
		{"gmm_device_copy_to_device", &lib.deviceCopyToDevice},
		{"gmm_device_copy_from_device", &lib.deviceCopyFromDevice},
		{"gmm_device_info", &lib.deviceInfo},
		{"gmm_device_set", &lib.deviceSet},
	} {
		sym, err := purego.Dlsym(handle, f.symbol)
		if err != nil {
			return nil, errors.Wrapf(err, "CUDA kernel library %q misses %q", path, f.symbol)
		}
		purego.RegisterFunc(f.fn, sym)
	}
	if status := lib.deviceSet(lib.device); status != 0 {
		return nil, errors.Errorf("selecting CUDA device %d failed with status %d", deviceID, status)
	}
	return lib, nil
}

// capability probes the selected device.
func (lib *nativeLibrary) capability() (backends.Capability, error) {
	var threads, shmem int32
	var mem int64
	if status := lib.deviceInfo(lib.device, &threads, &shmem, &mem); status != 0 {
		return backends.Capability{}, errors.Errorf("probing CUDA device %d failed with status %d", lib.device, status)
	}
	return backends.Capability{
		MaxThreadsPerUnit:   int(threads),
		MaxSharedMemBytes:   int(shmem),
		TotalDeviceMemBytes: mem,
		Flags:               map[string]string{"library": lib.path},
	}, nil
}

// kernel returns the entry point with the given symbol, or an error wrapping backends.ErrNotImplemented
// if the library doesn't have it.
func (lib *nativeLibrary) kernel(key backends.OpKey, symbol string) (backends.Kernel, error) {
	sym, err := purego.Dlsym(lib.handle, symbol)
	if err != nil {
		return nil, errors.Wrapf(backends.ErrNotImplemented, "symbol %q not in %q", symbol, lib.path)
	}
	var fn func(call *nativeCall) float32
	purego.RegisterFunc(&fn, sym)
	return func(inv *backends.Invocation) (backends.Result, error) {
		call := &nativeCall{
			M: int32(inv.Args.M), D: int32(inv.Args.D), N: int32(inv.Args.N), K: int32(inv.Args.K),
			MinIters: int32(inv.MinIters), MaxIters: int32(inv.MaxIters),
			C1: int32(inv.C1), C2: int32(inv.C2),
			Events:     uintptr(inv.Operands.EventsDevice),
			Index:      uintptr(inv.Operands.IndexDevice),
			Components: uintptr(inv.Operands.ComponentsDevice),
			Eval:       uintptr(inv.Operands.EvalDevice),
		}
		var merged, pair0, pair1 []float32
		if key.Op == backends.OperationMergeComponents || key.Op == backends.OperationDistanceRissanen {
			merged = packComponents(inv.Merged)
			call.Merged = uintptr(unsafe.Pointer(&merged[0]))
		}
		if key.Op == backends.OperationDistanceKL {
			// Both mixtures are host resident.
			pair0, pair1 = packComponents(inv.Pair[0]), packComponents(inv.Pair[1])
			call.M, call.OtherM = int32(inv.PairM[0]), int32(inv.PairM[1])
			call.Components = uintptr(unsafe.Pointer(&pair0[0]))
			call.Other = uintptr(unsafe.Pointer(&pair1[0]))
			if len(inv.LogTable) > 0 {
				call.LUT = uintptr(unsafe.Pointer(&inv.LogTable[0]))
				call.LUTSize = int32(len(inv.LogTable))
			}
		}
		lib.mu.Lock()
		value := fn(call)
		lib.mu.Unlock()
		runtime.KeepAlive(merged)
		runtime.KeepAlive(pair0)
		runtime.KeepAlive(pair1)
		runtime.KeepAlive(inv.LogTable)
		if merged != nil {
			unpackComponents(merged, inv.Merged)
		}
		switch key.Op {
		case backends.OperationDistanceRissanen, backends.OperationDistanceKL:
			return backends.Result{Distance: float64(value)}, nil
		default:
			return backends.Result{Likelihood: float64(value)}, nil
		}
	}, nil
}

// packComponents returns the components in the layout of backends.ComponentsView.
func packComponents(c backends.ComponentArrays) []float32 {
	flat := make([]float32, 0, len(c.Weights)+len(c.Means)+len(c.Covars)+len(c.CompProbs))
	flat = append(flat, c.Weights...)
	flat = append(flat, c.Means...)
	flat = append(flat, c.Covars...)
	return append(flat, c.CompProbs...)
}

func unpackComponents(flat []float32, c backends.ComponentArrays) {
	pos := 0
	for _, dst := range [][]float32{c.Weights, c.Means, c.Covars, c.CompProbs} {
		pos += copy(dst, flat[pos:])
	}
}

// nativeDevice implements backends.Device with the library's device functions.
type nativeDevice struct {
	lib *nativeLibrary
}

var _ backends.Device = nativeDevice{}

// asDevice returns the backends.Device backed by the library.
func (lib *nativeLibrary) asDevice() backends.Device { return nativeDevice{lib: lib} }

// Name implements backends.Device.
func (d nativeDevice) Name() string { return "CUDA device #" + strconv.Itoa(int(d.lib.device)) }

// Alloc implements backends.Device.
func (d nativeDevice) Alloc(numBytes int) (backends.DevicePtr, error) {
	ptr := d.lib.deviceAlloc(int64(numBytes))
	if ptr == 0 {
		return 0, errors.Errorf("%s: failed to allocate %d bytes", d.Name(), numBytes)
	}
	return backends.DevicePtr(ptr), nil
}

// Free implements backends.Device.
func (d nativeDevice) Free(ptr backends.DevicePtr) error {
	if status := d.lib.deviceFree(uintptr(ptr)); status != 0 {
		return errors.Errorf("%s: free failed with status %d", d.Name(), status)
	}
	return nil
}

// CopyToDevice implements backends.Device.
func (d nativeDevice) CopyToDevice(dst backends.DevicePtr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	status := d.lib.deviceCopyToDevice(uintptr(dst), unsafe.Pointer(&src[0]), int64(len(src)))
	runtime.KeepAlive(src)
	if status != 0 {
		return errors.Errorf("%s: host to device copy of %d bytes failed with status %d", d.Name(), len(src), status)
	}
	return nil
}

// CopyFromDevice implements backends.Device.
func (d nativeDevice) CopyFromDevice(dst []byte, src backends.DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	status := d.lib.deviceCopyFromDevice(unsafe.Pointer(&dst[0]), uintptr(src), int64(len(dst)))
	runtime.KeepAlive(dst)
	if status != 0 {
		return errors.Errorf("%s: device to host copy of %d bytes failed with status %d", d.Name(), len(dst), status)
	}
	return nil
}

// close unloads the library.
func (lib *nativeLibrary) close() {
	if lib.handle != 0 {
		_ = purego.Dlclose(lib.handle)
		lib.handle = 0
	}
}
