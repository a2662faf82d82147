// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cuda implements the "cuda" backend: EM kernel variants running on an accelerator, tuned by
// thread counts, event blocking and covariance kernel family.
//
// The compiled variants and the device memory functions are loaded from a native shared library
// (see LibraryPathEnvVar), without cgo. Each variant is looked up by its identifier, e.g.
// "em_cuda_train_V1_122_81_50_41_diag_16_128_512_256": variants missing in the library become stubs.
//
// With the "emulate" option, the device is emulated in host memory and the variants run the reference
// host kernels, while keeping the feasibility rules and the buffer mirroring of a real device.
//
// Configuration options, comma separated (e.g. "cuda:emulate,mem=512MiB"):
//
//   - emulate: use the emulated device.
//   - library=<path>: path to the kernel library.
//   - device=<id>: CUDA device to use, default 0.
//   - threads=<n>, shmem=<bytes>, mem=<bytes>: override the probed capability (max threads per block,
//     shared memory per block and total device memory). Byte sizes accept units, e.g. "48KiB".
package cuda

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/internal/em"
	"github.com/gomlx/gmmspecializer/internal/workerspool"
	"github.com/gomlx/gmmspecializer/pkg/variants"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in GMM_BACKEND or in the configuration to select this backend.
const BackendName = "cuda"

// LibraryPathEnvVar is the environment variable with the path to the native kernel library.
const LibraryPathEnvVar = "GMM_KERNEL_LIBRARY_PATH"

// DefaultLibraryDir is where the kernel library is searched for if not configured.
var DefaultLibraryDir = "/usr/local/lib/gmm"

func init() {
	backends.Register(BackendName, New)
}

// Options of the CUDA backend, parsed from its configuration string.
type Options struct {
	Emulate  bool
	Library  string
	DeviceID int

	// Capability overrides, 0 to keep the probed (or default emulated) values.
	MaxThreadsPerBlock   int
	MaxSharedMemPerBlock int
	TotalMem             int64
}

// ParseConfig parses the configuration string of the backend.
func ParseConfig(config string) (Options, error) {
	var opts Options
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, hasValue := strings.Cut(option, "=")
		var err error
		switch key {
		case "emulate":
			opts.Emulate = !hasValue || value == "true" || value == "1"
		case "library":
			opts.Library = value
		case "device":
			opts.DeviceID, err = strconv.Atoi(value)
		case "threads":
			opts.MaxThreadsPerBlock, err = strconv.Atoi(value)
		case "shmem":
			var v uint64
			v, err = humanize.ParseBytes(value)
			opts.MaxSharedMemPerBlock = int(v)
		case "mem":
			var v uint64
			v, err = humanize.ParseBytes(value)
			opts.TotalMem = int64(v)
		default:
			return opts, errors.Errorf("unknown cuda backend option %q in configuration %q", key, config)
		}
		if err != nil {
			return opts, errors.Wrapf(err, "invalid cuda backend option %q", option)
		}
	}
	return opts, nil
}

// New constructs a new CUDA Backend from its configuration string.
//
// It fails if no kernel library can be loaded and emulation was not requested.
func New(config string) (backends.Backend, error) {
	opts, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(opts)
}

// NewWithOptions constructs a new CUDA Backend.
func NewWithOptions(opts Options) (*Backend, error) {
	b := &Backend{options: opts, pool: workerspool.New(0)}
	if opts.Emulate {
		b.capability = DefaultEmulatedCapability.Clone()
	} else {
		lib, err := loadNativeLibrary(opts.Library, opts.DeviceID)
		if err != nil {
			return nil, err
		}
		b.capability, err = lib.capability()
		if err != nil {
			lib.close()
			return nil, err
		}
		b.native = lib
		b.device = lib.asDevice()
	}
	if opts.MaxThreadsPerBlock > 0 {
		b.capability.MaxThreadsPerUnit = opts.MaxThreadsPerBlock
	}
	if opts.MaxSharedMemPerBlock > 0 {
		b.capability.MaxSharedMemBytes = opts.MaxSharedMemPerBlock
	}
	if opts.TotalMem > 0 {
		b.capability.TotalDeviceMemBytes = opts.TotalMem
	}
	if opts.Emulate {
		b.emulated = newEmulatedDevice(b.capability.TotalDeviceMemBytes)
		b.device = b.emulated
		klog.V(1).Infof("cuda backend: emulated on the host, %s", b.capability)
	} else {
		klog.V(1).Infof("cuda backend: %s, %s", b.device.Name(), b.capability)
	}
	return b, nil
}

// Backend implements the backends.Backend interface.
type Backend struct {
	options     Options
	capability  backends.Capability
	device      backends.Device
	emulated    *emulatedDevice
	native      *nativeLibrary
	pool        *workerspool.Pool
	isFinalized bool
}

// Compile-time check that cuda.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	if b.emulated != nil {
		return "CUDA (emulated device in host memory)"
	}
	return "CUDA (" + b.device.Name() + ")"
}

// Capability implements backends.Backend.
func (b *Backend) Capability() backends.Capability {
	return b.capability
}

// ParameterSpace implements backends.Backend.
func (b *Backend) ParameterSpace(autotune bool) backends.ParameterSpace {
	if autotune {
		return AutotuneParameterSpace()
	}
	return DefaultParameterSpace()
}

// CompileFeasible implements backends.Backend.
func (b *Backend) CompileFeasible(a backends.Assignment) bool {
	return compileFeasible(a, b.capability)
}

// RunCheck implements backends.Backend.
func (b *Backend) RunCheck(a backends.Assignment) (backends.RunCheck, error) {
	return runCheck(a, b.capability)
}

// Kernel implements backends.Backend.
func (b *Backend) Kernel(key backends.OpKey, a backends.Assignment) (backends.Kernel, error) {
	if b.isFinalized {
		return nil, errors.New("cuda backend already finalized")
	}
	if b.emulated != nil {
		return em.NewKernel(b.pool, key, b.emulated.views)
	}
	return b.native.kernel(key, variants.Identifier(BackendName, key.Op, a))
}

// Device implements backends.Backend.
func (b *Backend) Device() backends.Device {
	return b.device
}

// Finalize implements backends.Backend.
func (b *Backend) Finalize() {
	if b.isFinalized {
		return
	}
	b.isFinalized = true
	if b.native != nil {
		b.native.close()
	}
}
