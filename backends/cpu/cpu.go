// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements the "cpu" backend: EM kernels running on host memory, parallelized with goroutines.
//
// It has no hardware ceiling: every variant is compile and run feasible, and it offers no tuning,
// so its parameter space has a single variant.
//
// Configuration: "workers=N" sets the number of goroutines used by each kernel (0 or absent for the number of CPUs,
// 1 to run serially).
package cpu

import (
	"strconv"
	"strings"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/internal/em"
	"github.com/gomlx/gmmspecializer/internal/workerspool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in GMM_BACKEND or in the configuration to select this backend.
const BackendName = "cpu"

func init() {
	backends.Register(BackendName, New)
}

// New constructs a new CPU Backend.
func New(config string) (backends.Backend, error) {
	workers := 0
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, _ := strings.Cut(option, "=")
		switch key {
		case "workers":
			n, err := strconv.Atoi(value)
			if err != nil || n < -1 {
				return nil, errors.Errorf("invalid cpu backend option %q", option)
			}
			workers = n
		default:
			return nil, errors.Errorf("unknown cpu backend option %q in configuration %q", key, config)
		}
	}
	b := &Backend{pool: workerspool.New(workers)}
	klog.V(1).Infof("cpu backend: %d workers per kernel", b.pool.MaxParallelism())
	return b, nil
}

// Backend implements the backends.Backend interface.
type Backend struct {
	pool        *workerspool.Pool
	isFinalized bool
}

// Compile-time check that cpu.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return "Host CPU, parallelized with " + strconv.Itoa(b.pool.MaxParallelism()) + " workers"
}

// Capability implements backends.Backend. The CPU backend is unbounded.
func (b *Backend) Capability() backends.Capability {
	return backends.Capability{}
}

// ParameterSpace implements backends.Backend.
// There is nothing to tune, autotune is ignored.
func (b *Backend) ParameterSpace(autotune bool) backends.ParameterSpace {
	return backends.ParameterSpace{"dummy": {"1"}}
}

// CompileFeasible implements backends.Backend: always true.
func (b *Backend) CompileFeasible(backends.Assignment) bool { return true }

// RunCheck implements backends.Backend: all calls are feasible.
func (b *Backend) RunCheck(backends.Assignment) (backends.RunCheck, error) {
	return backends.AlwaysFeasible, nil
}

// Kernel implements backends.Backend.
func (b *Backend) Kernel(key backends.OpKey, _ backends.Assignment) (backends.Kernel, error) {
	if b.isFinalized {
		return nil, errors.New("cpu backend already finalized")
	}
	return em.NewKernel(b.pool, key, em.HostViews)
}

// Device implements backends.Backend: the CPU backend works on host memory.
func (b *Backend) Device() backends.Device { return nil }

// Finalize implements backends.Backend.
func (b *Backend) Finalize() {
	b.isFinalized = true
}
