// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package specializer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/backends/cuda"
	_ "github.com/gomlx/gmmspecializer/backends/default"
	"github.com/gomlx/gmmspecializer/pkg/dispatch"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestConfig(t *testing.T) {
	t.Setenv(backends.ConfigEnvVar, "")
	config := DefaultConfig()
	assert.Equal(t, []string{"cpu"}, config.Candidates())

	config.Backends = []string{"cuda", "cpu:workers=2", "cuda:emulate"}
	config.CUDA.Emulate = true
	config.CUDA.TotalMem = "64MiB"
	config.CUDADeviceID = 1
	assert.Equal(t, []string{"cuda:emulate,device=1,mem=64MiB", "cpu:workers=2"}, config.Candidates())

	config.Backends = []string{"cuda:"}
	config.CPUWorkers = 3
	assert.Equal(t, []string{"cuda:", "cpu:workers=3"}, config.Candidates())

	t.Setenv(backends.ConfigEnvVar, "cuda:emulate,threads=256")
	assert.Equal(t, []string{"cuda:emulate,threads=256", "cpu:workers=3"}, config.Candidates())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gmm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backends: [cuda]
autotune: true
cuda_device_id: 2
cuda:
  emulate: true
  max_shared_memory_per_block: 16KiB
`), 0o644))
	config := must.M1(LoadConfig(path))
	assert.Equal(t, []string{"cuda"}, config.Backends)
	assert.True(t, config.Autotune)
	assert.Equal(t, 2, config.CUDADeviceID)
	assert.Equal(t, "cuda:emulate,device=2,shmem=16KiB", config.BackendConfig("cuda"))

	require.NoError(t, os.WriteFile(path, []byte("autotune: true\nwarp_size: 32\n"), 0o644))
	_, err := LoadConfig(path)
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("Full")
	require.NoError(t, err)
	assert.Equal(t, backends.ModeFull, mode)
	_, err = ParseMode("spherical")
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
}

func TestCPUFallback(t *testing.T) {
	t.Setenv(backends.ConfigEnvVar, "")
	t.Setenv(cuda.LibraryPathEnvVar, filepath.Join(t.TempDir(), "libmissing.so"))
	config := DefaultConfig()
	config.Backends = []string{"cuda"}
	ctx, err := New(config)
	require.NoError(t, err)
	defer ctx.Finalize()
	assert.Equal(t, "cpu", ctx.Backend().Name())

	config.Backends = []string{"tpu"}
	_, err = New(config)
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
}

func TestRegistryPopulation(t *testing.T) {
	t.Setenv(backends.ConfigEnvVar, "cuda:emulate")
	ctx, err := New(DefaultConfig())
	require.NoError(t, err)
	defer ctx.Finalize()
	assert.Equal(t, "cuda", ctx.Backend().Name())
	require.NotNil(t, ctx.Buffers())
	assert.True(t, ctx.Buffers().HasDevice())

	// One default variant per operation and mode.
	numOps := len(backends.Operations()) * len(backends.ModeValues())
	total, implemented := ctx.Registry().NumVariants()
	assert.Equal(t, numOps, total)
	assert.Equal(t, numOps, implemented)

	config := DefaultConfig()
	config.Autotune = true
	ctx2, err := New(config)
	require.NoError(t, err)
	defer ctx2.Finalize()
	total, _ = ctx2.Registry().NumVariants()
	assert.Equal(t, 12*numOps, total)
	records := ctx2.Registry().Variants(backends.Key(backends.OperationTrain, backends.ModeFull), "cuda")
	require.Len(t, records, 12)
	assert.Equal(t, "em_cuda_train_V1_122_81_50_41_full_16_32_512_256", records[0].ID)
}

// fakeBackend has two variants, "a" and "b": the first only accepts M <= 2.
type fakeBackend struct {
	family      string
	finalized   bool
	panicKernel bool
}

func (b *fakeBackend) Name() string { return "fake" }
func (b *fakeBackend) Description() string { return "fake backend" }
func (b *fakeBackend) Capability() backends.Capability { return backends.Capability{} }
func (b *fakeBackend) Device() backends.Device { return nil }
func (b *fakeBackend) Finalize() { b.finalized = true }
func (b *fakeBackend) CompileFeasible(backends.Assignment) bool { return true }

func (b *fakeBackend) ParameterSpace(bool) backends.ParameterSpace {
	return backends.ParameterSpace{"family": {"a", b.family}}
}

func (b *fakeBackend) RunCheck(a backends.Assignment) (backends.RunCheck, error) {
	family, _ := a.Get("family")
	switch family {
	case "a":
		return func(args backends.CallArgs) bool { return args.M <= 2 }, nil
	case "b":
		return backends.AlwaysFeasible, nil
	}
	return nil, errors.Errorf("unknown family %q", family)
}

func (b *fakeBackend) Kernel(key backends.OpKey, a backends.Assignment) (backends.Kernel, error) {
	if key.Op == backends.OperationDistanceKL {
		return nil, errors.Wrap(backends.ErrNotImplemented, "no KL")
	}
	family, _ := a.Get("family")
	return func(inv *backends.Invocation) (backends.Result, error) {
		if b.panicKernel {
			panic(errors.New("kernel exploded"))
		}
		if family == "a" {
			return backends.Result{Likelihood: 1}, nil
		}
		return backends.Result{Likelihood: 2}, nil
	}, nil
}

func TestInvoke(t *testing.T) {
	backend := &fakeBackend{family: "b"}
	ctx, err := NewWithBackend(backend, DefaultConfig())
	require.NoError(t, err)

	key := backends.Key(backends.OperationTrain, backends.ModeDiag)
	require.NoError(t, ctx.Do(func() error {
		result, err := ctx.Invoke(key, &backends.Invocation{Args: backends.CallArgs{M: 2, D: 1, N: 10}})
		require.NoError(t, err)
		assert.Equal(t, 1.0, result.Likelihood)
		result, err = ctx.Invoke(key, &backends.Invocation{Args: backends.CallArgs{M: 3, D: 1, N: 10}})
		require.NoError(t, err)
		assert.Equal(t, 2.0, result.Likelihood)

		// KL variants are stubs: no call can select them.
		_, err = ctx.Invoke(backends.Key(backends.OperationDistanceKL, backends.ModeDiag),
			&backends.Invocation{Args: backends.CallArgs{M: 2, D: 1}})
		var noFeasible *dispatch.NoFeasibleVariantError
		require.ErrorAs(t, err, &noFeasible)
		assert.Equal(t, 2, noFeasible.Candidates)

		backend.panicKernel = true
		_, err = ctx.Invoke(key, &backends.Invocation{Args: backends.CallArgs{M: 2, D: 1, N: 10}})
		require.ErrorContains(t, err, "kernel exploded")
		return nil
	}))

	require.NoError(t, ctx.Do(func() error {
		table := ctx.LogTable()
		assert.NotEmpty(t, table)
		assert.Same(t, &table[0], &ctx.LogTable()[0])
		return nil
	}))

	ctx.Finalize()
	ctx.Finalize()
	assert.True(t, backend.finalized)
	assert.Zero(t, ctx.Cache().Stats().Entries)
	require.Error(t, ctx.Do(func() error { return nil }))
}

func TestUnknownFamily(t *testing.T) {
	backend := &fakeBackend{family: "z"}
	_, err := NewWithBackend(backend, DefaultConfig())
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.True(t, backend.finalized)
}
