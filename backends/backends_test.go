// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	config string
}

func (b *fakeBackend) Name() string { return "fake" }
func (b *fakeBackend) Description() string { return "fake backend for tests" }
func (b *fakeBackend) Capability() Capability { return Capability{} }
func (b *fakeBackend) ParameterSpace(bool) ParameterSpace { return ParameterSpace{} }
func (b *fakeBackend) CompileFeasible(Assignment) bool { return true }
func (b *fakeBackend) RunCheck(Assignment) (RunCheck, error) { return AlwaysFeasible, nil }
func (b *fakeBackend) Kernel(OpKey, Assignment) (Kernel, error) {
	return nil, ErrNotImplemented
}
func (b *fakeBackend) Device() Device { return nil }
func (b *fakeBackend) Finalize() {}

func init() {
	Register("fake", func(config string) (Backend, error) {
		if config == "unavailable" {
			return nil, errors.New("no fake device")
		}
		return &fakeBackend{config: config}, nil
	})
}

func TestNewWithConfig(t *testing.T) {
	assert.Contains(t, List(), "fake")
	assert.True(t, IsRegistered("fake"))

	backend, err := NewWithConfig("fake:some,options")
	require.NoError(t, err)
	assert.Equal(t, "some,options", backend.(*fakeBackend).config)

	_, err = NewWithConfig("fake:unavailable")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `backend "fake"`)

	// An empty name selects the first registered backend.
	backend, err = NewWithConfig(":defaults")
	require.NoError(t, err)
	assert.Equal(t, "defaults", backend.(*fakeBackend).config)

	_, err = NewWithConfig("doesnotexist")
	require.Error(t, err)

	require.Panics(t, func() { Register("fake", nil) })
}

func TestSplitConfig(t *testing.T) {
	name, config := SplitConfig("cuda:emulate,device=1")
	assert.Equal(t, "cuda", name)
	assert.Equal(t, "emulate,device=1", config)
	name, config = SplitConfig("cpu")
	assert.Equal(t, "cpu", name)
	assert.Equal(t, "", config)
}

func TestAssignment(t *testing.T) {
	a := NewAssignment(map[string]string{"zeta": "1", "alpha": "V1", ModeParameter: "full"})
	assert.Equal(t, []string{"alpha", ModeParameter, "zeta"}, a.Names())
	assert.Equal(t, []string{"V1", "full", "1"}, a.Values())
	assert.Equal(t, "{alpha=V1, mode=full, zeta=1}", a.String())

	v, err := a.Int("zeta")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	_, err = a.Int("alpha")
	require.Error(t, err)
	_, err = a.Int("missing")
	require.Error(t, err)

	mode, err := a.Mode()
	require.NoError(t, err)
	assert.Equal(t, ModeFull, mode)
	assert.True(t, a.Equal(NewAssignment(map[string]string{"alpha": "V1", "zeta": "1", ModeParameter: "full"})))
}

func TestParameterSpace(t *testing.T) {
	space := ParameterSpace{"b": {"1", "2"}, "a": {"x", "y", "z"}}
	assert.Equal(t, []string{"a", "b"}, space.Names())
	assert.Equal(t, 6, space.NumVariants())
	assert.Equal(t, 1, ParameterSpace{}.NumVariants())
	clone := space.Clone()
	clone["a"][0] = "changed"
	assert.Equal(t, "x", space["a"][0])
}

func TestOpKey(t *testing.T) {
	assert.Equal(t, "train_diag", Key(OperationTrain, ModeDiag).String())
	assert.Equal(t, "seed_components_full", Key(OperationSeedComponents, ModeFull).String())
	assert.Len(t, Operations(), int(OperationLast))
	mode, err := ModeString("FULL")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, mode)
	_, err = ModeString("spherical")
	require.Error(t, err)
}

func TestViews(t *testing.T) {
	m, d := 2, 3
	flat := make([]float32, ComponentsSize(m, d))
	for ii := range flat {
		flat[ii] = float32(ii)
	}
	c := ComponentsView(flat, m, d)
	assert.Equal(t, []float32{0, 1}, c.Weights)
	assert.Len(t, c.Means, m*d)
	assert.Len(t, c.Covars, m*d*d)
	assert.Equal(t, []float32{26, 27}, c.CompProbs)

	e := EvalView(make([]float32, EvalSize(5, m)), 5, m)
	assert.Len(t, e.Memberships, 10)
	assert.Len(t, e.LogLikelihoods, 5)

	values := []float32{1.5, -2}
	assert.Equal(t, values, BytesAsFloat32(Float32Bytes(values)))
	indices := []int32{7, 11}
	assert.Equal(t, indices, BytesAsInt32(Int32Bytes(indices)))
}

func TestCapability(t *testing.T) {
	assert.True(t, Capability{}.Unbounded())
	assert.Equal(t, "unbounded", Capability{}.String())
	c := Capability{MaxThreadsPerUnit: 1024, MaxSharedMemBytes: 48 << 10, TotalDeviceMemBytes: 1 << 30,
		Flags: map[string]string{"supports_float32_atomic_add": "1"}}
	c2 := c.Clone()
	c2.Flags["supports_float32_atomic_add"] = "0"
	value, found := c.Flag("supports_float32_atomic_add")
	assert.True(t, found)
	assert.Equal(t, "1", value)
	assert.Contains(t, c.String(), "threads/unit=1024")
	assert.Contains(t, c.String(), "device-mem=1.0 GiB")
}
