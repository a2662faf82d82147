// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package variants

import (
	"testing"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	space := backends.ParameterSpace{
		"threads": {"256", "512"},
		"family":  {"V1", "V2A", "V3"},
	}
	got := Generate(space, backends.ModeFull)
	require.Len(t, got, 6)
	// "family" sorts first, "threads" varies fastest.
	assert.Equal(t, []string{"V1", "full", "256"}, got[0].Values())
	assert.Equal(t, []string{"V1", "full", "512"}, got[1].Values())
	assert.Equal(t, []string{"V2A", "full", "256"}, got[2].Values())
	assert.Equal(t, []string{"V3", "full", "512"}, got[5].Values())

	// Determinism: generation is repeatable, independent of map iteration order.
	for range 10 {
		again := Generate(space.Clone(), backends.ModeFull)
		require.Len(t, again, len(got))
		for ii := range got {
			require.True(t, got[ii].Equal(again[ii]))
			require.Equal(t, Identifier("cuda", backends.OperationTrain, got[ii]),
				Identifier("cuda", backends.OperationTrain, again[ii]))
		}
	}
}

func TestGenerateEmptySpace(t *testing.T) {
	got := Generate(backends.ParameterSpace{}, backends.ModeDiag)
	require.Len(t, got, 1)
	assert.Equal(t, []string{backends.ModeParameter}, got[0].Names())
	mode, err := got[0].Mode()
	require.NoError(t, err)
	assert.Equal(t, backends.ModeDiag, mode)

	assert.Empty(t, Generate(backends.ParameterSpace{"x": {}}, backends.ModeDiag))
}

func TestIdentifier(t *testing.T) {
	a := backends.NewAssignment(map[string]string{"dummy": "1", backends.ModeParameter: "diag"})
	assert.Equal(t, "em_cpu_train_1_diag", Identifier("cpu", backends.OperationTrain, a))
	assert.Equal(t, "em_cpu_seed_components_1_diag", Identifier("cpu", backends.OperationSeedComponents, a))
}
