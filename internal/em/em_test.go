// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package em

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/internal/workerspool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threeBlobs returns n 2D events around 3 well separated centers.
func threeBlobs(n int) []float32 {
	rng := rand.New(rand.NewPCG(42, 7))
	centers := [][2]float32{{0, 0}, {10, 10}, {-10, 10}}
	events := make([]float32, 0, n*2)
	for i := range n {
		c := centers[i%len(centers)]
		events = append(events, c[0]+float32(rng.NormFloat64()), c[1]+float32(rng.NormFloat64()))
	}
	return events
}

func newComponents(m, d int) backends.ComponentArrays {
	return backends.ComponentsView(make([]float32, backends.ComponentsSize(m, d)), m, d)
}

func TestTrain(t *testing.T) {
	for _, mode := range backends.ModeValues() {
		t.Run(mode.String(), func(t *testing.T) {
			const n, d, m = 500, 2, 3
			p := Problem{Events: threeBlobs(n), N: n, D: d, M: m, Mode: mode}
			c := newComponents(m, d)
			require.NoError(t, Seed(p, c))
			assert.InDelta(t, 1.0, sum(c.Weights), 1e-5)

			eval := backends.EvalView(make([]float32, backends.EvalSize(n, m)), n, m)
			pool := workerspool.New(4)
			first, err := Eval(pool, p, c, eval)
			require.NoError(t, err)
			likelihood, err := Train(pool, p, c, eval, 1, 20)
			require.NoError(t, err)
			assert.Greater(t, likelihood, first)
			assert.InDelta(t, 1.0, sum(c.Weights), 1e-4)
			assert.InDelta(t, float64(n), sum(c.CompProbs), 1e-1)

			for i := range n {
				var col float64
				for k := range m {
					col += float64(eval.Memberships[k*n+i])
				}
				require.InDelta(t, 1.0, col, 1e-4, "memberships of event %d", i)
			}
			var total float64
			for _, ll := range eval.LogLikelihoods {
				total += float64(ll)
			}
			assert.InDelta(t, likelihood, total, math.Abs(likelihood)*1e-4)
		})
	}
}

func TestZeroWeightComponentsAreSkipped(t *testing.T) {
	const n, d, m = 90, 2, 3
	p := Problem{Events: threeBlobs(n), N: n, D: d, M: m, Mode: backends.ModeDiag}
	c := newComponents(m, d)
	require.NoError(t, Seed(p, c))
	c.Weights[1] = 0
	c.Weights[0], c.Weights[2] = 0.5, 0.5
	eval := backends.EvalView(make([]float32, backends.EvalSize(n, m)), n, m)
	_, err := Eval(workerspool.New(1), p, c, eval)
	require.NoError(t, err)
	for i := range n {
		require.Equal(t, float32(0), eval.Memberships[n+i])
	}
}

func TestMergeAndRissanen(t *testing.T) {
	const n, d, m = 400, 2, 4
	p := Problem{Events: threeBlobs(n), N: n, D: d, M: m, Mode: backends.ModeFull}
	c := newComponents(m, d)
	require.NoError(t, Seed(p, c))
	eval := backends.EvalView(make([]float32, backends.EvalSize(n, m)), n, m)
	_, err := Train(workerspool.New(0), p, c, eval, 1, 5)
	require.NoError(t, err)

	merged := newComponents(1, d)
	distance, err := DistanceRissanen(c, m, d, 0, 1, p.Mode, merged)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(distance))
	assert.InDelta(t, c.Weights[0]+c.Weights[1], merged.Weights[0], 1e-6)

	lastMean := append([]float32(nil), c.Means[3*d:4*d]...)
	require.NoError(t, MergeComponents(c, m, d, 0, 1, merged))
	assert.Equal(t, merged.Weights[0], c.Weights[0])
	// Component 3 moved to position 2.
	assert.Equal(t, lastMean, c.Means[2*d:3*d])

	require.Error(t, MergeComponents(c, m, d, 1, 1, merged))
	_, err = DistanceRissanen(c, m, d, 0, m, p.Mode, merged)
	require.Error(t, err)
}

func TestKLDistance(t *testing.T) {
	const n, d, m = 300, 2, 3
	table := NewLogTable()
	assert.InDelta(t, math.Log(0.25), LookupLog(table, 0.25), 1e-3)
	assert.Equal(t, math.Log(2.0), LookupLog(table, 2.0))

	for _, mode := range backends.ModeValues() {
		p := Problem{Events: threeBlobs(n), N: n, D: d, M: m, Mode: mode}
		a := newComponents(m, d)
		require.NoError(t, Seed(p, a))
		eval := backends.EvalView(make([]float32, backends.EvalSize(n, m)), n, m)
		_, err := Train(workerspool.New(2), p, a, eval, 1, 10)
		require.NoError(t, err)

		self, err := KLDistance(d, a, m, a, m, mode, table)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, self, 1e-6)

		b := newComponents(m, d)
		backends.CopyComponents(b, a)
		for ii := range b.Means {
			b.Means[ii] += 3
		}
		other, err := KLDistance(d, a, m, b, m, mode, table)
		require.NoError(t, err)
		assert.Greater(t, other, 0.1)
	}
}

func TestGather(t *testing.T) {
	events := []float32{0, 1, 10, 11, 20, 21}
	dst := make([]float32, 4)
	require.NoError(t, Gather(events, 2, []int32{2, 0}, dst))
	assert.Equal(t, []float32{20, 21, 0, 1}, dst)
	require.Error(t, Gather(events, 2, []int32{3}, dst))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 2, ArgMax([]float32{1, 0, 5, 3}))
	assert.Equal(t, -1, ArgMax([]int{}))
	assert.InDelta(t, math.Log(3), logSumExp([]float64{0, 0, 0}), 1e-12)
	assert.True(t, math.IsInf(logSumExp([]float64{math.Inf(-1)}), -1))
	assert.Greater(t, Epsilon(500, 2), 0.0)
}

func sum(values []float32) float64 {
	var total float64
	for _, v := range values {
		total += float64(v)
	}
	return total
}
