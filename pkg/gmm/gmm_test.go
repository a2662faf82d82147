// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gmm

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/backends/cpu"
	"github.com/gomlx/gmmspecializer/backends/cuda"
	"github.com/gomlx/gmmspecializer/pkg/buffers"
	"github.com/gomlx/gmmspecializer/pkg/dispatch"
	"github.com/gomlx/gmmspecializer/pkg/specializer"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// forEachBackend runs the test with a fresh Context for the cpu backend and for the emulated cuda backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, ctx *specializer.Context)) {
	for _, config := range []string{"", "emulate"} {
		var backend backends.Backend
		if config == "" {
			backend = must.M1(cpu.New(""))
		} else {
			backend = must.M1(cuda.New(config))
		}
		ctx := must.M1(specializer.NewWithBackend(backend, specializer.DefaultConfig()))
		t.Run(backend.Name(), func(t *testing.T) {
			fn(t, ctx)
		})
		ctx.Finalize()
	}
}

// blobs returns n events of dimension 2 in m consecutive blocks, each around its own well separated center.
func blobs(n, m int, seed uint64) Events {
	rng := rand.New(rand.NewPCG(seed, 7))
	data := make([]float32, n*2)
	for i := range n {
		center := float64(i * m / n)
		data[2*i] = float32(10*center + rng.NormFloat64())
		data[2*i+1] = float32(-5*center + 0.5*rng.NormFloat64())
	}
	return Events{Data: data, N: n, D: 2}
}

func sum(values []float32) float64 {
	var total float64
	for _, v := range values {
		total += float64(v)
	}
	return total
}

func TestTrainAndEval(t *testing.T) {
	const n, d, m = 500, 2, 3
	data := blobs(n, m, 1)
	forEachBackend(t, func(t *testing.T, ctx *specializer.Context) {
		for _, mode := range backends.ModeValues() {
			g, err := New(ctx, m, d, mode)
			require.NoError(t, err)
			assert.False(t, g.Seeded())
			likelihood, err := g.Train(data)
			require.NoError(t, err, "mode %s", mode)
			assert.True(t, g.Seeded())
			assert.False(t, math.IsNaN(likelihood))
			assert.InDelta(t, 1.0, sum(g.Components().Weights()), 1e-4)
			assert.InDelta(t, float64(n), sum(g.Components().CompProbs()), 1e-1)

			evalLikelihood, err := g.Eval(data)
			require.NoError(t, err)
			assert.InDelta(t, likelihood, evalLikelihood, 1e-3*math.Abs(likelihood)+1e-3)
			eval := g.EvalData()
			require.Len(t, eval.LogLikelihoods(), n)
			require.Len(t, eval.Memberships(), m*n)
			for i := range n {
				var column float64
				for k := range m {
					column += float64(eval.Memberships()[k*n+i])
				}
				require.InDelta(t, 1.0, column, 1e-4, "event %d", i)
			}

			// Events of the same blob share their component, events of different blobs don't.
			labels, err := g.Predict(data)
			require.NoError(t, err)
			require.Len(t, labels, n)
			assert.Equal(t, labels[0], labels[1])
			assert.NotEqual(t, labels[0], labels[200])
			assert.NotEqual(t, labels[200], labels[450])

			scores, err := g.Score(data.Rows(0, 10))
			require.NoError(t, err)
			assert.Len(t, scores, 10)
			lls, decoded, err := g.Decode(data)
			require.NoError(t, err)
			assert.Len(t, lls, n)
			assert.Equal(t, labels, decoded)
			require.NoError(t, g.Close())
		}
	})
}

func TestBufferReuse(t *testing.T) {
	data := blobs(200, 2, 2)
	forEachBackend(t, func(t *testing.T, ctx *specializer.Context) {
		g := must.M1(New(ctx, 2, 2, backends.ModeDiag))
		_ = must.M1(g.Train(data))
		allocations := ctx.Buffers().Stats().Allocations
		_ = must.M1(g.Train(data))
		_ = must.M1(g.Eval(data))
		assert.Equal(t, allocations, ctx.Buffers().Stats().Allocations)

		// A different number of events recreates the events and evaluation buffers.
		_ = must.M1(g.Eval(data.Rows(0, 100)))
		assert.Equal(t, allocations+2, ctx.Buffers().Stats().Allocations)
		assert.Equal(t, []int{100, 2}, ctx.Buffers().Shape(buffers.ClassEvents))
		require.NoError(t, g.Close())
		assert.Equal(t, buffers.StateUnallocated, ctx.Buffers().State(buffers.ClassComponents))
	})
}

func TestMerge(t *testing.T) {
	const n, d, m = 400, 2, 4
	data := blobs(n, m, 3)
	forEachBackend(t, func(t *testing.T, ctx *specializer.Context) {
		g := must.M1(New(ctx, m, d, backends.ModeFull))
		_ = must.M1(g.Train(data))
		weights := append([]float32(nil), g.Components().Weights()...)

		merged, distance, err := g.ComputeDistanceRissanen(0, 1)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(distance))
		assert.Equal(t, m, g.M(), "computing the distance doesn't change the model")
		assert.InDelta(t, weights[0]+weights[1], merged.Weights()[0], 1e-5)

		require.NoError(t, g.MergeComponents(0, 1, merged))
		assert.Equal(t, m-1, g.M())
		c := g.Components()
		assert.Len(t, c.Weights(), 3)
		assert.Len(t, c.Means(), 3*d)
		assert.Len(t, c.Covars(), 3*d*d)
		assert.Len(t, c.CompProbs(), 3)
		assert.InDelta(t, weights[0]+weights[1], c.Weights()[0], 1e-5)
		assert.InDelta(t, weights[3], c.Weights()[2], 1e-6)

		// Buffers are recreated for the new shape.
		_ = must.M1(g.Eval(data))
		assert.Len(t, g.EvalData().Memberships(), 3*n)
		assert.Equal(t, []int{3, d}, ctx.Buffers().Shape(buffers.ClassComponents))
		_ = must.M1(g.Train(data))
		assert.InDelta(t, 1.0, sum(g.Components().Weights()), 1e-4)

		_, _, err = g.ComputeDistanceRissanen(1, 1)
		require.Error(t, err)
		require.Error(t, g.MergeComponents(0, 1, NewComponents(2, d)))
	})
}

func TestTrainOnSubset(t *testing.T) {
	const n, m = 300, 3
	data := blobs(n, m, 4)
	index := make([]int32, 0, n/2)
	for i := 0; i < n; i += 2 {
		index = append(index, int32(i))
	}
	forEachBackend(t, func(t *testing.T, ctx *specializer.Context) {
		g1 := must.M1(New(ctx, m, 2, backends.ModeDiag))
		l1, err := g1.TrainOnSubset(data, index)
		require.NoError(t, err)
		assert.Equal(t, len(index), g1.EvalData().N())

		g2 := must.M1(New(ctx, m, 2, backends.ModeDiag))
		l2, err := g2.TrainOnSubsetGathered(data, index)
		require.NoError(t, err)
		assert.Equal(t, len(index), g2.EvalData().N())
		assert.False(t, math.IsNaN(l1))
		assert.False(t, math.IsNaN(l2))
		assert.InDelta(t, 1.0, sum(g1.Components().Weights()), 1e-4)
		assert.InDelta(t, 1.0, sum(g2.Components().Weights()), 1e-4)

		_, err = g1.TrainOnSubset(data, []int32{0, n})
		var shapeErr *ShapeMismatchError
		require.ErrorAs(t, err, &shapeErr)
	})
}

func TestShapeMismatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx *specializer.Context) {
		g := must.M1(New(ctx, 3, 2, backends.ModeDiag))
		// 100 events with 3 features each, for a model of dimension 2.
		wide := Events{Data: make([]float32, 300), N: 100, D: 3}
		for i := range wide.Data {
			wide.Data[i] = float32(i % 7)
		}
		_, err := g.Train(wide)
		var shapeErr *ShapeMismatchError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, []int{100, 2}, shapeErr.Expected)
		assert.Equal(t, []int{100, 3}, shapeErr.Got)
		_, err = g.TrainOnSubset(wide, []int32{0, 1, 2})
		require.ErrorAs(t, err, &shapeErr)
		_, err = g.TrainOnSubsetGathered(wide, []int32{0, 1, 2})
		require.ErrorAs(t, err, &shapeErr)
		_, err = g.Eval(wide)
		require.ErrorAs(t, err, &shapeErr)
		_, _, err = ComputeDistanceBIC(g, g, wide, 1)
		require.ErrorAs(t, err, &shapeErr)
		_, _, err = ComputeDistanceBICIndexed(g, g, wide, []int32{0})
		require.ErrorAs(t, err, &shapeErr)

		// The data must hold exactly N*D values.
		_, err = g.Train(Events{Data: []float32{1, 2, 3}, N: 2, D: 2})
		require.ErrorAs(t, err, &shapeErr)
		assert.Zero(t, ctx.Buffers().Stats().Allocations, "aborted before any buffer allocation")
		assert.False(t, g.Seeded())

		_, err = NewComponentsFrom(2, 2, []float32{0.5, 0.5}, []float32{0, 0}, make([]float32, 8))
		require.ErrorAs(t, err, &shapeErr)

		_, err = g.Eval(blobs(10, 3, 5))
		require.Error(t, err, "model not trained")
	})
}

func TestConfigurationError(t *testing.T) {
	ctx := must.M1(specializer.NewWithBackend(must.M1(cpu.New("")), specializer.DefaultConfig()))
	defer ctx.Finalize()
	_, err := New(ctx, 3, 2, backends.Mode(7))
	var configErr *specializer.ConfigurationError
	require.True(t, errors.As(err, &configErr))
}

func TestNoFeasibleVariant(t *testing.T) {
	ctx := must.M1(specializer.NewWithBackend(must.M1(cuda.New("emulate")), specializer.DefaultConfig()))
	defer ctx.Finalize()
	// The default cuda variant supports up to 122 components.
	g := must.M1(New(ctx, 123, 1, backends.ModeDiag))
	data := Events{Data: make([]float32, 1000), N: 1000, D: 1}
	for i := range data.Data {
		data.Data[i] = float32(i)
	}
	_, err := g.Train(data)
	var noFeasible *dispatch.NoFeasibleVariantError
	require.ErrorAs(t, err, &noFeasible)
	assert.Equal(t, "cuda", noFeasible.Backend)
	assert.Equal(t, backends.OperationSeedComponents, noFeasible.Key.Op)
}

func TestKLAndBIC(t *testing.T) {
	data := blobs(400, 4, 6)
	// The first two blobs only, and the last two only.
	left, right := data.Rows(0, 200), data.Rows(200, 400)
	forEachBackend(t, func(t *testing.T, ctx *specializer.Context) {
		a := must.M1(New(ctx, 2, 2, backends.ModeDiag))
		b := must.M1(New(ctx, 2, 2, backends.ModeDiag))
		c := must.M1(New(ctx, 2, 2, backends.ModeDiag))
		_ = must.M1(a.Train(left))
		_ = must.M1(b.Train(right))
		_ = must.M1(c.Train(left.Rows(0, left.N-10)))

		same, err := a.KLDistance(c)
		require.NoError(t, err)
		different, err := a.KLDistance(b)
		require.NoError(t, err)
		assert.Less(t, same, different)

		models := []*Model{a, b, c}
		pairs, err := FindTopKLPairs(-1, models)
		require.NoError(t, err)
		require.Len(t, pairs, 3)
		assert.Equal(t, ModelPair{0, 2}, pairs[0])
		pairs, err = FindTopKLPairs(1, models)
		require.NoError(t, err)
		assert.Equal(t, []ModelPair{{0, 2}}, pairs)
		pairs, err = FindTopKLPairs(5, models)
		require.NoError(t, err)
		assert.Len(t, pairs, 2)

		g, score, err := ComputeDistanceBIC(a, b, data, 5)
		require.NoError(t, err)
		assert.Equal(t, 4, g.M())
		assert.InDelta(t, g.Likelihood()-(a.Likelihood()+b.Likelihood()), score, 1e-6)
		assert.InDelta(t, 1.0, sum(g.Components().Weights()), 1e-4)

		index := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
		g, _, err = ComputeDistanceBICIndexed(a, b, data, index)
		require.NoError(t, err)
		assert.Equal(t, len(index), g.EvalData().N())
	})
}
