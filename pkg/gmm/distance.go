// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gmm

import (
	"slices"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/pkg/buffers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ComputeDistanceRissanen returns the single component merging components c1 and c2, and the Rissanen
// distance between keeping them apart and merging them. The model is not changed.
func (g *Model) ComputeDistanceRissanen(c1, c2 int) (merged *Components, distance float64, err error) {
	merged = NewComponents(1, g.d)
	err = g.ctx.Do(func() error {
		if err := g.ensureComponents(); err != nil {
			return err
		}
		inv := &backends.Invocation{Args: g.callArgs(0), C1: c1, C2: c2, Merged: merged.Arrays()}
		result, err := g.invoke(backends.OperationDistanceRissanen, inv)
		if err != nil {
			return errors.WithMessagef(err, "Rissanen distance of components (%d, %d) of %s", c1, c2, g)
		}
		distance = result.Distance
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return
}

// MergeComponents replaces components c1 and c2 by the single component merged (usually the one returned by
// ComputeDistanceRissanen). The model shrinks by one component: c1 is replaced, and the components after c2
// are shifted down.
func (g *Model) MergeComponents(c1, c2 int, merged *Components) error {
	if merged.M() != 1 || merged.D() != g.d {
		return &ShapeMismatchError{Msg: "merged component", Expected: []int{1, g.d}, Got: []int{merged.M(), merged.D()}}
	}
	return g.ctx.Do(func() error {
		if err := g.ensureComponents(); err != nil {
			return err
		}
		inv := &backends.Invocation{Args: g.callArgs(0), C1: c1, C2: c2, Merged: merged.Arrays()}
		if _, err := g.invoke(backends.OperationMergeComponents, inv); err != nil {
			return errors.WithMessagef(err, "merging components (%d, %d) of %s", c1, c2, g)
		}
		if err := g.syncBack(buffers.ClassComponents); err != nil {
			return err
		}
		// The next operation recreates the buffers for the new shape.
		if err := g.components.Shrink(g.M() - 1); err != nil {
			return err
		}
		klog.V(1).Infof("gmm: merged components (%d, %d) into %s", c1, c2, g)
		return nil
	})
}

// KLDistance returns the symmetric KL distance between the models, which must have the same dimension and mode.
func (g *Model) KLDistance(other *Model) (distance float64, err error) {
	if other.d != g.d || other.mode != g.mode {
		return 0, &ShapeMismatchError{Msg: "KL distance between " + g.String() + " and " + other.String(),
			Expected: []int{g.d, int(g.mode)}, Got: []int{other.d, int(other.mode)}}
	}
	err = g.ctx.Do(func() error {
		inv := &backends.Invocation{
			Args:     backends.CallArgs{M: max(g.M(), other.M()), D: g.d},
			Pair:     [2]backends.ComponentArrays{g.components.Arrays(), other.components.Arrays()},
			PairM:    [2]int{g.M(), other.M()},
			LogTable: g.ctx.LogTable(),
		}
		result, err := g.ctx.Invoke(backends.Key(backends.OperationDistanceKL, g.mode), inv)
		if err != nil {
			return errors.WithMessagef(err, "KL distance between %s and %s", g, other)
		}
		distance = result.Distance
		return nil
	})
	return
}

// ModelPair is a pair of indices into a list of models.
type ModelPair struct {
	I, J int
}

// FindTopKLPairs scores the KL distance of every pair of models, and returns the pairs sorted by increasing
// distance: all of them if k is -1, otherwise the first k, or the first len(models)-1 if there are fewer than
// k models.
func FindTopKLPairs(k int, models []*Model) ([]ModelPair, error) {
	type scored struct {
		pair     ModelPair
		distance float64
	}
	var scores []scored
	for i := range models {
		for j := i + 1; j < len(models); j++ {
			distance, err := models[i].KLDistance(models[j])
			if err != nil {
				return nil, err
			}
			scores = append(scores, scored{ModelPair{i, j}, distance})
		}
	}
	slices.SortStableFunc(scores, func(a, b scored) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		}
		return 0
	})
	count := len(scores)
	if k >= 0 {
		count = k
		if len(models) < k {
			count = len(models) - 1
		}
		count = min(count, len(scores))
	}
	pairs := make([]ModelPair, count)
	for ii := range pairs {
		pairs[ii] = scores[ii].pair
	}
	return pairs, nil
}

// combined returns the components of g1 and g2 side by side, weights scaled by the share of each model in the
// total number of components.
func combined(g1, g2 *Model) (*Components, error) {
	if g1.d != g2.d || g1.mode != g2.mode {
		return nil, &ShapeMismatchError{Msg: "combining " + g1.String() + " and " + g2.String(),
			Expected: []int{g1.d, int(g1.mode)}, Got: []int{g2.d, int(g2.mode)}}
	}
	m1, m2 := g1.M(), g2.M()
	total := float32(m1 + m2)
	ratio1, ratio2 := float32(m1)/total, float32(m2)/total
	c1, c2 := g1.components.Arrays(), g2.components.Arrays()
	weights := make([]float32, 0, m1+m2)
	for _, w := range c1.Weights {
		weights = append(weights, ratio1*w)
	}
	for _, w := range c2.Weights {
		weights = append(weights, ratio2*w)
	}
	return NewComponentsFrom(m1+m2, g1.d, weights,
		slices.Concat(c1.Means, c2.Means), slices.Concat(c1.Covars, c2.Covars))
}

// ComputeDistanceBIC trains a model combining the components of g1 and g2 on the events, for at most
// iters EM iterations, and returns it with its BIC score: its likelihood minus the last likelihoods of g1 and g2.
func ComputeDistanceBIC(g1, g2 *Model, events Events, iters int) (*Model, float64, error) {
	if _, err := g1.checkEvents(events); err != nil {
		return nil, 0, err
	}
	c, err := combined(g1, g2)
	if err != nil {
		return nil, 0, err
	}
	g, err := NewWithComponents(g1.ctx, c, g1.mode)
	if err != nil {
		return nil, 0, err
	}
	g.MaxIters = iters
	likelihood, err := g.Train(events)
	if err != nil {
		return nil, 0, err
	}
	return g, likelihood - (g1.Likelihood() + g2.Likelihood()), nil
}

// ComputeDistanceBICIndexed is like ComputeDistanceBIC, but the combined model is trained on the events selected
// by index, gathered on the host, with the default iteration bounds.
func ComputeDistanceBICIndexed(g1, g2 *Model, events Events, index []int32) (*Model, float64, error) {
	if _, err := g1.checkEvents(events); err != nil {
		return nil, 0, err
	}
	c, err := combined(g1, g2)
	if err != nil {
		return nil, 0, err
	}
	g, err := NewWithComponents(g1.ctx, c, g1.mode)
	if err != nil {
		return nil, 0, err
	}
	likelihood, err := g.TrainOnSubsetGathered(events, index)
	if err != nil {
		return nil, 0, err
	}
	return g, likelihood - (g1.Likelihood() + g2.Likelihood()), nil
}
