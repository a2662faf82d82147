// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gmm

import (
	"github.com/gomlx/gmmspecializer/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Components are the M gaussian components of dimension D of a model.
//
// The arrays are stored contiguously, in the layout of backends.ComponentsView. Each Components has a unique
// identity: buffers mirroring another Components are recreated, even if the shape is the same.
type Components struct {
	id     uuid.UUID
	m, d   int
	flat   []float32
	arrays backends.ComponentArrays
}

// NewComponents creates zeroed components.
func NewComponents(m, d int) *Components {
	c := &Components{id: uuid.New(), m: m, d: d, flat: make([]float32, backends.ComponentsSize(m, d))}
	c.arrays = backends.ComponentsView(c.flat, m, d)
	return c
}

// NewComponentsFrom creates components with the given weights [M], means [M*D] and covariances [M*D*D].
// The soft counts are left at zero.
func NewComponentsFrom(m, d int, weights, means, covars []float32) (*Components, error) {
	if len(weights) != m || len(means) != m*d || len(covars) != m*d*d {
		return nil, &ShapeMismatchError{
			Msg: "initial components", Expected: []int{m, m * d, m * d * d},
			Got: []int{len(weights), len(means), len(covars)}}
	}
	c := NewComponents(m, d)
	copy(c.arrays.Weights, weights)
	copy(c.arrays.Means, means)
	copy(c.arrays.Covars, covars)
	return c, nil
}

// ID returns the identity of the components.
func (c *Components) ID() uuid.UUID { return c.id }

// M returns the number of components.
func (c *Components) M() int { return c.m }

// D returns the dimension of the components.
func (c *Components) D() int { return c.d }

// Weights returns the [M] weights. Changes are seen by the model.
func (c *Components) Weights() []float32 { return c.arrays.Weights }

// Means returns the [M*D] means.
func (c *Components) Means() []float32 { return c.arrays.Means }

// Covars returns the [M*D*D] covariance matrices.
func (c *Components) Covars() []float32 { return c.arrays.Covars }

// CompProbs returns the [M] soft counts: the expected number of events of each component after training.
func (c *Components) CompProbs() []float32 { return c.arrays.CompProbs }

// Arrays returns all the arrays.
func (c *Components) Arrays() backends.ComponentArrays { return c.arrays }

// Shrink truncates the components to the first m. The arrays are resized as a whole, keeping their values.
func (c *Components) Shrink(m int) error {
	if m <= 0 || m > c.m {
		return errors.Errorf("can't shrink %d components to %d", c.m, m)
	}
	if m == c.m {
		return nil
	}
	shrunk := make([]float32, backends.ComponentsSize(m, c.d))
	arrays := backends.ComponentsView(shrunk, m, c.d)
	copy(arrays.Weights, c.arrays.Weights)
	copy(arrays.Means, c.arrays.Means)
	copy(arrays.Covars, c.arrays.Covars)
	copy(arrays.CompProbs, c.arrays.CompProbs)
	c.m, c.flat, c.arrays = m, shrunk, arrays
	return nil
}

// Clone returns a copy of the components, with a new identity.
func (c *Components) Clone() *Components {
	c2 := NewComponents(c.m, c.d)
	copy(c2.flat, c.flat)
	return c2
}

// EvalData holds the results of the last evaluation (or training) of a model.
type EvalData struct {
	n, m   int
	arrays backends.EvalArrays

	// Likelihood is the total log-likelihood of the events.
	Likelihood float64
}

// resize reallocates the arrays if N or M changed.
func (e *EvalData) resize(n, m int) {
	if e.n == n && e.m == m {
		return
	}
	flat := make([]float32, backends.EvalSize(n, m))
	e.n, e.m, e.arrays = n, m, backends.EvalView(flat, n, m)
}

// N returns the number of events evaluated.
func (e *EvalData) N() int { return e.n }

// M returns the number of components.
func (e *EvalData) M() int { return e.m }

// Memberships returns the [M*N] membership probabilities: row k holds the probability of each event
// belonging to component k.
func (e *EvalData) Memberships() []float32 { return e.arrays.Memberships }

// LogLikelihoods returns the [N] log-likelihood of each event.
func (e *EvalData) LogLikelihoods() []float32 { return e.arrays.LogLikelihoods }

// mostLikely returns, for each event, the component with the highest membership.
func (e *EvalData) mostLikely() []int {
	labels := make([]int, e.n)
	memberships := e.arrays.Memberships
	for i := range e.n {
		best, bestValue := 0, memberships[i]
		for k := 1; k < e.m; k++ {
			if v := memberships[k*e.n+i]; v > bestValue {
				best, bestValue = k, v
			}
		}
		labels[i] = best
	}
	return labels
}
