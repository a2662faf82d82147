// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package em implements the expectation-maximization kernels of Gaussian mixture models on host memory.
//
// All arrays are flat float32 slices: events are [N*D] row-major, memberships are [M*N] (one row per
// component), and covariances are [M*D*D]. Components with zero weight are skipped.
//
// These are the kernels run by the "cpu" backend and by the emulated accelerator of the "cuda" backend.
package em

import (
	"math"
	"sync"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/internal/workerspool"
	"github.com/pkg/errors"
	"github.com/viterin/vek/vek32"
)

// Problem describes the events and the shape of a kernel call.
type Problem struct {
	// Events is the [N*D] row-major data.
	Events  []float32
	N, D, M int
	Mode    backends.Mode
}

func (p Problem) validate(c backends.ComponentArrays) error {
	if p.M <= 0 || p.D <= 0 || p.N <= 0 {
		return errors.Errorf("invalid problem shape M=%d, D=%d, N=%d", p.M, p.D, p.N)
	}
	if len(p.Events) < p.N*p.D {
		return errors.Errorf("events has %d values, N*D=%d required", len(p.Events), p.N*p.D)
	}
	if len(c.Weights) < p.M || len(c.Means) < p.M*p.D || len(c.Covars) < p.M*p.D*p.D || len(c.CompProbs) < p.M {
		return errors.Errorf("components arrays too small for M=%d, D=%d", p.M, p.D)
	}
	return nil
}

// eventsPerChunk is the minimum number of events processed by each parallel task.
const eventsPerChunk = 256

// Epsilon returns the likelihood change under which EM is considered converged.
func Epsilon(n, d int) float64 {
	fd := float64(d)
	return (1 + fd + 0.5*(fd+1)*fd) * math.Log(float64(n)*fd) * 0.0001
}

// Seed initializes the first M components from the events: means are evenly spaced events,
// covariances are the covariance of all events (only its diagonal in diagonal mode), and weights are uniform.
func Seed(p Problem, c backends.ComponentArrays) error {
	if err := p.validate(c); err != nil {
		return err
	}
	n, d, m := p.N, p.D, p.M
	mean := make([]float64, d)
	for i := range n {
		for j := range d {
			mean[j] += float64(p.Events[i*d+j])
		}
	}
	for j := range d {
		mean[j] /= float64(n)
	}
	cov := make([]float64, d*d)
	for i := range n {
		row := p.Events[i*d : (i+1)*d]
		for j := range d {
			dj := float64(row[j]) - mean[j]
			for k := j; k < d; k++ {
				if p.Mode == backends.ModeDiag && k != j {
					continue
				}
				cov[j*d+k] += dj * (float64(row[k]) - mean[k])
			}
		}
	}
	denominator := float64(max(n-1, 1))
	for j := range d {
		for k := j; k < d; k++ {
			v := cov[j*d+k] / denominator
			if j == k && v <= 0 {
				v = minVariance
			}
			cov[j*d+k] = v
			cov[k*d+j] = v
		}
	}

	for k := range m {
		c.Weights[k] = 1 / float32(m)
		c.CompProbs[k] = float32(n) / float32(m)
		src := p.Events[(k*n/m)*d : (k*n/m+1)*d]
		copy(c.Means[k*d:(k+1)*d], src)
		for ii, v := range cov {
			c.Covars[k*d*d+ii] = float32(v)
		}
	}
	return nil
}

// Eval computes the memberships and per event log-likelihoods, and returns the total log-likelihood.
func Eval(pool *workerspool.Pool, p Problem, c backends.ComponentArrays, eval backends.EvalArrays) (float64, error) {
	if err := p.validate(c); err != nil {
		return 0, err
	}
	if len(eval.Memberships) < p.M*p.N || len(eval.LogLikelihoods) < p.N {
		return 0, errors.Errorf("evaluation arrays too small for N=%d, M=%d", p.N, p.M)
	}
	return eStep(pool, p, c, eval)
}

// Train runs EM for at least minIters and at most maxIters iterations, stopping earlier when the
// likelihood improves less than Epsilon. It returns the final total log-likelihood, and leaves the
// memberships and log-likelihoods of the last E-step in eval.
func Train(pool *workerspool.Pool, p Problem, c backends.ComponentArrays, eval backends.EvalArrays,
	minIters, maxIters int) (float64, error) {
	likelihood, err := Eval(pool, p, c, eval)
	if err != nil {
		return 0, err
	}
	epsilon := Epsilon(p.N, p.D)
	eventsT := transpose(p.Events, p.N, p.D)
	for iter := 0; iter < maxIters; iter++ {
		mStep(pool, p, eventsT, c, eval)
		newLikelihood, err := eStep(pool, p, c, eval)
		if err != nil {
			return 0, errors.WithMessagef(err, "EM iteration %d", iter)
		}
		change := newLikelihood - likelihood
		likelihood = newLikelihood
		if iter+1 >= minIters && change <= epsilon {
			break
		}
	}
	return likelihood, nil
}

func eStep(pool *workerspool.Pool, p Problem, c backends.ComponentArrays, eval backends.EvalArrays) (float64, error) {
	n, d, m := p.N, p.D, p.M
	gaussians := make([]*gaussian, m)
	logWeights := make([]float64, m)
	for k := range m {
		if c.Weights[k] <= 0 {
			continue
		}
		g, err := newGaussian(c, k, d, p.Mode)
		if err != nil {
			return 0, err
		}
		gaussians[k] = g
		logWeights[k] = math.Log(float64(c.Weights[k]))
	}

	var mu sync.Mutex
	var total float64
	pool.ParallelFor(n, eventsPerChunk, func(start, end int) {
		logProbs := make([]float64, m)
		diff := make([]float64, d)
		var chunkTotal float64
		for i := start; i < end; i++ {
			x := p.Events[i*d : (i+1)*d]
			for k, g := range gaussians {
				if g == nil {
					logProbs[k] = math.Inf(-1)
					continue
				}
				logProbs[k] = logWeights[k] + g.logDensity(x, diff)
			}
			lse := logSumExp(logProbs)
			for k, lp := range logProbs {
				eval.Memberships[k*n+i] = float32(math.Exp(lp - lse))
			}
			eval.LogLikelihoods[i] = float32(lse)
			chunkTotal += lse
		}
		mu.Lock()
		total += chunkTotal
		mu.Unlock()
	})
	return total, nil
}

// minVariance is added to the diagonal of every estimated covariance.
const minVariance = 1e-6

// deadComponentCount is the soft count under which a component is dropped (its weight set to 0).
const deadComponentCount = 1e-6

func mStep(pool *workerspool.Pool, p Problem, eventsT []float32, c backends.ComponentArrays, eval backends.EvalArrays) {
	n, d, m := p.N, p.D, p.M
	pool.ParallelFor(m, 1, func(start, end int) {
		for k := start; k < end; k++ {
			if c.Weights[k] <= 0 {
				continue
			}
			r := eval.Memberships[k*n : (k+1)*n]
			nk := float64(vek32.Sum(r))
			c.CompProbs[k] = float32(nk)
			if nk < deadComponentCount {
				c.Weights[k] = 0
				continue
			}
			c.Weights[k] = float32(nk)
			mean := c.Means[k*d : (k+1)*d]
			for j := range d {
				mean[j] = float32(float64(vek32.Dot(r, eventsT[j*n:(j+1)*n])) / nk)
			}
			covars := c.Covars[k*d*d : (k+1)*d*d]
			for j := range d {
				col1 := eventsT[j*n : (j+1)*n]
				for l := j; l < d; l++ {
					if p.Mode == backends.ModeDiag && l != j {
						covars[j*d+l] = 0
						covars[l*d+j] = 0
						continue
					}
					col2 := eventsT[l*n : (l+1)*n]
					var acc float64
					for i, ri := range r {
						acc += float64(ri) * (float64(col1[i]) - float64(mean[j])) * (float64(col2[i]) - float64(mean[l]))
					}
					v := acc / nk
					if j == l {
						v += minVariance
					}
					covars[j*d+l] = float32(v)
					covars[l*d+j] = float32(v)
				}
			}
		}
	})
	vek32.DivNumber_Inplace(c.Weights[:m], float32(n))
}

// transpose returns the [D*N] column-major copy of the [N*D] events.
func transpose(events []float32, n, d int) []float32 {
	out := make([]float32, n*d)
	for i := range n {
		for j := range d {
			out[j*n+i] = events[i*d+j]
		}
	}
	return out
}

// Gather copies the rows of events selected by index into dst, which must have len(index)*D values.
func Gather(events []float32, d int, index []int32, dst []float32) error {
	numEvents := len(events) / d
	for ii, idx := range index {
		if idx < 0 || int(idx) >= numEvents {
			return errors.Errorf("index[%d]=%d out of range for %d events", ii, idx, numEvents)
		}
		copy(dst[ii*d:(ii+1)*d], events[int(idx)*d:(int(idx)+1)*d])
	}
	return nil
}
