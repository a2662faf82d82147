// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package em

import (
	"math"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/mat"
)

var log2Pi = math.Log(2 * math.Pi)

// maxRegularizationRetries is the number of times the diagonal of a covariance that is not positive definite
// is bumped before giving up.
const maxRegularizationRetries = 6

// gaussian is a component prepared for density evaluation: its inverse covariance and normalization constant.
type gaussian struct {
	d      int
	diag   bool
	mean   []float64
	cov    *mat.SymDense
	inv    mat.Symmetric
	invRaw []float64 // [D*D] dense copy of inv, or [D] inverse variances if diag.
	logDet float64

	// constant is -0.5*D*log(2π) - 0.5*log|Σ|.
	constant float64
}

// newGaussian prepares component m of the given components.
func newGaussian(c backends.ComponentArrays, m, d int, mode backends.Mode) (*gaussian, error) {
	g := &gaussian{
		d:    d,
		diag: mode == backends.ModeDiag,
		mean: toFloat64(c.Means[m*d : (m+1)*d]),
	}
	covars := c.Covars[m*d*d : (m+1)*d*d]
	g.cov = mat.NewSymDense(d, nil)
	for i := range d {
		for j := i; j < d; j++ {
			if g.diag && i != j {
				continue
			}
			g.cov.SetSym(i, j, float64(covars[i*d+j]))
		}
	}

	if g.diag {
		invDiag := make([]float64, d)
		for i := range d {
			v := g.cov.At(i, i)
			if v <= 0 || math.IsNaN(v) {
				return nil, errors.Errorf("variance %g of dimension %d of component %d is not positive", v, i, m)
			}
			invDiag[i] = 1 / v
			g.logDet += math.Log(v)
		}
		g.inv = mat.NewDiagDense(d, invDiag)
		g.invRaw = invDiag
	} else {
		var chol mat.Cholesky
		ok := chol.Factorize(g.cov)
		for retry := 0; !ok && retry < maxRegularizationRetries; retry++ {
			bump := math.Pow(10, float64(retry-6)) * (1 + mat.Trace(g.cov)/float64(d))
			for i := range d {
				g.cov.SetSym(i, i, g.cov.At(i, i)+bump)
			}
			ok = chol.Factorize(g.cov)
		}
		if !ok {
			return nil, errors.Errorf("covariance of component %d is not positive definite", m)
		}
		g.logDet = chol.LogDet()
		inv := mat.NewSymDense(d, nil)
		if err := chol.InverseTo(inv); err != nil {
			return nil, errors.Wrapf(err, "inverting covariance of component %d", m)
		}
		g.inv = inv
		g.invRaw = make([]float64, d*d)
		for i := range d {
			for j := range d {
				g.invRaw[i*d+j] = inv.At(i, j)
			}
		}
	}
	g.constant = -0.5*float64(d)*log2Pi - 0.5*g.logDet
	return g, nil
}

// logDensity returns the log of the density at x. diff is scratch space of size D.
func (g *gaussian) logDensity(x []float32, diff []float64) float64 {
	for i := range g.d {
		diff[i] = float64(x[i]) - g.mean[i]
	}
	var quad float64
	if g.diag {
		for i, v := range diff {
			quad += v * v * g.invRaw[i]
		}
	} else {
		for i := range g.d {
			row := g.invRaw[i*g.d : (i+1)*g.d]
			var acc float64
			for j, v := range diff {
				acc += row[j] * v
			}
			quad += diff[i] * acc
		}
	}
	return g.constant - 0.5*quad
}

func toFloat64[T constraints.Float](values []T) []float64 {
	out := make([]float64, len(values))
	for ii, v := range values {
		out[ii] = float64(v)
	}
	return out
}

// logSumExp returns log(Σ exp(values[i])) over the values that are not -Inf.
func logSumExp[T constraints.Float](values []T) T {
	maxValue := T(math.Inf(-1))
	for _, v := range values {
		if v > maxValue {
			maxValue = v
		}
	}
	if math.IsInf(float64(maxValue), -1) {
		return maxValue
	}
	var sum float64
	for _, v := range values {
		sum += math.Exp(float64(v - maxValue))
	}
	return maxValue + T(math.Log(sum))
}

// ArgMax returns the index of the largest value, or -1 if values is empty.
func ArgMax[T constraints.Ordered](values []T) int {
	best := -1
	for ii, v := range values {
		if best == -1 || v > values[best] {
			best = ii
		}
	}
	return best
}
