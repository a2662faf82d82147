// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package em

import (
	"math"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LogTableBits is the number of mantissa bits indexing the log lookup table.
const LogTableBits = 16

// LogTableSize is the number of entries of the table returned by NewLogTable.
const LogTableSize = 1 << LogTableBits

// NewLogTable creates the lookup table of natural logarithms used by KLDistance:
// entry i holds log((i+0.5)/LogTableSize), covering the interval (0, 1].
func NewLogTable() []float32 {
	table := make([]float32, LogTableSize)
	for ii := range table {
		table[ii] = float32(math.Log((float64(ii) + 0.5) / LogTableSize))
	}
	return table
}

// LookupLog returns log(x) using the table for x in (0, 1], and math.Log otherwise.
func LookupLog(table []float32, x float64) float64 {
	if x <= 0 || x > 1 || len(table) == 0 {
		return math.Log(x)
	}
	idx := min(int(x*float64(len(table))), len(table)-1)
	return float64(table[idx])
}

// gaussianKL returns KL(p || q) of two gaussians.
func gaussianKL(p, q *gaussian) float64 {
	d := p.d
	var trace float64
	for i := range d {
		for j := range d {
			trace += q.inv.At(i, j) * p.cov.At(j, i)
		}
	}
	diff := make([]float64, d)
	for i := range d {
		diff[i] = q.mean[i] - p.mean[i]
	}
	diffVec := mat.NewVecDense(d, diff)
	quad := mat.Inner(diffVec, q.inv, diffVec)
	return 0.5 * (trace + quad - float64(d) + q.logDet - p.logDet)
}

// matchedKL approximates KL(a || b) of two mixtures by matching each component of a to its closest component of b.
func matchedKL(a, b []*gaussian, wa, wb []float32, table []float32) float64 {
	var total float64
	for i, gi := range a {
		if gi == nil {
			continue
		}
		logWi := LookupLog(table, float64(wa[i]))
		best := math.Inf(1)
		for j, gj := range b {
			if gj == nil {
				continue
			}
			v := gaussianKL(gi, gj) + logWi - LookupLog(table, float64(wb[j]))
			best = min(best, v)
		}
		total += float64(wa[i]) * best
	}
	return total
}

func prepareMixture(c backends.ComponentArrays, m, d int, mode backends.Mode) ([]*gaussian, error) {
	gaussians := make([]*gaussian, m)
	for k := range m {
		if c.Weights[k] <= 0 {
			continue
		}
		g, err := newGaussian(c, k, d, mode)
		if err != nil {
			return nil, err
		}
		gaussians[k] = g
	}
	return gaussians, nil
}

// KLDistance returns the symmetric KL distance between two mixtures of dimension D, with ma and mb components,
// approximated by the matched bound. The log of the weights is taken from table (see NewLogTable).
func KLDistance(d int, a backends.ComponentArrays, ma int, b backends.ComponentArrays, mb int,
	mode backends.Mode, table []float32) (float64, error) {
	if ma <= 0 || mb <= 0 {
		return 0, errors.Errorf("KL distance requires non-empty mixtures, got M=%d and M=%d", ma, mb)
	}
	ga, err := prepareMixture(a, ma, d, mode)
	if err != nil {
		return 0, errors.WithMessage(err, "first mixture")
	}
	gb, err := prepareMixture(b, mb, d, mode)
	if err != nil {
		return 0, errors.WithMessage(err, "second mixture")
	}
	return matchedKL(ga, gb, a.Weights, b.Weights, table) + matchedKL(gb, ga, b.Weights, a.Weights, table), nil
}
