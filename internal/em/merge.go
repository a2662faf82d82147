// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package em

import (
	"github.com/gomlx/gmmspecializer/backends"
	"github.com/pkg/errors"
)

func checkPair(m, c1, c2 int) error {
	if c1 < 0 || c2 < 0 || c1 >= m || c2 >= m || c1 == c2 {
		return errors.Errorf("invalid pair of components (%d, %d) for M=%d", c1, c2, m)
	}
	return nil
}

// DistanceRissanen writes into merged (a single component) the combination of components c1 and c2, and
// returns the Rissanen distance between keeping them apart and merging them.
//
// The distance is N1*C1 + N2*C2 - (N1+N2)*C, where Ni are the soft counts (CompProbs) and
// Ci the normalization constants of the gaussians. If the soft counts are not known (zero), weights are used.
func DistanceRissanen(c backends.ComponentArrays, m, d, c1, c2 int, mode backends.Mode,
	merged backends.ComponentArrays) (float64, error) {
	if err := checkPair(m, c1, c2); err != nil {
		return 0, err
	}
	n1, n2 := float64(c.CompProbs[c1]), float64(c.CompProbs[c2])
	if n1+n2 <= 0 {
		n1, n2 = float64(c.Weights[c1]), float64(c.Weights[c2])
	}
	if n1+n2 <= 0 {
		return 0, errors.Errorf("components %d and %d are both empty", c1, c2)
	}
	wt1 := n1 / (n1 + n2)
	wt2 := 1 - wt1

	mean := make([]float64, d)
	for i := range d {
		mean[i] = wt1*float64(c.Means[c1*d+i]) + wt2*float64(c.Means[c2*d+i])
		merged.Means[i] = float32(mean[i])
	}
	for i := range d {
		for j := i; j < d; j++ {
			if mode == backends.ModeDiag && i != j {
				merged.Covars[i*d+j] = 0
				merged.Covars[j*d+i] = 0
				continue
			}
			v := wt1 * ((mean[i]-float64(c.Means[c1*d+i]))*(mean[j]-float64(c.Means[c1*d+j])) +
				float64(c.Covars[c1*d*d+i*d+j]))
			v += wt2 * ((mean[i]-float64(c.Means[c2*d+i]))*(mean[j]-float64(c.Means[c2*d+j])) +
				float64(c.Covars[c2*d*d+i*d+j]))
			merged.Covars[i*d+j] = float32(v)
			merged.Covars[j*d+i] = float32(v)
		}
	}
	merged.Weights[0] = c.Weights[c1] + c.Weights[c2]
	merged.CompProbs[0] = c.CompProbs[c1] + c.CompProbs[c2]

	g1, err := newGaussian(c, c1, d, mode)
	if err != nil {
		return 0, err
	}
	g2, err := newGaussian(c, c2, d, mode)
	if err != nil {
		return 0, err
	}
	g, err := newGaussian(merged, 0, d, mode)
	if err != nil {
		return 0, errors.WithMessage(err, "merged component")
	}
	return n1*g1.constant + n2*g2.constant - (n1+n2)*g.constant, nil
}

// MergeComponents replaces component c1 by the single component merged, and removes component c2
// by shifting the following components one position down.
//
// Only the first M-1 components are meaningful afterwards: the caller is expected to shrink the arrays.
func MergeComponents(c backends.ComponentArrays, m, d, c1, c2 int, merged backends.ComponentArrays) error {
	if err := checkPair(m, c1, c2); err != nil {
		return err
	}
	c.Weights[c1] = merged.Weights[0]
	c.CompProbs[c1] = merged.CompProbs[0]
	copy(c.Means[c1*d:(c1+1)*d], merged.Means[:d])
	copy(c.Covars[c1*d*d:(c1+1)*d*d], merged.Covars[:d*d])

	copy(c.Weights[c2:m-1], c.Weights[c2+1:m])
	copy(c.CompProbs[c2:m-1], c.CompProbs[c2+1:m])
	copy(c.Means[c2*d:(m-1)*d], c.Means[(c2+1)*d:m*d])
	copy(c.Covars[c2*d*d:(m-1)*d*d], c.Covars[(c2+1)*d*d:m*d*d])
	return nil
}
