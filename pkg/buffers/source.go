// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"slices"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Source is the data a buffer is ensured with: its class, logical shape, the identity of the arrays'
// owner and the arrays themselves.
//
// Events and index lists are copied into buffers owned by the Manager. Components and evaluation results
// are owned by a model: the host side of their buffers aliases the model's arrays.
type Source struct {
	class Class
	shape []int
	owner uuid.UUID

	events      []float32
	gatherIndex []int32
	index       []int32
	components  backends.ComponentArrays
	eval        backends.EvalArrays
}

// Class returns the class of buffer the source is for.
func (s Source) Class() Class { return s.class }

// Shape returns the logical shape of the source.
func (s Source) Shape() []int { return slices.Clone(s.shape) }

// numValues is the number of 4 bytes values of the buffer.
func (s Source) numValues() int {
	switch s.class {
	case ClassComponents:
		return backends.ComponentsSize(s.shape[0], s.shape[1])
	case ClassEvalResults:
		return backends.EvalSize(s.shape[0], s.shape[1])
	default:
		n := 1
		for _, dim := range s.shape {
			n *= dim
		}
		return n
	}
}

// EventsSource returns the source of the ClassEvents buffer for the [N*D] events.
func EventsSource(events []float32, n, d int) (Source, error) {
	if n <= 0 || d <= 0 || len(events) != n*d {
		return Source{}, errors.Errorf("events have %d values, expected N*D=%d*%d", len(events), n, d)
	}
	return Source{class: ClassEvents, shape: []int{n, d}, events: events}, nil
}

// GatheredEventsSource returns the source of the ClassEvents buffer holding the rows of events selected by index.
// The rows are gathered on the host, while copying them into the buffer.
func GatheredEventsSource(events []float32, d int, index []int32) (Source, error) {
	if d <= 0 || len(events)%d != 0 || len(index) == 0 {
		return Source{}, errors.Errorf("invalid gather of %d indices from %d values with D=%d", len(index), len(events), d)
	}
	n := len(events) / d
	for ii, idx := range index {
		if idx < 0 || int(idx) >= n {
			return Source{}, errors.Errorf("index[%d]=%d out of range for %d events", ii, idx, n)
		}
	}
	return Source{class: ClassEvents, shape: []int{len(index), d}, events: events, gatherIndex: index}, nil
}

// IndexSource returns the source of the ClassIndexList buffer.
func IndexSource(index []int32) (Source, error) {
	if len(index) == 0 {
		return Source{}, errors.New("empty index list")
	}
	return Source{class: ClassIndexList, shape: []int{len(index)}, index: index}, nil
}

// ComponentsSource returns the source of the ClassComponents buffer for the M components of dimension D
// owned by owner.
func ComponentsSource(owner uuid.UUID, m, d int, arrays backends.ComponentArrays) (Source, error) {
	if m <= 0 || d <= 0 || len(arrays.Weights) != m || len(arrays.Means) != m*d ||
		len(arrays.Covars) != m*d*d || len(arrays.CompProbs) != m {
		return Source{}, errors.Errorf("components arrays don't match M=%d, D=%d", m, d)
	}
	return Source{class: ClassComponents, shape: []int{m, d}, owner: owner, components: arrays}, nil
}

// EvalSource returns the source of the ClassEvalResults buffer for N events and M components, owned by owner.
func EvalSource(owner uuid.UUID, n, m int, arrays backends.EvalArrays) (Source, error) {
	if n <= 0 || m <= 0 || len(arrays.Memberships) != m*n || len(arrays.LogLikelihoods) != n {
		return Source{}, errors.Errorf("evaluation arrays don't match N=%d, M=%d", n, m)
	}
	return Source{class: ClassEvalResults, shape: []int{n, m}, owner: owner, eval: arrays}, nil
}
