// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gmm implements Gaussian mixture models trained and evaluated with the kernel variants selected by
// a specializer.Context.
//
// Every operation follows the same steps: validate the data shapes, ensure the buffers it needs (events,
// index list, components and evaluation results) are resident, seed the components if needed, dispatch and
// run the variant of the operation, and sync the results back to the model.
package gmm

import (
	"fmt"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/pkg/buffers"
	"github.com/gomlx/gmmspecializer/pkg/specializer"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Default bounds of EM iterations for Model.Train.
const (
	DefaultMinIters = 1
	DefaultMaxIters = 10
)

// ShapeMismatchError is returned when the data given to an operation doesn't match the shape of the model.
// The operation is aborted before any buffer is allocated.
type ShapeMismatchError struct {
	Msg           string
	Expected, Got []int
}

// Error implements error.
func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: expected %v, got %v", e.Msg, e.Expected, e.Got)
}

// Model is a Gaussian mixture model with M components of dimension D.
//
// Models are not safe for concurrent use, but models sharing a Context can be used from different goroutines:
// their operations are serialized by the Context.
type Model struct {
	ctx  *specializer.Context
	id   uuid.UUID
	d    int
	mode backends.Mode

	components *Components
	seeded     bool
	eval       EvalData

	// MinIters and MaxIters bound the number of EM iterations of Train and TrainOnSubset.
	MinIters, MaxIters int
}

// New creates a model with m unseeded components of dimension d: they are seeded from the data
// on the first training.
//
// An unsupported mode returns a *specializer.ConfigurationError.
func New(ctx *specializer.Context, m, d int, mode backends.Mode) (*Model, error) {
	if !mode.IsAMode() {
		return nil, &specializer.ConfigurationError{Msg: fmt.Sprintf("unsupported numeric mode %d", int(mode))}
	}
	if m <= 0 || d <= 0 {
		return nil, errors.Errorf("invalid model shape M=%d, D=%d", m, d)
	}
	return &Model{
		ctx:        ctx,
		id:         uuid.New(),
		d:          d,
		mode:       mode,
		components: NewComponents(m, d),
		MinIters:   DefaultMinIters,
		MaxIters:   DefaultMaxIters,
	}, nil
}

// NewWithComponents creates a model with the given initial components, which are not seeded again.
func NewWithComponents(ctx *specializer.Context, components *Components, mode backends.Mode) (*Model, error) {
	g, err := New(ctx, components.M(), components.D(), mode)
	if err != nil {
		return nil, err
	}
	g.components = components
	g.seeded = true
	return g, nil
}

// ID returns the identity of the model, used in logs.
func (g *Model) ID() uuid.UUID { return g.id }

// M returns the current number of components. It shrinks when components are merged.
func (g *Model) M() int { return g.components.M() }

// D returns the dimension of the events.
func (g *Model) D() int { return g.d }

// Mode returns the numeric mode of the model.
func (g *Model) Mode() backends.Mode { return g.mode }

// Components returns the components of the model.
func (g *Model) Components() *Components { return g.components }

// Seeded returns whether the components were initialized.
func (g *Model) Seeded() bool { return g.seeded }

// EvalData returns the results of the last training or evaluation.
func (g *Model) EvalData() *EvalData { return &g.eval }

// Likelihood returns the total log-likelihood of the last training or evaluation.
func (g *Model) Likelihood() float64 { return g.eval.Likelihood }

// String implements fmt.Stringer.
func (g *Model) String() string {
	return fmt.Sprintf("GMM(M=%d, D=%d, %s, %s)", g.M(), g.d, g.mode, g.id)
}

// Events is a row-major matrix of N events (rows) of D features (columns).
type Events struct {
	Data []float32
	N, D int
}

// Rows returns the events [from, to).
func (e Events) Rows(from, to int) Events {
	return Events{Data: e.Data[from*e.D : to*e.D], N: to - from, D: e.D}
}

// checkEvents validates the shape of the events against the model, and returns N.
func (g *Model) checkEvents(events Events) (int, error) {
	if events.D != g.d {
		return 0, &ShapeMismatchError{Msg: "events of " + g.String(),
			Expected: []int{events.N, g.d}, Got: []int{events.N, events.D}}
	}
	if events.N <= 0 || len(events.Data) != events.N*events.D {
		return 0, &ShapeMismatchError{Msg: "events data",
			Expected: []int{events.N * events.D}, Got: []int{len(events.Data)}}
	}
	return events.N, nil
}

func checkIndex(index []int32, n int) error {
	if len(index) == 0 {
		return &ShapeMismatchError{Msg: "index list", Expected: []int{-1}, Got: []int{0}}
	}
	for ii, idx := range index {
		if idx < 0 || int(idx) >= n {
			return &ShapeMismatchError{Msg: fmt.Sprintf("index[%d]=%d", ii, idx), Expected: []int{0, n - 1}, Got: []int{int(idx)}}
		}
	}
	return nil
}

func (g *Model) callArgs(n int) backends.CallArgs {
	return backends.CallArgs{M: g.M(), D: g.d, N: n}
}

// ensureComponents makes the model's components resident.
func (g *Model) ensureComponents() error {
	src, err := buffers.ComponentsSource(g.components.ID(), g.M(), g.d, g.components.Arrays())
	if err != nil {
		return err
	}
	return g.ctx.Buffers().Ensure(buffers.ClassComponents, src)
}

// ensureEval sizes the evaluation results for n events and makes them resident.
func (g *Model) ensureEval(n int) error {
	g.eval.resize(n, g.M())
	src, err := buffers.EvalSource(g.id, n, g.M(), g.eval.arrays)
	if err != nil {
		return err
	}
	return g.ctx.Buffers().Ensure(buffers.ClassEvalResults, src)
}

// ensure makes the events source, the components and the evaluation results for n events resident.
func (g *Model) ensure(events buffers.Source, n int) error {
	bufs := g.ctx.Buffers()
	if err := bufs.Ensure(buffers.ClassEvents, events); err != nil {
		return err
	}
	if err := g.ensureComponents(); err != nil {
		return err
	}
	return g.ensureEval(n)
}

func (g *Model) invoke(op backends.Operation, inv *backends.Invocation) (backends.Result, error) {
	inv.Operands = g.ctx.Buffers().Operands()
	return g.ctx.Invoke(backends.Key(op, g.mode), inv)
}

// syncBack copies the given buffer classes back from the device, if any.
func (g *Model) syncBack(classes ...buffers.Class) error {
	for _, class := range classes {
		if err := g.ctx.Buffers().SyncFromAccelerator(class); err != nil {
			return err
		}
	}
	return nil
}

// seedIfNeeded seeds the components from the n resident events.
func (g *Model) seedIfNeeded(n int) error {
	if g.seeded {
		return nil
	}
	if _, err := g.invoke(backends.OperationSeedComponents, &backends.Invocation{Args: g.callArgs(n)}); err != nil {
		return errors.WithMessagef(err, "seeding %s", g)
	}
	if err := g.syncBack(buffers.ClassComponents); err != nil {
		return err
	}
	g.seeded = true
	klog.V(1).Infof("gmm: seeded %s from %d events", g, n)
	return nil
}

// train runs the training operation, with the events (n of them) already resident.
func (g *Model) train(op backends.Operation, inv *backends.Invocation, n int) (float64, error) {
	if err := g.seedIfNeeded(n); err != nil {
		return 0, err
	}
	inv.MinIters, inv.MaxIters = g.MinIters, g.MaxIters
	result, err := g.invoke(op, inv)
	if err != nil {
		return 0, errors.WithMessagef(err, "training %s", g)
	}
	if err := g.syncBack(buffers.ClassComponents, buffers.ClassEvalResults); err != nil {
		return 0, err
	}
	g.eval.Likelihood = result.Likelihood
	klog.V(1).Infof("gmm: trained %s on %s: likelihood=%g", g, inv.Args, result.Likelihood)
	return result.Likelihood, nil
}

// Train the model with EM on the events, and returns the total log-likelihood.
// The memberships and log-likelihoods of the events are left in EvalData.
func (g *Model) Train(events Events) (likelihood float64, err error) {
	n, err := g.checkEvents(events)
	if err != nil {
		return 0, err
	}
	err = g.ctx.Do(func() error {
		src, err := buffers.EventsSource(events.Data, n, g.d)
		if err != nil {
			return err
		}
		if err = g.ensure(src, n); err != nil {
			return err
		}
		likelihood, err = g.train(backends.OperationTrain, &backends.Invocation{Args: g.callArgs(n)}, n)
		return err
	})
	return
}

// TrainOnSubset trains the model with the events selected by index. The selected events are gathered by the
// kernel, from all the events resident in the device. Components are seeded from all the events.
//
// The evaluation results are sized for the K selected events.
func (g *Model) TrainOnSubset(events Events, index []int32) (likelihood float64, err error) {
	n, err := g.checkEvents(events)
	if err != nil {
		return 0, err
	}
	if err = checkIndex(index, n); err != nil {
		return 0, err
	}
	k := len(index)
	err = g.ctx.Do(func() error {
		bufs := g.ctx.Buffers()
		src, err := buffers.EventsSource(events.Data, n, g.d)
		if err != nil {
			return err
		}
		if err = g.ensure(src, k); err != nil {
			return err
		}
		indexSrc, err := buffers.IndexSource(index)
		if err != nil {
			return err
		}
		if err = bufs.Ensure(buffers.ClassIndexList, indexSrc); err != nil {
			return err
		}
		args := g.callArgs(n)
		args.K = k
		likelihood, err = g.train(backends.OperationTrainOnSubset, &backends.Invocation{Args: args}, n)
		return err
	})
	return
}

// TrainOnSubsetGathered trains the model with the events selected by index, gathered on the host: only the K
// selected events are made resident, and they are trained on as a plain training.
func (g *Model) TrainOnSubsetGathered(events Events, index []int32) (likelihood float64, err error) {
	n, err := g.checkEvents(events)
	if err != nil {
		return 0, err
	}
	if err = checkIndex(index, n); err != nil {
		return 0, err
	}
	k := len(index)
	err = g.ctx.Do(func() error {
		src, err := buffers.GatheredEventsSource(events.Data, g.d, index)
		if err != nil {
			return err
		}
		if err = g.ensure(src, k); err != nil {
			return err
		}
		likelihood, err = g.train(backends.OperationTrain, &backends.Invocation{Args: g.callArgs(k)}, k)
		return err
	})
	return
}

// Eval computes the memberships and log-likelihoods of the events, left in EvalData, and returns the
// total log-likelihood.
func (g *Model) Eval(events Events) (likelihood float64, err error) {
	n, err := g.checkEvents(events)
	if err != nil {
		return 0, err
	}
	err = g.ctx.Do(func() error {
		if !g.seeded {
			return errors.Errorf("evaluating %s before it is trained or given initial components", g)
		}
		src, err := buffers.EventsSource(events.Data, n, g.d)
		if err != nil {
			return err
		}
		if err = g.ensure(src, n); err != nil {
			return err
		}
		result, err := g.invoke(backends.OperationEval, &backends.Invocation{Args: g.callArgs(n)})
		if err != nil {
			return errors.WithMessagef(err, "evaluating %s", g)
		}
		if err = g.syncBack(buffers.ClassEvalResults); err != nil {
			return err
		}
		g.eval.Likelihood = result.Likelihood
		likelihood = result.Likelihood
		return nil
	})
	return
}

// Score returns the log-likelihood of each of the events.
func (g *Model) Score(events Events) ([]float32, error) {
	if _, err := g.Eval(events); err != nil {
		return nil, err
	}
	return append([]float32(nil), g.eval.LogLikelihoods()...), nil
}

// Decode returns the log-likelihood of each of the events and its most likely component.
func (g *Model) Decode(events Events) (logLikelihoods []float32, labels []int, err error) {
	if _, err = g.Eval(events); err != nil {
		return nil, nil, err
	}
	return append([]float32(nil), g.eval.LogLikelihoods()...), g.eval.mostLikely(), nil
}

// Predict returns the most likely component of each of the events.
func (g *Model) Predict(events Events) ([]int, error) {
	if _, err := g.Eval(events); err != nil {
		return nil, err
	}
	return g.eval.mostLikely(), nil
}

// Close frees the buffers owned by the model. The model can still be used: buffers are recreated as needed.
func (g *Model) Close() error {
	return g.ctx.Do(func() error {
		bufs := g.ctx.Buffers()
		var firstErr error
		if bufs.Owner(buffers.ClassComponents) == g.components.ID() {
			firstErr = bufs.Free(buffers.ClassComponents)
		}
		if bufs.Owner(buffers.ClassEvalResults) == g.id {
			if err := bufs.Free(buffers.ClassEvalResults); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}
