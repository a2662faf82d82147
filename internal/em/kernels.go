// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package em

import (
	"github.com/gomlx/gmmspecializer/backends"
	"github.com/gomlx/gmmspecializer/internal/workerspool"
	"github.com/pkg/errors"
)

// Views are the arrays a kernel reads and writes, resolved from the operands of an invocation.
type Views struct {
	Events     []float32
	Index      []int32
	Components backends.ComponentArrays
	Eval       backends.EvalArrays
}

// Resolver returns the Views of an invocation: backends working on host memory use HostViews,
// device emulations map the device pointers of the operands instead.
type Resolver func(inv *backends.Invocation) (Views, error)

// HostViews resolves the host resident operands of an invocation.
func HostViews(inv *backends.Invocation) (Views, error) {
	ops := &inv.Operands
	return Views{
		Events:     ops.Events,
		Index:      ops.Index,
		Components: ops.Components,
		Eval:       ops.Eval,
	}, nil
}

// NewKernel returns the kernel implementing the operation of key, running on the views returned by resolve.
func NewKernel(pool *workerspool.Pool, key backends.OpKey, resolve Resolver) (backends.Kernel, error) {
	mode := key.Mode
	var run func(inv *backends.Invocation, v Views) (backends.Result, error)
	switch key.Op {
	case backends.OperationSeedComponents:
		run = func(inv *backends.Invocation, v Views) (backends.Result, error) {
			p := Problem{Events: v.Events, N: inv.Args.N, D: inv.Args.D, M: inv.Args.M, Mode: mode}
			return backends.Result{}, Seed(p, v.Components)
		}
	case backends.OperationTrain:
		run = func(inv *backends.Invocation, v Views) (backends.Result, error) {
			p := Problem{Events: v.Events, N: inv.Args.N, D: inv.Args.D, M: inv.Args.M, Mode: mode}
			likelihood, err := Train(pool, p, v.Components, v.Eval, inv.MinIters, inv.MaxIters)
			return backends.Result{Likelihood: likelihood}, err
		}
	case backends.OperationTrainOnSubset:
		run = func(inv *backends.Invocation, v Views) (backends.Result, error) {
			args := inv.Args
			if len(v.Index) < args.K {
				return backends.Result{}, errors.Errorf("index list has %d entries, K=%d", len(v.Index), args.K)
			}
			gathered := make([]float32, args.K*args.D)
			if err := Gather(v.Events[:args.N*args.D], args.D, v.Index[:args.K], gathered); err != nil {
				return backends.Result{}, err
			}
			p := Problem{Events: gathered, N: args.K, D: args.D, M: args.M, Mode: mode}
			likelihood, err := Train(pool, p, v.Components, v.Eval, inv.MinIters, inv.MaxIters)
			return backends.Result{Likelihood: likelihood}, err
		}
	case backends.OperationEval:
		run = func(inv *backends.Invocation, v Views) (backends.Result, error) {
			p := Problem{Events: v.Events, N: inv.Args.N, D: inv.Args.D, M: inv.Args.M, Mode: mode}
			likelihood, err := Eval(pool, p, v.Components, v.Eval)
			return backends.Result{Likelihood: likelihood}, err
		}
	case backends.OperationMergeComponents:
		run = func(inv *backends.Invocation, v Views) (backends.Result, error) {
			return backends.Result{}, MergeComponents(v.Components, inv.Args.M, inv.Args.D, inv.C1, inv.C2, inv.Merged)
		}
	case backends.OperationDistanceRissanen:
		run = func(inv *backends.Invocation, v Views) (backends.Result, error) {
			distance, err := DistanceRissanen(v.Components, inv.Args.M, inv.Args.D, inv.C1, inv.C2, mode, inv.Merged)
			return backends.Result{Distance: distance}, err
		}
	case backends.OperationDistanceKL:
		// Both mixtures are always host resident.
		return func(inv *backends.Invocation) (backends.Result, error) {
			distance, err := KLDistance(inv.Args.D, inv.Pair[0], inv.PairM[0], inv.Pair[1], inv.PairM[1], mode, inv.LogTable)
			return backends.Result{Distance: distance}, err
		}, nil
	default:
		return nil, errors.Wrapf(backends.ErrNotImplemented, "operation %s", key)
	}
	return func(inv *backends.Invocation) (backends.Result, error) {
		views, err := resolve(inv)
		if err != nil {
			return backends.Result{}, errors.WithMessagef(err, "resolving operands of %s", key)
		}
		result, err := run(inv, views)
		if err != nil {
			return backends.Result{}, errors.WithMessagef(err, "%s%s", key, inv.Args)
		}
		return result, nil
	}, nil
}
