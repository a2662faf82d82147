// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/pkg/errors"
)

// CallArgs are the shape-relevant arguments of a kernel call.
type CallArgs struct {
	// M is the number of components.
	M int

	// D is the dimensionality of the events.
	D int

	// N is the number of events resident in the Events buffer.
	N int

	// K is the length of the index list, for subset operations. 0 otherwise.
	K int
}

// String implements fmt.Stringer.
func (a CallArgs) String() string {
	if a.K > 0 {
		return fmt.Sprintf("(M=%d, D=%d, N=%d, K=%d)", a.M, a.D, a.N, a.K)
	}
	return fmt.Sprintf("(M=%d, D=%d, N=%d)", a.M, a.D, a.N)
}

// RunCheck is a run-feasibility predicate: it returns whether a variant can process a call with the given arguments.
type RunCheck func(args CallArgs) bool

// AlwaysFeasible is the RunCheck of backends without hardware ceilings.
func AlwaysFeasible(CallArgs) bool { return true }

// NeverFeasible is the RunCheck of variants that cannot run at all, e.g. stubs.
func NeverFeasible(CallArgs) bool { return false }

// Invocation holds everything a Kernel receives.
//
// Not every field is used by every operation: see the documentation of each Operation.
type Invocation struct {
	Args CallArgs

	// MinIters and MaxIters bound the number of EM iterations for OperationTrain and OperationTrainOnSubset.
	MinIters, MaxIters int

	// C1 and C2 are the component indices for OperationMergeComponents and OperationDistanceRissanen.
	C1, C2 int

	// Operands are the buffers resident for the call, on host and, if mirrored, on the device.
	Operands Operands

	// Merged is a host resident single component: the input of OperationMergeComponents and the output
	// of OperationDistanceRissanen.
	Merged ComponentArrays

	// Pair are the host resident component sets compared by OperationDistanceKL, and PairM their number
	// of components.
	Pair  [2]ComponentArrays
	PairM [2]int

	// LogTable is the shared logarithm lookup table used by OperationDistanceKL.
	LogTable []float32
}

// Result of a kernel call.
type Result struct {
	// Likelihood is the total log-likelihood, for train and eval operations.
	Likelihood float64

	// Distance is the score of distance operations.
	Distance float64
}

// Kernel is the compiled entry point of a variant.
//
// Kernels are blocking and synchronous: they return when the computation (and any device work it issued) is done.
type Kernel func(inv *Invocation) (Result, error)

// ErrNotImplemented is returned by the stub entry points of variants that are not available.
var ErrNotImplemented = errors.New("kernel variant not implemented")

// NotImplemented returns a stub Kernel for the variant with the given identifier.
func NotImplemented(variantID string) Kernel {
	return func(*Invocation) (Result, error) {
		return Result{}, errors.Wrapf(ErrNotImplemented, "variant %q", variantID)
	}
}
