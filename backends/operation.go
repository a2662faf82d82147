// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

// Operation is an enum of the logical operations a backend offers kernel variants for.
type Operation int

const (
	// OperationSeedComponents initializes weights, means and covariances of an unseeded model from the events.
	OperationSeedComponents Operation = iota

	// OperationTrain runs EM over all the events.
	OperationTrain

	// OperationTrainOnSubset runs EM over the events selected by the index list, gathered by the kernel.
	OperationTrainOnSubset

	// OperationEval computes memberships and log-likelihoods of the events.
	OperationEval

	// OperationMergeComponents replaces two components by a merged one, shrinking the model by one component.
	OperationMergeComponents

	// OperationDistanceRissanen computes the merged candidate of two components and its Rissanen distance.
	OperationDistanceRissanen

	// OperationDistanceKL scores the KL distance between two models.
	OperationDistanceKL

	// OperationLast should always be kept the last, it is used as a counter/marker for Operation.
	OperationLast
)

// Operations lists all the operations, in the order they are registered.
func Operations() []Operation {
	ops := make([]Operation, 0, int(OperationLast))
	for op := range OperationLast {
		ops = append(ops, op)
	}
	return ops
}

// Mode is the numeric mode of the kernels: the type of covariance matrix used.
type Mode int

const (
	// ModeDiag uses diagonal covariance matrices.
	ModeDiag Mode = iota

	// ModeFull uses full covariance matrices.
	ModeFull
)

// OpKey is the tagged key of a kernel: the operation and the numeric mode it was specialized for.
type OpKey struct {
	Op   Operation
	Mode Mode
}

// Key returns the OpKey for the operation and mode.
func Key(op Operation, mode Mode) OpKey {
	return OpKey{Op: op, Mode: mode}
}

// String returns "<operation>_<mode>", e.g.: "train_diag".
func (k OpKey) String() string {
	return k.Op.String() + "_" + k.Mode.String()
}
