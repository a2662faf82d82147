// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"strings"

	"github.com/gomlx/gmmspecializer/backends"
	"github.com/pkg/errors"
)

// float32Size is the size in bytes of the elements of every device buffer.
const float32Size = 4

// ErrUnknownKernelFamily is returned by RunCheck for a variant whose covariance kernel family is not one of
// FamilyV1, FamilyV2A, FamilyV2B or FamilyV3.
var ErrUnknownKernelFamily = errors.New("unknown covariance kernel family")

// variantLimits are the static quantities of a variant that determine its feasibility.
type variantLimits struct {
	family                 string
	threadsPerBlock, shmem int
	totalMem               int64
	eThreads, mThreads     int
	maxD, maxM             int
	maxDV3, maxMV3         int
	maxN                   int64
}

func parseLimits(a backends.Assignment, capability backends.Capability) (*variantLimits, error) {
	l := &variantLimits{
		threadsPerBlock: capability.MaxThreadsPerUnit,
		shmem:           capability.MaxSharedMemBytes,
		totalMem:        capability.TotalDeviceMemBytes,
	}
	family, found := a.Get(ParamCovarianceKernelFamily)
	if !found {
		return nil, errors.Errorf("variant %s has no %q parameter", a, ParamCovarianceKernelFamily)
	}
	l.family = strings.ToUpper(family)
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{ParamNumThreadsEStep, &l.eThreads},
		{ParamNumThreadsMStep, &l.mThreads},
		{ParamMaxNumDimensions, &l.maxD},
		{ParamMaxNumComponents, &l.maxM},
		{ParamMaxNumDimensionsCovarV3, &l.maxDV3},
		{ParamMaxNumComponentsCovarV3, &l.maxMV3},
	} {
		v, err := a.Int(p.name)
		if err != nil {
			return nil, err
		}
		*p.dst = v
	}
	if l.maxD <= 0 {
		return nil, errors.Errorf("variant %s: %q must be positive", a, ParamMaxNumDimensions)
	}
	l.maxN = l.totalMem / int64(l.maxD*float32Size)
	return l, nil
}

// commonFits checks the shared memory and threads required by all families.
func (l *variantLimits) commonFits() bool {
	return l.eThreads <= l.threadsPerBlock && l.mThreads <= l.threadsPerBlock &&
		(l.maxD*l.maxD+l.maxD)*float32Size < l.shmem &&
		l.eThreads*float32Size < l.shmem && l.mThreads*float32Size < l.shmem
}

// familyFits checks the shared memory scratch space of the covariance kernel family.
// Unknown families are evaluated with the V3 formula, the most demanding one.
func (l *variantLimits) familyFits() bool {
	switch l.family {
	case FamilyV1:
		return (l.maxD+l.mThreads)*float32Size < l.shmem
	case FamilyV2A:
		return l.maxD*float32Size < l.shmem
	case FamilyV2B:
		return (l.maxD*l.maxD+l.maxD)*float32Size < l.shmem
	default:
		return (l.maxDV3*l.maxMV3+l.mThreads+l.maxMV3)*float32Size < l.shmem
	}
}

// compileFeasible returns whether the variant fits the device, independent of the call.
func compileFeasible(a backends.Assignment, capability backends.Capability) bool {
	l, err := parseLimits(a, capability)
	if err != nil {
		return false
	}
	return l.commonFits() && l.familyFits()
}

// runCheck returns the run-feasibility predicate of the variant.
//
// Each family has its own exclusive check: V1 bounds M, D and N; V2A and V2B additionally require the
// D*(D-1)/2 pairs of dimensions to fit in a thread block; V3 uses its own (smaller) bounds on M and D.
func runCheck(a backends.Assignment, capability backends.Capability) (backends.RunCheck, error) {
	l, err := parseLimits(a, capability)
	if err != nil {
		return nil, err
	}
	switch l.family {
	case FamilyV1, FamilyV2A, FamilyV2B, FamilyV3:
	default:
		return nil, errors.Wrapf(ErrUnknownKernelFamily, "%q in variant %s", l.family, a)
	}
	if !l.commonFits() || !l.familyFits() {
		return backends.NeverFeasible, nil
	}
	withinBounds := func(args backends.CallArgs, maxM, maxD int) bool {
		return args.M <= maxM && args.D <= maxD && int64(args.N) <= l.maxN
	}
	switch l.family {
	case FamilyV1:
		return func(args backends.CallArgs) bool {
			return withinBounds(args, l.maxM, l.maxD)
		}, nil
	case FamilyV2A, FamilyV2B:
		return func(args backends.CallArgs) bool {
			return withinBounds(args, l.maxM, l.maxD) && args.D*(args.D-1)/2 < l.threadsPerBlock
		}, nil
	default:
		return func(args backends.CallArgs) bool {
			return withinBounds(args, l.maxMV3, l.maxDV3)
		}, nil
	}
}
