// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import "github.com/gomlx/gmmspecializer/backends"

// Names of the tuning parameters of the CUDA kernel variants.
const (
	ParamNumBlocksEStep          = "num_blocks_estep"
	ParamNumThreadsEStep         = "num_threads_estep"
	ParamNumThreadsMStep         = "num_threads_mstep"
	ParamNumEventBlocks          = "num_event_blocks"
	ParamMaxNumDimensions        = "max_num_dimensions"
	ParamMaxNumComponents        = "max_num_components"
	ParamMaxNumDimensionsCovarV3 = "max_num_dimensions_covar_v3"
	ParamMaxNumComponentsCovarV3 = "max_num_components_covar_v3"
	ParamCovarianceKernelFamily  = "covar_version_name"
)

// Covariance kernel families, values of ParamCovarianceKernelFamily.
// Each family uses a different amount of shared memory and a different thread layout in the M-step.
const (
	FamilyV1  = "V1"
	FamilyV2A = "V2A"
	FamilyV2B = "V2B"
	FamilyV3  = "V3"
)

// DefaultParameterSpace is the single variant used when not auto-tuning.
func DefaultParameterSpace() backends.ParameterSpace {
	return backends.ParameterSpace{
		ParamNumBlocksEStep:          {"16"},
		ParamNumThreadsEStep:         {"512"},
		ParamNumThreadsMStep:         {"256"},
		ParamNumEventBlocks:          {"128"},
		ParamMaxNumDimensions:        {"50"},
		ParamMaxNumComponents:        {"122"},
		ParamMaxNumDimensionsCovarV3: {"41"},
		ParamMaxNumComponentsCovarV3: {"81"},
		ParamCovarianceKernelFamily:  {FamilyV1},
	}
}

// AutotuneParameterSpace explores the event blocking and the covariance kernel families.
func AutotuneParameterSpace() backends.ParameterSpace {
	space := DefaultParameterSpace()
	space[ParamNumEventBlocks] = []string{"32", "128", "256"}
	space[ParamCovarianceKernelFamily] = []string{FamilyV1, FamilyV2A, FamilyV2B, FamilyV3}
	return space
}
