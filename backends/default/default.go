// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default backends, namely CPU and CUDA.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/gmmspecializer/backends/default"
//
// If you add the tag `nocuda` it will not include cuda: the specializer then only runs on the CPU.
package _default

import (
	_ "github.com/gomlx/gmmspecializer/backends/cpu"
)
