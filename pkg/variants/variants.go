// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package variants expands the parameter space of a backend into its concrete kernel variants.
//
// Generation is a pure function of the space and the numeric mode: parameters are visited in sorted name
// order, with the last name varying fastest, so the list of variants and their identifiers are the same on
// every run. The order of the list is also the preference order used by the dispatcher.
package variants

import (
	"strings"

	"github.com/gomlx/gmmspecializer/backends"
)

// Generate returns every assignment of the cartesian product of the space, each tagged with the mode
// under backends.ModeParameter.
//
// An empty space generates a single assignment holding only the mode tag.
// A parameter with no candidate values generates no assignments.
func Generate(space backends.ParameterSpace, mode backends.Mode) []backends.Assignment {
	names := space.Names()
	results := make([]backends.Assignment, 0, space.NumVariants())
	current := make(map[string]string, len(names)+1)
	current[backends.ModeParameter] = mode.String()
	var recurse func(idx int)
	recurse = func(idx int) {
		if idx == len(names) {
			results = append(results, backends.NewAssignment(current))
			return
		}
		name := names[idx]
		for _, value := range space[name] {
			current[name] = value
			recurse(idx + 1)
		}
		delete(current, name)
	}
	recurse(0)
	return results
}

// Identifier returns the unique name of a variant within (operation, backend):
// "em_<backend>_<operation>_<values>", with the values in sorted parameter name order, mode included.
func Identifier(backendName string, op backends.Operation, a backends.Assignment) string {
	parts := append([]string{"em", backendName, op.String()}, a.Values()...)
	return strings.Join(parts, "_")
}
