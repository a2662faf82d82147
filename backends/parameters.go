// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParameterSpace maps a tuning parameter name to its finite set of candidate values.
//
// The cartesian product of the candidate values defines the universe of variants of a backend.
// An empty ParameterSpace defines a single variant, for backends that offer no tuning.
type ParameterSpace map[string][]string

// Names returns the parameter names, sorted.
func (s ParameterSpace) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// NumVariants returns the size of the cartesian product of the space.
func (s ParameterSpace) NumVariants() int {
	count := 1
	for _, values := range s {
		count *= len(values)
	}
	return count
}

// Clone makes a deep copy of the space.
func (s ParameterSpace) Clone() ParameterSpace {
	s2 := make(ParameterSpace, len(s))
	for name, values := range s {
		s2[name] = slices.Clone(values)
	}
	return s2
}

// ModeParameter is the name of the tag added to every Assignment with the numeric mode of the variant.
const ModeParameter = "mode"

// Assignment is one point of a ParameterSpace, plus the ModeParameter tag.
// It uniquely identifies one variant within a backend, operation and numeric mode.
//
// Parameters are kept sorted by name. Assignment is immutable.
type Assignment struct {
	names  []string
	values map[string]string
}

// NewAssignment creates an Assignment from the given parameter values.
func NewAssignment(values map[string]string) Assignment {
	a := Assignment{values: maps.Clone(values)}
	if a.values == nil {
		a.values = make(map[string]string)
	}
	a.names = slices.Sorted(maps.Keys(a.values))
	return a
}

// Len returns the number of parameters, including the mode tag if present.
func (a Assignment) Len() int { return len(a.names) }

// Names returns the sorted parameter names.
func (a Assignment) Names() []string { return slices.Clone(a.names) }

// Values returns the parameter values in the order of Names.
func (a Assignment) Values() []string {
	values := make([]string, len(a.names))
	for ii, name := range a.names {
		values[ii] = a.values[name]
	}
	return values
}

// Get returns the value of a parameter.
func (a Assignment) Get(name string) (value string, found bool) {
	value, found = a.values[name]
	return
}

// Int returns the value of a parameter parsed as an int.
func (a Assignment) Int(name string) (int, error) {
	value, found := a.values[name]
	if !found {
		return 0, errors.Errorf("parameter %q missing in assignment %s", name, a)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "parameter %q=%q in assignment %s is not an int", name, value, a)
	}
	return v, nil
}

// Mode returns the numeric mode tag of the assignment.
func (a Assignment) Mode() (Mode, error) {
	value, found := a.values[ModeParameter]
	if !found {
		return 0, errors.Errorf("assignment %s has no %q tag", a, ModeParameter)
	}
	mode, err := ModeString(value)
	if err != nil {
		return 0, errors.Wrapf(err, "assignment %s", a)
	}
	return mode, nil
}

// Equal returns whether both assignments hold the same parameters and values.
func (a Assignment) Equal(a2 Assignment) bool {
	return maps.Equal(a.values, a2.values)
}

// String returns "name=value" pairs sorted by name.
func (a Assignment) String() string {
	parts := make([]string, len(a.names))
	for ii, name := range a.names {
		parts[ii] = name + "=" + a.values[name]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
