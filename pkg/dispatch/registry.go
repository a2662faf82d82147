// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dispatch holds the registry of kernel variants of every (operation, backend), and selects the
// variant to run for a call: the first one, in registration order, whose run-feasibility check accepts
// the call's arguments. Decisions are memoized in a Cache keyed by a coarse fingerprint of the arguments,
// and a cached decision is always re-validated against the actual arguments before being used.
package dispatch

import (
	"github.com/gomlx/gmmspecializer/backends"
	"github.com/pkg/errors"
)

// VariantRecord is one registered variant of an operation for a backend.
//
// Records are never mutated after registration. A variant that can't be compiled for the hardware, or
// isn't provided by the backend, is still registered (Implemented is false) with a stub Entry and a
// RunCheck that rejects every call, so indices stay stable.
type VariantRecord struct {
	// ID is unique within (operation, backend), derived from the backend, operation and parameter values.
	ID      string
	Backend string
	Key     backends.OpKey

	// Index is the position of the variant in the registration (preference) order.
	Index int

	Assignment  backends.Assignment
	Entry       backends.Kernel
	Implemented bool
	RunCheck    backends.RunCheck
}

type registryKey struct {
	key     backends.OpKey
	backend string
}

// Registry of variants, keyed by (operation key, backend).
type Registry struct {
	variants map[registryKey][]*VariantRecord
	byID     map[registryKey]map[string]*VariantRecord
	order    []registryKey
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		variants: make(map[registryKey][]*VariantRecord),
		byID:     make(map[registryKey]map[string]*VariantRecord),
	}
}

// Register the ordered list of variants of the operation key for the backend.
//
// The order of the records is the preference order used by Dispatcher. It returns an error if the
// (key, backend) pair was already registered, or if two records share the same ID.
func (r *Registry) Register(key backends.OpKey, backend string, records []*VariantRecord) error {
	rk := registryKey{key, backend}
	if _, found := r.variants[rk]; found {
		return errors.Errorf("variants of %s for backend %q already registered", key, backend)
	}
	ids := make(map[string]*VariantRecord, len(records))
	list := make([]*VariantRecord, len(records))
	for ii, record := range records {
		if record.ID == "" {
			return errors.Errorf("variant #%d of %s for backend %q has no identifier", ii, key, backend)
		}
		if _, found := ids[record.ID]; found {
			return errors.Errorf("variant %q of %s registered twice for backend %q", record.ID, key, backend)
		}
		if record.RunCheck == nil || record.Entry == nil {
			return errors.Errorf("variant %q of %s for backend %q has no run check or entry point", record.ID, key, backend)
		}
		record.Backend = backend
		record.Key = key
		record.Index = ii
		ids[record.ID] = record
		list[ii] = record
	}
	r.variants[rk] = list
	r.byID[rk] = ids
	r.order = append(r.order, rk)
	return nil
}

// Variants returns the ordered variants of the operation key for the backend, or nil if none were registered.
func (r *Registry) Variants(key backends.OpKey, backend string) []*VariantRecord {
	return r.variants[registryKey{key, backend}]
}

// Lookup returns the variant with the given ID of the operation key for the backend.
func (r *Registry) Lookup(key backends.OpKey, backend, id string) (*VariantRecord, bool) {
	record, found := r.byID[registryKey{key, backend}][id]
	return record, found
}

// Backends returns the backends with variants registered for the operation key, in registration order.
func (r *Registry) Backends(key backends.OpKey) []string {
	var names []string
	for _, rk := range r.order {
		if rk.key == key {
			names = append(names, rk.backend)
		}
	}
	return names
}

// NumVariants returns the total number of registered variants, and how many of them are implemented.
func (r *Registry) NumVariants() (total, implemented int) {
	for _, list := range r.variants {
		for _, record := range list {
			total++
			if record.Implemented {
				implemented++
			}
		}
	}
	return
}
