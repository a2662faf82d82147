// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"

	"github.com/gomlx/gmmspecializer/backends"
	"k8s.io/klog/v2"
)

// NoFeasibleVariantError is returned when no registered variant accepts the arguments of a call.
// Retrying with the same arguments can't succeed.
type NoFeasibleVariantError struct {
	Key     backends.OpKey
	Backend string
	Args    backends.CallArgs

	// Candidates is the number of variants checked.
	Candidates int
}

// Error implements error.
func (e *NoFeasibleVariantError) Error() string {
	return fmt.Sprintf("no feasible variant of %s for backend %q with arguments %s (%d candidates checked)",
		e.Key, e.Backend, e.Args, e.Candidates)
}

// Dispatcher selects the variant to run for a call.
//
// It is not safe for concurrent use: callers serialize their calls.
type Dispatcher struct {
	registry *Registry
	cache    *Cache
}

// NewDispatcher creates a Dispatcher over the registry, memoizing its decisions in cache.
func NewDispatcher(registry *Registry, cache *Cache) *Dispatcher {
	return &Dispatcher{registry: registry, cache: cache}
}

// Registry returns the registry the dispatcher selects from.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Cache returns the cache of dispatch decisions.
func (d *Dispatcher) Cache() *Cache { return d.cache }

// Dispatch returns the variant of the operation key for the backend to run for a call with the given arguments.
//
// A cached decision for the arguments' fingerprint is used only if its run check accepts the arguments.
// Otherwise, the variants are scanned in registration order and the first one accepting the arguments
// is returned (first-fit) and cached. If none does, it returns a *NoFeasibleVariantError.
func (d *Dispatcher) Dispatch(key backends.OpKey, backend string, args backends.CallArgs) (*VariantRecord, error) {
	fp := KeyOf(args).Fingerprint()
	if id, found := d.cache.Lookup(key, backend, fp); found {
		if record, ok := d.registry.Lookup(key, backend, id); ok && record.RunCheck(args) {
			d.cache.stats.Hits++
			klog.V(1).Infof("dispatch %s/%s%s: cached variant %q", backend, key, args, id)
			return record, nil
		}
		klog.V(1).Infof("dispatch %s/%s%s: cached variant %q rejects the call, re-scanning", backend, key, args, id)
	}
	d.cache.stats.Misses++
	candidates := d.registry.Variants(key, backend)
	for _, record := range candidates {
		if record.RunCheck(args) {
			d.cache.Store(key, backend, fp, record.ID)
			klog.V(1).Infof("dispatch %s/%s%s: selected variant #%d %q", backend, key, args, record.Index, record.ID)
			return record, nil
		}
	}
	return nil, &NoFeasibleVariantError{Key: key, Backend: backend, Args: args, Candidates: len(candidates)}
}
