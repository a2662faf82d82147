// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/gmmspecializer/backends"
)

// DispatchKey is the coarse summary of a call's arguments used to memoize dispatch decisions:
// exact M and D, and the order of magnitude of N.
type DispatchKey struct {
	M, D int

	// Magnitude is floor(log10(N)), or -1 if N <= 0.
	Magnitude int
}

// KeyOf returns the DispatchKey of the call arguments.
func KeyOf(args backends.CallArgs) DispatchKey {
	magnitude := -1
	for n := args.N; n > 0; n /= 10 {
		magnitude++
	}
	return DispatchKey{M: args.M, D: args.D, Magnitude: magnitude}
}

// String implements fmt.Stringer.
func (k DispatchKey) String() string {
	return fmt.Sprintf("(M=%d, D=%d, N~1e%d)", k.M, k.D, k.Magnitude)
}

// Fingerprint is the hash of a DispatchKey.
type Fingerprint uint64

// Fingerprint returns the hash of the key.
func (k DispatchKey) Fingerprint() Fingerprint {
	buf := make([]byte, 0, 32)
	buf = strconv.AppendInt(buf, int64(k.M), 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(k.D), 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(k.Magnitude), 10)
	return Fingerprint(xxhash.Sum64(buf))
}

type cacheKey struct {
	key         backends.OpKey
	backend     string
	fingerprint Fingerprint
}

// CacheStats are counters of the Cache usage.
type CacheStats struct {
	// Hits counts cached decisions that were re-validated and used.
	Hits int

	// Misses counts dispatches that required a scan of the registry, including stale cached decisions.
	Misses int

	// Entries is the current number of cached decisions.
	Entries int
}

// Cache maps (operation key, backend, fingerprint) to the ID of the previously selected variant.
//
// Entries are only added or replaced, and all of them are dropped by Invalidate.
type Cache struct {
	entries map[cacheKey]string
	stats   CacheStats
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]string)}
}

// Lookup returns the cached variant ID, if any.
func (c *Cache) Lookup(key backends.OpKey, backend string, fp Fingerprint) (id string, found bool) {
	id, found = c.entries[cacheKey{key, backend, fp}]
	return
}

// Store the decision for the fingerprint.
func (c *Cache) Store(key backends.OpKey, backend string, fp Fingerprint, id string) {
	c.entries[cacheKey{key, backend, fp}] = id
}

// Invalidate drops all cached decisions.
func (c *Cache) Invalidate() {
	clear(c.entries)
}

// Stats returns the usage counters of the cache.
func (c *Cache) Stats() CacheStats {
	stats := c.stats
	stats.Entries = len(c.entries)
	return stats
}
