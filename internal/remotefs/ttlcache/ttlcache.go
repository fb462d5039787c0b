// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ttlcache provides a generic map with a background sweep that
// evicts entries older than a fixed TTL. It backs the directory cache (the
// attribute cache is a plain map); that caller also evicts explicitly on
// mutation, so the sweep here only bounds memory, it is not relied on for
// correctness.
package ttlcache

import (
	"sync"
	"time"

	"github.com/remotefs-project/remotefs/clock"
)

type entry[V any] struct {
	value V
	at    time.Time
}

// Cache is a thread-safe map[K]V where entries expire after ttl.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]entry[V]
	ttl   time.Duration
	clk   clock.Clock

	stopCh chan struct{}
	stopMu sync.Mutex
	stopped bool
}

// New creates a Cache whose entries expire after ttl, with a background
// sweep running every cleanupInterval to reclaim expired entries.
func New[K comparable, V any](ttl, cleanupInterval time.Duration) *Cache[K, V] {
	return NewWithClock[K, V](ttl, cleanupInterval, clock.RealClock{})
}

// NewWithClock is New but lets tests inject a clock.Clock, typically a
// clock.SimulatedClock, to exercise TTL expiry deterministically.
func NewWithClock[K comparable, V any](ttl, cleanupInterval time.Duration, clk clock.Clock) *Cache[K, V] {
	c := &Cache[K, V]{
		items:  make(map[K]entry[V]),
		ttl:    ttl,
		clk:    clk,
		stopCh: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.sweepLoop(cleanupInterval)
	}
	return c
}

func (c *Cache[K, V]) sweepLoop(interval time.Duration) {
	for {
		select {
		case <-c.clk.After(interval):
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache[K, V]) sweep() {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		if now.Sub(e.at) >= c.ttl {
			delete(c.items, k)
		}
	}
}

// Set stores value under key, stamped with the current time.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, at: c.clk.Now()}
}

// Get returns the value stored under key and whether it is present and not
// expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.clk.Now().Sub(e.at) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetStamped returns the value and the time it was stored, ignoring TTL
// expiry. Callers that need to know "how stale is this" (the directory
// cache's own freshness predicate) use this instead of Get.
func (c *Cache[K, V]) GetStamped(key K) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, time.Time{}, false
	}
	return e.value, e.at, true
}

// Delete removes key unconditionally.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]entry[V])
}

// Now returns the current time as seen by the cache's clock, letting
// callers that need their own staleness predicate (dircache's stale-but-
// present lookup) stay consistent with the clock this cache sweeps with.
func (c *Cache[K, V]) Now() time.Time {
	return c.clk.Now()
}

// Len returns the number of entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stop halts the background sweep. Safe to call more than once.
func (c *Cache[K, V]) Stop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stopCh)
}
