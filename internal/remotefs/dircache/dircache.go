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

// Package dircache is the TTL-governed directory listing cache from
// a path -> []Entry map where a hit older than the TTL is
// still returned to the caller but flagged stale, so the caller can tell a
// fresh listing from one it must re-fetch before replying.
package dircache

import (
	"time"

	"github.com/remotefs-project/remotefs/clock"
	"github.com/remotefs-project/remotefs/internal/remotefs/ttlcache"
)

// Entry is one child of a listed directory, shaped after the backend's
// directory listing payload.
type Entry struct {
	Name        string
	Size        uint64
	Mtime       time.Time
	IsDir       bool
	Permissions uint32
}

// DefaultTTL is the age at which a cached listing is considered stale.
const DefaultTTL = 2 * time.Second

// staleRetention is how many TTLs a listing stays in the cache (returned by
// Lookup flagged stale once past one TTL) before the background sweep
// reclaims it.
const staleRetention = 10

// Cache wraps a ttlcache.Cache[string, []Entry] with the staleness query
// directory listing needs: return the cached value even when
// stale, but tell the caller so it can trigger a refresh.
type Cache struct {
	ttl time.Duration
	c   *ttlcache.Cache[string, []Entry]
}

func New(ttl time.Duration) *Cache {
	return NewWithClock(ttl, clock.RealClock{})
}

func NewWithClock(ttl time.Duration, clk clock.Clock) *Cache {
	return &Cache{
		ttl: ttl,
		c:   ttlcache.NewWithClock[string, []Entry](staleRetention*ttl, ttl, clk),
	}
}

// Lookup returns the cached listing for path, whether it was present at
// all, and whether it is stale (present but older than the TTL). Only a
// fresh hit (ok=true, stale=false) may be returned to a caller without
// first refreshing: an absent entry and a stale one are both treated as
// "not valid", and the caller must synchronously re-fetch before replying.
// A fresh hit may still kick a refresh in the background, matching the
// listing's own lifetime rather than the caller's latency.
func (c *Cache) Lookup(path string) (entries []Entry, ok bool, stale bool) {
	entries, at, ok := c.c.GetStamped(path)
	if !ok {
		return nil, false, false
	}
	stale = c.clockNow().Sub(at) >= c.ttl
	return entries, true, stale
}

func (c *Cache) clockNow() time.Time {
	return c.c.Now()
}

func (c *Cache) Set(path string, entries []Entry) {
	c.c.Set(path, entries)
}

func (c *Cache) Invalidate(path string) {
	c.c.Delete(path)
}

func (c *Cache) Clear() {
	c.c.Clear()
}

func (c *Cache) Stop() {
	c.c.Stop()
}
