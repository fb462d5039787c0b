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

package ttlcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotefs-project/remotefs/clock"
)

func TestGetExpires(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	c := NewWithClock[string, int](time.Second, 0, clk)
	defer c.Stop()

	c.Set("k", 42)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	clk.AdvanceTime(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestGetStampedIgnoresExpiry(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(100, 0))
	c := NewWithClock[string, int](time.Second, 0, clk)
	defer c.Stop()

	c.Set("k", 7)
	clk.AdvanceTime(10 * time.Second)

	v, at, ok := c.GetStamped("k")
	require.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, time.Unix(100, 0), at)
}

func TestDeleteAndClear(t *testing.T) {
	c := New[string, int](time.Minute, 0)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Len())

	c.Delete("a")
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestSweepReclaimsExpiredEntries(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	c := NewWithClock[string, int](time.Second, 500*time.Millisecond, clk)
	defer c.Stop()

	c.Set("k", 1)
	clk.AdvanceTime(2 * time.Second)

	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	c := New[string, int](time.Second, time.Millisecond)
	c.Stop()
	assert.NotPanics(t, c.Stop)
}
