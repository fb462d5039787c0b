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

package clock

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Clock knows the current time and can notify a caller after a delay. All
// TTL-governed state in this module (attribute cache, directory cache, mount
// options) reads time exclusively through a Clock so tests can substitute
// SimulatedClock instead of sleeping. It is a superset of
// github.com/jacobsa/timeutil.Clock: jacobsa/fuse's own internals are built
// against that narrower interface, so every implementation here also
// satisfies it, and a single injected clock can drive both this module's
// caches and anything jacobsa/fuse asks of a timeutil.Clock. timeutil has no
// equivalent of After, which ttlcache's background sweep needs, hence the
// wider interface rather than using timeutil.Clock directly.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

var (
	_ Clock = RealClock{}
	_ Clock = &FakeClock{}
	_ Clock = &SimulatedClock{}

	_ timeutil.Clock = RealClock{}
	_ timeutil.Clock = &FakeClock{}
	_ timeutil.Clock = &SimulatedClock{}
)
