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

// RealClock reports wall-clock time. Now defers to jacobsa/timeutil's own
// RealClock rather than calling time.Now directly, so this module and any
// jacobsa/fuse internals driven by a timeutil.Clock agree on the same
// notion of "now" when both are wired to a RealClock.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return timeutil.RealClock().Now()
}

// After notifies on the returned channel once d has passed. timeutil.Clock
// has no equivalent, so this falls back to the standard library directly.
func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
