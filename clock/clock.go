// Copyright 2026 The Velo Rift Authors.
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

// Package clock provides an injectable notion of time so the CAS, the
// journal's TTL sweep, and the daemon's catalog-republish ticker can be
// driven deterministically in tests without sleeping real wall-clock time.
package clock

import "time"

// Clock is implemented by RealClock, FakeClock and SimulatedClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After mirrors time.After: it returns a channel that receives the
	// current time once the duration has elapsed.
	After(d time.Duration) <-chan time.Time
}
