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

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedClock_AdvanceTimeFiresJournalTTLSweep(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := NewSimulatedClock(start)

	ttl := 300 * time.Second
	sweep := sc.After(ttl)

	select {
	case <-sweep:
		t.Fatal("sweep fired before the TTL elapsed")
	default:
	}

	sc.AdvanceTime(ttl)

	select {
	case fired := <-sweep:
		assert.Equal(t, start.Add(ttl), fired)
	default:
		t.Fatal("sweep did not fire once the TTL elapsed")
	}
}

func TestSimulatedClock_SetTimeFiresPastDueRepublishTick(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := NewSimulatedClock(start)

	tick := sc.After(200 * time.Millisecond)
	sc.SetTime(start.Add(time.Hour))

	select {
	case <-tick:
	default:
		t.Fatal("republish tick did not fire after jumping far past its target time")
	}
}

func TestSimulatedClock_AfterNonPositiveDurationFiresImmediately(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := NewSimulatedClock(start)

	ch := sc.After(0)
	select {
	case got := <-ch:
		assert.Equal(t, start, got)
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestFakeClock_AfterUsesConfiguredWaitTime(t *testing.T) {
	fc := &FakeClock{WaitTime: 10 * time.Millisecond}
	before := time.Now()

	ch := fc.After(time.Hour) // requested duration is ignored
	got := <-ch

	require.True(t, got.After(before) || got.Equal(before))
	assert.WithinDuration(t, time.Now(), got, time.Second)
}

func TestRealClock_AfterHonorsRequestedDuration(t *testing.T) {
	var rc RealClock
	start := time.Now()
	<-rc.After(5 * time.Millisecond)
	assert.True(t, time.Since(start) >= 5*time.Millisecond)
}
