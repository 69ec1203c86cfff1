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

package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velo-rift/vrift/clock"
)

func TestBegin_PersistsRecordedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.gob")
	sc := clock.NewSimulatedClock(time.Unix(1000, 0))

	j, err := Open(path, sc)
	require.NoError(t, err)

	e, err := j.Begin("/vrift/hi.txt", "/tmp/staging/hi.txt")
	require.NoError(t, err)
	assert.Equal(t, Recorded, e.State)

	reloaded, err := Open(path, sc)
	require.NoError(t, err)
	entries := reloaded.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "/vrift/hi.txt", entries[0].VirtualPath)
	assert.Equal(t, Recorded, entries[0].State)
}

func TestStateMachine_AdvancesThroughCasStoredAndApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.gob")
	sc := clock.NewSimulatedClock(time.Unix(1000, 0))
	j, err := Open(path, sc)
	require.NoError(t, err)

	e, err := j.Begin("/vrift/hi.txt", "/tmp/staging/hi.txt")
	require.NoError(t, err)

	require.NoError(t, j.MarkCasStored(e.ID, "deadbeef"))
	entries := j.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, CasStored, entries[0].State)
	assert.EqualValues(t, "deadbeef", entries[0].Digest)

	require.NoError(t, j.MarkApplied(e.ID))
	entries = j.Entries()
	assert.Equal(t, Applied, entries[0].State)

	require.NoError(t, j.Complete(e.ID))
	assert.Empty(t, j.Entries())
}

// Scenario 4 ("Crash during reingest"): on restart, an entry whose Digest
// is set (CasStored) and whose staging file is still present should be
// resumable from step 3 by the caller; the journal's job is just to make
// that state durably visible after restart.
func TestOpen_RecoversCasStoredEntryAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.gob")
	sc := clock.NewSimulatedClock(time.Unix(1000, 0))

	j1, err := Open(path, sc)
	require.NoError(t, err)
	e, err := j1.Begin("/vrift/payload", "/tmp/staging/payload")
	require.NoError(t, err)
	require.NoError(t, j1.MarkCasStored(e.ID, "digest-of-payload"))

	j2, err := Open(path, sc)
	require.NoError(t, err)
	entries := j2.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, CasStored, entries[0].State)
	assert.EqualValues(t, "digest-of-payload", entries[0].Digest)
}

func TestDiscardOlderThan_RemovesStaleEntriesOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.gob")
	sc := clock.NewSimulatedClock(time.Unix(1000, 0))
	j, err := Open(path, sc)
	require.NoError(t, err)

	old, err := j.Begin("/vrift/old.txt", "/tmp/staging/old.txt")
	require.NoError(t, err)

	sc.AdvanceTime(time.Hour)
	_, err = j.Begin("/vrift/new.txt", "/tmp/staging/new.txt")
	require.NoError(t, err)

	discarded, err := j.DiscardOlderThan(sc.Now().Add(-30 * time.Minute).Unix())
	require.NoError(t, err)
	require.Len(t, discarded, 1)
	assert.Equal(t, old.ID, discarded[0].ID)

	remaining := j.Entries()
	require.Len(t, remaining, 1)
	assert.Equal(t, "/vrift/new.txt", remaining[0].VirtualPath)
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(1000, 0))
	j, err := Open(filepath.Join(t.TempDir(), "does-not-exist.gob"), sc)
	require.NoError(t, err)
	assert.Empty(t, j.Entries())
}
