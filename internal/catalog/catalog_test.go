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

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestCatalog(t *testing.T, entries []Source) *Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.mmap")
	require.NoError(t, Build(path, entries))
	r, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// T4 analogue: a path inserted during Build is found by Lookup with its
// exact stat fields.
func TestLookup_FindsInsertedEntry(t *testing.T) {
	entries := []Source{
		{Path: "/vrift/hi.txt", Stat: StatResult{Size: 2, Mtime: 100, Mode: 0o644}},
		{Path: "/vrift/dir", Stat: StatResult{IsDir: true, Mtime: 50, Mode: 0o755}},
	}
	r := buildTestCatalog(t, entries)

	got, ok, err := r.Lookup("/vrift/hi.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, got.Size)
	assert.EqualValues(t, 100, got.Mtime)
	assert.False(t, got.IsDir)

	dir, ok, err := r.Lookup("/vrift/dir")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, dir.IsDir)
}

// T5 analogue: a path never inserted is reliably absent.
func TestLookup_MissingPathIsAbsent(t *testing.T) {
	r := buildTestCatalog(t, []Source{
		{Path: "/vrift/hi.txt", Stat: StatResult{Size: 2}},
	})

	_, ok, err := r.Lookup("/vrift/never-inserted.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookup_HandlesManyEntriesWithProbing(t *testing.T) {
	var entries []Source
	for i := 0; i < 500; i++ {
		entries = append(entries, Source{
			Path: fmt.Sprintf("/vrift/file-%d.txt", i),
			Stat: StatResult{Size: uint64(i), Mtime: uint64(i), Mode: 0o644},
		})
	}
	r := buildTestCatalog(t, entries)

	for i := 0; i < 500; i++ {
		got, ok, err := r.Lookup(fmt.Sprintf("/vrift/file-%d.txt", i))
		require.NoError(t, err)
		require.True(t, ok, "entry %d should be found", i)
		assert.EqualValues(t, i, got.Size)
	}

	count, err := r.EntryCount()
	require.NoError(t, err)
	assert.EqualValues(t, 500, count)
}

func TestOpen_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.mmap")
	require.NoError(t, Build(path, nil))

	// Corrupt the magic in place.
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0, 0, 0, 0}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	assert.Error(t, err)
}

func TestOpen_EmptyCatalogHasNoEntries(t *testing.T) {
	r := buildTestCatalog(t, nil)
	count, err := r.EntryCount()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	_, ok, err := r.Lookup("/vrift/anything.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}
