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

package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velo-rift/vrift/internal/cas"
)

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"":             "/",
		"/":            "/",
		"a":            "/a",
		"/a/b":         "/a/b",
		"/a//b":        "/a/b",
		"/a/./b":       "/a/b",
		"/a/../b":      "/b",
		"/vrift/hi.txt/": "/vrift/hi.txt",
	}
	for in, want := range cases {
		assert.Equal(t, want, Canonicalize(in), "input %q", in)
	}
}

func TestUpsert_SynthesizesMissingParentDirectories(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("/a/b/c.txt", FileEntry("deadbeef", 3, 1, 0o644)))

	root, ok := m.Get("/a")
	require.True(t, ok)
	assert.True(t, root.IsDir)

	mid, ok := m.Get("/a/b")
	require.True(t, ok)
	assert.True(t, mid.IsDir)

	leaf, ok := m.Get("/a/b/c.txt")
	require.True(t, ok)
	assert.False(t, leaf.IsDir)
	assert.EqualValues(t, 3, leaf.Size)
}

func TestUpsert_FailsWhenParentIsAFile(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("/a", FileEntry("d1", 1, 1, 0o644)))
	err := m.Upsert("/a/b", FileEntry("d2", 1, 1, 0o644))
	assert.Error(t, err)
}

func TestRemove_FailsOnNonEmptyDirectory(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("/a/b.txt", FileEntry("d1", 1, 1, 0o644)))

	err := m.Remove("/a")
	require.Error(t, err)

	_, ok := m.Get("/a")
	assert.True(t, ok, "directory must not be removed when non-empty")
}

func TestRemove_SucceedsOnEmptyDirectory(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("/a", DirEntry(1, 0o755)))

	require.NoError(t, m.Remove("/a"))
	_, ok := m.Get("/a")
	assert.False(t, ok)
}

func TestListDir_ReturnsImmediateChildrenOnly(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("/a/b.txt", FileEntry("d1", 1, 1, 0o644)))
	require.NoError(t, m.Upsert("/a/c/d.txt", FileEntry("d2", 1, 1, 0o644)))

	children, err := m.ListDir("/a")
	require.NoError(t, err)
	require.Len(t, children, 2)

	byName := map[string]DirChild{}
	for _, c := range children {
		byName[c.Name] = c
	}
	assert.False(t, byName["b.txt"].IsDir)
	assert.True(t, byName["c"].IsDir)
}

func TestRename_MovesSubtree(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("/a/b.txt", FileEntry("d1", 1, 1, 0o644)))
	require.NoError(t, m.Upsert("/a/c/d.txt", FileEntry("d2", 1, 1, 0o644)))

	require.NoError(t, m.Rename("/a", "/z"))

	_, ok := m.Get("/a/b.txt")
	assert.False(t, ok)

	moved, ok := m.Get("/z/b.txt")
	require.True(t, ok)
	assert.EqualValues(t, 1, moved.Size)

	nested, ok := m.Get("/z/c/d.txt")
	require.True(t, ok)
	assert.EqualValues(t, 1, nested.Size)
}

func TestSaveLoad_RoundTrips(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("/a/b.txt", FileEntry("d1", 2, 5, 0o644)))
	require.NoError(t, m.Upsert("/a/c", DirEntry(6, 0o755)))

	path := filepath.Join(t.TempDir(), "manifest.gob")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.Len(), loaded.Len())

	entry, ok := loaded.Get("/a/b.txt")
	require.True(t, ok)
	assert.EqualValues(t, 2, entry.Size)
	assert.EqualValues(t, 5, entry.Mtime)
}

func TestWalk_VisitsAllEntriesInInsertionOrder(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("/a/b.txt", FileEntry("d1", 1, 1, 0o644)))
	require.NoError(t, m.Upsert("/a/c.txt", FileEntry("d2", 1, 1, 0o644)))

	var seen []string
	m.Walk(func(path string, entry VnodeEntry) {
		seen = append(seen, path)
	})
	assert.Len(t, seen, m.Len())
	assert.Contains(t, seen, "/a/b.txt")
	assert.Contains(t, seen, "/a/c.txt")
}

func TestLoad_MissingFileReturnsEmptyManifest(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "does-not-exist.gob"))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

// T3: for any manifest path p with a File entry of digest d, CAS.has(d)
// is true.
func TestCheckInvariants_DetectsUnresolvableDigest(t *testing.T) {
	store, err := cas.Open(t.TempDir())
	require.NoError(t, err)

	d, err := store.Put([]byte("payload"))
	require.NoError(t, err)

	m := New()
	require.NoError(t, m.Upsert("/vrift/ok.txt", FileEntry(d, 7, 1, 0o644)))
	assert.NoError(t, m.CheckInvariants(store))

	require.NoError(t, m.Upsert("/vrift/bad.txt", FileEntry(cas.ComputeDigest([]byte("never stored")), 1, 1, 0o644)))
	assert.Error(t, m.CheckInvariants(store))
}
