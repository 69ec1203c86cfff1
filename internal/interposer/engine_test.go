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

package interposer

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velo-rift/vrift/internal/cas"
	"github.com/velo-rift/vrift/internal/catalog"
	"github.com/velo-rift/vrift/internal/manifest"
	"github.com/velo-rift/vrift/internal/protocol"
)

// fakeClient is an in-memory stand-in for the daemon, backed by a
// manifest.Manifest, so engine tests exercise the full routing/IPC
// contract without a real socket.
type fakeClient struct {
	mu        sync.Mutex
	m         *manifest.Manifest
	cas       *cas.Store
	down      bool
	reingests int
}

func newFakeClient(store *cas.Store) *fakeClient {
	return &fakeClient{m: manifest.New(), cas: store}
}

func (f *fakeClient) RoundTrip(_ rawIPC, req *protocol.Envelope) (*protocol.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down {
		return nil, ErrDaemonUnavailable
	}

	switch req.Kind {
	case protocol.KindManifestGet:
		entry, found := f.m.Get(req.ManifestGet.Path)
		return &protocol.Response{Kind: req.Kind, ManifestGet: &protocol.ManifestGetAck{Found: found, Entry: entry}}, nil
	case protocol.KindManifestUpsert:
		if err := f.m.Upsert(req.ManifestUpsert.Path, req.ManifestUpsert.Entry); err != nil {
			return &protocol.Response{Kind: req.Kind, Err: err.Error()}, nil
		}
		return &protocol.Response{Kind: req.Kind, ManifestUpsert: &protocol.ManifestUpsertAck{}}, nil
	case protocol.KindManifestRemove:
		if err := f.m.Remove(req.ManifestRemove.Path); err != nil {
			return &protocol.Response{Kind: req.Kind, Err: err.Error()}, nil
		}
		return &protocol.Response{Kind: req.Kind, ManifestRemove: &protocol.ManifestRemoveAck{}}, nil
	case protocol.KindManifestRename:
		if err := f.m.Rename(req.ManifestRename.OldPath, req.ManifestRename.NewPath); err != nil {
			return &protocol.Response{Kind: req.Kind, Err: err.Error()}, nil
		}
		return &protocol.Response{Kind: req.Kind, ManifestRename: &protocol.ManifestRenameAck{}}, nil
	case protocol.KindManifestListDir:
		children, err := f.m.ListDir(req.ManifestListDir.Path)
		if err != nil {
			return &protocol.Response{Kind: req.Kind, Err: err.Error()}, nil
		}
		return &protocol.Response{Kind: req.Kind, ManifestListDir: &protocol.ManifestListDirAck{Children: children}}, nil
	case protocol.KindManifestReingest:
		b, err := os.ReadFile(req.ManifestReingest.StagingPath)
		if err != nil {
			return &protocol.Response{Kind: req.Kind, Err: err.Error()}, nil
		}
		digest, err := f.cas.Put(b)
		if err != nil {
			return &protocol.Response{Kind: req.Kind, Err: err.Error()}, nil
		}
		if err := f.m.Upsert(req.ManifestReingest.VirtualPath, manifest.FileEntry(digest, uint64(len(b)), 1, 0o644)); err != nil {
			return &protocol.Response{Kind: req.Kind, Err: err.Error()}, nil
		}
		f.reingests++
		return &protocol.Response{Kind: req.Kind, ManifestReingest: &protocol.ManifestReingestAck{Digest: digest}}, nil
	default:
		return &protocol.Response{Kind: req.Kind, Err: "unsupported in fake"}, nil
	}
}

func (f *fakeClient) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func newTestEngine(t *testing.T) (*Engine, *fakeClient, *cas.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := cas.Open(filepath.Join(dir, "cas"))
	require.NoError(t, err)

	client := newFakeClient(store)

	e := New(Config{Prefix: "/vrift", Cas: store, Client: client})
	e.Bootstrap()
	e.MarkReady()

	return e, client, store
}

func TestState_BootstrapToReadyTransition(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.Equal(t, Ready, e.State())
}

func TestState_TripIsAbsorbing(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Trip()
	e.MarkReady()
	assert.Equal(t, Tripped, e.State())
}

func TestDispatch_PassthroughDuringBootstrapping(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.Open(filepath.Join(dir, "cas"))
	require.NoError(t, err)
	client := newFakeClient(store)

	e := New(Config{Prefix: "/vrift", Cas: store, Client: client})
	e.Bootstrap() // never calls MarkReady

	_, handled, err := e.Stat("/vrift/hi.txt", "/")
	assert.False(t, handled)
	assert.NoError(t, err)
}

func TestClassify_ExcludesBuildOnlySegments(t *testing.T) {
	r := NewRouter("/vrift")
	assert.True(t, r.Classify("/vrift/src/main.go"))
	assert.False(t, r.Classify("/vrift/target/debug/bin"))
	assert.False(t, r.Classify("/vrift/.git/HEAD"))
	assert.False(t, r.Classify("/home/user/file"))
}

func TestCanonicalize_ResolvesRelativeAgainstGivenCwd(t *testing.T) {
	assert.Equal(t, "/vrift/a/b", Canonicalize("b", "/vrift/a"))
	assert.Equal(t, "/vrift/b", Canonicalize("../b", "/vrift/a"))
	assert.Equal(t, "/vrift/a", Canonicalize("//vrift//a/.", "/"))
}

func TestRecursionGuard_NestedEnterReportsNotOK(t *testing.T) {
	g := NewRecursionGuard()
	outer, ok := g.Enter()
	require.True(t, ok)

	_, innerOK := g.Enter()
	assert.False(t, innerOK, "a reentrant call on the same goroutine must not pass the guard")

	g.Exit(outer)

	_, ok = g.Enter()
	assert.True(t, ok, "guard must be fully released after the outer Exit")
}

// T6: ingest then open+read every file through the virtual prefix yields
// byte-identical contents.
func TestOpenRead_YieldsByteIdenticalContent(t *testing.T) {
	e, client, store := newTestEngine(t)

	digest, err := store.Put([]byte("hello vrift"))
	require.NoError(t, err)
	require.NoError(t, client.m.Upsert("/vrift/hi.txt", manifest.FileEntry(digest, 11, 1, 0o644)))

	fd, handled, err := e.OpenRead("/vrift/hi.txt", "/")
	require.True(t, handled)
	require.NoError(t, err)

	entry := e.fds.Get(fd)
	require.NotNil(t, entry)
	assert.Equal(t, "hello vrift", string(entry.Data))
}

func TestOpenRead_MissingPathReturnsENOENT(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, handled, err := e.OpenRead("/vrift/nope.txt", "/")
	require.True(t, handled)
	var errno Errno
	require.ErrorAs(t, err, &errno)
	assert.Equal(t, syscall.ENOENT, errno.Err)
}

func TestOpenRead_DirectoryReturnsEISDIR(t *testing.T) {
	e, client, _ := newTestEngine(t)
	require.NoError(t, client.m.Upsert("/vrift/dir", manifest.DirEntry(1, 0o755)))

	_, handled, err := e.OpenRead("/vrift/dir", "/")
	require.True(t, handled)
	var errno Errno
	require.ErrorAs(t, err, &errno)
	assert.Equal(t, syscall.EISDIR, errno.Err)
}

func TestRead_ServesBytesFromCurrentPositionAndAdvancesIt(t *testing.T) {
	e, client, store := newTestEngine(t)
	digest, err := store.Put([]byte("hello vrift"))
	require.NoError(t, err)
	require.NoError(t, client.m.Upsert("/vrift/hi.txt", manifest.FileEntry(digest, 11, 1, 0o644)))

	fd, _, err := e.OpenRead("/vrift/hi.txt", "/")
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, handled, err := e.Read(fd, buf)
	require.True(t, handled)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:n]))

	n, handled, err = e.Read(fd, buf)
	require.True(t, handled)
	require.NoError(t, err)
	assert.Equal(t, " vrif", string(buf[:n]))

	remainder := make([]byte, 10)
	n, _, err = e.Read(fd, remainder)
	require.NoError(t, err)
	assert.Equal(t, "t", string(remainder[:n]))

	n, _, err = e.Read(fd, remainder)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRead_UnknownFdIsUnhandled(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, handled, err := e.Read(9999, make([]byte, 4))
	assert.False(t, handled)
	assert.NoError(t, err)
}

func TestLseek_SeekSetCurEndRepositionReads(t *testing.T) {
	e, client, store := newTestEngine(t)
	digest, err := store.Put([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, client.m.Upsert("/vrift/n.txt", manifest.FileEntry(digest, 10, 1, 0o644)))

	fd, _, err := e.OpenRead("/vrift/n.txt", "/")
	require.NoError(t, err)

	pos, handled, err := e.Lseek(fd, 3, 0)
	require.True(t, handled)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)

	buf := make([]byte, 2)
	n, _, err := e.Read(fd, buf)
	require.NoError(t, err)
	assert.Equal(t, "34", string(buf[:n]))

	pos, _, err = e.Lseek(fd, -1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(9), pos)

	pos, _, err = e.Lseek(fd, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9), pos)

	_, _, err = e.Lseek(fd, -100, 0)
	var errno Errno
	require.ErrorAs(t, err, &errno)
	assert.Equal(t, syscall.EINVAL, errno.Err)
}

func TestFstat_ServesSnapshotCapturedAtOpenTime(t *testing.T) {
	e, client, store := newTestEngine(t)
	digest, err := store.Put([]byte("hello vrift"))
	require.NoError(t, err)
	require.NoError(t, client.m.Upsert("/vrift/hi.txt", manifest.FileEntry(digest, 11, 1234, 0o644)))

	fd, _, err := e.OpenRead("/vrift/hi.txt", "/")
	require.NoError(t, err)

	info, handled, err := e.Fstat(fd)
	require.True(t, handled)
	require.NoError(t, err)
	assert.False(t, info.IsDir)
	assert.EqualValues(t, 11, info.Size)
	assert.EqualValues(t, 1234, info.Mtime)
	assert.EqualValues(t, 0o644, info.Mode)
}

func TestFstat_UnknownFdIsUnhandled(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, handled, err := e.Fstat(9999)
	assert.False(t, handled)
	assert.NoError(t, err)
}

// T7: writing to a virtual path then closing it stores the new digest in
// CAS and points the manifest entry at it.
func TestOpenWriteThenClose_ReingestsAndUpdatesManifest(t *testing.T) {
	e, client, store := newTestEngine(t)
	stagingDir := t.TempDir()

	digest, err := store.Put([]byte("original"))
	require.NoError(t, err)
	require.NoError(t, client.m.Upsert("/vrift/doc.txt", manifest.FileEntry(digest, 8, 1, 0o644)))

	fd, staging, handled, err := e.OpenWrite("/vrift/doc.txt", "/", stagingDir)
	require.True(t, handled)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(staging, []byte("rewritten content"), 0o644))

	handled, newDigest, err := e.Close(fd)
	require.True(t, handled)
	require.NoError(t, err)
	assert.NotEqual(t, digest, newDigest)

	has, err := store.Has(newDigest)
	require.NoError(t, err)
	assert.True(t, has)

	entry, found := client.m.Get("/vrift/doc.txt")
	require.True(t, found)
	assert.Equal(t, newDigest, entry.Digest)
	assert.Equal(t, 1, client.reingests)
}

// T9: rename across the virtual/physical boundary fails with EXDEV and
// does not mutate either side.
func TestRename_CrossBoundaryFailsWithEXDEV(t *testing.T) {
	e, client, _ := newTestEngine(t)
	require.NoError(t, client.m.Upsert("/vrift/a.txt", manifest.FileEntry("d", 1, 1, 0o644)))

	handled, err := e.Rename("/vrift/a.txt", "/home/user/a.txt", "/")
	require.True(t, handled)
	var errno Errno
	require.ErrorAs(t, err, &errno)
	assert.Equal(t, syscall.EXDEV, errno.Err)

	_, stillThere := client.m.Get("/vrift/a.txt")
	assert.True(t, stillThere)
}

func TestRename_BothVirtualUpdatesManifest(t *testing.T) {
	e, client, _ := newTestEngine(t)
	require.NoError(t, client.m.Upsert("/vrift/a.txt", manifest.FileEntry("d", 1, 1, 0o644)))

	handled, err := e.Rename("/vrift/a.txt", "/vrift/b.txt", "/")
	require.True(t, handled)
	require.NoError(t, err)

	_, ok := client.m.Get("/vrift/a.txt")
	assert.False(t, ok)
	_, ok = client.m.Get("/vrift/b.txt")
	assert.True(t, ok)
}

func TestRename_BothPhysicalIsUnhandled(t *testing.T) {
	e, _, _ := newTestEngine(t)
	handled, err := e.Rename("/home/user/a.txt", "/home/user/b.txt", "/")
	assert.False(t, handled)
	assert.NoError(t, err)
}

// T10: a missing daemon on a mutation operation fails with EIO; on a read
// operation falls back to the real syscall (here: Stat without a catalog
// configured behaves as a read dispatched through IPC, which must also
// surface EIO rather than silently hanging — the "fall back to the real
// syscall" half is exercised by Classify returning unhandled for physical
// paths in the tests above).
func TestDaemonUnavailable_MutationFailsWithEIO(t *testing.T) {
	e, client, _ := newTestEngine(t)
	client.setDown(true)

	handled, err := e.Mkdir("/vrift/newdir", "/", 0o755, 1)
	require.True(t, handled)
	var errno Errno
	require.ErrorAs(t, err, &errno)
	assert.Equal(t, syscall.EIO, errno.Err)
}

func TestDaemonUnavailable_StatFailsWithEIOWhenNoCatalogCanServeIt(t *testing.T) {
	e, client, _ := newTestEngine(t)
	client.setDown(true)

	_, handled, err := e.Stat("/vrift/hi.txt", "/")
	require.True(t, handled)
	var errno Errno
	require.ErrorAs(t, err, &errno)
	assert.Equal(t, syscall.EIO, errno.Err)
}

func TestStat_PhysicalPathIsUnhandledPassthroughRegardlessOfDaemon(t *testing.T) {
	e, client, _ := newTestEngine(t)
	client.setDown(true)

	_, handled, err := e.Stat("/etc/hosts", "/")
	assert.False(t, handled)
	assert.NoError(t, err)
}

func TestStat_CatalogHitAvoidsIPCEntirely(t *testing.T) {
	e, client, _ := newTestEngine(t)

	catPath := filepath.Join(t.TempDir(), "catalog.mmap")
	require.NoError(t, catalog.Build(catPath, []catalog.Source{
		{Path: "/vrift/hi.txt", Stat: catalog.StatResult{Size: 5, Mtime: 9, Mode: 0o644}},
	}))
	reader, err := catalog.Open(catPath)
	require.NoError(t, err)
	defer reader.Close()
	e.catalog = reader

	client.setDown(true) // catalog hit must not need the (down) daemon at all

	info, handled, err := e.Stat("/vrift/hi.txt", "/")
	require.True(t, handled)
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size)
	assert.EqualValues(t, 0x56524654, info.Dev)
}

func TestReaddir_ListsChildrenOfVirtualDirectory(t *testing.T) {
	e, client, _ := newTestEngine(t)
	require.NoError(t, client.m.Upsert("/vrift/dir/a.txt", manifest.FileEntry("d1", 1, 1, 0o644)))
	require.NoError(t, client.m.Upsert("/vrift/dir/b.txt", manifest.FileEntry("d2", 1, 1, 0o644)))

	children, handled, err := e.Readdir("/vrift/dir", "/")
	require.True(t, handled)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestUnlinkAndMkdir_TranslateToManifestOps(t *testing.T) {
	e, client, _ := newTestEngine(t)

	handled, err := e.Mkdir("/vrift/newdir", "/", 0o755, 1)
	require.True(t, handled)
	require.NoError(t, err)
	_, ok := client.m.Get("/vrift/newdir")
	assert.True(t, ok)

	handled, err = e.Unlink("/vrift/newdir", "/")
	require.True(t, handled)
	require.NoError(t, err) // empty dir removes cleanly via ManifestRemove
	_, ok = client.m.Get("/vrift/newdir")
	assert.False(t, ok)
}

func TestDup_DuplicatesFdEntryWithoutIPC(t *testing.T) {
	e, client, store := newTestEngine(t)
	digest, err := store.Put([]byte("dup me"))
	require.NoError(t, err)
	require.NoError(t, client.m.Upsert("/vrift/d.txt", manifest.FileEntry(digest, 6, 1, 0o644)))

	fd, handled, err := e.OpenRead("/vrift/d.txt", "/")
	require.True(t, handled)
	require.NoError(t, err)

	ok := e.Dup(fd, fd+500)
	require.True(t, ok)

	dupped := e.fds.Get(fd + 500)
	require.NotNil(t, dupped)
	assert.Equal(t, "dup me", string(dupped.Data))
}
