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
	"hash/fnv"
	"os"
	"strconv"
	"syscall"

	"github.com/velo-rift/vrift/internal/asyncring"
	"github.com/velo-rift/vrift/internal/cas"
	"github.com/velo-rift/vrift/internal/catalog"
	"github.com/velo-rift/vrift/internal/manifest"
	"github.com/velo-rift/vrift/internal/protocol"
	"github.com/velo-rift/vrift/internal/telemetry"
)

// magicDev is the synthetic st_dev value stamped onto every virtual
// file's stat result, the fixed constant from the spec's hot-path
// dispatch so callers can recognize a vrift-backed inode at a glance.
const magicDev = 0x56524654

// StatInfo is the POSIX-shaped stat result the engine hands back for a
// virtual path, independent of any particular cgo struct layout so the
// shim can copy it into whatever ABI struct the platform expects.
type StatInfo struct {
	IsDir bool
	Size  uint64
	Mtime uint64
	Mode  uint32
	Dev   uint64
	Nlink uint32
	Ino   uint64
}

// Errno wraps a POSIX error number the way a shimmed entry point needs to
// report failure back to the caller (set errno, return -1).
type Errno struct {
	Err syscall.Errno
}

func (e Errno) Error() string { return e.Err.Error() }

func errnoErr(e syscall.Errno) error { return Errno{Err: e} }

// Engine is the pure-Go core behind every interposed entry point. One
// Engine is constructed per injected process during Bootstrapping and
// promoted to Ready once its catalog mapping, FD table, and IPC client
// are all in place.
type Engine struct {
	state   stateBox
	guard   *RecursionGuard
	router  *Router
	fds     *FDTable
	ring    *asyncring.Ring
	telem   *telemetry.Counters
	catalog *catalog.Reader
	cas     *cas.Store
	client  Client

	nextSyntheticFD int32
}

// Config assembles an Engine.
type Config struct {
	Prefix    string
	Catalog   *catalog.Reader
	Cas       *cas.Store
	Client    Client
	Ring      *asyncring.Ring
	Telemetry *telemetry.Counters
}

// New constructs an Engine in the Uninit state. Callers must call
// Bootstrap then MarkReady before any entry point is allowed to dispatch
// engine logic; both are modeled explicitly (rather than folded into New)
// because the real static constructor runs in a separate loader callback
// from whatever first calls into a shimmed function.
func New(cfg Config) *Engine {
	ring := cfg.Ring
	if ring == nil {
		ring = asyncring.New()
	}
	telem := cfg.Telemetry
	if telem == nil {
		telem = telemetry.New()
	}
	return &Engine{
		guard:   NewRecursionGuard(),
		router:  NewRouter(cfg.Prefix),
		fds:     NewFDTable(),
		ring:    ring,
		telem:   telem,
		catalog: cfg.Catalog,
		cas:     cfg.Cas,
		client:  cfg.Client,
	}
}

// Bootstrap transitions Uninit to Bootstrapping. Every entry point called
// while in this state must be pure passthrough.
func (e *Engine) Bootstrap() {
	e.state.set(Bootstrapping)
}

// MarkReady transitions to Ready once the engine's state is fully
// assembled. It is a no-op if the engine already Tripped.
func (e *Engine) MarkReady() {
	e.state.transitionToReady()
}

// Trip forces the engine into the absorbing Tripped state after a fatal
// inconsistency.
func (e *Engine) Trip() {
	e.state.trip()
}

// State reports the current initialization state.
func (e *Engine) State() State {
	return e.state.get()
}

// dispatchable reports whether the engine should run its own logic for
// this call, versus deferring to the real syscall. It also returns the
// recursion-guard token to release via Exit once the caller is done,
// which must happen even when dispatchable returns false.
func (e *Engine) dispatchable() (tok token, ok bool) {
	tok, entered := e.guard.Enter()
	if !entered {
		return tok, false
	}
	if e.state.get() != Ready {
		return tok, false
	}
	return tok, true
}

func pathIno(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return h.Sum64()
}

// Stat implements the hot stat-family dispatch: recursion guard, routing,
// mmap catalog lookup, IPC fallback. cwd is the caller's real working
// directory, used only for resolving a relative path argument.
func (e *Engine) Stat(path, cwd string) (info StatInfo, handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return StatInfo{}, false, nil
	}

	canon := Canonicalize(path, cwd)
	if !e.router.Classify(canon) {
		return StatInfo{}, false, nil
	}
	e.telem.Count(telemetry.Stat)

	if e.catalog != nil {
		if res, found, lookupErr := e.catalog.Lookup(canon); lookupErr == nil && found {
			return statInfoFromCatalog(canon, res), true, nil
		}
	}

	resp, ipcErr := e.client.RoundTrip(newRawIPC(), &protocol.Envelope{
		Kind:        protocol.KindManifestGet,
		ManifestGet: &protocol.ManifestGetRequest{Path: canon},
	})
	if ipcErr != nil {
		return StatInfo{}, true, errnoErr(syscall.EIO)
	}
	if resp.IsError() || !resp.ManifestGet.Found {
		return StatInfo{}, true, errnoErr(syscall.ENOENT)
	}
	return statInfoFromVnode(canon, resp.ManifestGet.Entry), true, nil
}

func statInfoFromCatalog(path string, r catalog.StatResult) StatInfo {
	return StatInfo{
		IsDir: r.IsDir,
		Size:  r.Size,
		Mtime: r.Mtime,
		Mode:  r.Mode,
		Dev:   magicDev,
		Nlink: 1,
		Ino:   pathIno(path),
	}
}

func statInfoFromVnode(path string, e manifest.VnodeEntry) StatInfo {
	return StatInfo{
		IsDir: e.IsDir,
		Size:  e.Size,
		Mtime: e.Mtime,
		Mode:  e.Mode,
		Dev:   magicDev,
		Nlink: 1,
		Ino:   pathIno(path),
	}
}

// allocFD picks a small monotonically increasing descriptor for
// virtual files. Real shimmed code would instead accept whatever number
// the kernel handed back from a backing open() on a placeholder fd; the
// pure-Go engine tests its own bookkeeping independent of that detail.
func (e *Engine) allocFD() int {
	e.nextSyntheticFD++
	return 1000 + int(e.nextSyntheticFD)
}

// OpenRead implements the read-only open path: resolve through the
// manifest (catalog first, IPC fallback), refuse directories with
// EISDIR, load the blob from CAS, and register a read-only FdEntry.
func (e *Engine) OpenRead(path, cwd string) (fd int, handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return 0, false, nil
	}

	canon := Canonicalize(path, cwd)
	if !e.router.Classify(canon) {
		return 0, false, nil
	}
	e.telem.Count(telemetry.Open)

	entry, found, err := e.resolveManifest(canon)
	if err != nil {
		return 0, true, err
	}
	if !found {
		return 0, true, errnoErr(syscall.ENOENT)
	}
	if entry.IsDir {
		return 0, true, errnoErr(syscall.EISDIR)
	}

	data, getErr := e.cas.Get(entry.Digest)
	if getErr != nil {
		return 0, true, errnoErr(syscall.EIO)
	}

	stat := statInfoFromVnode(canon, entry)
	fd = e.allocFD()
	e.fds.Set(fd, &FdEntry{VirtualPath: canon, IsVirtual: true, Digest: entry.Digest, Data: data, Stat: &stat})
	return fd, true, nil
}

// Fstat serves fstat for a read-only virtual descriptor from the
// StatInfo snapshot OpenRead captured, since that descriptor never
// obtained a real OS fd a kernel fstat(2) could target. Callers still
// dispatch a copy-on-write write descriptor straight to the real
// fstat(2) on its staging-file fd, which already answers correctly.
func (e *Engine) Fstat(fd int) (info StatInfo, handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return StatInfo{}, false, nil
	}

	entry := e.fds.Get(fd)
	if entry == nil || !entry.IsVirtual || entry.Stat == nil {
		return StatInfo{}, false, nil
	}
	e.telem.Count(telemetry.Stat)
	return *entry.Stat, true, nil
}

// OpenWrite implements the copy-on-write break-link path: if the blob
// backing the path is hard-linked from the CAS store, the caller is
// about to mutate it in place, so the engine first breaks the link by
// copying the content aside to a staging file the process can write
// into freely; a ManifestReingest at close publishes the result.
func (e *Engine) OpenWrite(path, cwd, stagingDir string) (fd int, stagingPath string, handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return 0, "", false, nil
	}

	canon := Canonicalize(path, cwd)
	if !e.router.Classify(canon) {
		return 0, "", false, nil
	}
	e.telem.Count(telemetry.Open)

	entry, found, err := e.resolveManifest(canon)
	if err != nil {
		return 0, "", true, err
	}

	var data []byte
	if found && !entry.IsDir {
		data, err = e.cas.Get(entry.Digest)
		if err != nil {
			return 0, "", true, errnoErr(syscall.EIO)
		}
	}

	staging := stagingPathFor(stagingDir, canon)
	if werr := os.WriteFile(staging, data, 0o644); werr != nil {
		return 0, "", true, errnoErr(syscall.EIO)
	}

	fd = e.allocFD()
	e.fds.Set(fd, &FdEntry{
		VirtualPath: canon,
		IsVirtual:   true,
		Cow:         &CowSession{VirtualPath: canon, StagingPath: staging},
	})
	return fd, staging, true, nil
}

func stagingPathFor(dir, canon string) string {
	return dir + "/.vrift_staging_" + strconv.FormatUint(pathIno(canon), 16)
}

func (e *Engine) resolveManifest(canon string) (manifest.VnodeEntry, bool, error) {
	if e.catalog != nil {
		if res, found, lookupErr := e.catalog.Lookup(canon); lookupErr == nil && found {
			return manifest.VnodeEntry{IsDir: res.IsDir, Size: res.Size, Mtime: res.Mtime, Mode: res.Mode}, true, nil
		}
	}
	resp, ipcErr := e.client.RoundTrip(newRawIPC(), &protocol.Envelope{
		Kind:        protocol.KindManifestGet,
		ManifestGet: &protocol.ManifestGetRequest{Path: canon},
	})
	if ipcErr != nil {
		return manifest.VnodeEntry{}, false, errnoErr(syscall.EIO)
	}
	if resp.IsError() {
		return manifest.VnodeEntry{}, false, nil
	}
	return resp.ManifestGet.Entry, resp.ManifestGet.Found, nil
}

// Close implements the close path: drop the FdEntry, and if it carried a
// CowSession, synchronously reingest the staging file before reporting
// success.
func (e *Engine) Close(fd int) (handled bool, digest cas.Digest, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return false, "", nil
	}

	entry := e.fds.Get(fd)
	if entry == nil || !entry.IsVirtual {
		return false, "", nil
	}
	e.telem.Count(telemetry.Close)
	e.fds.Remove(fd)

	if entry.Cow == nil {
		return true, "", nil
	}

	resp, ipcErr := e.client.RoundTrip(newRawIPC(), &protocol.Envelope{
		Kind: protocol.KindManifestReingest,
		ManifestReingest: &protocol.ManifestReingestRequest{
			VirtualPath: entry.Cow.VirtualPath,
			StagingPath: entry.Cow.StagingPath,
		},
	})
	if ipcErr != nil {
		return true, "", errnoErr(syscall.EIO)
	}
	if resp.IsError() {
		return true, "", errnoErr(syscall.EIO)
	}
	return true, resp.ManifestReingest.Digest, nil
}

// Read serves bytes from a virtual file's in-memory CAS-backed data at
// its current position and advances Pos. Only a read-only FdEntry
// created by OpenRead carries Data; a CowSession's bytes live in a real
// staging file on disk instead, so a write-side fd never reaches this
// method — the shim serves that traffic through the real descriptor it
// obtained by opening the staging path directly.
func (e *Engine) Read(fd int, buf []byte) (n int, handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return 0, false, nil
	}

	entry := e.fds.Get(fd)
	if entry == nil || !entry.IsVirtual || entry.Data == nil {
		return 0, false, nil
	}
	e.telem.Count(telemetry.Read)

	if entry.Pos >= int64(len(entry.Data)) {
		return 0, true, nil
	}
	n = copy(buf, entry.Data[entry.Pos:])
	entry.Pos += int64(n)
	return n, true, nil
}

// Lseek repositions a virtual read fd's cursor. whence follows the
// syscall package's SEEK_SET/SEEK_CUR/SEEK_END encoding.
func (e *Engine) Lseek(fd int, offset int64, whence int) (newOffset int64, handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return 0, false, nil
	}

	entry := e.fds.Get(fd)
	if entry == nil || !entry.IsVirtual || entry.Data == nil {
		return 0, false, nil
	}
	e.telem.Count(telemetry.Lseek)

	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = entry.Pos
	case 2:
		base = int64(len(entry.Data))
	default:
		return 0, true, errnoErr(syscall.EINVAL)
	}
	pos := base + offset
	if pos < 0 {
		return 0, true, errnoErr(syscall.EINVAL)
	}
	entry.Pos = pos
	return pos, true, nil
}

// ErrCrossBoundary reports a rename whose endpoints straddle the virtual
// and physical namespaces.
var ErrCrossBoundary = errnoErr(syscall.EXDEV)

// Rename implements the rename path: EXDEV if the two paths straddle the
// virtual/physical boundary, ManifestRename if both sides are virtual,
// passthrough (unhandled) if both sides are physical.
func (e *Engine) Rename(oldPath, newPath, cwd string) (handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return false, nil
	}

	oldCanon := Canonicalize(oldPath, cwd)
	newCanon := Canonicalize(newPath, cwd)
	oldVirtual := e.router.Classify(oldCanon)
	newVirtual := e.router.Classify(newCanon)
	e.telem.Count(telemetry.Rename)

	switch {
	case !oldVirtual && !newVirtual:
		return false, nil
	case oldVirtual != newVirtual:
		return true, ErrCrossBoundary
	}

	resp, ipcErr := e.client.RoundTrip(newRawIPC(), &protocol.Envelope{
		Kind:           protocol.KindManifestRename,
		ManifestRename: &protocol.ManifestRenameRequest{OldPath: oldCanon, NewPath: newCanon},
	})
	if ipcErr != nil {
		return true, errnoErr(syscall.EIO)
	}
	if resp.IsError() {
		return true, errnoErr(syscall.ENOENT)
	}
	return true, nil
}

// Unlink implements unlink/rmdir on virtual paths as a ManifestRemove;
// physical paths pass through untouched.
func (e *Engine) Unlink(path, cwd string) (handled bool, err error) {
	return e.remove(path, cwd, telemetry.Unlink)
}

// Rmdir is Unlink's directory counterpart; the daemon-side ManifestRemove
// already enforces "fails on non-empty directory".
func (e *Engine) Rmdir(path, cwd string) (handled bool, err error) {
	return e.remove(path, cwd, telemetry.Rmdir)
}

func (e *Engine) remove(path, cwd string, kind telemetry.SyscallKind) (handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return false, nil
	}

	canon := Canonicalize(path, cwd)
	if !e.router.Classify(canon) {
		return false, nil
	}
	e.telem.Count(kind)

	resp, ipcErr := e.client.RoundTrip(newRawIPC(), &protocol.Envelope{
		Kind:           protocol.KindManifestRemove,
		ManifestRemove: &protocol.ManifestRemoveRequest{Path: canon},
	})
	if ipcErr != nil {
		return true, errnoErr(syscall.EIO)
	}
	if resp.IsError() {
		return true, errnoErr(syscall.ENOENT)
	}
	return true, nil
}

// Mkdir implements mkdir on virtual paths as a ManifestUpsert of a
// directory vnode.
func (e *Engine) Mkdir(path, cwd string, mode uint32, mtime uint64) (handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return false, nil
	}

	canon := Canonicalize(path, cwd)
	if !e.router.Classify(canon) {
		return false, nil
	}
	e.telem.Count(telemetry.Mkdir)

	resp, ipcErr := e.client.RoundTrip(newRawIPC(), &protocol.Envelope{
		Kind: protocol.KindManifestUpsert,
		ManifestUpsert: &protocol.ManifestUpsertRequest{
			Path:  canon,
			Entry: manifest.DirEntry(mtime, mode),
		},
	})
	if ipcErr != nil {
		return true, errnoErr(syscall.EIO)
	}
	if resp.IsError() {
		return true, errnoErr(syscall.EEXIST)
	}
	return true, nil
}

// Readdir implements readdir on virtual paths via ManifestListDir.
func (e *Engine) Readdir(path, cwd string) (children []manifest.DirChild, handled bool, err error) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return nil, false, nil
	}

	canon := Canonicalize(path, cwd)
	if !e.router.Classify(canon) {
		return nil, false, nil
	}
	e.telem.Count(telemetry.Readdir)

	resp, ipcErr := e.client.RoundTrip(newRawIPC(), &protocol.Envelope{
		Kind:            protocol.KindManifestListDir,
		ManifestListDir: &protocol.ManifestListDirRequest{Path: canon},
	})
	if ipcErr != nil {
		return nil, true, errnoErr(syscall.EIO)
	}
	if resp.IsError() {
		return nil, true, errnoErr(syscall.ENOENT)
	}
	return resp.ManifestListDir.Children, true, nil
}

// Dup implements dup/dup2 for virtual descriptors: duplicate the FdEntry
// without any IPC, since both descriptors describe the same already-open
// virtual file.
func (e *Engine) Dup(oldfd, newfd int) (handled bool) {
	tok, ok := e.dispatchable()
	defer e.guard.Exit(tok)
	if !ok {
		return false
	}
	e.telem.Count(telemetry.Dup)
	return e.fds.Dup(oldfd, newfd)
}
