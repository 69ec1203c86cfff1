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

// Package manifest holds the daemon's authoritative mapping from absolute
// virtual path to vnode record. It is owned single-threaded by the
// daemon's event loop; all external access goes through its exported
// methods, never through shared mutable state.
package manifest

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/velo-rift/vrift/internal/cas"
	"github.com/velo-rift/vrift/internal/errs"
)

// VnodeEntry is the tagged record a path resolves to: either a File with
// content backed by a CAS digest, or a Directory. The zero value is not
// a valid entry; construct with FileEntry or DirEntry.
type VnodeEntry struct {
	IsDir bool

	// File fields.
	Digest cas.Digest
	Size   uint64

	// Shared fields.
	Mtime uint64 // seconds since the Unix epoch
	Mode  uint32
}

// FileEntry builds a File vnode.
func FileEntry(digest cas.Digest, size uint64, mtime uint64, mode uint32) VnodeEntry {
	return VnodeEntry{IsDir: false, Digest: digest, Size: size, Mtime: mtime, Mode: mode}
}

// DirEntry builds a Directory vnode.
func DirEntry(mtime uint64, mode uint32) VnodeEntry {
	return VnodeEntry{IsDir: true, Mtime: mtime, Mode: mode}
}

const defaultDirMode = 0o755

// Manifest is an insertion-ordered mapping from canonical absolute virtual
// path to VnodeEntry. Construct one with New; the zero value has a nil
// map and cannot be written to.
type Manifest struct {
	entries map[string]VnodeEntry
	order   []string // insertion order, for stable Save/Walk output
}

// New returns an empty Manifest. The root "/" has no entry until the
// first Upsert synthesizes it as a parent; ListDir treats it as a
// directory either way.
func New() *Manifest {
	return &Manifest{entries: make(map[string]VnodeEntry)}
}

// Canonicalize normalizes p the way the manifest requires: leading "/",
// no repeated "/", no "." or ".." components.
func Canonicalize(p string) string {
	if p == "" {
		p = "/"
	}
	cleaned := filepath.Clean("/" + p)
	if cleaned != "/" {
		cleaned = strings.TrimSuffix(cleaned, "/")
	}
	return cleaned
}

func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	dir := filepath.Dir(p)
	return dir
}

// Get performs an exact lookup after canonicalizing path.
func (m *Manifest) Get(path string) (VnodeEntry, bool) {
	e, ok := m.entries[Canonicalize(path)]
	return e, ok
}

// Upsert inserts or replaces the entry at path, synthesizing any missing
// parent Directory entries (mode 0o755, current mtime) so invariant I1
// (every path's parent chain resolves to a Directory) always holds after
// the call returns.
func (m *Manifest) Upsert(path string, entry VnodeEntry) error {
	path = Canonicalize(path)
	if !utf8.ValidString(path) {
		return errs.New(errs.BoundaryViolation, "manifest.Upsert", path, fmt.Errorf("path is not valid UTF-8"))
	}

	if err := m.ensureParents(path); err != nil {
		return err
	}

	if _, exists := m.entries[path]; !exists {
		m.order = append(m.order, path)
	}
	m.entries[path] = entry
	return nil
}

// ensureParents synthesizes Directory entries for every ancestor of path
// that doesn't already exist, failing if an ancestor exists but is a File
// (a File cannot have children).
func (m *Manifest) ensureParents(path string) error {
	if path == "/" {
		return nil
	}

	parent := parentOf(path)
	if parent == path {
		return nil
	}

	if existing, ok := m.entries[parent]; ok {
		if !existing.IsDir {
			return errs.New(errs.BoundaryViolation, "manifest.Upsert", path, fmt.Errorf("parent %q is a file, not a directory", parent))
		}
		return nil
	}

	if err := m.ensureParents(parent); err != nil {
		return err
	}

	m.entries[parent] = DirEntry(uint64(time.Now().Unix()), defaultDirMode)
	m.order = append(m.order, parent)
	return nil
}

// Remove deletes the entry at path. Removing a Directory with any
// descendant path present fails rather than recursively pruning (the
// Design Notes resolve the spec's Open Question on this point in favor
// of "fail unless empty": a silent recursive prune of a whole subtree on
// a single rmdir call is a surprising amount of blast radius for what
// looks, at the syscall layer, like a single dentry removal).
func (m *Manifest) Remove(path string) error {
	path = Canonicalize(path)
	entry, ok := m.entries[path]
	if !ok {
		return errs.New(errs.NotFound, "manifest.Remove", path, fmt.Errorf("no such path"))
	}

	if entry.IsDir {
		prefix := path
		if prefix != "/" {
			prefix += "/"
		}
		for p := range m.entries {
			if p != path && strings.HasPrefix(p, prefix) {
				return errs.New(errs.Io, "manifest.Remove", path, fmt.Errorf("directory is not empty"))
			}
		}
	}

	delete(m.entries, path)
	m.order = removeFromOrder(m.order, path)
	return nil
}

func removeFromOrder(order []string, path string) []string {
	for i, p := range order {
		if p == path {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// DirChild is one row of a ListDir result.
type DirChild struct {
	Name  string
	IsDir bool
}

// ListDir returns the immediate children of path, sorted by name for
// deterministic readdir ordering.
func (m *Manifest) ListDir(path string) ([]DirChild, error) {
	path = Canonicalize(path)
	if path != "/" {
		entry, ok := m.entries[path]
		if !ok {
			return nil, errs.New(errs.NotFound, "manifest.ListDir", path, fmt.Errorf("no such path"))
		}
		if !entry.IsDir {
			return nil, errs.New(errs.Io, "manifest.ListDir", path, fmt.Errorf("not a directory"))
		}
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}

	seen := make(map[string]bool)
	var children []DirChild
	for p, e := range m.entries {
		if p == path || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name = rest[:i]
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		childPath := prefix + name
		childEntry := m.entries[childPath]
		children = append(children, DirChild{Name: name, IsDir: childEntry.IsDir})
	}

	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children, nil
}

// Rename moves the entry (and, if it is a directory, its whole subtree)
// from oldPath to newPath. Both endpoints must already be canonical
// virtual paths; straddling the virtual/physical boundary is rejected
// one layer up, by the interposer, before Rename is ever called.
func (m *Manifest) Rename(oldPath, newPath string) error {
	oldPath = Canonicalize(oldPath)
	newPath = Canonicalize(newPath)

	entry, ok := m.entries[oldPath]
	if !ok {
		return errs.New(errs.NotFound, "manifest.Rename", oldPath, fmt.Errorf("no such path"))
	}

	if err := m.ensureParents(newPath); err != nil {
		return err
	}

	oldPrefix := oldPath + "/"
	var toMove []string
	for p := range m.entries {
		if p == oldPath || strings.HasPrefix(p, oldPrefix) {
			toMove = append(toMove, p)
		}
	}

	for _, p := range toMove {
		suffix := strings.TrimPrefix(p, oldPath)
		dst := newPath + suffix
		m.entries[dst] = m.entries[p]
		if dst != p {
			delete(m.entries, p)
			m.order = removeFromOrder(m.order, p)
			m.order = append(m.order, dst)
		}
	}
	_ = entry

	return nil
}

// gobEntry is the on-disk shape persisted by Save/Load; keeping it
// separate from VnodeEntry means the wire layout can evolve independently
// of the in-memory struct's field order.
type gobEntry struct {
	Path   string
	IsDir  bool
	Digest string
	Size   uint64
	Mtime  uint64
	Mode   uint32
}

// Save persists the whole manifest to a single file at path, using the
// same fsync-then-rename publish discipline as the CAS store so a crash
// mid-write leaves the previous manifest file intact.
func (m *Manifest) Save(path string) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	rows := make([]gobEntry, 0, len(m.order))
	for _, p := range m.order {
		e := m.entries[p]
		rows = append(rows, gobEntry{
			Path: p, IsDir: e.IsDir, Digest: string(e.Digest),
			Size: e.Size, Mtime: e.Mtime, Mode: e.Mode,
		})
	}
	if err := enc.Encode(rows); err != nil {
		return errs.New(errs.Io, "manifest.Save", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New(errs.Io, "manifest.Save", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errs.New(errs.Io, "manifest.Save", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		return errs.New(errs.Io, "manifest.Save", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return errs.New(errs.Io, "manifest.Save", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.Io, "manifest.Save", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errs.New(errs.Io, "manifest.Save", path, err)
	}
	cleanup = false

	return nil
}

// Load replaces the manifest's contents with those persisted at path by a
// prior Save call.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, errs.New(errs.Io, "manifest.Load", path, err)
	}

	var rows []gobEntry
	dec := gob.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&rows); err != nil {
		return nil, errs.New(errs.Protocol, "manifest.Load", path, err)
	}

	m := New()
	for _, r := range rows {
		m.entries[r.Path] = VnodeEntry{
			IsDir: r.IsDir, Digest: cas.Digest(r.Digest),
			Size: r.Size, Mtime: r.Mtime, Mode: r.Mode,
		}
		m.order = append(m.order, r.Path)
	}
	return m, nil
}

// Len returns the number of entries currently in the manifest, including
// synthesized parent directories.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Walk calls fn once for every entry currently in the manifest, in
// insertion order. Used by the daemon to snapshot the manifest into a
// catalog rebuild without exposing the underlying map.
func (m *Manifest) Walk(fn func(path string, entry VnodeEntry)) {
	for _, p := range m.order {
		fn(p, m.entries[p])
	}
}

// CheckInvariants validates I1 (every entry's parent chain resolves to a
// Directory) and I2 (every File entry's digest is resolvable in store)
// against the given CAS store. It is intended for tests and debugging,
// mirroring gcsproxy.MutableObject.CheckInvariants's role of letting
// careful callers assert internal consistency rather than trusting it
// silently.
func (m *Manifest) CheckInvariants(store *cas.Store) error {
	for p, e := range m.entries {
		if p != "/" {
			parent := parentOf(p)
			pe, ok := m.entries[parent]
			if !ok || !pe.IsDir {
				return fmt.Errorf("I1 violated: parent of %q is not a directory", p)
			}
		}
		if !e.IsDir && store != nil {
			has, err := store.Has(e.Digest)
			if err != nil {
				return err
			}
			if !has {
				return fmt.Errorf("I2 violated: digest %s for %q is not resolvable in CAS", e.Digest, p)
			}
		}
	}
	return nil
}
