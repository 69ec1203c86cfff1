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

// Package catalog implements the hot stat cache: a memory-mapped file the
// daemon rebuilds wholesale and publishes atomically, and that the
// interposer maps read-only and queries without any IPC on the common
// path. The wire layout is a fixed binary format so the writer (this
// process) and any reader compiled against a different build of this
// package agree on byte offsets.
package catalog

import (
	"encoding/binary"
	"hash/fnv"
)

// Magic identifies a valid catalog file; chosen to spell "VMMP" when read
// as four little-endian ASCII bytes.
const Magic uint32 = 0x504D4D56

// Version is bumped whenever the binary layout changes incompatibly.
const Version uint32 = 1

// headerSize is the fixed size in bytes of the on-disk Header record:
// six u32 fields (magic, version, entry_count, bloom_offset,
// table_offset, table_capacity) plus a two-u32 reserved pad, per spec's
// bit-exact layout.
const headerSize = 32

// bloomBytes is the size of the Bloom filter region: 128KiB, per the
// design's fixed sizing (no resizing the filter independent of a full
// rebuild).
const bloomBytes = 128 * 1024
const bloomBits = bloomBytes * 8

// entrySize is the fixed size in bytes of one hash-table slot:
// path_hash(8) + size(8) + mtime(8) + mtime_nsec(8) + mode(4) + flags(4).
const entrySize = 40

// flagDir and flagSymlink are the entrySlot.flags bits the reader
// reconstructs file-type information from (spec's "mode with
// file-type bits from flags").
const (
	flagDir     uint32 = 1 << 0
	flagSymlink uint32 = 1 << 1
)

// Header is the catalog file's fixed-size preamble. All fields are u32,
// little-endian; EntryCount/BloomOffset/TableOffset/TableCapacity are
// byte/record counts that comfortably fit a 32-bit catalog (the mmap
// region itself is capped well under 4GiB by bloomBytes plus a bounded
// table capacity).
type Header struct {
	Magic         uint32
	Version       uint32
	EntryCount    uint32
	BloomOffset   uint32
	TableOffset   uint32
	TableCapacity uint32
	_             [2]uint32 // reserved
}

func (h Header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.BloomOffset)
	binary.LittleEndian.PutUint32(buf[16:20], h.TableOffset)
	binary.LittleEndian.PutUint32(buf[20:24], h.TableCapacity)
	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		Magic:         binary.LittleEndian.Uint32(buf[0:4]),
		Version:       binary.LittleEndian.Uint32(buf[4:8]),
		EntryCount:    binary.LittleEndian.Uint32(buf[8:12]),
		BloomOffset:   binary.LittleEndian.Uint32(buf[12:16]),
		TableOffset:   binary.LittleEndian.Uint32(buf[16:20]),
		TableCapacity: binary.LittleEndian.Uint32(buf[20:24]),
	}
}

// StatResult is the stat-shaped payload a successful catalog lookup
// returns, mirroring the fields the interposer needs to answer fstat
// without a round trip to the daemon. IsSymlink is carried through from
// flags for completeness even though nothing in the manifest currently
// produces a symlink entry (symlinks are a best-effort non-goal).
type StatResult struct {
	IsDir     bool
	IsSymlink bool
	Size      uint64
	Mtime     uint64
	MtimeNsec uint64
	Mode      uint32
}

// entrySlot is the on-disk shape of one hash-table bucket:
// {path_hash, size, mtime, mtime_nsec, mode, flags}. A slot with
// pathHash == 0 is empty; there is no separate occupied marker.
type entrySlot struct {
	pathHash  uint64
	size      uint64
	mtime     uint64
	mtimeNsec uint64
	mode      uint32
	flags     uint32
}

func (e entrySlot) occupied() bool { return e.pathHash != 0 }

func statToSlot(pathHash uint64, stat StatResult) entrySlot {
	var flags uint32
	if stat.IsDir {
		flags |= flagDir
	}
	if stat.IsSymlink {
		flags |= flagSymlink
	}
	return entrySlot{
		pathHash:  pathHash,
		size:      stat.Size,
		mtime:     stat.Mtime,
		mtimeNsec: stat.MtimeNsec,
		mode:      stat.Mode,
		flags:     flags,
	}
}

func (e entrySlot) toStat() StatResult {
	return StatResult{
		IsDir:     e.flags&flagDir != 0,
		IsSymlink: e.flags&flagSymlink != 0,
		Size:      e.size,
		Mtime:     e.mtime,
		MtimeNsec: e.mtimeNsec,
		Mode:      e.mode,
	}
}

func encodeEntry(e entrySlot) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint64(buf[0:8], e.pathHash)
	binary.LittleEndian.PutUint64(buf[8:16], e.size)
	binary.LittleEndian.PutUint64(buf[16:24], e.mtime)
	binary.LittleEndian.PutUint64(buf[24:32], e.mtimeNsec)
	binary.LittleEndian.PutUint32(buf[32:36], e.mode)
	binary.LittleEndian.PutUint32(buf[36:40], e.flags)
	return buf
}

func decodeEntry(buf []byte) entrySlot {
	return entrySlot{
		pathHash:  binary.LittleEndian.Uint64(buf[0:8]),
		size:      binary.LittleEndian.Uint64(buf[8:16]),
		mtime:     binary.LittleEndian.Uint64(buf[16:24]),
		mtimeNsec: binary.LittleEndian.Uint64(buf[24:32]),
		mode:      binary.LittleEndian.Uint32(buf[32:36]),
		flags:     binary.LittleEndian.Uint32(buf[36:40]),
	}
}

// pathHashes returns the two independent 64-bit hashes of path used both
// to set/test the Bloom filter's two bits and to seed the hash table's
// probe sequence. FNV-1a (hash/fnv, stdlib) and its non-avalanche sibling
// FNV-1 give two cheap, independent-enough hashes without pulling in a
// dedicated hashing library; xxhash (vendored transitively via the
// Prometheus client) was considered but FNV needs no extra import and the
// catalog isn't on a throughput-critical bulk-hashing path, only a
// per-lookup one.
func pathHashes(path string) (h1, h2 uint64) {
	a := fnv.New64a()
	a.Write([]byte(path))
	h1 = a.Sum64()

	b := fnv.New64()
	b.Write([]byte(path))
	h2 = b.Sum64()

	return h1, h2
}

// tableCapacityFor returns the smallest capacity strictly greater than
// 1.5x entryCount, with a floor so an empty or near-empty catalog still
// gets a usable table.
func tableCapacityFor(entryCount int) uint32 {
	min := uint64(float64(entryCount)*1.5) + 1
	if min < 8 {
		min = 8
	}
	return uint32(min)
}
