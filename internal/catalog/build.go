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
	"os"
	"path/filepath"

	"github.com/velo-rift/vrift/internal/errs"
)

// Source is the daemon-side view the builder reads from: one row per
// manifest path. The builder owns no reference to internal/manifest
// itself, so catalog stays usable from tests without dragging in the
// whole manifest package.
type Source struct {
	Path string
	Stat StatResult
}

// Build constructs a full replacement catalog file from entries and
// atomically publishes it at path. Readers concurrently mapping path will
// always see either the complete old file or the complete new file, never
// a half-written mix, because the publish step is a single os.Rename.
func Build(path string, entries []Source) error {
	capacity := tableCapacityFor(len(entries))

	bloom := make([]byte, bloomBytes)
	table := make([]entrySlot, capacity)

	for _, src := range entries {
		h1, h2 := pathHashes(src.Path)
		setBloomBit(bloom, h1)
		setBloomBit(bloom, h2)

		slot := h1 % uint64(capacity)
		for i := uint64(0); i < uint64(capacity); i++ {
			idx := (slot + i) % uint64(capacity)
			if !table[idx].occupied() {
				table[idx] = statToSlot(h1, src.Stat)
				break
			}
		}
	}

	header := Header{
		Magic:         Magic,
		Version:       Version,
		EntryCount:    uint32(len(entries)),
		BloomOffset:   uint32(headerSize),
		TableOffset:   uint32(headerSize + bloomBytes),
		TableCapacity: capacity,
	}

	buf := make([]byte, 0, headerSize+bloomBytes+int(capacity)*entrySize)
	buf = append(buf, header.encode()...)
	buf = append(buf, bloom...)
	for _, e := range table {
		buf = append(buf, encodeEntry(e)...)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New(errs.Io, "catalog.Build", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errs.New(errs.Io, "catalog.Build", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf); err != nil {
		return errs.New(errs.Io, "catalog.Build", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return errs.New(errs.Io, "catalog.Build", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.Io, "catalog.Build", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errs.New(errs.Io, "catalog.Build", path, err)
	}
	cleanup = false

	return nil
}

func setBloomBit(bloom []byte, h uint64) {
	bit := h % bloomBits
	bloom[bit/8] |= 1 << (bit % 8)
}

func testBloomBit(bloom []byte, h uint64) bool {
	bit := h % bloomBits
	return bloom[bit/8]&(1<<(bit%8)) != 0
}
