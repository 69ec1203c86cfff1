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

	"github.com/velo-rift/vrift/internal/errs"
	"golang.org/x/sys/unix"
)

// Reader is a read-only view of a mapped catalog file, intended to live
// for the lifetime of the interposer's loaded library. It re-validates
// the header on every lookup rather than caching it, because the
// daemon may have atomically replaced the underlying file (and thus, via
// rename, the mapping's backing inode) since the mapping was established
// on some platforms; staleness there is tolerated by falling back to IPC,
// never by serving a stat from a mapping that no longer parses.
type Reader struct {
	path string
	data []byte
}

// Open memory-maps the catalog file at path read-only.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "catalog.Open", path, err)
		}
		return nil, errs.New(errs.Io, "catalog.Open", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errs.New(errs.Io, "catalog.Open", path, err)
	}
	if fi.Size() < headerSize {
		return nil, errs.New(errs.Integrity, "catalog.Open", path, fmt.Errorf("file too small to contain a header: %d bytes", fi.Size()))
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errs.New(errs.Io, "catalog.Open", path, err)
	}

	r := &Reader{path: path, data: data}
	if _, err := r.validatedHeader(); err != nil {
		unix.Munmap(data)
		return nil, err
	}
	return r, nil
}

// Close unmaps the underlying file.
func (r *Reader) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if err != nil {
		return errs.New(errs.Io, "catalog.Close", r.path, err)
	}
	return nil
}

func (r *Reader) validatedHeader() (Header, error) {
	if len(r.data) < headerSize {
		return Header{}, errs.New(errs.Integrity, "catalog.Lookup", r.path, fmt.Errorf("mapping shorter than header"))
	}
	h := decodeHeader(r.data[:headerSize])
	if h.Magic != Magic {
		return Header{}, errs.New(errs.Integrity, "catalog.Lookup", r.path, fmt.Errorf("bad magic 0x%x", h.Magic))
	}
	if h.Version != Version {
		return Header{}, errs.New(errs.Integrity, "catalog.Lookup", r.path, fmt.Errorf("unsupported version %d", h.Version))
	}
	want := headerSize + bloomBytes + int(h.TableCapacity)*entrySize
	if len(r.data) < want {
		return Header{}, errs.New(errs.Integrity, "catalog.Lookup", r.path, fmt.Errorf("mapping too short for declared table capacity"))
	}
	return h, nil
}

// Lookup re-reads the header through the mapping, then runs the
// Bloom-reject-then-probe query algorithm. ok is false both when the path
// is confidently absent (Bloom reject) and when it was probed and not
// found; callers treat both as "fall back to IPC", the distinction
// doesn't matter to them.
func (r *Reader) Lookup(path string) (StatResult, bool, error) {
	h, err := r.validatedHeader()
	if err != nil {
		return StatResult{}, false, err
	}

	h1, h2 := pathHashes(path)
	bloomOffset := uint64(h.BloomOffset)
	bloom := r.data[bloomOffset : bloomOffset+bloomBytes]
	if !testBloomBit(bloom, h1) || !testBloomBit(bloom, h2) {
		return StatResult{}, false, nil
	}

	capacity := uint64(h.TableCapacity)
	if capacity == 0 {
		return StatResult{}, false, nil
	}
	tableStart := uint64(h.TableOffset)

	slot := h1 % capacity
	for i := uint64(0); i < capacity; i++ {
		idx := (slot + i) % capacity
		off := tableStart + idx*entrySize
		e := decodeEntry(r.data[off : off+entrySize])
		if !e.occupied() {
			return StatResult{}, false, nil
		}
		if e.pathHash == h1 {
			return e.toStat(), true, nil
		}
	}

	return StatResult{}, false, nil
}

// EntryCount returns the catalog's declared entry count, for Status
// reporting.
func (r *Reader) EntryCount() (uint64, error) {
	h, err := r.validatedHeader()
	if err != nil {
		return 0, err
	}
	return uint64(h.EntryCount), nil
}
