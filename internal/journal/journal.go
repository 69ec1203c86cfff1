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

// Package journal implements the daemon's crash-recovery log for
// in-flight reingestions. Its durability discipline is the write-ahead
// shape go-ethereum's triedb/pathdb journal uses for its own layer
// journal: append a versioned record before doing anything observable,
// update it in place as the operation progresses, and drop it only once
// every downstream effect is durable.
package journal

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/velo-rift/vrift/clock"
	"github.com/velo-rift/vrift/internal/cas"
	"github.com/velo-rift/vrift/internal/errs"
)

// State is the reingest state machine's position for one entry.
type State int

const (
	// Recorded means the entry has been durably written but CAS
	// insertion has not yet completed.
	Recorded State = iota
	// CasStored means the bytes are in CAS and the entry's Digest field
	// is populated, but the manifest has not yet been upserted.
	CasStored
	// Applied means the manifest upsert has completed; only the journal
	// drop and staging-file delete remain.
	Applied
)

// Entry is one in-flight reingestion record.
type Entry struct {
	ID          string
	VirtualPath string
	StagingPath string
	Digest      cas.Digest // zero value until CasStored
	State       State
	StartedAt   int64 // unix seconds
}

// Journal is the daemon's durable log of in-flight reingestions, backed
// by a single gob-encoded file rewritten on every mutation. It is owned
// single-threaded by the daemon's event loop, like Manifest; the mutex
// here exists only to let Status queries from other goroutines read a
// consistent snapshot.
type Journal struct {
	mu      sync.Mutex
	path    string
	clock   clock.Clock
	entries map[string]*Entry
}

// Open loads an existing journal file at path, or starts an empty one if
// it doesn't exist yet.
func Open(path string, clk clock.Clock) (*Journal, error) {
	j := &Journal{path: path, clock: clk, entries: make(map[string]*Entry)}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, errs.New(errs.Io, "journal.Open", path, err)
	}

	var rows []Entry
	if err := gobDecode(b, &rows); err != nil {
		return nil, errs.New(errs.Protocol, "journal.Open", path, err)
	}
	for i := range rows {
		e := rows[i]
		j.entries[e.ID] = &e
	}
	return j, nil
}

// Begin records a new Recorded-state entry and flushes it durably before
// returning, per step 1 of ManifestReingest.
func (j *Journal) Begin(virtualPath, stagingPath string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e := &Entry{
		ID:          uuid.NewString(),
		VirtualPath: virtualPath,
		StagingPath: stagingPath,
		State:       Recorded,
		StartedAt:   j.clock.Now().Unix(),
	}
	j.entries[e.ID] = e
	if err := j.flushLocked(); err != nil {
		delete(j.entries, e.ID)
		return nil, err
	}
	return e, nil
}

// MarkCasStored records that the entry's bytes now have a digest in CAS,
// per step 2.
func (j *Journal) MarkCasStored(id string, digest cas.Digest) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[id]
	if !ok {
		return errs.New(errs.NotFound, "journal.MarkCasStored", id, nil)
	}
	e.Digest = digest
	e.State = CasStored
	return j.flushLocked()
}

// MarkApplied records that the manifest upsert has completed, per step 3.
func (j *Journal) MarkApplied(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[id]
	if !ok {
		return errs.New(errs.NotFound, "journal.MarkApplied", id, nil)
	}
	e.State = Applied
	return j.flushLocked()
}

// Complete removes the entry from the journal, per step 4. The caller is
// responsible for step 5 (deleting the staging file) once this returns.
func (j *Journal) Complete(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.entries[id]; !ok {
		return errs.New(errs.NotFound, "journal.Complete", id, nil)
	}
	delete(j.entries, id)
	return j.flushLocked()
}

// Entries returns a snapshot of all current entries, for crash recovery
// and Status reporting.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, *e)
	}
	return out
}

// DiscardOlderThan removes entries whose StartedAt predates the given
// cutoff, per crash recovery's TTL discard step. The caller is expected
// to also remove each discarded entry's staging file.
func (j *Journal) DiscardOlderThan(cutoffUnix int64) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var discarded []Entry
	for id, e := range j.entries {
		if e.StartedAt < cutoffUnix {
			discarded = append(discarded, *e)
			delete(j.entries, id)
		}
	}
	if len(discarded) > 0 {
		if err := j.flushLocked(); err != nil {
			return nil, err
		}
	}
	return discarded, nil
}

func (j *Journal) flushLocked() error {
	rows := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		rows = append(rows, *e)
	}

	b, err := gobEncode(rows)
	if err != nil {
		return errs.New(errs.Io, "journal.flush", j.path, err)
	}

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New(errs.Io, "journal.flush", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return errs.New(errs.Io, "journal.flush", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		return errs.New(errs.Io, "journal.flush", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return errs.New(errs.Io, "journal.flush", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.Io, "journal.flush", tmpName, err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		return errs.New(errs.Io, "journal.flush", j.path, err)
	}
	cleanup = false
	return nil
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
