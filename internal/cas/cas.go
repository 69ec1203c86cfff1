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

// Package cas implements the content-addressed blob store: a keyed store
// under a root directory where keys are the SHA-256 digest of the stored
// bytes and storage fans out by the first two hex characters of the
// digest, the way gcsfuse's gcsproxy package fans a bucket object's
// generations out into a local temp-file-backed cache, but keyed by
// content instead of by (name, generation).
package cas

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/velo-rift/vrift/internal/errs"
)

// Digest is the canonical 64-character lowercase hex form of a content
// digest. The hash function is frozen to SHA-256 across daemon and
// interposer; changing it would break on-disk compatibility of existing
// CAS roots (see the Design Notes' resolution of the Open Question on
// this point).
type Digest string

const digestHexLen = 64

// tempSuffix marks in-progress writes so stats() and directory walks can
// skip them; it must never collide with a valid hex digest suffix.
const tempSuffix = ".tmp"

// Stats summarizes the contents of a CAS root as produced by Store.Stats.
type Stats struct {
	BlobCount  int64
	TotalBytes int64
}

// Store is a keyed blob store rooted at a directory on local disk. A Store
// is safe for concurrent use: concurrent Put calls for the same content
// converge on one visible blob because the final publish is an atomic
// rename, and os.Rename never produces a torn destination file.
type Store struct {
	root string
}

// Open returns a Store rooted at dir, creating dir if it does not already
// exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.Io, "cas.Open", dir, err)
	}
	return &Store{root: dir}, nil
}

// Root returns the directory the store is rooted at.
func (s *Store) Root() string {
	return s.root
}

// ComputeDigest hashes b the same way Put does, without storing anything.
func ComputeDigest(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// pathFor returns the on-disk path for a (well-formed) digest.
func (s *Store) pathFor(d Digest) (string, error) {
	ds := string(d)
	if len(ds) != digestHexLen {
		return "", errs.New(errs.Integrity, "cas.pathFor", ds, fmt.Errorf("digest has length %d, want %d", len(ds), digestHexLen))
	}
	return filepath.Join(s.root, ds[:2], ds), nil
}

// Put stores b under its content digest, creating the fan-out directory
// if necessary. If a blob with the same digest already exists, Put is a
// no-op dedup hit and returns the existing digest.
//
// The write path mirrors gcsproxy.MutableObject.Sync's "build the new
// generation off to the side, then publish atomically" shape: write to a
// sibling temp file, fsync it, then rename it into place. Two concurrent
// Put calls for identical bytes each produce their own temp file and each
// attempt the rename; the loser's rename succeeds too (same destination
// name, same bytes) and at most the winner's inode is left to be
// referenced by the directory entry, which is fine since the bytes are
// identical by construction of the digest.
func (s *Store) Put(b []byte) (Digest, error) {
	d := ComputeDigest(b)
	final, err := s.pathFor(d)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(final); err == nil {
		return d, nil
	} else if !os.IsNotExist(err) {
		return "", errs.New(errs.Io, "cas.Put", final, err)
	}

	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.New(errs.Io, "cas.Put", dir, err)
	}

	tmp, err := os.CreateTemp(dir, string(d)+".*"+tempSuffix)
	if err != nil {
		return "", errs.New(errs.Io, "cas.Put", dir, err)
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
		return "", errs.New(errs.Io, "cas.Put", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", errs.New(errs.Io, "cas.Put", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", errs.New(errs.Io, "cas.Put", tmpName, err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		return "", errs.New(errs.Io, "cas.Put", final, err)
	}
	cleanup = false

	return d, nil
}

// Get reads back the blob for d, re-verifying its digest on the way out.
// A mismatch is a hard Integrity error: the caller must not treat stale
// or corrupted bytes as valid content.
func (s *Store) Get(d Digest) ([]byte, error) {
	path, err := s.pathFor(d)
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "cas.Get", path, err)
		}
		return nil, errs.New(errs.Io, "cas.Get", path, err)
	}

	if got := ComputeDigest(b); got != d {
		return nil, errs.New(errs.Integrity, "cas.Get", path, fmt.Errorf("recomputed digest %s does not match requested %s", got, d))
	}

	return b, nil
}

// Has reports whether a blob exists for d, without reading or verifying
// its contents.
func (s *Store) Has(d Digest) (bool, error) {
	path, err := s.pathFor(d)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.New(errs.Io, "cas.Has", path, err)
	}
	return true, nil
}

// LinkCount returns the hard-link count of the blob backing d, used by
// the interposer to decide whether a write requires a copy-on-write
// break-link (link count >= 2 under normal use, since the blob is shared
// between the CAS root and at least one virtual-tree hard link).
func (s *Store) LinkCount(d Digest) (uint64, error) {
	path, err := s.pathFor(d)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.New(errs.NotFound, "cas.LinkCount", path, err)
		}
		return 0, errs.New(errs.Io, "cas.LinkCount", path, err)
	}
	return linkCount(fi), nil
}

// Link creates a new hard link at dst pointing at the blob for d, the
// mechanism the interposer uses to project a blob into the virtual tree
// without copying its bytes.
func (s *Store) Link(d Digest, dst string) error {
	src, err := s.pathFor(d)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.New(errs.Io, "cas.Link", filepath.Dir(dst), err)
	}
	if err := os.Link(src, dst); err != nil {
		return errs.New(errs.Io, "cas.Link", dst, err)
	}
	return nil
}

// Stats walks the fan-out directories and counts regular, non-temporary
// files.
func (s *Store) Stats() (Stats, error) {
	var st Stats

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, errs.New(errs.Io, "cas.Stats", s.root, err)
	}

	for _, fanout := range entries {
		if !fanout.IsDir() {
			continue
		}
		sub := filepath.Join(s.root, fanout.Name())
		blobs, err := os.ReadDir(sub)
		if err != nil {
			return st, errs.New(errs.Io, "cas.Stats", sub, err)
		}
		for _, b := range blobs {
			if b.IsDir() || strings.HasSuffix(b.Name(), tempSuffix) || strings.Contains(b.Name(), tempSuffix) {
				continue
			}
			info, err := b.Info()
			if err != nil {
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}
			st.BlobCount++
			st.TotalBytes += info.Size()
		}
	}

	return st, nil
}

// Reader returns a streaming reader for the blob backing d without
// loading it fully into memory. Unlike Get, it does not verify the
// blob's bytes against d.
func (s *Store) Reader(d Digest) (io.ReadCloser, error) {
	path, err := s.pathFor(d)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.NotFound, "cas.Reader", path, err)
		}
		return nil, errs.New(errs.Io, "cas.Reader", path, err)
	}
	return f, nil
}

// PutReader drains r and stores it the same way Put does, returning the
// resulting digest. Used by ingest paths that already hold an io.Reader
// (e.g. ManifestReingest's staging file) rather than an in-memory slice.
func (s *Store) PutReader(r io.Reader) (Digest, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", errs.New(errs.Io, "cas.PutReader", "", err)
	}
	return s.Put(buf.Bytes())
}
