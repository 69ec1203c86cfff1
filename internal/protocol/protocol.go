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

// Package protocol defines the daemon's wire format: a 4-byte
// little-endian length prefix followed by a gob-encoded Envelope, the
// same length-prefix-plus-gob shape minimega's ron control protocol uses
// between its daemon (miniccc) and its clients, generalized here from an
// HTTP/serial transport to a Unix stream socket.
package protocol

import (
	"github.com/velo-rift/vrift/internal/cas"
	"github.com/velo-rift/vrift/internal/manifest"
)

// RequestKind discriminates the Envelope's payload.
type RequestKind uint8

const (
	KindHandshake RequestKind = iota + 1
	KindStatus
	KindCasInsert
	KindCasGet
	KindProtect
	KindManifestGet
	KindManifestUpsert
	KindManifestListDir
	KindManifestRemove
	KindManifestRename
	KindManifestReingest
	KindSpawn
)

// Envelope is the single record gob-encodes to and from the wire; the
// request/response variants named in the design are expressed as
// pointer-typed optional fields rather than a sum type, since Go's gob
// codec has no native tagged-union support and this keeps encoding and
// decoding symmetric without a type-switch registry.
type Envelope struct {
	Kind RequestKind

	Handshake        *HandshakeRequest        `json:",omitempty"`
	Status           *StatusRequest           `json:",omitempty"`
	CasInsert        *CasInsertRequest        `json:",omitempty"`
	CasGet           *CasGetRequest           `json:",omitempty"`
	Protect          *ProtectRequest          `json:",omitempty"`
	ManifestGet      *ManifestGetRequest      `json:",omitempty"`
	ManifestUpsert   *ManifestUpsertRequest   `json:",omitempty"`
	ManifestListDir  *ManifestListDirRequest  `json:",omitempty"`
	ManifestRemove   *ManifestRemoveRequest   `json:",omitempty"`
	ManifestRename   *ManifestRenameRequest   `json:",omitempty"`
	ManifestReingest *ManifestReingestRequest `json:",omitempty"`
	Spawn            *SpawnRequest            `json:",omitempty"`
}

// HandshakeRequest opens a connection and announces the client's protocol
// version.
type HandshakeRequest struct {
	ClientVersion uint32
}

// StatusRequest asks the daemon for a health/stats snapshot.
type StatusRequest struct{}

// CasInsertRequest asks the daemon to insert bytes already known to the
// client to have the given size (used after the interposer has written a
// staging file and wants the daemon to ingest it without resending the
// bytes over the socket; the actual content travels via the staging file
// path already on shared disk, not inline in the request).
type CasInsertRequest struct {
	Digest cas.Digest
	Size   uint64
}

// CasGetRequest asks the daemon to resolve a digest (used by clients
// without direct CAS-root access, e.g. over a future network transport;
// the local interposer normally reads CAS directly).
type CasGetRequest struct {
	Digest cas.Digest
}

// ProtectRequest marks a manifest path as immutable (and/or changes its
// recorded owner) in the daemon; no filesystem-level flag is set on the
// backing blob.
type ProtectRequest struct {
	Path      string
	Immutable bool
	Owner     *string
}

// ManifestGetRequest looks up a single manifest path.
type ManifestGetRequest struct {
	Path string
}

// ManifestUpsertRequest inserts or replaces a manifest entry.
type ManifestUpsertRequest struct {
	Path  string
	Entry manifest.VnodeEntry
}

// ManifestListDirRequest lists the immediate children of a directory.
type ManifestListDirRequest struct {
	Path string
}

// ManifestRemoveRequest removes a manifest entry.
type ManifestRemoveRequest struct {
	Path string
}

// ManifestRenameRequest moves a manifest subtree.
type ManifestRenameRequest struct {
	OldPath string
	NewPath string
}

// ManifestReingestRequest is the end-of-write path: the interposer has
// broken a blob's link, buffered writes into a staging file, and now
// asks the daemon to journal, hash, CAS-insert, and manifest-upsert it in
// one round trip.
type ManifestReingestRequest struct {
	VirtualPath string
	StagingPath string
}

// SpawnRequest asks the daemon to spawn a child process with the
// interposer already injected, the mechanism by which `vrift run` starts
// a target program under the virtual filesystem.
type SpawnRequest struct {
	Argv []string
	Env  []string
	Cwd  string
}

// Response mirrors Envelope on the way back: exactly one of the typed Ack
// fields is set, or Err is non-empty.
type Response struct {
	Kind RequestKind
	Err  string

	Handshake        *HandshakeAck        `json:",omitempty"`
	Status           *StatusAck           `json:",omitempty"`
	CasInsert        *CasInsertAck        `json:",omitempty"`
	CasGet           *CasGetAck           `json:",omitempty"`
	Protect          *ProtectAck          `json:",omitempty"`
	ManifestGet      *ManifestGetAck      `json:",omitempty"`
	ManifestUpsert   *ManifestUpsertAck   `json:",omitempty"`
	ManifestListDir  *ManifestListDirAck  `json:",omitempty"`
	ManifestRemove   *ManifestRemoveAck   `json:",omitempty"`
	ManifestRename   *ManifestRenameAck   `json:",omitempty"`
	ManifestReingest *ManifestReingestAck `json:",omitempty"`
	Spawn            *SpawnAck            `json:",omitempty"`
}

type HandshakeAck struct {
	ServerVersion uint32
}

type StatusAck struct {
	BlobCount     int64
	TotalBytes    int64
	ManifestCount int
	JournalCount  int
}

type CasInsertAck struct {
	Digest cas.Digest
}

type CasGetAck struct {
	Bytes []byte
}

type ProtectAck struct{}

type ManifestGetAck struct {
	Found bool
	Entry manifest.VnodeEntry
}

type ManifestUpsertAck struct{}

type ManifestListDirAck struct {
	Children []manifest.DirChild
}

type ManifestRemoveAck struct{}

type ManifestRenameAck struct{}

type ManifestReingestAck struct {
	Digest cas.Digest
}

type SpawnAck struct {
	Pid int
}

// IsError reports whether r carries an Error response.
func (r *Response) IsError() bool {
	return r.Err != ""
}
