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

package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	"github.com/velo-rift/vrift/internal/cas"
	"github.com/velo-rift/vrift/internal/logger"
	"github.com/velo-rift/vrift/internal/manifest"
	"github.com/velo-rift/vrift/internal/protocol"
)

// handleConn serves requests on one connection strictly in order until
// the client disconnects or a frame fails to parse. A panic in a handler
// is recovered and reported as Error("internal") rather than taking the
// whole daemon down with it.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		req, err := protocol.ReadEnvelope(conn)
		if err != nil {
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := protocol.WriteResponse(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *protocol.Envelope) (resp *protocol.Response) {
	kindLabel := strconv.Itoa(int(req.Kind))
	start := s.clock.Now()
	defer func() {
		s.metrics.RequestsTotal.WithLabelValues(kindLabel).Inc()
		s.metrics.RequestDuration.WithLabelValues(kindLabel).Observe(s.clock.Now().Sub(start).Seconds())
		if resp != nil && resp.IsError() {
			s.metrics.RequestErrors.WithLabelValues(kindLabel).Inc()
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("daemon: recovered panic handling request kind %d: %v", req.Kind, r)
			resp = &protocol.Response{Kind: req.Kind, Err: "internal"}
		}
	}()

	switch req.Kind {
	case protocol.KindHandshake:
		return &protocol.Response{Kind: req.Kind, Handshake: &protocol.HandshakeAck{ServerVersion: 1}}
	case protocol.KindStatus:
		return s.handleStatus(req)
	case protocol.KindCasInsert:
		return s.handleCasInsert(req)
	case protocol.KindCasGet:
		return s.handleCasGet(req)
	case protocol.KindProtect:
		return s.handleProtect(req)
	case protocol.KindManifestGet:
		return s.handleManifestGet(req)
	case protocol.KindManifestUpsert:
		return s.handleManifestUpsert(req)
	case protocol.KindManifestListDir:
		return s.handleManifestListDir(req)
	case protocol.KindManifestRemove:
		return s.handleManifestRemove(req)
	case protocol.KindManifestRename:
		return s.handleManifestRename(req)
	case protocol.KindManifestReingest:
		return s.handleManifestReingest(ctx, req)
	case protocol.KindSpawn:
		return s.handleSpawn(req)
	default:
		return &protocol.Response{Kind: req.Kind, Err: fmt.Sprintf("unknown request kind %d", req.Kind)}
	}
}

func errResp(kind protocol.RequestKind, err error) *protocol.Response {
	return &protocol.Response{Kind: kind, Err: err.Error()}
}

func (s *Server) handleStatus(req *protocol.Envelope) *protocol.Response {
	stats, err := s.cas.Stats()
	if err != nil {
		return errResp(req.Kind, err)
	}
	s.mu.Lock()
	manifestCount := s.manifest.Len()
	s.mu.Unlock()

	return &protocol.Response{Kind: req.Kind, Status: &protocol.StatusAck{
		BlobCount:     stats.BlobCount,
		TotalBytes:    stats.TotalBytes,
		ManifestCount: manifestCount,
		JournalCount:  len(s.journal.Entries()),
	}}
}

func (s *Server) handleCasInsert(req *protocol.Envelope) *protocol.Response {
	r := req.CasInsert
	has, err := s.cas.Has(r.Digest)
	if err != nil {
		return errResp(req.Kind, err)
	}
	if !has {
		return errResp(req.Kind, fmt.Errorf("digest %s not present; CasInsert only acknowledges bytes already staged", r.Digest))
	}
	return &protocol.Response{Kind: req.Kind, CasInsert: &protocol.CasInsertAck{Digest: r.Digest}}
}

func (s *Server) handleCasGet(req *protocol.Envelope) *protocol.Response {
	b, err := s.cas.Get(req.CasGet.Digest)
	if err != nil {
		return errResp(req.Kind, err)
	}
	return &protocol.Response{Kind: req.Kind, CasGet: &protocol.CasGetAck{Bytes: b}}
}

func (s *Server) handleProtect(req *protocol.Envelope) *protocol.Response {
	r := req.Protect
	path := manifest.Canonicalize(r.Path)

	owner := ""
	if r.Owner != nil {
		owner = *r.Owner
	}

	s.mu.Lock()
	s.protects[path] = protection{immutable: r.Immutable, owner: owner}
	s.mu.Unlock()

	return &protocol.Response{Kind: req.Kind, Protect: &protocol.ProtectAck{}}
}

// isProtectedLocked reports whether a mutation to path is rejected
// because it was previously Protect-ed as immutable, either with no owner
// or by an owner other than requestOwner. Must be called with s.mu held.
func (s *Server) isProtectedLocked(path, requestOwner string) bool {
	p, ok := s.protects[manifest.Canonicalize(path)]
	if !ok || !p.immutable {
		return false
	}
	return p.owner == "" || p.owner != requestOwner
}

func (s *Server) handleManifestGet(req *protocol.Envelope) *protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.manifest.Get(req.ManifestGet.Path)
	return &protocol.Response{Kind: req.Kind, ManifestGet: &protocol.ManifestGetAck{Found: ok, Entry: entry}}
}

func (s *Server) handleManifestUpsert(req *protocol.Envelope) *protocol.Response {
	r := req.ManifestUpsert

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isProtectedLocked(r.Path, "") {
		return errResp(req.Kind, fmt.Errorf("immutable"))
	}
	if err := s.manifest.Upsert(r.Path, r.Entry); err != nil {
		return errResp(req.Kind, err)
	}
	if err := s.manifest.Save(s.cfg.ManifestPath); err != nil {
		return errResp(req.Kind, err)
	}
	return &protocol.Response{Kind: req.Kind, ManifestUpsert: &protocol.ManifestUpsertAck{}}
}

func (s *Server) handleManifestListDir(req *protocol.Envelope) *protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	children, err := s.manifest.ListDir(req.ManifestListDir.Path)
	if err != nil {
		return errResp(req.Kind, err)
	}
	return &protocol.Response{Kind: req.Kind, ManifestListDir: &protocol.ManifestListDirAck{Children: children}}
}

func (s *Server) handleManifestRemove(req *protocol.Envelope) *protocol.Response {
	r := req.ManifestRemove

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isProtectedLocked(r.Path, "") {
		return errResp(req.Kind, fmt.Errorf("immutable"))
	}
	if err := s.manifest.Remove(r.Path); err != nil {
		return errResp(req.Kind, err)
	}
	if err := s.manifest.Save(s.cfg.ManifestPath); err != nil {
		return errResp(req.Kind, err)
	}
	return &protocol.Response{Kind: req.Kind, ManifestRemove: &protocol.ManifestRemoveAck{}}
}

func (s *Server) handleManifestRename(req *protocol.Envelope) *protocol.Response {
	r := req.ManifestRename

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.manifest.Rename(r.OldPath, r.NewPath); err != nil {
		return errResp(req.Kind, err)
	}
	if err := s.manifest.Save(s.cfg.ManifestPath); err != nil {
		return errResp(req.Kind, err)
	}
	return &protocol.Response{Kind: req.Kind, ManifestRename: &protocol.ManifestRenameAck{}}
}

func (s *Server) handleManifestReingest(ctx context.Context, req *protocol.Envelope) *protocol.Response {
	r := req.ManifestReingest

	entry, err := s.journal.Begin(r.VirtualPath, r.StagingPath)
	if err != nil {
		return errResp(req.Kind, err)
	}

	digest, err := s.doReingest(ctx, entry.ID, r.VirtualPath, r.StagingPath)
	if err != nil {
		return errResp(req.Kind, err)
	}

	return &protocol.Response{Kind: req.Kind, ManifestReingest: &protocol.ManifestReingestAck{Digest: digest}}
}

// doReingest performs steps 2-5 of the ManifestReingest algorithm for an
// entry already Recorded in the journal (step 1 done by the caller).
func (s *Server) doReingest(ctx context.Context, journalID, virtualPath, stagingPath string) (cas.Digest, error) {
	_, span := startReingestSpan(ctx, virtualPath)
	defer span.End()

	fi, err := os.Stat(stagingPath)
	if err != nil {
		return "", err
	}

	f, err := os.Open(stagingPath)
	if err != nil {
		return "", err
	}
	digest, err := s.cas.PutReader(f)
	f.Close()
	if err != nil {
		return "", err
	}

	if err := s.journal.MarkCasStored(journalID, digest); err != nil {
		return "", err
	}

	if err := s.applyReingest(journalID, virtualPath, stagingPath, digest); err != nil {
		return "", err
	}
	_ = fi
	return digest, nil
}

// applyReingest performs steps 3-5 given a journal entry already in
// CasStored state: manifest upsert, journal drop, staging delete.
func (s *Server) applyReingest(journalID, virtualPath, stagingPath string, digest cas.Digest) error {
	fi, err := os.Stat(stagingPath)
	if err != nil {
		// The staging file may already be gone if this is a second
		// recovery pass after a crash between steps 4 and 5; the
		// manifest upsert below is still safe to attempt since
		// CAS.put is idempotent and the digest is already known.
		fi = nil
	}

	var size uint64
	var mtime uint64
	var mode uint32 = 0o644
	if fi != nil {
		size = uint64(fi.Size())
		mtime = uint64(fi.ModTime().Unix())
		mode = uint32(fi.Mode().Perm())
	}

	s.mu.Lock()
	err = s.manifest.Upsert(virtualPath, manifest.FileEntry(digest, size, mtime, mode))
	if err == nil {
		err = s.manifest.Save(s.cfg.ManifestPath)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.journal.MarkApplied(journalID); err != nil {
		return err
	}
	if err := s.journal.Complete(journalID); err != nil {
		return err
	}
	s.metrics.ReingestsTotal.Inc()

	os.Remove(stagingPath)
	return nil
}

func (s *Server) handleSpawn(req *protocol.Envelope) *protocol.Response {
	r := req.Spawn
	if len(r.Argv) == 0 {
		return errResp(req.Kind, fmt.Errorf("empty argv"))
	}

	cmd := exec.Command(r.Argv[0], r.Argv[1:]...)
	cmd.Dir = r.Cwd
	cmd.Env = append(append([]string{}, os.Environ()...), r.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return errResp(req.Kind, err)
	}
	go func() {
		_ = cmd.Wait()
	}()

	return &protocol.Response{Kind: req.Kind, Spawn: &protocol.SpawnAck{Pid: cmd.Process.Pid}}
}
