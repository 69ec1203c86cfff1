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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velo-rift/vrift/clock"
	"github.com/velo-rift/vrift/internal/manifest"
	"github.com/velo-rift/vrift/internal/protocol"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		SocketPath:        filepath.Join(dir, "vrift.sock"),
		CasRoot:           filepath.Join(dir, "the_source"),
		ManifestPath:      filepath.Join(dir, "manifest.gob"),
		CatalogPath:       filepath.Join(dir, "catalog.mmap"),
		RepublishInterval: 20 * time.Millisecond,
		JournalTTL:        time.Hour,
	}

	s, err := New(cfg, clock.RealClock{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		s.Close()
		<-done
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.SocketPath)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	return s, cfg.SocketPath
}

func dial(t *testing.T, socketPath string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req *protocol.Envelope) *protocol.Response {
	t.Helper()
	require.NoError(t, protocol.WriteEnvelope(conn, req))
	resp, err := protocol.ReadResponse(conn)
	require.NoError(t, err)
	return resp
}

func TestServer_HandshakeAndStatus(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)

	resp := roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindHandshake, Handshake: &protocol.HandshakeRequest{ClientVersion: 1}})
	require.False(t, resp.IsError())
	require.NotNil(t, resp.Handshake)
	assert.EqualValues(t, 1, resp.Handshake.ServerVersion)

	resp = roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindStatus, Status: &protocol.StatusRequest{}})
	require.False(t, resp.IsError())
	require.NotNil(t, resp.Status)
	assert.EqualValues(t, 0, resp.Status.BlobCount)
}

// Two requests on one connection are served in order and the
// ManifestUpsert ack is observable by the very next ManifestGet on the
// same connection.
func TestServer_UpsertThenGetOnSameConnectionIsImmediatelyVisible(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)

	entry := manifest.FileEntry("deadbeef", 2, 100, 0o644)
	resp := roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindManifestUpsert, ManifestUpsert: &protocol.ManifestUpsertRequest{
		Path: "/vrift/hi.txt", Entry: entry,
	}})
	require.False(t, resp.IsError(), resp.Err)

	resp = roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindManifestGet, ManifestGet: &protocol.ManifestGetRequest{Path: "/vrift/hi.txt"}})
	require.False(t, resp.IsError())
	require.True(t, resp.ManifestGet.Found)
	assert.EqualValues(t, 2, resp.ManifestGet.Entry.Size)
}

// Scenario 3 ("Write-through a virtual file") exercised at the daemon
// level: a ManifestReingest against a staging file ends with the CAS
// blob present, the manifest pointing at its digest, and the staging
// file removed.
func TestServer_ManifestReingestWritesThroughToCasAndManifest(t *testing.T) {
	s, sock := startTestServer(t)
	conn := dial(t, sock)

	stagingDir := t.TempDir()
	stagingPath := filepath.Join(stagingDir, "staged")
	require.NoError(t, os.WriteFile(stagingPath, []byte("hi"), 0o644))

	resp := roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindManifestReingest, ManifestReingest: &protocol.ManifestReingestRequest{
		VirtualPath: "/vrift/hi.txt", StagingPath: stagingPath,
	}})
	require.False(t, resp.IsError(), resp.Err)
	require.NotNil(t, resp.ManifestReingest)

	has, err := s.cas.Has(resp.ManifestReingest.Digest)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = os.Stat(stagingPath)
	assert.True(t, os.IsNotExist(err), "staging file should be removed after reingest")

	getResp := roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindManifestGet, ManifestGet: &protocol.ManifestGetRequest{Path: "/vrift/hi.txt"}})
	require.True(t, getResp.ManifestGet.Found)
	assert.EqualValues(t, 2, getResp.ManifestGet.Entry.Size)
	assert.Equal(t, resp.ManifestReingest.Digest, getResp.ManifestGet.Entry.Digest)
}

func TestServer_ProtectRejectsSubsequentRemove(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)

	roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindManifestUpsert, ManifestUpsert: &protocol.ManifestUpsertRequest{
		Path: "/vrift/locked.txt", Entry: manifest.FileEntry("deadbeef", 1, 1, 0o644),
	}})

	resp := roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindProtect, Protect: &protocol.ProtectRequest{
		Path: "/vrift/locked.txt", Immutable: true,
	}})
	require.False(t, resp.IsError())

	resp = roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindManifestRemove, ManifestRemove: &protocol.ManifestRemoveRequest{
		Path: "/vrift/locked.txt",
	}})
	assert.True(t, resp.IsError())
	assert.Contains(t, resp.Err, "immutable")
}

func TestServer_CatalogRepublishesInBackground(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)

	roundTrip(t, conn, &protocol.Envelope{Kind: protocol.KindManifestUpsert, ManifestUpsert: &protocol.ManifestUpsertRequest{
		Path: "/vrift/hi.txt", Entry: manifest.FileEntry("deadbeef", 2, 1, 0o644),
	}})

	catalogPath := filepath.Join(filepath.Dir(sock), "catalog.mmap")
	require.Eventually(t, func() bool {
		fi, err := os.Stat(catalogPath)
		return err == nil && fi.Size() > 0
	}, time.Second, 10*time.Millisecond)
}

func TestServer_RejectsUnknownRequestKind(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)

	resp := roundTrip(t, conn, &protocol.Envelope{Kind: protocol.RequestKind(200)})
	assert.True(t, resp.IsError())
	assert.Contains(t, resp.Err, fmt.Sprintf("%d", 200))
}
