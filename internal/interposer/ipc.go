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
	"errors"
	"net"
	"sync"

	"github.com/velo-rift/vrift/internal/protocol"
)

// rawIPC is a zero-sized capability token. It is unexported and the only
// way to produce one is newRawIPC below, so code outside this package —
// in particular cmd/vrift-shim, which is the only caller that could ever
// be tempted to open the daemon socket directly from a libc-adjacent
// context — has no way to construct one and must go through the engine's
// exported methods instead. Functions that are allowed to perform IPC
// take a rawIPC parameter.
type rawIPC struct{}

func newRawIPC() rawIPC { return rawIPC{} }

// ErrDaemonUnavailable is returned by Client methods when the daemon
// socket cannot be reached at all (not listening, or the dial itself
// failed), distinct from the daemon being reachable but returning an
// Error response.
var ErrDaemonUnavailable = errors.New("interposer: daemon unavailable")

// Client is the engine's view of the daemon connection: one round trip
// per call, matching the spec's single-synchronous-round-trip contract
// for every operation that cannot be served from the mmap catalog.
// Defined as an interface so tests can substitute a fake without a real
// socket.
type Client interface {
	RoundTrip(_ rawIPC, req *protocol.Envelope) (*protocol.Response, error)
}

// DaemonClient is the real Client, holding one persistent connection to
// the daemon's Unix socket. Requests are serialized with a mutex because
// the daemon itself serializes requests on a connection strictly in
// order and a second caller's request must not be interleaved with a
// first caller's still-unread response.
type DaemonClient struct {
	mu   sync.Mutex
	conn net.Conn
}

// DialDaemon connects to the daemon's socket at path.
func DialDaemon(path string) (*DaemonClient, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, ErrDaemonUnavailable
	}
	return &DaemonClient{conn: conn}, nil
}

// RoundTrip sends req and waits for the matching response.
func (c *DaemonClient) RoundTrip(_ rawIPC, req *protocol.Envelope) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrDaemonUnavailable
	}
	if err := protocol.WriteEnvelope(c.conn, req); err != nil {
		return nil, ErrDaemonUnavailable
	}
	resp, err := protocol.ReadResponse(c.conn)
	if err != nil {
		return nil, ErrDaemonUnavailable
	}
	return resp, nil
}

// Close releases the underlying connection.
func (c *DaemonClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
