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

package main

import (
	"errors"
	"net"

	"github.com/velo-rift/vrift/internal/protocol"
)

// cliClient is a thin, unexported round-tripper over the daemon socket for
// the CLI's own one-shot subcommands (ingest, status). It deliberately
// does not reuse internal/interposer.Client: that interface is gated by
// the engine's unexported rawIPC capability token on purpose, and the CLI
// talking to the daemon is a different, unrestricted caller.
type cliClient struct {
	conn net.Conn
}

func dialDaemon(path string) (*cliClient, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, errors.New("vrift: daemon unreachable at " + path + ": " + err.Error())
	}
	return &cliClient{conn: conn}, nil
}

func (c *cliClient) roundTrip(req *protocol.Envelope) (*protocol.Response, error) {
	if err := protocol.WriteEnvelope(c.conn, req); err != nil {
		return nil, err
	}
	return protocol.ReadResponse(c.conn)
}

func (c *cliClient) Close() error {
	return c.conn.Close()
}
