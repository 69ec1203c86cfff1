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

package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/velo-rift/vrift/internal/errs"
)

// maxFrameBytes bounds a single frame so a corrupt or malicious length
// prefix can't make a reader allocate unbounded memory; generous enough
// for any CasGet response carrying a full blob's bytes inline.
const maxFrameBytes = 256 * 1024 * 1024

// WriteEnvelope frames and writes a request Envelope.
func WriteEnvelope(w io.Writer, e *Envelope) error {
	return writeFramed(w, e)
}

// ReadEnvelope reads and decodes one framed request Envelope.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var e Envelope
	if err := readFramed(r, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// WriteResponse frames and writes a Response.
func WriteResponse(w io.Writer, resp *Response) error {
	return writeFramed(w, resp)
}

// ReadResponse reads and decodes one framed Response.
func ReadResponse(r io.Reader) (*Response, error) {
	var resp Response
	if err := readFramed(r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func writeFramed(w io.Writer, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return errs.New(errs.Protocol, "protocol.write", "", err)
	}

	if buf.Len() > maxFrameBytes {
		return errs.New(errs.Protocol, "protocol.write", "", fmt.Errorf("frame of %d bytes exceeds limit %d", buf.Len(), maxFrameBytes))
	}

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return errs.New(errs.Io, "protocol.write", "", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errs.New(errs.Io, "protocol.write", "", err)
	}
	return nil
}

func readFramed(r io.Reader, v interface{}) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		if err == io.EOF {
			return err
		}
		return errs.New(errs.Io, "protocol.read", "", err)
	}

	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n > maxFrameBytes {
		return errs.New(errs.Protocol, "protocol.read", "", fmt.Errorf("frame of %d bytes exceeds limit %d", n, maxFrameBytes))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return errs.New(errs.Io, "protocol.read", "", err)
	}

	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return errs.New(errs.Protocol, "protocol.read", "", err)
	}
	return nil
}
