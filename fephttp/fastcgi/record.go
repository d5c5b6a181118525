// Copyright 2024 The fe-php Authors
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

// Package fastcgi implements the FastCGI 1.0 wire protocol, a pooled
// client with a three-state circuit breaker, and the Backend that drives
// a PHP-FPM upstream (§4.4-4.7). The record codec below is forked in
// shape (not in code) from caddy's caddyhttp/fastcgi client: same header
// layout, same maxWrite/padding scheme, adapted to a request/response
// model that reads a full record stream rather than an io.Reader wrapper.
package fastcgi

import (
	"encoding/binary"
	"errors"
	"io"
)

// Record types (§4.4).
const (
	TypeBeginRequest uint8 = iota + 1
	TypeAbortRequest
	TypeEndRequest
	TypeParams
	TypeStdin
	TypeStdout
	TypeStderr
	TypeData
	TypeGetValues
	TypeGetValuesResult
	TypeUnknownType
)

// Roles (§4.5: role is always RESPONDER for this client).
const (
	RoleResponder uint16 = 1
	RoleAuthorizer uint16 = 2
	RoleFilter     uint16 = 3
)

// BEGIN_REQUEST flags.
const FlagKeepConn uint8 = 1

// protocolStatus values carried in END_REQUEST.
const (
	StatusRequestComplete uint8 = iota
	StatusCantMultiplexConns
	StatusOverloaded
	StatusUnknownRole
)

const (
	version1 = 1
	// maxWrite is the largest content chunk that fits in one record,
	// leaving headroom under the 65535 content-length field.
	maxWrite = 65500
	maxPad   = 255
)

var zeroPad [maxPad]byte

// ErrBadVersion is returned when a record's version byte isn't 1.
var ErrBadVersion = errors.New("fastcgi: invalid record version")

// Header is the 8-byte record header (§4.4).
type Header struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

// paddingFor returns the padding length that rounds contentLength up to a
// multiple of 8, matching caddy's "pad to the next word" behavior.
func paddingFor(contentLength int) uint8 {
	return uint8(-contentLength & 7)
}

// EncodeRecord writes one record (header + content + padding) to w.
// content must be at most maxWrite bytes; callers split longer streams
// into multiple records themselves (§4.4: "Content > 65535 bytes is
// split across multiple records").
func EncodeRecord(w io.Writer, recType uint8, requestID uint16, content []byte) error {
	if len(content) > maxWrite {
		return errors.New("fastcgi: record content exceeds maxWrite")
	}
	h := Header{
		Version:       version1,
		Type:          recType,
		RequestID:     requestID,
		ContentLength: uint16(len(content)),
		PaddingLength: paddingFor(len(content)),
	}
	if err := binary.Write(w, binary.BigEndian, h); err != nil {
		return err
	}
	if len(content) > 0 {
		if _, err := w.Write(content); err != nil {
			return err
		}
	}
	if h.PaddingLength > 0 {
		if _, err := w.Write(zeroPad[:h.PaddingLength]); err != nil {
			return err
		}
	}
	return nil
}

// EncodeStream splits content across as many records of recType as
// needed (each at most maxWrite bytes) and writes a final zero-content
// record to terminate the stream, per §4.4's "a zero-content record
// terminates params/stdin" rule.
func EncodeStream(w io.Writer, recType uint8, requestID uint16, content []byte) error {
	for len(content) > 0 {
		n := len(content)
		if n > maxWrite {
			n = maxWrite
		}
		if err := EncodeRecord(w, recType, requestID, content[:n]); err != nil {
			return err
		}
		content = content[n:]
	}
	return EncodeRecord(w, recType, requestID, nil)
}

// DecodeHeader reads and validates one record header from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return h, err
	}
	if h.Version != version1 {
		return h, ErrBadVersion
	}
	return h, nil
}

// DecodeRecord reads one full record (header, content, padding) from r
// and returns the header and content (padding discarded).
func DecodeRecord(r io.Reader) (Header, []byte, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return h, nil, err
	}
	buf := make([]byte, int(h.ContentLength)+int(h.PaddingLength))
	if _, err := io.ReadFull(r, buf); err != nil {
		return h, nil, err
	}
	return h, buf[:h.ContentLength], nil
}

// EncodeBeginRequest builds the content of a BEGIN_REQUEST record: role
// (u16 BE), flags (u8), 5 reserved zero bytes (§4.4).
func EncodeBeginRequest(role uint16, flags uint8) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], role)
	b[2] = flags
	return b
}

// EndRequest is the parsed content of an END_REQUEST record.
type EndRequest struct {
	AppStatus      uint32
	ProtocolStatus uint8
}

// DecodeEndRequest parses an END_REQUEST record's content (§4.4).
func DecodeEndRequest(content []byte) (EndRequest, error) {
	if len(content) < 8 {
		return EndRequest{}, errors.New("fastcgi: short END_REQUEST content")
	}
	return EndRequest{
		AppStatus:      binary.BigEndian.Uint32(content[0:4]),
		ProtocolStatus: content[4],
	}, nil
}

// EncodeEndRequest is the inverse of DecodeEndRequest, used by tests to
// round-trip the codec (§8 property 5).
func EncodeEndRequest(appStatus uint32, protocolStatus uint8) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], appStatus)
	b[4] = protocolStatus
	return b
}
