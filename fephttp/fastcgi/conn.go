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

package fastcgi

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"
)

var errBadGetValuesReply = errors.New("fastcgi: expected GET_VALUES_RESULT")

// requestID is fixed at 1: this client never multiplexes more than one
// request per connection (§4.5 wire sequence), matching the
// single-in-flight-request model the pool hands out connections under.
const requestID uint16 = 1

// Conn is one pooled FastCGI connection. It carries its own age/use
// bookkeeping so the Pool can apply max_idle_secs/max_lifetime_secs/retire
// thresholds without a separate side table (§4.6).
type Conn struct {
	nc         net.Conn
	createdAt  time.Time
	lastUsedAt time.Time
	requests   int
	sent       bool // BEGIN_REQUEST/PARAMS/STDIN already written this Do call
}

// dial opens a new connection with connectTimeout, grounded on caddy's
// DialContext (net.Dialer.DialContext against a parsed network/address).
func dial(network, address string, connectTimeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: connectTimeout}
	nc, err := d.Dial(network, address)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Conn{nc: nc, createdAt: now, lastUsedAt: now}, nil
}

func (c *Conn) age() time.Duration    { return time.Since(c.createdAt) }
func (c *Conn) idleFor() time.Duration { return time.Since(c.lastUsedAt) }

// Close closes the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Result is what one FastCGI request/response cycle produced.
type Result struct {
	Stdout []byte
	Stderr []byte
	End    EndRequest
}

// Do performs one full request/response cycle on c: BEGIN_REQUEST, PARAMS
// (terminated), STDIN (terminated), then reads records until END_REQUEST
// (§4.4 "Wire sequence"). readTimeout bounds the whole read phase.
func (c *Conn) Do(params []Param, stdin []byte, keepConn bool, readTimeout time.Duration) (*Result, error) {
	var flags uint8
	if keepConn {
		flags = FlagKeepConn
	}

	c.sent = true
	if err := EncodeRecord(c.nc, TypeBeginRequest, requestID, EncodeBeginRequest(RoleResponder, flags)); err != nil {
		return nil, err
	}
	if err := EncodeStream(c.nc, TypeParams, requestID, EncodeParams(params)); err != nil {
		return nil, err
	}
	if err := EncodeStream(c.nc, TypeStdin, requestID, stdin); err != nil {
		return nil, err
	}

	if readTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, err
		}
		defer c.nc.SetReadDeadline(time.Time{})
	}

	var stdout, stderr bytes.Buffer
	for {
		h, content, err := DecodeRecord(c.nc)
		if err != nil {
			return nil, err
		}
		switch h.Type {
		case TypeStdout:
			stdout.Write(content)
		case TypeStderr:
			stderr.Write(content)
		case TypeEndRequest:
			end, err := DecodeEndRequest(content)
			if err != nil {
				return nil, err
			}
			c.requests++
			c.lastUsedAt = time.Now()
			c.sent = false
			return &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), End: end}, nil
		default:
			// GET_VALUES_RESULT, UNKNOWN_TYPE and anything else observed
			// mid-response is ignored; only STDOUT/STDERR/END_REQUEST can
			// occur in the responder role's reply (§4.4).
		}
	}
}

// Abort sends an ABORT_REQUEST best-effort on a connection whose request
// was already sent but whose caller gave up (§5 Cancellation: "send
// ABORT_REQUEST best-effort ... then retire that connection"). Any error
// is not actionable since the connection is about to be closed anyway.
func (c *Conn) Abort() {
	if !c.sent {
		return
	}
	_ = EncodeRecord(c.nc, TypeAbortRequest, requestID, nil)
}

// GetValues sends a GET_VALUES probe and returns the responder's answer,
// used by the pool as a lightweight health check (an addition beyond
// what a bare request/response cycle needs, since a FastCGI responder is
// required to answer GET_VALUES even without a full request).
func (c *Conn) GetValues(names []string) ([]Param, error) {
	pairs := make([]Param, len(names))
	for i, n := range names {
		pairs[i] = Param{Name: n}
	}
	if err := EncodeRecord(c.nc, TypeGetValues, 0, EncodeParams(pairs)); err != nil {
		return nil, err
	}
	h, content, err := DecodeRecord(c.nc)
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, err
	}
	if h.Type != TypeGetValuesResult {
		return nil, errBadGetValuesReply
	}
	return DecodeParams(content)
}
