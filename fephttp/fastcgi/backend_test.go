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
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzsys/fe-php/fephttp"
)

// fakeFPM speaks just enough of the responder role to drive Backend.Handle
// end to end: read BEGIN_REQUEST, drain PARAMS and STDIN to their
// terminators, call respond for the stdout payload, then write it back
// followed by END_REQUEST.
func fakeFPM(t *testing.T, respond func(params []Param, stdin []byte) []byte) (network, address string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOneFakeRequest(c, respond)
		}
	}()
	return "tcp", ln.Addr().String()
}

func serveOneFakeRequest(c net.Conn, respond func(params []Param, stdin []byte) []byte) {
	defer c.Close()

	if _, _, err := DecodeRecord(c); err != nil { // BEGIN_REQUEST
		return
	}

	var paramBytes []byte
	for {
		h, content, err := DecodeRecord(c)
		if err != nil || h.Type != TypeParams {
			return
		}
		if len(content) == 0 {
			break
		}
		paramBytes = append(paramBytes, content...)
	}
	params, err := DecodeParams(paramBytes)
	if err != nil {
		return
	}

	var stdin []byte
	for {
		h, content, err := DecodeRecord(c)
		if err != nil || h.Type != TypeStdin {
			return
		}
		if len(content) == 0 {
			break
		}
		stdin = append(stdin, content...)
	}

	out := respond(params, stdin)
	_ = EncodeRecord(c, TypeStdout, requestID, out)
	_ = EncodeRecord(c, TypeStdout, requestID, nil)
	_ = EncodeRecord(c, TypeEndRequest, requestID, EncodeEndRequest(0, StatusRequestComplete))
}

func newTestBackend(t *testing.T, network, address string, docRoot string) *Backend {
	pool := NewPool(network, address, Config{
		MaxSize:        4,
		ConnectTimeout: time.Second,
		AcquireTimeout: time.Second,
	}, nil)
	return NewBackend(pool, BackendConfig{
		DocumentRoot: docRoot,
		IndexFiles:   []string{"index.php"},
		ServerName:   "localhost",
		ServerPort:   "80",
		ReadTimeout:  time.Second,
	})
}

func TestBackendHandleParsesCGIResponse(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.php"), []byte("<?php ?>"), 0o644))

	network, address := fakeFPM(t, func(params []Param, stdin []byte) []byte {
		return []byte("Status: 201 Created\r\nContent-Type: text/plain\r\n\r\nhello")
	})
	b := newTestBackend(t, network, address, dir)

	resp, err := b.Handle(context.Background(), &fephttp.Request{Method: "GET", Path: "/index.php"})
	require.NoError(t, err)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, []byte("hello"), resp.Body)
	ct, ok := resp.Headers.Get("Content-Type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", ct)
}

func TestBackendHandleDefaultsStatusAndContentType(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.php"), []byte("<?php ?>"), 0o644))

	network, address := fakeFPM(t, func(params []Param, stdin []byte) []byte {
		return []byte("\r\nno headers here")
	})
	b := newTestBackend(t, network, address, dir)

	resp, err := b.Handle(context.Background(), &fephttp.Request{Method: "GET", Path: "/index.php"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	ct, _ := resp.Headers.Get("Content-Type")
	assert.Equal(t, "text/html; charset=UTF-8", ct)
}

func TestBackendHandleForwardsHeadersAsHTTPVars(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.php"), []byte("<?php ?>"), 0o644))

	var seen string
	network, address := fakeFPM(t, func(params []Param, stdin []byte) []byte {
		for _, p := range params {
			if p.Name == "HTTP_X_FOO" {
				seen = p.Value
			}
		}
		return []byte("\r\nok")
	})
	b := newTestBackend(t, network, address, dir)

	req := &fephttp.Request{
		Method:  "GET",
		Path:    "/index.php",
		Headers: fephttp.Headers{{Name: "X-Foo", Value: "bar"}},
	}
	_, err := b.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "bar", seen)
}

func TestBackendHandlePathEscapeIsForbidden(t *testing.T) {
	dir := t.TempDir()
	network, address := fakeFPM(t, func(params []Param, stdin []byte) []byte { return []byte("\r\nok") })
	b := newTestBackend(t, network, address, dir)

	_, err := b.Handle(context.Background(), &fephttp.Request{Method: "GET", Path: "/../../etc/passwd"})
	require.Error(t, err)
	var be fephttp.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, fephttp.KindForbidden, be.Kind)
}

func TestBackendHandleMissingScriptIsNotFound(t *testing.T) {
	dir := t.TempDir()
	network, address := fakeFPM(t, func(params []Param, stdin []byte) []byte { return []byte("\r\nok") })
	b := newTestBackend(t, network, address, dir)

	_, err := b.Handle(context.Background(), &fephttp.Request{Method: "GET", Path: "/missing/deep/path.php"})
	require.Error(t, err)
	var be fephttp.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, fephttp.KindNotFound, be.Kind)
}
