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

// Package fileserver implements the Static Backend (§4.3): safe path
// resolution under a configured root, conditional GET via ETag/
// Last-Modified, and single-range Range requests. It is pure I/O -- no
// internal concurrency of its own, unlike the FastCGI and embedded
// backends (§5).
package fileserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nzsys/fe-php/fephttp"
	"github.com/nzsys/fe-php/fephttp/internal/pathsafe"
)

// Config configures the Backend (§6 backend.static_files).
type Config struct {
	Root       string
	IndexFiles []string
}

// Backend serves files under Config.Root, implementing fephttp.Backend
// (§4.9).
type Backend struct {
	cfg Config
	log *zap.Logger
}

// NewBackend builds a Backend. A nil logger is replaced with a no-op one,
// matching the convention every other component in this module follows.
func NewBackend(cfg Config, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{cfg: cfg, log: log}
}

// Handle implements §4.3's path resolution, response construction,
// conditional-request, and Range rules, in that order.
func (b *Backend) Handle(ctx context.Context, req *fephttp.Request) (*fephttp.Response, error) {
	resolved, err := b.resolve(req.Path)
	if err != nil {
		if err == pathsafe.ErrEscape {
			return nil, fephttp.NewBackendError(fephttp.KindForbidden, err)
		}
		return nil, fephttp.NewBackendError(fephttp.KindNotFound, err)
	}

	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fephttp.NewBackendError(fephttp.KindNotFound, err)
		}
		return nil, fephttp.NewBackendError(fephttp.KindInternal, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fephttp.NewBackendError(fephttp.KindInternal, err)
	}

	etag := ComputeETag(info.ModTime(), info.Size())

	if notModified(req, etag, info.ModTime()) {
		resp := fephttp.NewResponse(304)
		resp.SetHeader("ETag", etag)
		resp.SetHeader("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
		return resp, nil
	}

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fephttp.NewBackendError(fephttp.KindInternal, err)
	}

	resp := fephttp.NewResponse(200)
	resp.SetHeader("Content-Type", ContentType(resolved))
	resp.SetHeader("ETag", etag)
	resp.SetHeader("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	resp.SetHeader("Accept-Ranges", "bytes")
	if cc := CacheControl(resolved); cc != "" {
		resp.SetHeader("Cache-Control", cc)
	}

	if rangeHeader, ok := req.Header("Range"); ok {
		rr := parseRange(rangeHeader, info.Size())
		if rr.Applicable {
			if !rr.Satisfiable {
				resp.Status = 416
				resp.SetHeader("Content-Range", fmt.Sprintf("bytes */%d", info.Size()))
				resp.Body = nil
				resp.Headers = trimBodyHeaders(resp.Headers)
				return resp, nil
			}
			resp.Status = 206
			resp.SetHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rr.Range.Start, rr.Range.End, info.Size()))
			resp.Body = body[rr.Range.Start : rr.Range.End+1]
			resp.SetHeader("Content-Length", strconv.Itoa(len(resp.Body)))
			return resp, nil
		}
	}

	resp.Body = body
	resp.SetHeader("Content-Length", strconv.Itoa(len(body)))
	return resp, nil
}

// resolve implements §4.3 steps 1-5: safe-path-resolve urlPath under
// Root, and if the result is a directory, try each IndexFiles entry in
// order.
func (b *Backend) resolve(urlPath string) (string, error) {
	resolved, err := pathsafe.Resolve(b.cfg.Root, urlPath)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return resolved, nil
	}

	for _, idx := range b.cfg.IndexFiles {
		candidate := filepath.Join(resolved, idx)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}

// notModified implements §4.3's conditional-request rules: If-None-Match
// takes priority over If-Modified-Since, per HTTP semantics and caddy's
// own fileserver.
func notModified(req *fephttp.Request, etag string, mtime time.Time) bool {
	if inm, ok := req.Header("If-None-Match"); ok {
		for _, candidate := range strings.Split(inm, ",") {
			if strings.TrimSpace(candidate) == etag {
				return true
			}
		}
		return false
	}
	if ims, ok := req.Header("If-Modified-Since"); ok {
		t, err := http.ParseTime(ims)
		if err == nil && !mtime.Truncate(time.Second).After(t) {
			return true
		}
	}
	return false
}

// trimBodyHeaders drops Content-Length/Content-Type/Cache-Control/
// Accept-Ranges from a 416 response, which keeps Content-Range and the
// ETag/Last-Modified validators but no representation of the
// (unsatisfiable) body.
func trimBodyHeaders(h fephttp.Headers) fephttp.Headers {
	var out fephttp.Headers
	for _, kv := range h {
		switch strings.ToLower(kv.Name) {
		case "content-length", "content-type", "cache-control", "accept-ranges":
			continue
		}
		out = append(out, kv)
	}
	return out
}
