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
	"path"
	"strings"
	"time"

	"github.com/nzsys/fe-php/fephttp"
	"github.com/nzsys/fe-php/fephttp/internal/cgienv"
	"github.com/nzsys/fe-php/fephttp/internal/cgiparse"
	"github.com/nzsys/fe-php/fephttp/internal/pathsafe"
)

// BackendConfig configures the FastCGI Backend (§4.5, §6).
type BackendConfig struct {
	DocumentRoot string
	IndexFiles   []string
	ServerName   string
	ServerPort   string
	ReadTimeout  time.Duration
	KeepConn     bool
}

// Backend dispatches a Request to a pooled PHP-FPM upstream, implementing
// fephttp.Backend (§4.9).
type Backend struct {
	pool *Pool
	cfg  BackendConfig
}

// NewBackend builds a Backend over an already-constructed Pool.
func NewBackend(pool *Pool, cfg BackendConfig) *Backend {
	return &Backend{pool: pool, cfg: cfg}
}

// Close closes the pool's idle connections, satisfying the Dispatcher's
// optional closer interface.
func (b *Backend) Close() error {
	return b.pool.Close()
}

// Handle implements §4.5's request execution.
func (b *Backend) Handle(ctx context.Context, req *fephttp.Request) (*fephttp.Response, error) {
	scriptFilename, scriptName, err := b.resolveScript(req.Path)
	if err != nil {
		return nil, classifyScriptError(err)
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, classifyPoolError(err)
	}

	params := b.buildParams(req, scriptFilename, scriptName)
	result, doErr := b.doWithAbortOnCancel(ctx, conn, params, req.Body)

	if doErr != nil {
		if ctx.Err() != nil && doErr == ctx.Err() {
			// doWithAbortOnCancel already aborted and retired conn.
			return nil, fephttp.NewBackendError(fephttp.KindGatewayTimeout, doErr)
		}
		// The connection is unusable after a failed wire exchange; retire
		// it rather than returning it to the idle queue (§4.6 release Err).
		b.pool.Release(conn, doErr)
		if ctx.Err() != nil {
			return nil, fephttp.NewBackendError(fephttp.KindGatewayTimeout, ctx.Err())
		}
		if netErr, ok := doErr.(net.Error); ok && netErr.Timeout() {
			return nil, fephttp.NewBackendError(fephttp.KindGatewayTimeout, doErr)
		}
		return nil, fephttp.NewBackendError(fephttp.KindBadGateway, doErr)
	}

	b.pool.Release(conn, nil)

	resp := cgiparse.Parse(result.Stdout)
	return resp, nil
}

// doWithAbortOnCancel runs conn.Do on a goroutine so that ctx cancellation
// can send ABORT_REQUEST and return promptly, per §5 Cancellation: "send
// ABORT_REQUEST best-effort on the still-acquired connection ... do not
// return it to the pool."
func (b *Backend) doWithAbortOnCancel(ctx context.Context, conn *Conn, params []Param, stdin []byte) (*Result, error) {
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := conn.Do(params, stdin, b.cfg.KeepConn, b.cfg.ReadTimeout)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		conn.Abort()
		b.pool.Retire(conn)
		// Drain the goroutine so it doesn't leak; its result is discarded.
		go func() { <-done }()
		return nil, ctx.Err()
	}
}

// resolveScript implements §4.5's "Script selection" against document_root.
func (b *Backend) resolveScript(urlPath string) (scriptFilename, scriptName string, err error) {
	candidate := urlPath
	if strings.HasSuffix(candidate, "/") && len(b.cfg.IndexFiles) > 0 {
		candidate = path.Join(candidate, b.cfg.IndexFiles[0])
	}

	resolved, err := pathsafe.Resolve(b.cfg.DocumentRoot, candidate)
	if err != nil {
		return "", "", err
	}

	if _, statErr := os.Stat(resolved); statErr != nil {
		parent := path.Dir(candidate)
		parentResolved, perr := pathsafe.Resolve(b.cfg.DocumentRoot, parent)
		if perr != nil {
			return "", "", statErr
		}
		if _, perr := os.Stat(parentResolved); perr != nil {
			return "", "", statErr
		}
		// parent exists, file doesn't: fall back to the path unchanged and
		// let PHP-FPM 404 it (§4.5).
	}

	return resolved, candidate, nil
}

func (b *Backend) buildParams(req *fephttp.Request, scriptFilename, scriptName string) []Param {
	vars := cgienv.Build(req, cgienv.Params{
		DocumentRoot:   b.cfg.DocumentRoot,
		ScriptFilename: scriptFilename,
		ScriptName:     scriptName,
		ServerName:     b.cfg.ServerName,
		ServerPort:     b.cfg.ServerPort,
	})
	params := make([]Param, len(vars))
	for i, v := range vars {
		params[i] = Param{Name: v.Name, Value: v.Value}
	}
	return params
}

func classifyPoolError(err error) error {
	switch err {
	case ErrAcquireTimeout, ErrConnectFailed:
		return fephttp.NewBackendError(fephttp.KindGatewayTimeout, err)
	case ErrCircuitOpen, ErrPoolClosed:
		return fephttp.NewBackendError(fephttp.KindServiceUnavailable, err)
	default:
		return fephttp.NewBackendError(fephttp.KindBadGateway, err)
	}
}

func classifyScriptError(err error) error {
	if err == pathsafe.ErrEscape {
		return fephttp.NewBackendError(fephttp.KindForbidden, err)
	}
	return fephttp.NewBackendError(fephttp.KindNotFound, err)
}
