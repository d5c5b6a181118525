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

package phpembed

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"

	"github.com/nzsys/fe-php/fephttp"
	"github.com/nzsys/fe-php/fephttp/internal/cgienv"
	"github.com/nzsys/fe-php/fephttp/internal/cgiparse"
	"github.com/nzsys/fe-php/fephttp/internal/pathsafe"
)

// BackendConfig configures the embedded Backend (§4.8 Configuration).
type BackendConfig struct {
	DocumentRoot string
	IndexFiles   []string
	ServerName   string
	ServerPort   string
}

// Backend adapts a WorkerPool to fephttp.Backend (§4.9).
type Backend struct {
	pool *WorkerPool
	cfg  BackendConfig
}

// NewBackend builds a Backend over an already-started WorkerPool.
func NewBackend(pool *WorkerPool, cfg BackendConfig) *Backend {
	return &Backend{pool: pool, cfg: cfg}
}

// Close runs the worker pool's shutdown_once lifecycle (workers drain,
// then ModuleShutdown runs once), satisfying the Dispatcher's optional
// closer interface.
func (b *Backend) Close() error {
	b.pool.Stop()
	return nil
}

// Handle resolves the script path, builds server variables (reusing
// cgienv, the same set the FastCGI backend builds per §4.5), and submits
// a job to the worker pool (§4.8 steps 3-5).
func (b *Backend) Handle(ctx context.Context, req *fephttp.Request) (*fephttp.Response, error) {
	scriptFilename, scriptName, err := b.resolveScript(req.Path)
	if err != nil {
		return nil, classifyScriptError(err)
	}

	vars := cgienv.Build(req, cgienv.Params{
		DocumentRoot:   b.cfg.DocumentRoot,
		ScriptFilename: scriptFilename,
		ScriptName:     scriptName,
		ServerName:     b.cfg.ServerName,
		ServerPort:     b.cfg.ServerPort,
	})
	asParams := make([]cgienv.Var, len(vars))
	copy(asParams, vars)

	raw, err := b.pool.Submit(ctx, scriptFilename, asParams, req.Body)
	if err != nil {
		return nil, classifyPoolError(err)
	}
	return cgiparse.Parse(raw), nil
}

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
		return "", "", statErr
	}
	return resolved, candidate, nil
}

func classifyScriptError(err error) error {
	if err == pathsafe.ErrEscape {
		return fephttp.NewBackendError(fephttp.KindForbidden, err)
	}
	return fephttp.NewBackendError(fephttp.KindNotFound, err)
}

func classifyPoolError(err error) error {
	switch {
	case errors.Is(err, ErrRuntimeNotReady), errors.Is(err, ErrQueueFull):
		return fephttp.NewBackendError(fephttp.KindServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fephttp.NewBackendError(fephttp.KindGatewayTimeout, err)
	default:
		var execErr *ExecuteFailedError
		if errors.As(err, &execErr) {
			return fephttp.NewBackendError(fephttp.KindInternal, err)
		}
		return fephttp.NewBackendError(fephttp.KindInternal, err)
	}
}
