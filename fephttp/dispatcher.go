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

package fephttp

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Resolver is satisfied by fephttp/router.Router. It is declared here,
// rather than importing the router package, so that fephttp stays the
// dependency-free leaf package and router depends on it instead (avoiding
// an import cycle) -- the same separation caddy keeps between its
// composable fileserver.MatchFile (matcher) and the httpserver that uses it.
type Resolver interface {
	Resolve(path string) BackendID
}

// Dispatcher is the single entry point described in §4.2: it consults the
// Router for a backend id and calls that backend's Handle. It never
// retries, and never retries across backends -- doing so would mask
// configuration mistakes (§4.2).
type Dispatcher struct {
	router   Resolver
	backends map[BackendID]Backend
	log      *zap.Logger
}

// NewDispatcher builds a Dispatcher from a Resolver and the concrete
// backend implementations it will call into. Every BackendID the resolver
// can produce must have an entry in backends, or Dispatch returns
// KindInternal for that request; this is a wiring bug, not a runtime
// condition, so it is logged at Error.
func NewDispatcher(router Resolver, backends map[BackendID]Backend, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{router: router, backends: backends, log: log}
}

// Dispatch resolves req.Path to a backend and calls it. Errors from the
// backend are normalized to BackendError so callers always get a concrete
// status to write back.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	id := d.router.Resolve(req.Path)

	logger := d.log.With(
		zap.String("backend_id", string(id)),
		zap.String("path", req.Path),
		zap.String("remote_addr", req.RemoteAddr),
	)

	backend, ok := d.backends[id]
	if !ok {
		err := NewBackendError(KindInternal, fmt.Errorf("no backend wired for id %q", id))
		logger.Error("dispatch failed: unknown backend", zap.Error(err))
		return nil, err
	}

	resp, err := backend.Handle(ctx, req)
	if err != nil {
		be := NewBackendError(KindInternal, err)
		logger.Error("backend returned error", zap.Error(be), zap.Int("status", be.Status()))
		return nil, be
	}

	logger.Debug("dispatched", zap.Int("status", resp.Status))
	return resp, nil
}

// closer is satisfied by any backend that owns a resource needing a
// graceful teardown (the FastCGI pool's idle connections, the embedded
// worker pool's process-wide PHP state). Static has nothing to close and
// simply doesn't implement it.
type closer interface {
	Close() error
}

// Close tears down every wired backend that has state to release,
// mirroring caddy's App.Stop() contract (each App/module closes its own
// resources; the host just calls Stop on all of them) even though the
// module-graph machinery itself is out of scope here. Errors from
// individual backends are logged, not aggregated, since a partial
// shutdown failure shouldn't block the others from closing.
func (d *Dispatcher) Close(ctx context.Context) error {
	for id, backend := range d.backends {
		c, ok := backend.(closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			d.log.Error("backend close failed", zap.String("backend_id", string(id)), zap.Error(err))
		}
	}
	return ctx.Err()
}
