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

// Package phpembed runs PHP scripts in-process on a fixed pool of OS
// threads, avoiding the fork-per-request cost of a FastCGI upstream
// (§4.8). The PHP runtime itself is reached through the Engine interface
// so the pool's lifecycle and job-dispatch logic can be exercised without
// a cgo toolchain or libphp present; engine_cgo.go supplies the real
// dlopen-based bridge when built with cgo, engine_stub.go reports
// ErrRuntimeUnavailable otherwise.
package phpembed

import (
	"errors"

	"github.com/nzsys/fe-php/fephttp/internal/cgienv"
)

// ErrRuntimeUnavailable is returned by the non-cgo Engine stub, and by the
// cgo Engine if libphp cannot be loaded.
var ErrRuntimeUnavailable = errors.New("phpembed: PHP runtime unavailable")

// Engine is the process-wide PHP runtime facade (§4.8). Exactly one
// Engine backs a WorkerPool; ModuleStartup/ModuleShutdown are called once
// each across the pool's whole lifetime, never re-entered.
type Engine interface {
	// ModuleStartup loads the PHP shared library and runs its one-time
	// module initialization. libraryPath is the configured php.library_path.
	ModuleStartup(libraryPath string) error

	// ModuleShutdown runs the PHP module's one-time teardown. The library
	// itself is not unloaded (§4.8: "the library is not unloaded").
	ModuleShutdown()

	// ThreadInit performs per-worker-thread SAPI initialization. Called
	// once per worker before it processes any job; must not invoke
	// ModuleStartup semantics.
	ThreadInit() error

	// ThreadShutdown releases whatever ThreadInit acquired.
	ThreadShutdown()

	// Execute runs scriptFilename with vars bound as server variables and
	// stdin as the request body, returning the raw CGI-style output
	// (headers + body) captured from the script's output buffer (§4.8
	// steps 1-6). A non-nil error means the runtime itself failed to run
	// the script, not that the script returned a non-2xx status.
	Execute(scriptFilename string, vars []cgienv.Var, stdin []byte) ([]byte, error)
}
