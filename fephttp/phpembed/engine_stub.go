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

//go:build !cgo

package phpembed

import "github.com/nzsys/fe-php/fephttp/internal/cgienv"

// stubEngine stands in for the real libphp bridge in builds without cgo
// (no C toolchain available). Every operation fails with
// ErrRuntimeUnavailable rather than the package failing to compile.
type stubEngine struct{}

// NewEngine returns the real cgo-backed Engine when built with cgo, or
// this stub otherwise.
func NewEngine() Engine { return stubEngine{} }

func (stubEngine) ModuleStartup(string) error { return ErrRuntimeUnavailable }
func (stubEngine) ModuleShutdown()             {}
func (stubEngine) ThreadInit() error           { return ErrRuntimeUnavailable }
func (stubEngine) ThreadShutdown()             {}
func (stubEngine) Execute(string, []cgienv.Var, []byte) ([]byte, error) {
	return nil, ErrRuntimeUnavailable
}
