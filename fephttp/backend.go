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

import "context"

// BackendID identifies one of the three backend kinds a RoutingRule can
// name (§3).
type BackendID string

const (
	BackendEmbedded BackendID = "embedded"
	BackendFastCGI  BackendID = "fastcgi"
	BackendStatic   BackendID = "static"
)

// Backend is the uniform contract every backend implements (§4.9). The
// Dispatcher treats all three identically: it never type-switches on which
// backend it's holding.
type Backend interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// BackendFunc adapts a function to the Backend interface, useful for tests
// and for the tiny backends (e.g. a fixed-response health check) that
// don't need their own type.
type BackendFunc func(ctx context.Context, req *Request) (*Response, error)

// Handle calls f.
func (f BackendFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
