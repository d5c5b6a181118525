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

// Response is a fully-buffered response. Backends must finish building
// headers before any body byte is considered committed (§3 invariant);
// there is no streaming writer in the core, only this value type, so a
// partially-failed backend can never leak a half-written response to the
// HTTP front end.
type Response struct {
	Status  int
	Headers Headers
	Body    []byte
}

// NewResponse builds a Response with status and an empty header list,
// ready for the caller to Set headers onto before attaching a body.
func NewResponse(status int) *Response {
	return &Response{Status: status}
}

// SetHeader sets (replacing) a single response header.
func (r *Response) SetHeader(name, value string) {
	r.Headers = r.Headers.Set(name, value)
}

// AddHeader appends a response header without replacing existing values.
func (r *Response) AddHeader(name, value string) {
	r.Headers = r.Headers.Add(name, value)
}
