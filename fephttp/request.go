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

// Package fephttp defines the request/response data model shared by every
// backend (embedded PHP, FastCGI, static files) plus the Dispatcher that
// ties a Router to those backends. The package intentionally knows nothing
// about TLS, HTTP/1.1 vs HTTP/2 framing, or how a request was decoded off
// the wire; those are the HTTP front end's job (see cmd/fephttpd), not the
// core's.
package fephttp

import "strings"

// Header is a single ordered name/value pair. Request and Response both
// keep headers as an ordered list rather than a map so that backends which
// care about header order (notably raw CGI output) can preserve it.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered list of header fields with case-insensitive lookup
// by name, mirroring how net/http's CGI bridge and caddy's fastcgi client
// both treat header names as tokens regardless of case.
type Headers []Header

// Get returns the first value for name, matched case-insensitively, and
// whether it was present at all.
func (h Headers) Get(name string) (string, bool) {
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value, true
		}
	}
	return "", false
}

// Values returns every value for name, matched case-insensitively, in
// the order they appear.
func (h Headers) Values(name string) []string {
	var out []string
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			out = append(out, kv.Value)
		}
	}
	return out
}

// Set replaces all existing values for name with a single value, or
// appends one if name was not already present.
func (h Headers) Set(name, value string) Headers {
	out := h[:0:0]
	replaced := false
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			if !replaced {
				out = append(out, Header{Name: name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, kv)
	}
	if !replaced {
		out = append(out, Header{Name: name, Value: value})
	}
	return out
}

// Add appends a header without removing any existing value for name.
func (h Headers) Add(name, value string) Headers {
	return append(h, Header{Name: name, Value: value})
}

// Request is the fully-parsed inbound request handed to the Dispatcher by
// the HTTP front end. Body size is already bounded by max_body_size before
// the core ever sees it (§3, §7 PayloadTooLarge).
type Request struct {
	Method     string
	Path       string // URL-decoded, NOT normalized; see Router docs
	Query      string
	Headers    Headers
	Body       []byte
	RemoteAddr string
	Scheme     string // "http" or "https"
}

// Header is a convenience accessor equivalent to r.Headers.Get(name).
func (r *Request) Header(name string) (string, bool) {
	return r.Headers.Get(name)
}
