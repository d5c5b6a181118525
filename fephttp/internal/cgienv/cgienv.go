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

// Package cgienv builds the CGI-equivalent variable set (§4.5 "Params
// built") shared by the FastCGI backend and the embedded PHP worker pool
// (§4.8 step 3 explicitly reuses the §4.5 set). Keeping it in one place
// means both backends classify a request into server variables identically.
package cgienv

import (
	"strconv"
	"strings"

	"github.com/nzsys/fe-php/fephttp"
)

// Var is one ordered name/value server variable.
type Var struct {
	Name  string
	Value string
}

// Params describes the request-independent pieces a caller must supply
// on top of the Request itself.
type Params struct {
	DocumentRoot   string
	ScriptFilename string
	ScriptName     string
	ServerName     string
	ServerPort     string
}

// Build returns the ordered variable set from §4.5.
func Build(req *fephttp.Request, p Params) []Var {
	vars := []Var{
		{"GATEWAY_INTERFACE", "CGI/1.1"},
		{"SERVER_PROTOCOL", "HTTP/1.1"},
		{"REQUEST_METHOD", req.Method},
		{"REQUEST_URI", requestURI(req)},
		{"QUERY_STRING", req.Query},
		{"DOCUMENT_ROOT", p.DocumentRoot},
		{"SCRIPT_FILENAME", p.ScriptFilename},
		{"SCRIPT_NAME", p.ScriptName},
	}
	if ct, ok := req.Header("Content-Type"); ok {
		vars = append(vars, Var{"CONTENT_TYPE", ct})
	}
	vars = append(vars, Var{"CONTENT_LENGTH", strconv.Itoa(len(req.Body))})
	vars = append(vars,
		Var{"REMOTE_ADDR", req.RemoteAddr},
		Var{"SERVER_NAME", p.ServerName},
		Var{"SERVER_PORT", p.ServerPort},
	)
	if req.Scheme == "https" {
		vars = append(vars, Var{"HTTPS", "on"})
	}
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			continue // already emitted as CONTENT_TYPE, not HTTP_CONTENT_TYPE
		}
		vars = append(vars, Var{Name: "HTTP_" + headerEnvName(h.Name), Value: h.Value})
	}
	return vars
}

// requestURI rebuilds path+query exactly as §4.5 describes: "path + ? +
// query if non-empty".
func requestURI(req *fephttp.Request) string {
	if req.Query == "" {
		return req.Path
	}
	return req.Path + "?" + req.Query
}

// headerEnvName uppercases a header name and replaces "-" with "_", e.g.
// "X-Foo" -> "X_FOO" so the caller can prefix "HTTP_".
func headerEnvName(name string) string {
	b := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '-' {
			b[i] = '_'
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}
