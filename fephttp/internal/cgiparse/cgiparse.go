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

// Package cgiparse parses the CGI-style header block a PHP process (via
// FastCGI or embedded) writes ahead of its body (§4.5 "Response parsing",
// reused by §4.8 step 5). Both backends feed it one raw []byte and get a
// fephttp.Response back.
package cgiparse

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/nzsys/fe-php/fephttp"
)

// Parse splits raw into a CGI-style header block terminated by a blank
// line (LF or CRLF) and a body, builds a Response from it, defaulting
// status to 200 and Content-Type to "text/html; charset=UTF-8" when
// absent (§4.5).
func Parse(raw []byte) *fephttp.Response {
	headerEnd, bodyStart := findHeaderEnd(raw)

	resp := fephttp.NewResponse(200)
	if headerEnd < 0 {
		// No header terminator found: treat the whole payload as body,
		// matching a misbehaving upstream rather than erroring the request.
		resp.Body = raw
		resp.SetHeader("Content-Type", "text/html; charset=UTF-8")
		return resp
	}

	header := raw[:headerEnd]
	resp.Body = raw[bodyStart:]

	sawContentType := false
	for _, line := range bytes.Split(header, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(string(line[:idx]))
		value := strings.TrimSpace(string(line[idx+1:]))

		if strings.EqualFold(name, "Status") {
			resp.Status = parseStatusLine(value)
			continue
		}
		if strings.EqualFold(name, "Content-Type") {
			sawContentType = true
		}
		resp.AddHeader(name, value)
	}
	if !sawContentType {
		resp.SetHeader("Content-Type", "text/html; charset=UTF-8")
	}
	return resp
}

// findHeaderEnd locates the blank-line terminator, supporting both "\n\n"
// and "\r\n\r\n", and returns (end-of-headers, start-of-body). Returns
// (-1, -1) if no terminator is present.
func findHeaderEnd(raw []byte) (headerEnd, bodyStart int) {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return i, i + 4
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return i, i + 2
	}
	return -1, -1
}

// parseStatusLine reads "NNN Message" and returns NNN, defaulting to 200
// if it isn't a valid number (§4.5).
func parseStatusLine(value string) int {
	fields := strings.SplitN(value, " ", 2)
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 200
	}
	return n
}
