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

package fileserver

import (
	"strconv"
	"strings"
)

// byteRange is a resolved, inclusive [Start, End] range within a file of
// a known size.
type byteRange struct {
	Start, End int64
}

// rangeResult is what parsing a Range header against a file of size
// produced.
type rangeResult struct {
	Satisfiable bool
	Range       byteRange // valid only if Satisfiable
	// Applicable is false when there was no Range header, or when it
	// named multiple ranges (§4.3: "may be rejected with 200 returning the
	// whole body") -- the caller should serve the whole file in that case.
	Applicable bool
}

// parseRange implements §4.3's single-range support: forms "a-b", "a-",
// "-n". size is the full file size in bytes.
func parseRange(header string, size int64) rangeResult {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return rangeResult{}
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return rangeResult{} // multiple ranges: not applicable, serve whole body
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return rangeResult{}
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	var start, end int64
	switch {
	case startStr == "" && endStr != "": // "-n": last n bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return rangeResult{}
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1
	case startStr != "" && endStr == "": // "a-": from a to EOF
		s, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			return rangeResult{}
		}
		start = s
		end = size - 1
	case startStr != "" && endStr != "": // "a-b"
		s, err1 := strconv.ParseInt(startStr, 10, 64)
		e, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil {
			return rangeResult{}
		}
		start, end = s, e
	default:
		return rangeResult{}
	}

	if start > end || start >= size || start < 0 {
		return rangeResult{Applicable: true, Satisfiable: false}
	}
	if end >= size {
		end = size - 1
	}
	return rangeResult{Applicable: true, Satisfiable: true, Range: byteRange{Start: start, End: end}}
}
