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

// Package pathsafe implements the path-escape rules shared by the static
// file backend and the FastCGI script selector (§4.3, referenced by
// §4.5). It exists as its own tiny package rather than living in either
// caller so both can apply identical rules without importing each other.
package pathsafe

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrEscape is returned when urlPath would resolve outside root.
var ErrEscape = errors.New("pathsafe: path escapes root")

// Resolve joins urlPath under root and verifies the result cannot escape
// root, per §4.3 steps 1-4:
//  1. reject any "." component equal to ".." or containing NUL
//  2. reject paths containing a backslash
//  3. join to root and canonicalize (Clean + Abs)
//  4. require root as a path-prefix of the canonicalized result
func Resolve(root, urlPath string) (string, error) {
	if strings.Contains(urlPath, "\x00") || strings.Contains(urlPath, "\\") {
		return "", ErrEscape
	}
	for _, part := range strings.Split(urlPath, "/") {
		if part == ".." {
			return "", ErrEscape
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absRoot = filepath.Clean(absRoot)

	joined := filepath.Join(absRoot, filepath.FromSlash(urlPath))
	joined = filepath.Clean(joined)

	if joined != absRoot && !strings.HasPrefix(joined, absRoot+string(filepath.Separator)) {
		return "", ErrEscape
	}
	return joined, nil
}
