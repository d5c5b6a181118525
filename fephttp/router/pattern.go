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

// Package router implements the priority-ordered backend router (§4.1).
// It deliberately does not normalize or decode the path any further than
// the HTTP front end already has: no collapsing of "//", no extra
// percent-decoding. A path matcher that silently rewrites the path it's
// given is a common source of security bugs (it's how directory-traversal
// filters get bypassed), so normalization is the front end's job, and the
// router documents that it will not do it.
package router

import "regexp"

// Kind identifies which of the four pattern variants a Pattern holds.
type Kind int

const (
	KindExact Kind = iota
	KindPrefix
	KindSuffix
	KindRegex
)

// Pattern is the tagged variant from §3: exactly one of Value or Regex is
// meaningful, depending on Kind.
type Pattern struct {
	Kind  Kind
	Value string         // used by Exact, Prefix, Suffix
	Regex *regexp.Regexp // used by Regex; compiled once, immutable after
}

// Exact builds an Exact(s) pattern.
func Exact(s string) Pattern { return Pattern{Kind: KindExact, Value: s} }

// Prefix builds a Prefix(s) pattern.
func Prefix(s string) Pattern { return Pattern{Kind: KindPrefix, Value: s} }

// Suffix builds a Suffix(s) pattern.
func Suffix(s string) Pattern { return Pattern{Kind: KindSuffix, Value: s} }

// CompileRegex compiles s and returns a Regex(compiled) pattern, or a
// ConfigError if s does not compile (§4.1: "regex compilation failures are
// reported at router construction time").
func CompileRegex(s string) (Pattern, error) {
	if _, err := regexp.Compile(s); err != nil {
		return Pattern{}, &ConfigError{Reason: "compiling regex pattern " + s + ": " + err.Error()}
	}
	// Anchor the expression so a full-text match is found even when the
	// leftmost-first match of s alone would stop short of the path's end.
	re, err := regexp.Compile(`^(?:` + s + `)$`)
	if err != nil {
		return Pattern{}, &ConfigError{Reason: "compiling regex pattern " + s + ": " + err.Error()}
	}
	return Pattern{Kind: KindRegex, Regex: re}, nil
}

// Match evaluates the pattern against path (query string already
// excluded by the caller). Regex match is full-text, i.e. the compiled
// expression must match the entire path, matching "full-text match" in §4.1.
func (p Pattern) Match(path string) bool {
	switch p.Kind {
	case KindExact:
		return path == p.Value
	case KindPrefix:
		return len(path) >= len(p.Value) && path[:len(p.Value)] == p.Value
	case KindSuffix:
		return len(path) >= len(p.Value) && path[len(path)-len(p.Value):] == p.Value
	case KindRegex:
		loc := p.Regex.FindStringIndex(path)
		return loc != nil && loc[0] == 0 && loc[1] == len(path)
	default:
		return false
	}
}
