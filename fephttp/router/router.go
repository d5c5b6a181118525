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

package router

import (
	"sort"

	"github.com/nzsys/fe-php/fephttp"
)

// ConfigError is returned by CompileRegex and FromConfig when a rule's
// pattern fails to compile or has an unknown type. It is its
// own type, rather than a wrapped stdlib error, so callers can
// distinguish a construction-time configuration mistake from anything
// that might happen later (resolve is documented as infallible, §4.1).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "router: " + e.Reason }

// Rule is a RoutingRule (§3): a pattern, the backend it selects, and a
// priority used to break ties between rules that both match a path.
type Rule struct {
	Pattern   Pattern
	Backend   fephttp.BackendID
	Priority  int
	insertPos int // insertion order, for stable tie-breaking
}

// Router holds an ordered, immutable rule list plus a default backend. It
// is built once from configuration and never mutated afterward (§3: "Router
// state... constructed once... immutable thereafter"); config hot-reload,
// if ever added above this core, is a construct-new-and-swap operation
// (§9), not a method on Router.
type Router struct {
	rules []Rule
	def   fephttp.BackendID
}

// New builds a Router from rules, sorting them by priority descending and
// breaking ties by original slice order (insertion order), per §3's
// invariant. Rules containing an uncompiled regex are rejected by the
// caller before this point -- use CompileRegex to build those Patterns.
func New(rules []Rule, defaultBackend fephttp.BackendID) (*Router, error) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	for i := range sorted {
		sorted[i].insertPos = i
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Router{rules: sorted, def: defaultBackend}, nil
}

// Resolve implements §4.1's resolve algorithm: iterate the stored rule
// order (already priority-descending, ties by insertion) and return the
// first match, or the default backend if nothing matches. It is a pure
// function of (Router, path): concurrent calls observe identical results,
// and it never errors (§8 property 1).
func (r *Router) Resolve(path string) fephttp.BackendID {
	for _, rule := range r.rules {
		if rule.Pattern.Match(path) {
			return rule.Backend
		}
	}
	return r.def
}
