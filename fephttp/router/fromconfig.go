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
	"github.com/nzsys/fe-php/fephttp"
	"github.com/nzsys/fe-php/fephttp/config"
)

// FromConfig builds a Router directly from the already-validated
// backend.* configuration tree (§6), compiling every regex pattern up
// front so construction fails fast with a ConfigError rather than
// letting a bad pattern surface as a runtime panic on the first request
// that reaches it (§4.1: "regex compilation failures are reported at
// router construction time").
func FromConfig(cfg config.RouterConfig) (*Router, error) {
	rules := make([]Rule, 0, len(cfg.RoutingRules))
	for _, rc := range cfg.RoutingRules {
		pattern, err := patternFromConfig(rc.Pattern)
		if err != nil {
			return nil, err
		}
		rules = append(rules, Rule{
			Pattern:  pattern,
			Backend:  fephttp.BackendID(rc.Backend),
			Priority: rc.Priority,
		})
	}
	return New(rules, fephttp.BackendID(cfg.DefaultBackend))
}

func patternFromConfig(pc config.PatternConfig) (Pattern, error) {
	switch pc.Type {
	case "exact":
		return Exact(pc.Value), nil
	case "prefix":
		return Prefix(pc.Value), nil
	case "suffix":
		return Suffix(pc.Value), nil
	case "regex":
		return CompileRegex(pc.Value)
	default:
		return Pattern{}, &ConfigError{Reason: "unknown pattern type " + pc.Type}
	}
}
