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

package fastcgi

import "strings"

// ParseAddress turns an fpm_socket config value into a (network, address)
// pair suitable for net.Dial: either "tcp" + "host:port", or "unix" + a
// filesystem path (bare, or prefixed "unix:") (§6 "Upstream addresses").
func ParseAddress(raw string) (network, address string) {
	if strings.HasPrefix(raw, "unix:") {
		return "unix", strings.TrimPrefix(raw, "unix:")
	}
	if strings.HasPrefix(raw, "/") {
		return "unix", raw
	}
	return "tcp", raw
}
