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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeETag is a strong validator computed deterministically from mtime
// and size (§4.3: "hex of a collision-resistant hash of the pair"). Unlike
// caddy's calculateEtag (base36 concatenation of the two numbers), this
// hashes them so the tag doesn't leak the raw mtime/size to clients while
// keeping the same equal-inputs-produce-equal-tags property (§8 property 7).
func ComputeETag(mtime time.Time, size int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", mtime.UnixNano(), size)))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
