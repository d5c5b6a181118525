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

import "strings"

// contentTypeByExt is the extension table from §4.3. Unknown extensions
// fall back to application/octet-stream.
var contentTypeByExt = map[string]string{
	".html": "text/html; charset=UTF-8",
	".htm":  "text/html; charset=UTF-8",
	".css":  "text/css; charset=UTF-8",
	".js":   "application/javascript; charset=UTF-8",
	".mjs":  "application/javascript; charset=UTF-8",
	".json": "application/json",
	".xml":  "application/xml",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".woff": "font/woff",
	".woff2": "font/woff2",
	".ttf":  "font/ttf",
	".pdf":  "application/pdf",
}

// cacheControlByExt assigns each extension to a Cache-Control class (§4.3).
var cacheControlByExt = map[string]string{
	".woff":  "public, max-age=31536000, immutable",
	".woff2": "public, max-age=31536000, immutable",
	".ttf":   "public, max-age=31536000, immutable",

	".png":  "public, max-age=86400",
	".jpg":  "public, max-age=86400",
	".jpeg": "public, max-age=86400",
	".gif":  "public, max-age=86400",
	".webp": "public, max-age=86400",
	".svg":  "public, max-age=86400",

	".css": "public, max-age=3600",
	".js":  "public, max-age=3600",
	".mjs": "public, max-age=3600",

	".html": "no-cache",
	".htm":  "no-cache",
}

// ContentType returns the extension-table Content-Type for name, or
// application/octet-stream if the extension is unknown.
func ContentType(name string) string {
	ext := extOf(name)
	if ct, ok := contentTypeByExt[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// CacheControl returns the extension-class Cache-Control for name, or
// an empty string if the extension has no assigned class.
func CacheControl(name string) string {
	return cacheControlByExt[extOf(name)]
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i:])
}
