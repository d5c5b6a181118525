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

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsRoundTrip(t *testing.T) {
	pairs := []Param{
		{Name: "SCRIPT_FILENAME", Value: "/var/www/index.php"},
		{Name: "QUERY_STRING", Value: ""},
		{Name: "HTTP_X_FOO", Value: "bar"},
	}
	encoded := EncodeParams(pairs)
	decoded, err := DecodeParams(encoded)
	require.NoError(t, err)
	assert.Equal(t, pairs, decoded)
}

// TestParamsLengthBoundaries exercises §8 property 6: the length prefix
// encoding round-trips at 0, 1, 127, 128, 129, 65535 and 1<<20. The
// 2^31-1 upper bound is not exercised here.
func TestParamsLengthBoundaries(t *testing.T) {
	boundaries := []int{0, 1, 127, 128, 129, 65535, 1 << 20}
	for _, n := range boundaries {
		n := n
		t.Run("", func(t *testing.T) {
			value := strings.Repeat("a", n)
			pairs := []Param{{Name: "V", Value: value}}
			decoded, err := DecodeParams(EncodeParams(pairs))
			require.NoError(t, err)
			require.Len(t, decoded, 1)
			assert.Equal(t, n, len(decoded[0].Value))
			assert.Equal(t, value, decoded[0].Value)
		})
	}
}

func TestEncodeLengthSwitchesEncodingAt128(t *testing.T) {
	short := encodeLength(nil, 127)
	long := encodeLength(nil, 128)
	assert.Len(t, short, 1)
	assert.Len(t, long, 4)
}
