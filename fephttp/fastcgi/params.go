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
	"encoding/binary"
	"errors"
)

// Param is one CGI name/value pair, kept ordered because SCRIPT_FILENAME
// and friends are conventionally sent before the HTTP_* headers by every
// PHP-FPM pool config that matches on order (it doesn't have to, but
// nothing is gained by shuffling it).
type Param struct {
	Name  string
	Value string
}

// encodeLength appends the FastCGI length prefix for n to b: one byte if
// n < 128, four bytes with the top bit of the first byte set otherwise
// (§4.4). This is the encoding side of testable property 6.
func encodeLength(b []byte, n int) []byte {
	if n < 128 {
		return append(b, byte(n))
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(n)|(1<<31))
	return append(b, tmp[:]...)
}

// decodeLength reads one length prefix from the front of b, returning the
// value, the number of bytes consumed, and an error if b is too short.
func decodeLength(b []byte) (n int, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, errors.New("fastcgi: empty length prefix")
	}
	if b[0]&0x80 == 0 {
		return int(b[0]), 1, nil
	}
	if len(b) < 4 {
		return 0, 0, errors.New("fastcgi: truncated 4-byte length prefix")
	}
	v := binary.BigEndian.Uint32(b[:4]) &^ (1 << 31)
	return int(v), 4, nil
}

// EncodeParams encodes pairs as the FastCGI PARAMS content stream: for
// each pair, len(name) + len(value) + name bytes + value bytes (§4.4).
// The result is not yet split into records; pass it to EncodeStream with
// TypeParams for that.
func EncodeParams(pairs []Param) []byte {
	var out []byte
	for _, p := range pairs {
		var lenBuf [8]byte
		b := lenBuf[:0]
		b = encodeLength(b, len(p.Name))
		b = encodeLength(b, len(p.Value))
		out = append(out, b...)
		out = append(out, p.Name...)
		out = append(out, p.Value...)
	}
	return out
}

// DecodeParams is the inverse of EncodeParams, used by tests and by a
// server-role implementation to parse what a client sent. The client's
// request path never needs it (it only sends PARAMS); Conn.GetValues uses
// it to parse a GET_VALUES_RESULT reply. Keeping the decoder next to the
// encoder also keeps the round-trip property (§8 property 6) easy to
// express and lets DecodeParams double as a sanity check on
// EncodeParams's own output.
func DecodeParams(data []byte) ([]Param, error) {
	var out []Param
	for len(data) > 0 {
		nameLen, n1, err := decodeLength(data)
		if err != nil {
			return nil, err
		}
		data = data[n1:]
		valLen, n2, err := decodeLength(data)
		if err != nil {
			return nil, err
		}
		data = data[n2:]
		if len(data) < nameLen+valLen {
			return nil, errors.New("fastcgi: truncated param pair")
		}
		name := string(data[:nameLen])
		value := string(data[nameLen : nameLen+valLen])
		data = data[nameLen+valLen:]
		out = append(out, Param{Name: name, Value: value})
	}
	return out, nil
}
