// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hexutil converts between bytes and the hex text used by the TLP
// tools.
package hexutil

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const dumpWidth = 16

// Decode converts hex text to bytes. Whitespace between digits is ignored
// and each whitespace separated word may carry a 0x prefix.
func Decode(s string) ([]byte, error) {
	var sb strings.Builder
	for _, word := range strings.Fields(s) {
		word = strings.TrimPrefix(strings.TrimPrefix(word, "0x"), "0X")
		sb.WriteString(word)
	}
	digits := sb.String()
	if len(digits)%2 != 0 {
		return nil, fmt.Errorf("hex string has odd length: %d", len(digits))
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// Encode converts bytes to hex with spaces between bytes.
func Encode(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, " ")
}

// Compact converts bytes to hex without separators.
func Compact(b []byte) string {
	return hex.EncodeToString(b)
}

// Dump formats b the way pcileech prints TLPs: 16 bytes per line, an extra
// space after the 8th byte, then the printable characters.
func Dump(b []byte) string {
	var sb strings.Builder
	for off := 0; off < len(b); off += dumpWidth {
		fmt.Fprintf(&sb, "%04x    ", off)
		for i := 0; i < dumpWidth; i++ {
			if i > 0 {
				sb.WriteByte(' ')
				if i == dumpWidth/2 {
					sb.WriteByte(' ')
				}
			}
			if off+i < len(b) {
				fmt.Fprintf(&sb, "%02x", b[off+i])
			} else {
				sb.WriteString("  ")
			}
		}
		sb.WriteString("   ")
		for i := off; i < off+dumpWidth && i < len(b); i++ {
			c := b[i]
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			sb.WriteByte(c)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
