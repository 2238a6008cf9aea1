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

package pcie

import (
	"math/bits"
)

// CplByteCount returns the byte count of a completion answering a read of
// lengthDW dwords with the given byte enables.
// See Table 2-37: Calculating Byte Count from Length and Byte Enables.
func CplByteCount(firstBE, lastBE uint8, lengthDW int) int {
	firstBE &= 0xf
	lastBE &= 0xf
	if lastBE == 0 {
		// Single dword: span from the first to the last enabled byte.
		if firstBE == 0 {
			return 1
		}
		return bits.Len8(firstBE) - bits.TrailingZeros8(firstBE)
	}
	if firstBE == 0 {
		return 0
	}
	return lengthDW*DwordLen - bits.TrailingZeros8(firstBE) - (DwordLen - bits.Len8(lastBE))
}

// CplLowerAddress returns the lower address field of a completion for a read
// at readAddress.
// See Table 2-38: Calculating Lower Address from 1st DW BE.
func CplLowerAddress(firstBE uint8, readAddress Address) uint8 {
	return uint8(readAddress.Uint64()&0x7c) + uint8(firstEnabled(firstBE))
}
