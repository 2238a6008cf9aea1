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
	"encoding/binary"
	"fmt"
	"math"
)

const (
	addr32Mask uint32 = 0xfffffffc
	addr64Mask uint64 = 0xfffffffffffffffc
)

// unsigned lists the integer types an address can be built from.
type unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

// Address is a dword aligned memory address for request routing. Addresses
// that fit in 32 bits use the 32-bit form (3DW headers), anything larger uses
// the 64-bit form (4DW headers).
//
// The 2 lower bits are always zero: on the wire they are reserved for the TLP
// processing hint. See Figure 2-8: "32-bit Address Routing" and
// Figure 2-7: "64-bit Address Routing".
type Address struct {
	value uint64
}

// NewAddress builds an Address from addr, dropping its 2 lower bits.
func NewAddress(addr uint64) Address {
	if addr > math.MaxUint32 {
		return Address{value: addr & addr64Mask}
	}
	return Address{value: uint64(uint32(addr) & addr32Mask)}
}

// AlignedAddress builds an Address from addr, failing with ErrNotAligned if
// addr is not dword aligned.
func AlignedAddress[T unsigned](addr T) (Address, error) {
	if !IsValidAddress(addr) {
		return Address{}, fmt.Errorf("%w: address %#x", ErrNotAligned, uint64(addr))
	}
	return NewAddress(uint64(addr)), nil
}

// IsValidAddress reports whether addr is dword aligned.
func IsValidAddress[T unsigned](addr T) bool {
	return uint64(addr)&^addr64Mask == 0
}

// Is64 reports whether a uses the 64-bit form.
func (a Address) Is64() bool {
	return a.value > math.MaxUint32
}

// Uint64 returns a as a 64-bit value regardless of its form.
func (a Address) Uint64() uint64 {
	return a.value
}

// Uint32 returns a and true if a uses the 32-bit form.
func (a Address) Uint32() (uint32, bool) {
	if a.Is64() {
		return 0, false
	}
	return uint32(a.value), true
}

// Len returns the wire size of a: 4 or 8 bytes.
func (a Address) Len() int {
	if a.Is64() {
		return 2 * DwordLen
	}
	return DwordLen
}

// Bytes returns the big-endian wire form of a, high dword first for 64-bit
// addresses.
func (a Address) Bytes() []byte {
	if a.Is64() {
		return binary.BigEndian.AppendUint64(nil, a.value)
	}
	return binary.BigEndian.AppendUint32(nil, uint32(a.value))
}

// ParseAddress decodes a 4 or 8 byte wire address. The 2 reserved lower bits
// are dropped.
func ParseAddress(b []byte) (Address, error) {
	switch len(b) {
	case DwordLen:
		return NewAddress(uint64(binary.BigEndian.Uint32(b))), nil
	case 2 * DwordLen:
		return Address{value: binary.BigEndian.Uint64(b) & addr64Mask}, nil
	}
	if len(b) < 2*DwordLen {
		return Address{}, fmt.Errorf("%w: address is %d bytes, want 4 or 8", ErrTooShort, len(b))
	}
	return Address{}, fmt.Errorf("%w: address is %d bytes, want 4 or 8", ErrTooLong, len(b))
}

func (a Address) String() string {
	if a.Is64() {
		return fmt.Sprintf("%016x", a.value)
	}
	return fmt.Sprintf("%08x", a.value)
}
