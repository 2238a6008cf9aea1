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
	"errors"
	"math"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
)

func TestNewAddress(t *testing.T) {
	tests := []struct {
		name   string
		input  uint64
		want   uint64
		want64 bool
	}{
		{name: "zero", input: 0, want: 0},
		{name: "low bits masked", input: 0x5, want: 0x4},
		{name: "max 32-bit", input: math.MaxUint32, want: 0xfffffffc},
		{name: "first 64-bit", input: 0x100000000, want: 0x100000000, want64: true},
		{name: "64-bit low bits masked", input: 0x1_0000_0003, want: 0x1_0000_0000, want64: true},
		{name: "max 64-bit", input: math.MaxUint64, want: 0xffff_ffff_ffff_fffc, want64: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAddress(tt.input)
			if a.Is64() != tt.want64 {
				t.Errorf("NewAddress(%#x).Is64() = %t, want %t", tt.input, a.Is64(), tt.want64)
			}
			if a.Uint64() != tt.want {
				t.Errorf("NewAddress(%#x).Uint64() = %#x, want %#x", tt.input, a.Uint64(), tt.want)
			}
			a32, ok := a.Uint32()
			if ok == tt.want64 {
				t.Errorf("NewAddress(%#x).Uint32() ok = %t, want %t", tt.input, ok, !tt.want64)
			}
			if ok && uint64(a32) != tt.want {
				t.Errorf("NewAddress(%#x).Uint32() = %#x, want %#x", tt.input, a32, tt.want)
			}
		})
	}
}

func TestAlignedAddress(t *testing.T) {
	f := func(addr uint64) bool {
		a, err := AlignedAddress(addr)
		if addr&3 != 0 {
			return errors.Is(err, ErrNotAligned) && !IsValidAddress(addr)
		}
		return err == nil && IsValidAddress(addr) && a.Uint64() == addr && a.Is64() == (addr > math.MaxUint32)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}

	// Every integer width goes through the same rules.
	if a, err := AlignedAddress(uint8(0xfc)); err != nil || a.Uint64() != 0xfc {
		t.Errorf("AlignedAddress(uint8(0xfc)) = %v, %v, want fc, nil", a, err)
	}
	if _, err := AlignedAddress(uint16(0x1002)); !errors.Is(err, ErrNotAligned) {
		t.Errorf("AlignedAddress(uint16(0x1002)) = _, %v, want ErrNotAligned", err)
	}
	if a, err := AlignedAddress(uint32(math.MaxUint32 - 3)); err != nil || a.Is64() {
		t.Errorf("AlignedAddress(uint32(0xfffffffc)) = %v, %v, want 32-bit address", a, err)
	}
	if _, err := AlignedAddress(uint(0x1001)); !errors.Is(err, ErrNotAligned) {
		t.Errorf("AlignedAddress(uint(0x1001)) = _, %v, want ErrNotAligned", err)
	}
}

// Round-trip Address wire encoding/decoding.
func TestAddressEncoding(t *testing.T) {
	f := func(addr uint64) bool {
		src := NewAddress(addr)
		b := src.Bytes()
		if len(b) != src.Len() {
			return false
		}
		dst, err := ParseAddress(b)
		if err != nil {
			return false
		}
		return cmp.Equal(src, dst, allowUnexported)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestParseAddressLength(t *testing.T) {
	for _, n := range []int{0, 3, 5, 7} {
		if _, err := ParseAddress(make([]byte, n)); !errors.Is(err, ErrTooShort) {
			t.Errorf("ParseAddress(%d bytes) = _, %v, want ErrTooShort", n, err)
		}
	}
	if _, err := ParseAddress(make([]byte, 9)); !errors.Is(err, ErrTooLong) {
		t.Errorf("ParseAddress(9 bytes) = _, %v, want ErrTooLong", err)
	}
}

func TestAddressString(t *testing.T) {
	if got := NewAddress(0x12cf80).String(); got != "0012cf80" {
		t.Errorf("String() = %q, want %q", got, "0012cf80")
	}
	if got := NewAddress(0x1_2345_6788).String(); got != "0000000123456788" {
		t.Errorf("String() = %q, want %q", got, "0000000123456788")
	}
}
