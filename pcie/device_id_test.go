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
	"fmt"
	"strconv"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"
)

func TestNewDeviceID(t *testing.T) {
	tests := []struct {
		bus, device, function uint8
		wantErr               error
	}{
		{bus: 0, device: 0, function: 0},
		{bus: 0, device: 31, function: 7},
		{bus: 255, device: 31, function: 7},
		{bus: 0, device: 32, function: 0, wantErr: ErrOutOfRange},
		{bus: 0, device: 0, function: 8, wantErr: ErrOutOfRange},
		{bus: 0xff, device: 0xff, function: 0xff, wantErr: ErrOutOfRange},
	}
	for _, tt := range tests {
		id, err := NewDeviceID(tt.bus, tt.device, tt.function)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("NewDeviceID(%d, %d, %d) = _, %v, want %v", tt.bus, tt.device, tt.function, err, tt.wantErr)
			continue
		}
		want := DeviceID{Bus: tt.bus, Device: tt.device, Function: tt.function}
		if err == nil && id != want {
			t.Errorf("NewDeviceID(%d, %d, %d) = %+v, want %+v", tt.bus, tt.device, tt.function, id, want)
		}
	}
}

// Round-trip DeviceID encoding/decoding.
func TestDeviceIDUint16Encoding(t *testing.T) {
	f := func(src DeviceID) bool {
		return cmp.Equal(src, DeviceIDFromUint16(src.ToUint16()))
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

// Round-trip DeviceID encoding/decoding.
func TestDeviceIDBytesEncoding(t *testing.T) {
	f := func(src DeviceID) bool {
		b := src.Bytes()
		dst, err := ParseDeviceIDBytes(b[:])
		return err == nil && cmp.Equal(src, dst) && cmp.Equal(src, DeviceIDFromBytes(b))
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

// Every packed value decodes to an in-range DeviceID.
func TestDeviceIDFromUint16Total(t *testing.T) {
	for v := 0; v <= 0xffff; v++ {
		id := DeviceIDFromUint16(uint16(v))
		if _, err := NewDeviceID(id.Bus, id.Device, id.Function); err != nil {
			t.Fatalf("DeviceIDFromUint16(%#04x) = %+v, out of range", v, id)
		}
		if id.ToUint16() != uint16(v) {
			t.Fatalf("DeviceIDFromUint16(%#04x).ToUint16() = %#04x", v, id.ToUint16())
		}
	}
}

func TestDeviceIDPacking(t *testing.T) {
	id, err := NewDeviceID(0, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := id.Bytes(); got != [2]byte{0, 0x0a} {
		t.Errorf("Bytes() = %x, want 000a", got)
	}
	if got := id.ToUint16(); got != 0x0a {
		t.Errorf("ToUint16() = %#x, want 0xa", got)
	}
}

// Round-trip DeviceID encoding/decoding.
func TestDeviceIDStringEncoding(t *testing.T) {
	f := func(src DeviceID) bool {
		dst, err := ParseDeviceID(src.String())
		return err == nil && cmp.Equal(src, dst)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestDeviceIDString(t *testing.T) {
	id, err := NewDeviceID(1, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := id.String(); got != "01:02.3" {
		t.Errorf("String() = %q, want %q", got, "01:02.3")
	}
	id = DeviceID{Bus: 0xab, Device: 0x1f, Function: 7}
	if got := id.String(); got != "AB:1F.7" {
		t.Errorf("String() = %q, want %q", got, "AB:1F.7")
	}
}

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    DeviceID
		wantErr error
	}{
		{name: "simple", input: "01:02.3", want: DeviceID{Bus: 1, Device: 2, Function: 3}},
		{name: "lower case", input: "ab:1f.7", want: DeviceID{Bus: 0xab, Device: 0x1f, Function: 7}},
		{name: "upper case", input: "AB:1F.7", want: DeviceID{Bus: 0xab, Device: 0x1f, Function: 7}},
		{name: "empty", input: "", wantErr: ErrIncorrectStrLen},
		{name: "too short", input: "01:02.", wantErr: ErrIncorrectStrLen},
		{name: "too long", input: "0000:01:02.3", wantErr: ErrIncorrectStrLen},
		{name: "wrong format", input: "foobar!", wantErr: ErrInvalidFormat},
		{name: "swapped separators", input: "01.02:3", wantErr: ErrInvalidFormat},
		{name: "bad hex", input: "fo:ob.a", wantErr: ErrInvalidHex},
		{name: "device out of range", input: "00:20.0", wantErr: ErrOutOfRange},
		{name: "function out of range", input: "00:00.8", wantErr: ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDeviceID(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseDeviceID(%q) = _, %v, want %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseDeviceID(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDeviceIDKeepsNumError(t *testing.T) {
	_, err := ParseDeviceID("fo:ob.a")
	var numErr *strconv.NumError
	if !errors.As(err, &numErr) {
		t.Fatalf("ParseDeviceID() = _, %v, want a *strconv.NumError", err)
	}
	if !errors.Is(numErr.Err, strconv.ErrSyntax) {
		t.Errorf("NumError.Err = %v, want strconv.ErrSyntax", numErr.Err)
	}
}

func TestParseDeviceIDOutOfRangeText(t *testing.T) {
	for device := 0; device <= 0xff; device++ {
		for function := 0; function <= 0xf; function++ {
			text := fmt.Sprintf("%02X:%02X.%01X", 0x5a, device, function)
			_, err := ParseDeviceID(text)
			inRange := device <= 31 && function <= 7
			if inRange != (err == nil) {
				t.Errorf("ParseDeviceID(%q) = _, %v", text, err)
			}
			if !inRange && !errors.Is(err, ErrOutOfRange) {
				t.Errorf("ParseDeviceID(%q) = _, %v, want ErrOutOfRange", text, err)
			}
		}
	}
}

func TestDeviceIDText(t *testing.T) {
	var id DeviceID
	if err := id.UnmarshalText([]byte("3a:00.1")); err != nil {
		t.Fatal(err)
	}
	text, err := id.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != "3A:00.1" {
		t.Errorf("MarshalText() = %q, want %q", text, "3A:00.1")
	}
	if _, err := (DeviceID{Device: 40}).MarshalText(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("MarshalText() = _, %v, want ErrOutOfRange", err)
	}
}
