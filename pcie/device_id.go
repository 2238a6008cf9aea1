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
	"strconv"
)

const (
	// DeviceIDLen is the wire size of a DeviceID.
	DeviceIDLen = 2
	// deviceIDStrLen is the length of the "BB:DD.F" form.
	deviceIDStrLen = 7

	maxDevice   = 31
	maxFunction = 7
)

// DeviceID is a configuration space address that uniquely identifies
// the device on the PCIe fabric (bus, device, function).
//
// Values built with NewDeviceID, decoded from the wire or parsed from text
// always have Device <= 31 and Function <= 7.
type DeviceID struct {
	Bus      uint8
	Device   uint8
	Function uint8
}

// NewDeviceID builds a DeviceID, failing with ErrOutOfRange if device is
// above 31 or function above 7.
func NewDeviceID(bus, device, function uint8) (DeviceID, error) {
	if device > maxDevice || function > maxFunction {
		return DeviceID{}, fmt.Errorf("%w: device %d (max %d), function %d (max %d)",
			ErrOutOfRange, device, maxDevice, function, maxFunction)
	}
	return DeviceID{Bus: bus, Device: device, Function: function}, nil
}

// DeviceIDFromUint16 decodes a packed bus<<8 | device<<3 | function value.
func DeviceIDFromUint16(value uint16) DeviceID {
	return DeviceID{
		Bus:      uint8(value >> 8),
		Device:   uint8((value >> 3) & 0x1f),
		Function: uint8(value & 0x07),
	}
}

// ToUint16 encodes id to its packed 16-bit form.
func (id DeviceID) ToUint16() uint16 {
	return uint16(id.Bus)<<8 | uint16(id.Device&0x1f)<<3 | uint16(id.Function&0x07)
}

// Bytes returns the big-endian wire form of id.
func (id DeviceID) Bytes() [DeviceIDLen]byte {
	var b [DeviceIDLen]byte
	binary.BigEndian.PutUint16(b[:], id.ToUint16())
	return b
}

// DeviceIDFromBytes decodes the big-endian wire form of a DeviceID.
func DeviceIDFromBytes(b [DeviceIDLen]byte) DeviceID {
	return DeviceIDFromUint16(binary.BigEndian.Uint16(b[:]))
}

// ParseDeviceIDBytes decodes a DeviceID from a slice of exactly 2 bytes.
func ParseDeviceIDBytes(b []byte) (DeviceID, error) {
	if err := checkLen("device ID", b, DeviceIDLen); err != nil {
		return DeviceID{}, err
	}
	return DeviceIDFromBytes([DeviceIDLen]byte(b)), nil
}

// ParseDeviceID parses the "BB:DD.F" form, with bus, device and function in
// hex.
func ParseDeviceID(s string) (DeviceID, error) {
	r := []rune(s)
	if len(r) != deviceIDStrLen {
		return DeviceID{}, fmt.Errorf("%w: %q has %d characters, want %d",
			ErrIncorrectStrLen, s, len(r), deviceIDStrLen)
	}
	if r[2] != ':' || r[5] != '.' {
		return DeviceID{}, fmt.Errorf("%w: %q is not BB:DD.F", ErrInvalidFormat, s)
	}

	var fields [3]uint8
	for i, digits := range []string{string(r[0:2]), string(r[3:5]), string(r[6:7])} {
		v, err := strconv.ParseUint(digits, 16, 8)
		if err != nil {
			return DeviceID{}, fmt.Errorf("%w: %q: %w", ErrInvalidHex, s, err)
		}
		fields[i] = uint8(v)
	}
	return NewDeviceID(fields[0], fields[1], fields[2])
}

// String returns id as "BB:DD.F" in upper case hex.
func (id DeviceID) String() string {
	return fmt.Sprintf("%02X:%02X.%01X", id.Bus, id.Device, id.Function)
}

// MarshalText implements encoding.TextMarshaler using the "BB:DD.F" form.
func (id DeviceID) MarshalText() ([]byte, error) {
	if id.Device > maxDevice || id.Function > maxFunction {
		return nil, fmt.Errorf("%w: device ID %+v", ErrOutOfRange, id)
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using ParseDeviceID.
func (id *DeviceID) UnmarshalText(text []byte) error {
	v, err := ParseDeviceID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
