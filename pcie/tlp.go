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

// Package pcie builds and parses the headers of PCIe Transaction Layer
// Packets (TLP).
//
// Every header type is a plain value. Builders return updated copies and the
// validating ones reject out of range input instead of truncating it, so a
// header that made it through construction always encodes and decodes back to
// itself.
package pcie

import (
	"errors"
	"fmt"
)

// errors
var (
	ErrTooShort    = errors.New("buffer too short")
	ErrTooLong     = errors.New("value too long")
	ErrNotAligned  = errors.New("not dword aligned")
	ErrInvalidType = errors.New("invalid type")
	ErrOutOfRange  = errors.New("value out of range")

	ErrIncorrectStrLen = errors.New("incorrect string length")
	ErrInvalidFormat   = errors.New("invalid string format")
	ErrInvalidHex      = errors.New("invalid hex digits")
)

const (
	// DwordLen is the size of a data word, the PCIe length granularity.
	DwordLen = 4
	// MaxDataLen is the largest TLP payload in bytes (1024 dwords).
	MaxDataLen = 1024 * DwordLen
	// MaxTLPBuffer is a 4 dword header + max data payload.
	MaxTLPBuffer = 4*DwordLen + MaxDataLen*DwordLen
)

// TlpFormat is the 3 bit format field in the top of the type byte.
type TlpFormat uint8

// TLP formats. See Table 2-2 Fmt[2:0] Field Values.
const (
	Fmt3DWNoData   TlpFormat = 0b000
	Fmt4DWNoData   TlpFormat = 0b001
	Fmt3DWWithData TlpFormat = 0b010
	Fmt4DWWithData TlpFormat = 0b011
	FmtTlpPrefix   TlpFormat = 0b100
)

// TlpType is the format and type field in the TLP header.
// See Table 2-3 in PCI EXPRESS BASE SPECIFICATION, REV. 3.1a.
type TlpType uint8

const (
	// MRd3 is a Memory Read Request encoded with 3 dwords.
	MRd3 TlpType = TlpType(Fmt3DWNoData<<5) | 0b00000
	// MRd4 is a Memory Read Request encoded with 4 dwords.
	MRd4 TlpType = TlpType(Fmt4DWNoData<<5) | 0b00000
	// MRdLk3 is a Memory Read Request-Locked encoded with 3 dwords.
	MRdLk3 TlpType = TlpType(Fmt3DWNoData<<5) | 0b00001
	// MRdLk4 is a Memory Read Request-Locked encoded with 4 dwords.
	MRdLk4 TlpType = TlpType(Fmt4DWNoData<<5) | 0b00001
	// MWr3 is a Memory Write Request encoded with 3 dwords.
	MWr3 TlpType = TlpType(Fmt3DWWithData<<5) | 0b00000
	// MWr4 is a Memory Write Request encoded with 4 dwords.
	MWr4 TlpType = TlpType(Fmt4DWWithData<<5) | 0b00000
	// IORdT is an I/O Read Request.
	IORdT TlpType = TlpType(Fmt3DWNoData<<5) | 0b00010
	// IOWrtT is an I/O Write Request.
	IOWrtT TlpType = TlpType(Fmt3DWWithData<<5) | 0b00010
	// CfgRd0 is a Configuration Read of Type 0.
	CfgRd0 TlpType = TlpType(Fmt3DWNoData<<5) | 0b00100
	// CfgWr0 is a Configuration Write of Type 0.
	CfgWr0 TlpType = TlpType(Fmt3DWWithData<<5) | 0b00100
	// CfgRd1 is a Configuration Read of Type 1.
	CfgRd1 TlpType = TlpType(Fmt3DWNoData<<5) | 0b00101
	// CfgWr1 is a Configuration Write of Type 1.
	CfgWr1 TlpType = TlpType(Fmt3DWWithData<<5) | 0b00101
	// CplE is a Completion without Data. Used for I/O and
	// Configuration Write Completions with any Completion Status.
	CplE TlpType = TlpType(Fmt3DWNoData<<5) | 0b01010
	// CplD is a Completion with Data. Used for Memory,
	// I/O, and Configuration Read Completions.
	CplD TlpType = TlpType(Fmt3DWWithData<<5) | 0b01010
	// CplLk is a Completion for Locked Memory Read without
	// Data. Used only in error case.
	CplLk TlpType = TlpType(Fmt3DWNoData<<5) | 0b01011
	// CplLkD is a Completion for Locked Memory Read,
	// otherwise like CplD.
	CplLkD TlpType = TlpType(Fmt3DWWithData<<5) | 0b01011
	// MRIOV is a Multi-Root I/O Virtualization and Sharing (MR-IOV) TLP prefix.
	MRIOV TlpType = TlpType(FmtTlpPrefix<<5) | 0b00000
	// LocalVendPrefix is a Local TLP prefix with vendor sub-field.
	LocalVendPrefix TlpType = TlpType(FmtTlpPrefix<<5) | 0b01110
	// ExtTPH is an Extended TPH TLP prefix.
	ExtTPH TlpType = TlpType(FmtTlpPrefix<<5) | 0b10000
	// PASID is a Process Address Space ID (PASID) TLP Prefix.
	PASID TlpType = TlpType(FmtTlpPrefix<<5) | 0b10001
	// EndEndVendPrefix is an End-to-End TLP prefix with vendor sub-field.
	EndEndVendPrefix TlpType = TlpType(FmtTlpPrefix<<5) | 0b11110
)

var tlpTypeNames = map[TlpType]string{
	MRd3:             "MRd3",
	MRd4:             "MRd4",
	MRdLk3:           "MRdLk3",
	MRdLk4:           "MRdLk4",
	MWr3:             "MWr3",
	MWr4:             "MWr4",
	IORdT:            "IORd",
	IOWrtT:           "IOWr",
	CfgRd0:           "CfgRd0",
	CfgWr0:           "CfgWr0",
	CfgRd1:           "CfgRd1",
	CfgWr1:           "CfgWr1",
	CplE:             "CplE",
	CplD:             "CplD",
	CplLk:            "CplLk",
	CplLkD:           "CplLkD",
	MRIOV:            "MRIOV",
	LocalVendPrefix:  "LocalVendPrefix",
	ExtTPH:           "ExtTPH",
	PASID:            "PASID",
	EndEndVendPrefix: "EndEndVendPrefix",
}

// TlpTypeFromByte returns the TlpType encoded in b, or ErrInvalidType if b is
// not one of the defined format and type codes.
func TlpTypeFromByte(b byte) (TlpType, error) {
	t := TlpType(b)
	if _, ok := tlpTypeNames[t]; !ok {
		return 0, fmt.Errorf("%w: TLP type %#02x is not defined", ErrInvalidType, b)
	}
	return t, nil
}

// Valid reports whether t is a defined format and type code.
func (t TlpType) Valid() bool {
	_, ok := tlpTypeNames[t]
	return ok
}

func (t TlpType) String() string {
	if name, ok := tlpTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TlpType(%#02x)", uint8(t))
}

// MarshalText encodes t by name.
func (t TlpType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: TLP type %#02x is not defined", ErrInvalidType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a TlpType from its name.
func (t *TlpType) UnmarshalText(text []byte) error {
	for v, name := range tlpTypeNames {
		if name == string(text) {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown TLP type %q", ErrInvalidType, text)
}

// Format returns the format bits of t.
func (t TlpType) Format() TlpFormat {
	return TlpFormat(t >> 5)
}

// IsPrefix reports whether t is a TLP prefix rather than a TLP header.
func (t TlpType) IsPrefix() bool {
	return t.Format() == FmtTlpPrefix
}

// HasData reports whether a TLP of type t carries a data payload.
func (t TlpType) HasData() bool {
	f := t.Format()
	return f == Fmt3DWWithData || f == Fmt4DWWithData
}

// HeaderLen returns the full header length in bytes of a TLP of type t:
// 12 for 3DW formats, 16 for 4DW formats and 4 for prefixes.
func (t TlpType) HeaderLen() int {
	switch t.Format() {
	case Fmt4DWNoData, Fmt4DWWithData:
		return 4 * DwordLen
	case FmtTlpPrefix:
		return DwordLen
	}
	return 3 * DwordLen
}

// IsCompletion reports whether t is one of the completion types.
func (t TlpType) IsCompletion() bool {
	switch t {
	case CplE, CplD, CplLk, CplLkD:
		return true
	}
	return false
}

// IsConfig reports whether t is a type 0 or type 1 configuration request.
func (t TlpType) IsConfig() bool {
	switch t {
	case CfgRd0, CfgWr0, CfgRd1, CfgWr1:
		return true
	}
	return false
}

// AddressType is the address type field in the request header.
type AddressType uint8

// Supported address types.
const (
	DefaultUntranslated AddressType = 0b00
	TranslationRequest  AddressType = 0b01
	Translated          AddressType = 0b10
	AddressTypeReserved AddressType = 0b11
)

// AddressTypeFromBits decodes the low 2 bits of b. Every pattern is valid.
func AddressTypeFromBits(b uint8) AddressType {
	return AddressType(b & 0b11)
}

func (at AddressType) String() string {
	switch at {
	case DefaultUntranslated:
		return "Untranslated"
	case TranslationRequest:
		return "TranslationRequest"
	case Translated:
		return "Translated"
	case AddressTypeReserved:
		return "Reserved"
	}
	return fmt.Sprintf("AddressType(%d)", uint8(at))
}

// TrafficClass is the traffic class field in the request header and used
// to set quality of service (QoS).
type TrafficClass uint8

// Supported traffic classes.
const (
	TC0 TrafficClass = iota
	TC1
	TC2
	TC3
	TC4
	TC5
	TC6
	TC7
)

// TrafficClassFromBits decodes the low 3 bits of b. Every pattern is valid.
func TrafficClassFromBits(b uint8) TrafficClass {
	return TrafficClass(b & 0b111)
}

func (tc TrafficClass) String() string {
	return fmt.Sprintf("TC%d", uint8(tc))
}

// CompletionStatus is the completion status field in the completion header.
type CompletionStatus uint8

// Supported completion status.
const (
	SuccessfulCompletion      CompletionStatus = 0b000
	UnsupportedRequest        CompletionStatus = 0b001
	ConfigurationRequestRetry CompletionStatus = 0b010
	CompleterAbort            CompletionStatus = 0b100
)

var completionStatusNames = map[CompletionStatus]string{
	SuccessfulCompletion:      "SC",
	UnsupportedRequest:        "UR",
	ConfigurationRequestRetry: "CRS",
	CompleterAbort:            "CA",
}

// CompletionStatusFromBits decodes the low 3 bits of b. Patterns without a
// defined status fail with ErrInvalidType.
func CompletionStatusFromBits(b uint8) (CompletionStatus, error) {
	s := CompletionStatus(b & 0b111)
	if _, ok := completionStatusNames[s]; !ok {
		return 0, fmt.Errorf("%w: completion status %#03b is not defined", ErrInvalidType, b&0b111)
	}
	return s, nil
}

// Valid reports whether s is a defined completion status.
func (s CompletionStatus) Valid() bool {
	_, ok := completionStatusNames[s]
	return ok
}

func (s CompletionStatus) String() string {
	if name, ok := completionStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CompletionStatus(%d)", uint8(s))
}

// MarshalText encodes s by its abbreviation (SC, UR, CRS, CA).
func (s CompletionStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: completion status %d is not defined", ErrInvalidType, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes s from its abbreviation.
func (s *CompletionStatus) UnmarshalText(text []byte) error {
	for v, name := range completionStatusNames {
		if name == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown completion status %q", ErrInvalidType, text)
}

// checkLen is the length guard shared by every slice based decoder.
func checkLen(what string, b []byte, want int) error {
	switch {
	case len(b) < want:
		return fmt.Errorf("%w: %s buffer is %d bytes, want %d", ErrTooShort, what, len(b), want)
	case len(b) > want:
		return fmt.Errorf("%w: %s buffer is %d bytes, want %d", ErrTooLong, what, len(b), want)
	}
	return nil
}
