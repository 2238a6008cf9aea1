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
	"fmt"
)

// TlpHeaderLen is the wire size of a TlpHeader.
const TlpHeaderLen = DwordLen

// TlpHeader is the first header dword, common on all TLPs.
// See section 2.2.1. Common Packet Header Fields.
//
// The zero value is a MRd3 header with a 1024 dword length.
type TlpHeader struct {
	// Format and type.
	Type TlpType
	// Traffic class (3b).
	TC TrafficClass
	// Indicates that a Memory Request is an LN Read or LN Write (1b).
	LN bool
	// Presence of TLP Processing Hints (1b).
	TH bool
	// Presence of TLP digest in the form of a single DW at the end of the TLP (1b).
	TD bool
	// Indicates the TLP is poisoned (1b).
	EP bool
	// Attributes (3b): no-snoop, relaxed ordering, id-based ordering.
	NS  bool
	RO  bool
	IBO bool
	// Address Type (2b).
	AT AddressType

	// Encoded length of data payload in DW (10b), 0 meaning 1024.
	length uint16
}

// NewTlpHeader returns a MRd3 header with every other field zero.
func NewTlpHeader() TlpHeader {
	return TlpHeader{}
}

// WithType sets the format and type byte. A type TlpTypeFromByte rejects
// still encodes, but the result fails to decode with ErrInvalidType.
func (h TlpHeader) WithType(t TlpType) TlpHeader {
	h.Type = t
	return h
}

// WithTC sets the traffic class. Only the low 3 bits of tc are kept.
func (h TlpHeader) WithTC(tc TrafficClass) TlpHeader {
	h.TC = TrafficClassFromBits(uint8(tc))
	return h
}

// WithLN marks a memory request as a lightweight notification read or write.
func (h TlpHeader) WithLN(ln bool) TlpHeader {
	h.LN = ln
	return h
}

// WithTH sets whether TLP processing hints are present.
func (h TlpHeader) WithTH(th bool) TlpHeader {
	h.TH = th
	return h
}

// WithTD sets whether a digest dword follows the payload.
func (h TlpHeader) WithTD(td bool) TlpHeader {
	h.TD = td
	return h
}

// WithEP marks the TLP as poisoned.
func (h TlpHeader) WithEP(ep bool) TlpHeader {
	h.EP = ep
	return h
}

// WithNS sets the no-snoop attribute.
func (h TlpHeader) WithNS(ns bool) TlpHeader {
	h.NS = ns
	return h
}

// WithRO sets the relaxed ordering attribute.
func (h TlpHeader) WithRO(ro bool) TlpHeader {
	h.RO = ro
	return h
}

// WithIBO sets the ID-based ordering attribute.
func (h TlpHeader) WithIBO(ibo bool) TlpHeader {
	h.IBO = ibo
	return h
}

// WithAT sets the address type. Only the low 2 bits of at are kept.
func (h TlpHeader) WithAT(at AddressType) TlpHeader {
	h.AT = AddressTypeFromBits(uint8(at))
	return h
}

// WithLength sets the payload length in bytes. bytesLen must be dword aligned
// and at most MaxDataLen. See Table 2-4 Length[9:0] Field Encoding.
func (h TlpHeader) WithLength(bytesLen int) (TlpHeader, error) {
	if bytesLen < 0 || bytesLen > MaxDataLen {
		return h, fmt.Errorf("%w: TLP length %d is too big, expected <= %d", ErrTooLong, bytesLen, MaxDataLen)
	}
	if bytesLen&3 > 0 {
		return h, fmt.Errorf("%w: TLP length %d is not dword aligned", ErrNotAligned, bytesLen)
	}

	h.length = uint16(bytesLen >> 2)
	if h.length == 1024 {
		h.length = 0
	}
	return h, nil
}

// DataLength decodes the length field to data length in bytes.
// See Table 2-4 Length[9:0] Field Encoding.
func (h TlpHeader) DataLength() int {
	return h.LengthDW() * DwordLen
}

// LengthDW returns the payload length in dwords, 1 to 1024.
func (h TlpHeader) LengthDW() int {
	if h.length == 0 {
		return 1024
	}
	return int(h.length)
}

func computeBit(value bool, pos int) byte {
	if value {
		return 1 << pos
	}
	return 0
}

func getBit(input byte, pos int) bool {
	return (input>>pos)&1 > 0
}

func getSubField(input byte, shift int, mask byte) byte {
	return (input >> shift) & mask
}

// Bytes encodes h to its 4 byte wire form.
func (h TlpHeader) Bytes() [TlpHeaderLen]byte {
	var dw [TlpHeaderLen]byte
	dw[0] = byte(h.Type)
	dw[1] = byte(h.TC&0x7)<<4 |
		computeBit(h.IBO, 2) |
		computeBit(h.LN, 1) |
		computeBit(h.TH, 0)
	dw[2] = computeBit(h.TD, 7) |
		computeBit(h.EP, 6) |
		computeBit(h.RO, 5) |
		computeBit(h.NS, 4) |
		byte(h.AT&0x3)<<2 |
		byte(h.length>>8)&0x3
	dw[3] = byte(h.length & 0xff)
	return dw
}

// TlpHeaderFromBytes decodes a TlpHeader from its wire form. Only the type byte
// can be invalid; every other bit pattern decodes.
func TlpHeaderFromBytes(dw [TlpHeaderLen]byte) (TlpHeader, error) {
	t, err := TlpTypeFromByte(dw[0])
	if err != nil {
		return TlpHeader{}, err
	}
	return TlpHeader{
		Type:   t,
		TC:     TrafficClassFromBits(getSubField(dw[1], 4, 0x7)),
		IBO:    getBit(dw[1], 2),
		LN:     getBit(dw[1], 1),
		TH:     getBit(dw[1], 0),
		TD:     getBit(dw[2], 7),
		EP:     getBit(dw[2], 6),
		RO:     getBit(dw[2], 5),
		NS:     getBit(dw[2], 4),
		AT:     AddressTypeFromBits(getSubField(dw[2], 2, 0x3)),
		length: uint16(getSubField(dw[2], 0, 0x3))<<8 | uint16(dw[3]),
	}, nil
}

// ParseTlpHeader decodes a TlpHeader from a slice of exactly 4 bytes.
func ParseTlpHeader(b []byte) (TlpHeader, error) {
	if err := checkLen("TLP header", b, TlpHeaderLen); err != nil {
		return TlpHeader{}, err
	}
	return TlpHeaderFromBytes([TlpHeaderLen]byte(b))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h TlpHeader) MarshalBinary() ([]byte, error) {
	b := h.Bytes()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *TlpHeader) UnmarshalBinary(b []byte) error {
	v, err := ParseTlpHeader(b)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func (h TlpHeader) String() string {
	return fmt.Sprintf("%v %v Len: %d DW AT: %v Attr: ns=%t ro=%t ibo=%t TD=%t EP=%t TH=%t LN=%t",
		h.Type, h.TC, h.LengthDW(), h.AT, h.NS, h.RO, h.IBO, h.TD, h.EP, h.TH, h.LN)
}
