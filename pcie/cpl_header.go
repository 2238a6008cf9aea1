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
)

const (
	// CplHeaderLen is the wire size of a CplHeader.
	CplHeaderLen = 3 * DwordLen

	maxByteCount  = 0xfff
	maxAddressLow = 0x7f
)

// CplHeader extends TlpHeader and includes the second and third header dwords
// for Completion TLPs.
// See section 2.2.9. Completion Rules
type CplHeader struct {
	Header TlpHeader
	// Completer ID.
	CplID DeviceID
	// Completion status.
	Status CompletionStatus
	// Requester ID.
	ReqID DeviceID
	// Unique tag for all outstanding requests.
	Tag uint8

	// Byte count: the number of bytes left for transmission, including those in
	// the current packet.
	bc uint16
	// Lower Byte Address for starting byte of Completion (7b). Bit 7 holds
	// the reserved bit as received.
	addrLow uint8
}

// NewCplHeader returns a successful completion header with every other field
// zero.
func NewCplHeader() CplHeader {
	return CplHeader{}
}

// WithHeader sets the common first dword.
func (h CplHeader) WithHeader(hdr TlpHeader) CplHeader {
	h.Header = hdr
	return h
}

// WithCplID sets the completer ID.
func (h CplHeader) WithCplID(id DeviceID) CplHeader {
	h.CplID = id
	return h
}

// WithStatus sets the completion status. A status CompletionStatusFromBits
// rejects still encodes, but the result fails to decode with ErrInvalidType.
func (h CplHeader) WithStatus(s CompletionStatus) CplHeader {
	h.Status = s
	return h
}

// WithReqID sets the requester ID of the request being completed.
func (h CplHeader) WithReqID(id DeviceID) CplHeader {
	h.ReqID = id
	return h
}

// WithTag sets the tag of the request being completed.
func (h CplHeader) WithTag(tag uint8) CplHeader {
	h.Tag = tag
	return h
}

// WithBC sets the remaining byte count, failing with ErrTooLong above 4095.
func (h CplHeader) WithBC(bc uint16) (CplHeader, error) {
	if bc > maxByteCount {
		return h, fmt.Errorf("%w: byte count %d, expected <= %d", ErrTooLong, bc, maxByteCount)
	}
	h.bc = bc
	return h, nil
}

// WithAddr sets the lower address, failing with ErrTooLong above 127. It
// clears the reserved bit kept from a decoded header.
func (h CplHeader) WithAddr(addrLow uint8) (CplHeader, error) {
	if addrLow > maxAddressLow {
		return h, fmt.Errorf("%w: lower address %#x does not fit in 7 bits", ErrTooLong, addrLow)
	}
	h.addrLow = addrLow
	return h, nil
}

// ByteCount returns the remaining byte count.
func (h CplHeader) ByteCount() uint16 { return h.bc }

// AddressLow returns the 7-bit lower address without the reserved bit.
func (h CplHeader) AddressLow() uint8 { return h.addrLow & maxAddressLow }

// Bytes encodes h to its 12 byte wire form.
func (h CplHeader) Bytes() [CplHeaderLen]byte {
	var b [CplHeaderLen]byte
	hdr := h.Header.Bytes()
	copy(b[0:4], hdr[:])
	cplID := h.CplID.Bytes()
	copy(b[4:6], cplID[:])
	binary.BigEndian.PutUint16(b[6:8], uint16(h.Status&0x7)<<13|h.bc&0x1fff)
	reqID := h.ReqID.Bytes()
	copy(b[8:10], reqID[:])
	b[10] = h.Tag
	b[11] = h.addrLow
	return b
}

// CplHeaderFromBytes decodes a CplHeader from its wire form. It fails with
// ErrInvalidType on an undefined type or completion status. The reserved bit
// above the lower address is kept, so Bytes reproduces b.
func CplHeaderFromBytes(b [CplHeaderLen]byte) (CplHeader, error) {
	hdr, err := TlpHeaderFromBytes([TlpHeaderLen]byte(b[0:4]))
	if err != nil {
		return CplHeader{}, err
	}
	statusBC := binary.BigEndian.Uint16(b[6:8])
	status, err := CompletionStatusFromBits(uint8(statusBC >> 13))
	if err != nil {
		return CplHeader{}, err
	}
	return CplHeader{
		Header:  hdr,
		CplID:   DeviceIDFromBytes([DeviceIDLen]byte(b[4:6])),
		Status:  status,
		bc:      statusBC & 0x1fff,
		ReqID:   DeviceIDFromBytes([DeviceIDLen]byte(b[8:10])),
		Tag:     b[10],
		addrLow: b[11],
	}, nil
}

// ParseCplHeader decodes a CplHeader from a slice of exactly 12 bytes.
func ParseCplHeader(b []byte) (CplHeader, error) {
	if err := checkLen("completion header", b, CplHeaderLen); err != nil {
		return CplHeader{}, err
	}
	return CplHeaderFromBytes([CplHeaderLen]byte(b))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h CplHeader) MarshalBinary() ([]byte, error) {
	b := h.Bytes()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *CplHeader) UnmarshalBinary(b []byte) error {
	v, err := ParseCplHeader(b)
	if err != nil {
		return err
	}
	*h = v
	return nil
}
