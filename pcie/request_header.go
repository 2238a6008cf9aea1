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

// RequestHeaderLen is the wire size of a RequestHeader.
const RequestHeaderLen = 2 * DwordLen

// RequestHeader extends TlpHeader and includes the second header dword
// on Memory, IO, and Config Request TLPs.
type RequestHeader struct {
	Header TlpHeader
	// Requester ID.
	ReqID DeviceID
	// Unique tag for all outstanding requests.
	Tag uint8

	// First and Last Byte Enable (4b each).
	firstBE uint8
	lastBE  uint8
}

// NewRequestHeader returns a request header with every field zero.
func NewRequestHeader() RequestHeader {
	return RequestHeader{}
}

// WithHeader sets the common first dword.
func (h RequestHeader) WithHeader(hdr TlpHeader) RequestHeader {
	h.Header = hdr
	return h
}

// WithReqID sets the requester ID.
func (h RequestHeader) WithReqID(id DeviceID) RequestHeader {
	h.ReqID = id
	return h
}

// WithTag sets the request tag.
func (h RequestHeader) WithTag(tag uint8) RequestHeader {
	h.Tag = tag
	return h
}

// WithFirstBE sets the first dword byte enables, failing with ErrTooLong if
// be does not fit in 4 bits.
func (h RequestHeader) WithFirstBE(be uint8) (RequestHeader, error) {
	if be > 0xf {
		return h, fmt.Errorf("%w: first BE %#x does not fit in 4 bits", ErrTooLong, be)
	}
	h.firstBE = be
	return h, nil
}

// WithLastBE sets the last dword byte enables, failing with ErrTooLong if
// be does not fit in 4 bits.
func (h RequestHeader) WithLastBE(be uint8) (RequestHeader, error) {
	if be > 0xf {
		return h, fmt.Errorf("%w: last BE %#x does not fit in 4 bits", ErrTooLong, be)
	}
	h.lastBE = be
	return h, nil
}

// WithByteEnables derives the byte enables from the header length: all bytes
// of the first dword, and all bytes of the last dword unless the request is a
// single dword. See section 2.2.5. First/Last DW Byte Enables Rules.
func (h RequestHeader) WithByteEnables() RequestHeader {
	h.firstBE = 0xf
	if h.Header.LengthDW() == 1 {
		h.lastBE = 0
	} else {
		h.lastBE = 0xf
	}
	return h
}

// FirstBE returns the first dword byte enables.
func (h RequestHeader) FirstBE() uint8 { return h.firstBE }

// LastBE returns the last dword byte enables.
func (h RequestHeader) LastBE() uint8 { return h.lastBE }

// Bytes encodes h to its 8 byte wire form.
func (h RequestHeader) Bytes() [RequestHeaderLen]byte {
	var b [RequestHeaderLen]byte
	hdr := h.Header.Bytes()
	copy(b[0:4], hdr[:])
	id := h.ReqID.Bytes()
	copy(b[4:6], id[:])
	b[6] = h.Tag
	b[7] = h.lastBE<<4 | h.firstBE&0xf
	return b
}

// RequestHeaderFromBytes decodes a RequestHeader from its wire form.
func RequestHeaderFromBytes(b [RequestHeaderLen]byte) (RequestHeader, error) {
	hdr, err := TlpHeaderFromBytes([TlpHeaderLen]byte(b[0:4]))
	if err != nil {
		return RequestHeader{}, err
	}
	return RequestHeader{
		Header:  hdr,
		ReqID:   DeviceIDFromBytes([DeviceIDLen]byte(b[4:6])),
		Tag:     b[6],
		firstBE: getSubField(b[7], 0, 0xf),
		lastBE:  getSubField(b[7], 4, 0xf),
	}, nil
}

// ParseRequestHeader decodes a RequestHeader from a slice of exactly 8 bytes.
func ParseRequestHeader(b []byte) (RequestHeader, error) {
	if err := checkLen("request header", b, RequestHeaderLen); err != nil {
		return RequestHeader{}, err
	}
	return RequestHeaderFromBytes([RequestHeaderLen]byte(b))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h RequestHeader) MarshalBinary() ([]byte, error) {
	b := h.Bytes()
	return b[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (h *RequestHeader) UnmarshalBinary(b []byte) error {
	v, err := ParseRequestHeader(b)
	if err != nil {
		return err
	}
	*h = v
	return nil
}
