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
	"math/bits"
)

const (
	// CfgHeaderLen is the wire size of a configuration request header.
	CfgHeaderLen = 3 * DwordLen

	maxConfigRegister = 0xfff
)

// MRd TLP: Memory read request.
type MRd struct {
	Hdr     RequestHeader
	Address Address
}

// NewMRd builds memory read request.
// |length| is the number of BYTES to read and must be DWORD aligned, as must
// addr. Addresses above 4GiB produce a 4DW request.
func NewMRd(reqID DeviceID, tag uint8, addr uint64, length uint32) (*MRd, error) {
	a, err := AlignedAddress(addr)
	if err != nil {
		return nil, err
	}
	t := MRd3
	if a.Is64() {
		t = MRd4
	}
	hdr, err := NewTlpHeader().WithType(t).WithLength(int(length))
	if err != nil {
		return nil, err
	}
	return &MRd{
		Hdr: NewRequestHeader().
			WithHeader(hdr).
			WithReqID(reqID).
			WithTag(tag).
			WithByteEnables(),
		Address: a,
	}, nil
}

// Bytes encodes MRd to wire format.
func (tlp *MRd) Bytes() []byte {
	hdr := tlp.Hdr.Bytes()
	return append(hdr[:], tlp.Address.Bytes()...)
}

// ParseMRd decodes a memory read request from a TLP buffer.
func ParseMRd(b []byte) (*MRd, error) {
	req, addr, rest, err := parseAddressed(b, MRd3, MRd4)
	if err != nil {
		return nil, err
	}
	if err := checkLen("MRd trailer", rest, 0); err != nil {
		return nil, err
	}
	return &MRd{Hdr: req, Address: addr}, nil
}

// MWr TLP: Memory write request.
type MWr struct {
	Hdr     RequestHeader
	Address Address
	Data    []byte
}

// NewMWr builds memory write request.
// len(data) and addr must be DWORD aligned.
func NewMWr(reqID DeviceID, addr uint64, data []byte) (*MWr, error) {
	a, err := AlignedAddress(addr)
	if err != nil {
		return nil, err
	}
	t := MWr3
	if a.Is64() {
		t = MWr4
	}
	hdr, err := NewTlpHeader().WithType(t).WithLength(len(data))
	if err != nil {
		return nil, err
	}
	return &MWr{
		Hdr: NewRequestHeader().
			WithHeader(hdr).
			WithReqID(reqID).
			WithByteEnables(),
		Address: a,
		Data:    append([]byte(nil), data...),
	}, nil
}

// Bytes encodes MWr to wire format.
func (tlp *MWr) Bytes() []byte {
	hdr := tlp.Hdr.Bytes()
	b := append(hdr[:], tlp.Address.Bytes()...)
	return append(b, tlp.Data...)
}

// ParseMWr decodes a memory write request from a TLP buffer.
func ParseMWr(b []byte) (*MWr, error) {
	req, addr, rest, err := parseAddressed(b, MWr3, MWr4)
	if err != nil {
		return nil, err
	}
	data, err := parseData(req.Header, rest)
	if err != nil {
		return nil, err
	}
	return &MWr{Hdr: req, Address: addr, Data: data}, nil
}

// IORd TLP: I/O read request.
type IORd struct {
	Hdr     RequestHeader
	Address Address
}

// NewIORd builds an I/O read request. I/O requests only carry 32-bit
// addresses; larger ones fail with ErrOutOfRange.
func NewIORd(reqID DeviceID, tag uint8, addr uint64, length uint32) (*IORd, error) {
	a, err := ioAddress(addr)
	if err != nil {
		return nil, err
	}
	hdr, err := NewTlpHeader().WithType(IORdT).WithLength(int(length))
	if err != nil {
		return nil, err
	}
	return &IORd{
		Hdr: NewRequestHeader().
			WithHeader(hdr).
			WithReqID(reqID).
			WithTag(tag).
			WithByteEnables(),
		Address: a,
	}, nil
}

// Bytes encodes IORd to wire format.
func (tlp *IORd) Bytes() []byte {
	hdr := tlp.Hdr.Bytes()
	return append(hdr[:], tlp.Address.Bytes()...)
}

// IOWr TLP: I/O write request.
type IOWr struct {
	Hdr     RequestHeader
	Address Address
	Data    []byte
}

// NewIOWr builds an I/O write request.
// len(data) must be DW aligned and addr must fit in 32 bits.
func NewIOWr(reqID DeviceID, addr uint64, data []byte) (*IOWr, error) {
	a, err := ioAddress(addr)
	if err != nil {
		return nil, err
	}
	hdr, err := NewTlpHeader().WithType(IOWrtT).WithLength(len(data))
	if err != nil {
		return nil, err
	}
	return &IOWr{
		Hdr: NewRequestHeader().
			WithHeader(hdr).
			WithReqID(reqID).
			WithByteEnables(),
		Address: a,
		Data:    append([]byte(nil), data...),
	}, nil
}

// Bytes encodes IOWr to wire format.
func (tlp *IOWr) Bytes() []byte {
	hdr := tlp.Hdr.Bytes()
	b := append(hdr[:], tlp.Address.Bytes()...)
	return append(b, tlp.Data...)
}

func ioAddress(addr uint64) (Address, error) {
	a, err := AlignedAddress(addr)
	if err != nil {
		return Address{}, err
	}
	if a.Is64() {
		return Address{}, fmt.Errorf("%w: 64bit address %v is not supported for I/O", ErrOutOfRange, a)
	}
	return a, nil
}

// CfgHeader extends RequestHeader and includes the third header dword
// for configuration TLPs.
// See Figure 2-18: Request Header Format for Configuration Transactions.
type CfgHeader struct {
	Hdr    RequestHeader
	Target DeviceID
	// Dword aligned configuration space offset. Bits [11:8] go in the
	// extended register number, bits [7:2] in the register number.
	Register uint16
}

func newCfgHeader(t TlpType, reqID DeviceID, tag uint8, target DeviceID, register uint16) (CfgHeader, error) {
	if register > maxConfigRegister {
		return CfgHeader{}, fmt.Errorf("%w: config register %#x, expected <= %#x", ErrOutOfRange, register, maxConfigRegister)
	}
	hdr, err := NewTlpHeader().WithType(t).WithLength(DwordLen)
	if err != nil {
		return CfgHeader{}, err
	}
	return CfgHeader{
		Hdr: NewRequestHeader().
			WithHeader(hdr).
			WithReqID(reqID).
			WithTag(tag).
			WithByteEnables(),
		Target:   target,
		Register: register &^ 3,
	}, nil
}

// Bytes encodes the 12 byte configuration request header.
func (h CfgHeader) Bytes() [CfgHeaderLen]byte {
	var b [CfgHeaderLen]byte
	req := h.Hdr.Bytes()
	copy(b[0:8], req[:])
	target := h.Target.Bytes()
	copy(b[8:10], target[:])
	b[10] = byte(h.Register>>8) & 0xf
	b[11] = byte(h.Register) & 0xfc
	return b
}

// ParseCfgHeader decodes a configuration request header from a slice of
// exactly 12 bytes.
func ParseCfgHeader(b []byte) (CfgHeader, error) {
	if err := checkLen("config header", b, CfgHeaderLen); err != nil {
		return CfgHeader{}, err
	}
	req, err := ParseRequestHeader(b[0:8])
	if err != nil {
		return CfgHeader{}, err
	}
	return CfgHeader{
		Hdr:      req,
		Target:   DeviceIDFromBytes([DeviceIDLen]byte(b[8:10])),
		Register: uint16(b[10]&0xf)<<8 | uint16(b[11]&0xfc),
	}, nil
}

// MemoryAddress returns the enabled byte's config space offset.
// Table 7-1: Enhanced Configuration Address Mapping.
func (h CfgHeader) MemoryAddress() int {
	return int(h.Register) + firstEnabled(h.Hdr.FirstBE())
}

// firstEnabled returns the offset of the first enabled byte in a dword.
func firstEnabled(be uint8) int {
	if be&0xf == 0 {
		return 0
	}
	return bits.TrailingZeros8(be)
}

// CfgRd TLP: Configuration read request.
type CfgRd struct {
	CfgHeader
}

// NewCfgRd builds a type 0 configuration read of the dword at register.
func NewCfgRd(reqID DeviceID, tag uint8, target DeviceID, register uint16) (*CfgRd, error) {
	h, err := newCfgHeader(CfgRd0, reqID, tag, target, register)
	if err != nil {
		return nil, err
	}
	return &CfgRd{CfgHeader: h}, nil
}

// Bytes encodes CfgRd to wire format.
func (tlp *CfgRd) Bytes() []byte {
	b := tlp.CfgHeader.Bytes()
	return b[:]
}

// ParseCfgRd decodes a type 0 or type 1 configuration read.
func ParseCfgRd(b []byte) (*CfgRd, error) {
	h, err := ParseCfgHeader(b)
	if err != nil {
		return nil, err
	}
	if t := h.Hdr.Header.Type; t != CfgRd0 && t != CfgRd1 {
		return nil, fmt.Errorf("%w: type %v is not supported. supported types: CfgRd0, CfgRd1", ErrInvalidType, t)
	}
	return &CfgRd{CfgHeader: h}, nil
}

// CfgWr TLP: Configuration write request.
type CfgWr struct {
	CfgHeader
	Data [DwordLen]byte
}

// NewCfgWr builds a type 0 configuration write of the dword at register.
func NewCfgWr(reqID DeviceID, tag uint8, target DeviceID, register uint16, data [DwordLen]byte) (*CfgWr, error) {
	h, err := newCfgHeader(CfgWr0, reqID, tag, target, register)
	if err != nil {
		return nil, err
	}
	return &CfgWr{CfgHeader: h, Data: data}, nil
}

// Bytes encodes CfgWr to wire format.
func (tlp *CfgWr) Bytes() []byte {
	b := tlp.CfgHeader.Bytes()
	return append(b[:], tlp.Data[:]...)
}

// ParseCfgWr decodes a type 0 or type 1 configuration write. The request
// must be a single dword with no last byte enables.
func ParseCfgWr(b []byte) (*CfgWr, error) {
	if err := checkLen("CfgWr", b, CfgHeaderLen+DwordLen); err != nil {
		return nil, err
	}
	h, err := ParseCfgHeader(b[:CfgHeaderLen])
	if err != nil {
		return nil, err
	}
	if t := h.Hdr.Header.Type; t != CfgWr0 && t != CfgWr1 {
		return nil, fmt.Errorf("%w: type %v is not supported. supported types: CfgWr0, CfgWr1", ErrInvalidType, t)
	}
	if n := h.Hdr.Header.LengthDW(); n != 1 {
		return nil, fmt.Errorf("%w: config write length %d DW, expected 1", ErrTooLong, n)
	}
	if h.Hdr.LastBE() != 0 {
		return nil, fmt.Errorf("%w: config write last BE %#x, expected 0", ErrOutOfRange, h.Hdr.LastBE())
	}
	return &CfgWr{CfgHeader: h, Data: [DwordLen]byte(b[CfgHeaderLen:])}, nil
}

// FirstDataByte returns the first enabled data byte.
func (tlp *CfgWr) FirstDataByte() byte {
	return tlp.Data[firstEnabled(tlp.Hdr.FirstBE())]
}

// Cpl TLP: Completion response.
type Cpl struct {
	Hdr  CplHeader
	Data []byte
}

// NewCpl builds completion response. A CplD is built when data is not
// empty, a CplE otherwise.
func NewCpl(cplID DeviceID, bc uint16, status CompletionStatus, reqID DeviceID, tag, addressLow uint8, data []byte) (*Cpl, error) {
	hdr := NewTlpHeader().WithType(CplE)
	if len(data) > 0 {
		var err error
		if hdr, err = hdr.WithType(CplD).WithLength(len(data)); err != nil {
			return nil, err
		}
	}
	cpl, err := NewCplHeader().
		WithHeader(hdr).
		WithCplID(cplID).
		WithStatus(status).
		WithReqID(reqID).
		WithTag(tag).
		WithBC(bc)
	if err != nil {
		return nil, err
	}
	if cpl, err = cpl.WithAddr(addressLow); err != nil {
		return nil, err
	}
	tlp := &Cpl{Hdr: cpl}
	if len(data) > 0 {
		tlp.Data = append([]byte(nil), data...)
	}
	return tlp, nil
}

// NewCplForMRd builds a completion response that matches the given memory
// read request.
func NewCplForMRd(cplID DeviceID, status CompletionStatus, mrd *MRd, data []byte) (*Cpl, error) {
	if err := checkLen("completion data", data, mrd.Hdr.Header.DataLength()); err != nil {
		return nil, err
	}
	bc := CplByteCount(mrd.Hdr.FirstBE(), mrd.Hdr.LastBE(), mrd.Hdr.Header.LengthDW())
	addressLow := CplLowerAddress(mrd.Hdr.FirstBE(), mrd.Address)
	return NewCpl(cplID, uint16(bc&maxByteCount), status, mrd.Hdr.ReqID, mrd.Hdr.Tag, addressLow, data)
}

// Bytes encodes Cpl to wire format.
func (tlp *Cpl) Bytes() []byte {
	hdr := tlp.Hdr.Bytes()
	return append(hdr[:], tlp.Data...)
}

// ParseCpl decodes a completion response from a TLP buffer.
func ParseCpl(b []byte) (*Cpl, error) {
	if len(b) < CplHeaderLen {
		return nil, fmt.Errorf("%w: TLP buffer too short (%d), expected at least %d bytes", ErrTooShort, len(b), CplHeaderLen)
	}
	hdr, err := ParseCplHeader(b[:CplHeaderLen])
	if err != nil {
		return nil, err
	}
	if !hdr.Header.Type.IsCompletion() {
		return nil, fmt.Errorf("%w: type %v is not a completion", ErrInvalidType, hdr.Header.Type)
	}
	tlp := &Cpl{Hdr: hdr}
	if tlp.Data, err = parseData(hdr.Header, b[CplHeaderLen:]); err != nil {
		return nil, err
	}
	return tlp, nil
}

// parseAddressed decodes a request header followed by a 32-bit or 64-bit
// address, checking the type is one of t3 (3DW) or t4 (4DW).
func parseAddressed(b []byte, t3, t4 TlpType) (RequestHeader, Address, []byte, error) {
	if len(b) < TlpHeaderLen {
		return RequestHeader{}, Address{}, nil, fmt.Errorf("%w: TLP buffer too short (%d), want at least %d", ErrTooShort, len(b), TlpHeaderLen)
	}
	t, err := TlpTypeFromByte(b[0])
	if err != nil {
		return RequestHeader{}, Address{}, nil, err
	}
	if t != t3 && t != t4 {
		return RequestHeader{}, Address{}, nil, fmt.Errorf("%w: type %v is not supported. supported types: %v, %v", ErrInvalidType, t, t3, t4)
	}
	n := t.HeaderLen()
	if len(b) < n {
		return RequestHeader{}, Address{}, nil, fmt.Errorf("%w: TLP buffer too short (%d), want at least %d", ErrTooShort, len(b), n)
	}
	req, addr, err := decodeAddressed(b[:n])
	if err != nil {
		return RequestHeader{}, Address{}, nil, err
	}
	return req, addr, b[n:], nil
}

// parseData copies the payload declared by hdr out of b, which must hold
// exactly that many bytes.
func parseData(hdr TlpHeader, b []byte) ([]byte, error) {
	if !hdr.Type.HasData() {
		return nil, checkLen("TLP trailer", b, 0)
	}
	if err := checkLen("TLP data", b, hdr.DataLength()); err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}
