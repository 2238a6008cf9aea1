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

// Package desc converts TLPs to and from a YAML or JSON description.
package desc

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/go-pcie-tlp/internal/hexutil"
	"github.com/google/go-pcie-tlp/pcie"
	"github.com/google/gopacket"
	"gopkg.in/yaml.v3"
)

const (
	maxConfigRegister = 0xfff
	maxPrefixValue    = 0xffffff
	maxTrafficClass   = 7
	maxAddressType    = 3
	maxDigest         = 0xffffffff
)

// Hex is a number written as 0x prefixed hex text.
type Hex uint64

func (h Hex) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%#x", uint64(h))), nil
}

func (h *Hex) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", pcie.ErrInvalidHex, text, err)
	}
	*h = Hex(v)
	return nil
}

// Prefix describes one TLP prefix dword.
type Prefix struct {
	Type  pcie.TlpType `yaml:"type" json:"type"`
	Value Hex          `yaml:"value" json:"value"`
}

// Description is a TLP as written in encode input files and printed by
// decode. Which fields apply depends on Type:
//   - memory and I/O requests: ReqID, Tag, FirstBE, LastBE, Address
//   - configuration requests: ReqID, Tag, FirstBE, LastBE, Target, Register
//   - completions: CplID, Status, ReqID, Tag, ByteCount, AddressLow
//
// Length is in bytes; for types carrying data it defaults to the length of
// Data. A length of 0 encodes the 4096 byte maximum. Digest is the ECRC dword
// and only applies when TD is set.
type Description struct {
	Prefixes []Prefix     `yaml:"prefixes,omitempty" json:"prefixes,omitempty"`
	Type     pcie.TlpType `yaml:"type" json:"type"`
	TC       uint8        `yaml:"tc,omitempty" json:"tc,omitempty"`
	LN       bool         `yaml:"ln,omitempty" json:"ln,omitempty"`
	TH       bool         `yaml:"th,omitempty" json:"th,omitempty"`
	TD       bool         `yaml:"td,omitempty" json:"td,omitempty"`
	EP       bool         `yaml:"ep,omitempty" json:"ep,omitempty"`
	NS       bool         `yaml:"ns,omitempty" json:"ns,omitempty"`
	RO       bool         `yaml:"ro,omitempty" json:"ro,omitempty"`
	IBO      bool         `yaml:"ibo,omitempty" json:"ibo,omitempty"`
	AT       uint8        `yaml:"at,omitempty" json:"at,omitempty"`
	Length   int          `yaml:"length,omitempty" json:"length,omitempty"`

	ReqID   *pcie.DeviceID `yaml:"req_id,omitempty" json:"req_id,omitempty"`
	Tag     uint8          `yaml:"tag,omitempty" json:"tag,omitempty"`
	FirstBE *uint8         `yaml:"first_be,omitempty" json:"first_be,omitempty"`
	LastBE  *uint8         `yaml:"last_be,omitempty" json:"last_be,omitempty"`
	Address *Hex           `yaml:"address,omitempty" json:"address,omitempty"`

	Target   *pcie.DeviceID `yaml:"target,omitempty" json:"target,omitempty"`
	Register Hex            `yaml:"register,omitempty" json:"register,omitempty"`

	CplID      *pcie.DeviceID         `yaml:"cpl_id,omitempty" json:"cpl_id,omitempty"`
	Status     *pcie.CompletionStatus `yaml:"status,omitempty" json:"status,omitempty"`
	ByteCount  uint16                 `yaml:"byte_count,omitempty" json:"byte_count,omitempty"`
	AddressLow uint8                  `yaml:"address_low,omitempty" json:"address_low,omitempty"`

	// Data is the payload as hex text.
	Data   string `yaml:"data,omitempty" json:"data,omitempty"`
	Digest *Hex   `yaml:"digest,omitempty" json:"digest,omitempty"`
}

// Parse reads one description. JSON input is accepted as YAML flow syntax.
// Unknown fields are rejected.
func Parse(r io.Reader) (Description, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var d Description
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return Description{}, errors.New("empty description")
		}
		return Description{}, err
	}
	return d, nil
}

// Bytes encodes the described TLP, prefixes first.
func (d Description) Bytes() ([]byte, error) {
	if !d.Type.Valid() || d.Type.IsPrefix() {
		return nil, fmt.Errorf("%w: %v is not a TLP header type", pcie.ErrInvalidType, d.Type)
	}
	data, err := hexutil.Decode(d.Data)
	if err != nil {
		return nil, err
	}
	length := d.Length
	switch {
	case d.Type.HasData() && len(data) == 0:
		return nil, fmt.Errorf("%w: %v needs data", pcie.ErrTooShort, d.Type)
	case !d.Type.HasData() && len(data) > 0:
		return nil, fmt.Errorf("%w: %v carries no data", pcie.ErrTooLong, d.Type)
	case d.Type.HasData() && length == 0:
		length = len(data)
	case d.Type.HasData() && length != len(data):
		return nil, fmt.Errorf("%w: length %d but %d data bytes", pcie.ErrOutOfRange, length, len(data))
	}

	if d.TC > maxTrafficClass {
		return nil, fmt.Errorf("%w: traffic class %d, expected <= %d", pcie.ErrTooLong, d.TC, maxTrafficClass)
	}
	if d.AT > maxAddressType {
		return nil, fmt.Errorf("%w: address type %d, expected <= %d", pcie.ErrTooLong, d.AT, maxAddressType)
	}
	if d.Digest != nil && !d.TD {
		return nil, fmt.Errorf("%w: digest given without td", pcie.ErrTooLong)
	}
	if d.Digest != nil && *d.Digest > maxDigest {
		return nil, fmt.Errorf("%w: digest %#x does not fit in a dword", pcie.ErrTooLong, uint64(*d.Digest))
	}

	hdr, err := pcie.NewTlpHeader().
		WithType(d.Type).
		WithTC(pcie.TrafficClassFromBits(d.TC)).
		WithLN(d.LN).
		WithTH(d.TH).
		WithTD(d.TD).
		WithEP(d.EP).
		WithNS(d.NS).
		WithRO(d.RO).
		WithIBO(d.IBO).
		WithAT(pcie.AddressTypeFromBits(d.AT)).
		WithLength(length)
	if err != nil {
		return nil, err
	}

	tlp := &pcie.TLP{Header: hdr, Digest: uint32(deref(d.Digest))}
	switch {
	case d.Type.IsCompletion():
		if tlp.Completion, err = d.completion(hdr); err != nil {
			return nil, err
		}
	case d.Type.IsConfig():
		if d.Register > maxConfigRegister {
			return nil, fmt.Errorf("%w: config register %#x, expected <= %#x", pcie.ErrOutOfRange, uint64(d.Register), maxConfigRegister)
		}
		if d.Register&3 != 0 {
			return nil, fmt.Errorf("%w: config register %#x", pcie.ErrNotAligned, uint64(d.Register))
		}
		req, err := d.request(hdr)
		if err != nil {
			return nil, err
		}
		tlp.Config = pcie.CfgHeader{Hdr: req, Target: deref(d.Target), Register: uint16(d.Register)}
	default:
		if d.Address == nil {
			return nil, fmt.Errorf("%v needs an address", d.Type)
		}
		if tlp.Address, err = pcie.AlignedAddress(uint64(*d.Address)); err != nil {
			return nil, err
		}
		if tlp.Request, err = d.request(hdr); err != nil {
			return nil, err
		}
	}

	var ls []gopacket.SerializableLayer
	for _, p := range d.Prefixes {
		if p.Value > maxPrefixValue {
			return nil, fmt.Errorf("%w: prefix value %#x, expected <= %#x", pcie.ErrTooLong, uint64(p.Value), maxPrefixValue)
		}
		ls = append(ls, &pcie.TLPPrefix{Type: p.Type, Value: uint32(p.Value)})
	}
	ls = append(ls, tlp)
	if len(data) > 0 {
		ls = append(ls, gopacket.Payload(data))
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ls...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d Description) request(hdr pcie.TlpHeader) (pcie.RequestHeader, error) {
	req := pcie.NewRequestHeader().
		WithHeader(hdr).
		WithReqID(deref(d.ReqID)).
		WithTag(d.Tag).
		WithByteEnables()
	var err error
	if d.FirstBE != nil {
		if req, err = req.WithFirstBE(*d.FirstBE); err != nil {
			return pcie.RequestHeader{}, err
		}
	}
	if d.LastBE != nil {
		if req, err = req.WithLastBE(*d.LastBE); err != nil {
			return pcie.RequestHeader{}, err
		}
	}
	return req, nil
}

func (d Description) completion(hdr pcie.TlpHeader) (pcie.CplHeader, error) {
	cpl := pcie.NewCplHeader().
		WithHeader(hdr).
		WithCplID(deref(d.CplID)).
		WithStatus(deref(d.Status)).
		WithReqID(deref(d.ReqID)).
		WithTag(d.Tag)
	cpl, err := cpl.WithBC(d.ByteCount)
	if err != nil {
		return pcie.CplHeader{}, err
	}
	return cpl.WithAddr(d.AddressLow)
}

// Decode describes the TLP in b, which may start with TLP prefixes.
func Decode(b []byte) (Description, error) {
	return FromPacket(gopacket.NewPacket(b, pcie.LayerTypeTLP, gopacket.Default))
}

// FromPacket describes a packet decoded from pcie.LayerTypeTLP.
func FromPacket(pkt gopacket.Packet) (Description, error) {
	if el := pkt.ErrorLayer(); el != nil {
		return Description{}, el.Error()
	}
	var (
		d     Description
		found bool
	)
	for _, l := range pkt.Layers() {
		switch l := l.(type) {
		case *pcie.TLPPrefix:
			d.Prefixes = append(d.Prefixes, Prefix{Type: l.Type, Value: Hex(l.Value)})
		case *pcie.TLP:
			d.fill(l)
			found = true
		}
	}
	if !found {
		return Description{}, fmt.Errorf("%w: no TLP in packet", pcie.ErrTooShort)
	}
	return d, nil
}

func (d *Description) fill(tlp *pcie.TLP) {
	h := tlp.Header
	d.Type = h.Type
	d.TC = uint8(h.TC)
	d.LN, d.TH, d.TD, d.EP = h.LN, h.TH, h.TD, h.EP
	d.NS, d.RO, d.IBO = h.NS, h.RO, h.IBO
	d.AT = uint8(h.AT)
	d.Length = h.DataLength()

	switch {
	case h.Type.IsCompletion():
		c := tlp.Completion
		d.CplID = ptr(c.CplID)
		d.Status = ptr(c.Status)
		d.ReqID = ptr(c.ReqID)
		d.Tag = c.Tag
		d.ByteCount = c.ByteCount()
		d.AddressLow = c.AddressLow()
	case h.Type.IsConfig():
		d.describeRequest(tlp.Config.Hdr)
		d.Target = ptr(tlp.Config.Target)
		d.Register = Hex(tlp.Config.Register)
	default:
		d.describeRequest(tlp.Request)
		d.Address = ptr(Hex(tlp.Address.Uint64()))
	}
	if len(tlp.Payload) > 0 {
		d.Data = hexutil.Compact(tlp.Payload)
	}
	if h.TD {
		d.Digest = ptr(Hex(tlp.Digest))
	}
}

func (d *Description) describeRequest(req pcie.RequestHeader) {
	d.ReqID = ptr(req.ReqID)
	d.Tag = req.Tag
	d.FirstBE = ptr(req.FirstBE())
	d.LastBE = ptr(req.LastBE())
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
