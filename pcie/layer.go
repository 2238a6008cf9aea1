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

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// LayerTypeTLP decodes a TLP, including any leading TLP prefixes.
	LayerTypeTLP = gopacket.RegisterLayerType(1920, gopacket.LayerTypeMetadata{
		Name:    "TLP",
		Decoder: gopacket.DecodeFunc(decodeTLP),
	})
	// LayerTypeTLPPrefix is one TLP prefix dword.
	LayerTypeTLPPrefix = gopacket.RegisterLayerType(1921, gopacket.LayerTypeMetadata{
		Name:    "TLPPrefix",
		Decoder: gopacket.DecodeFunc(decodeTLPPrefix),
	})
)

var (
	_ gopacket.DecodingLayer     = &TLP{}
	_ gopacket.SerializableLayer = &TLP{}
	_ gopacket.DecodingLayer     = &TLPPrefix{}
	_ gopacket.SerializableLayer = &TLPPrefix{}
)

type tlpKind int

const (
	kindAddressed tlpKind = iota
	kindConfig
	kindCompletion
)

func kindOf(t TlpType) tlpKind {
	switch {
	case t.IsConfig():
		return kindConfig
	case t.IsCompletion():
		return kindCompletion
	}
	return kindAddressed
}

// TLP is a gopacket layer holding a full TLP header. Header is always set;
// the other fields are filled in according to the header type:
//   - memory and I/O requests: Request and Address
//   - configuration requests: Request and Config
//   - completions: Completion
//
// The data payload, if any, is the layer payload. When Header.TD is set the
// ECRC dword following the payload is kept in Digest.
type TLP struct {
	layers.BaseLayer
	Header     TlpHeader
	Request    RequestHeader
	Address    Address
	Config     CfgHeader
	Completion CplHeader
	Digest     uint32
}

func (t *TLP) LayerType() gopacket.LayerType { return LayerTypeTLP }

func (t *TLP) CanDecode() gopacket.LayerClass { return LayerTypeTLP }

func (t *TLP) NextLayerType() gopacket.LayerType {
	if len(t.Payload) == 0 {
		return gopacket.LayerTypeZero
	}
	return gopacket.LayerTypePayload
}

// DecodeFromBytes decodes one TLP filling all of data. It fails with
// ErrTooLong on bytes past the payload and digest.
func (t *TLP) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < TlpHeaderLen {
		df.SetTruncated()
		return fmt.Errorf("%w: TLP is %d bytes", ErrTooShort, len(data))
	}
	hdr, err := ParseTlpHeader(data[:TlpHeaderLen])
	if err != nil {
		return err
	}
	if hdr.Type.IsPrefix() {
		return fmt.Errorf("%w: %v is a TLP prefix", ErrInvalidType, hdr.Type)
	}
	n := hdr.Type.HeaderLen()
	if len(data) < n {
		df.SetTruncated()
		return fmt.Errorf("%w: %v header is %d bytes, want %d", ErrTooShort, hdr.Type, len(data), n)
	}

	*t = TLP{Header: hdr}
	switch kindOf(hdr.Type) {
	case kindCompletion:
		t.Completion, err = ParseCplHeader(data[:n])
	case kindConfig:
		t.Config, err = ParseCfgHeader(data[:n])
		t.Request = t.Config.Hdr
	default:
		t.Request, t.Address, err = decodeAddressed(data[:n])
	}
	if err != nil {
		return err
	}

	end := n
	if hdr.Type.HasData() {
		end += hdr.DataLength()
	}
	if hdr.TD {
		end += DwordLen
	}
	if len(data) < end {
		df.SetTruncated()
		return fmt.Errorf("%w: %v is %d bytes, want %d", ErrTooShort, hdr.Type, len(data), end)
	}
	if len(data) > end {
		return fmt.Errorf("%w: %d bytes after %v", ErrTooLong, len(data)-end, hdr.Type)
	}
	if hdr.TD {
		t.Digest = binary.BigEndian.Uint32(data[end-DwordLen:])
		end -= DwordLen
	}
	t.Contents = data[:n]
	t.Payload = data[n:end]
	return nil
}

// decodeAddressed decodes a request header followed by the address filling
// the rest of b. 4DW headers must carry a 64-bit address.
func decodeAddressed(b []byte) (RequestHeader, Address, error) {
	req, err := ParseRequestHeader(b[:RequestHeaderLen])
	if err != nil {
		return RequestHeader{}, Address{}, err
	}
	addr, err := ParseAddress(b[RequestHeaderLen:])
	if err != nil {
		return RequestHeader{}, Address{}, err
	}
	if len(b) == 4*DwordLen && !addr.Is64() {
		return RequestHeader{}, Address{}, fmt.Errorf("%w: %v carries 32-bit address %v", ErrOutOfRange, req.Header.Type, addr)
	}
	return req, addr, nil
}

// SerializeTo prepends the header, and appends Digest when Header.TD is set.
// Header takes precedence over the header embedded in Request, Config or
// Completion. With opts.FixLengths the length of data carrying types is set
// from the payload already in b.
func (t *TLP) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	hdr := t.Header
	if opts.FixLengths && hdr.Type.HasData() {
		var err error
		if hdr, err = hdr.WithLength(len(b.Bytes())); err != nil {
			return err
		}
	}

	var head []byte
	switch kindOf(hdr.Type) {
	case kindCompletion:
		c := t.Completion
		c.Header = hdr
		cb := c.Bytes()
		head = cb[:]
	case kindConfig:
		c := t.Config
		c.Hdr.Header = hdr
		cb := c.Bytes()
		head = cb[:]
	default:
		r := t.Request
		r.Header = hdr
		rb := r.Bytes()
		head = append(rb[:], t.Address.Bytes()...)
	}
	if hdr.Type.IsPrefix() || len(head) != hdr.Type.HeaderLen() {
		return fmt.Errorf("%w: %v header does not fit address %v", ErrOutOfRange, hdr.Type, t.Address)
	}

	dest, err := b.PrependBytes(len(head))
	if err != nil {
		return err
	}
	copy(dest, head)
	if hdr.TD {
		ecrc, err := b.AppendBytes(DwordLen)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(ecrc, t.Digest)
	}
	return nil
}

func decodeTLP(data []byte, p gopacket.PacketBuilder) error {
	if len(data) > 0 && TlpType(data[0]).IsPrefix() {
		return decodeTLPPrefix(data, p)
	}
	tlp := &TLP{}
	if err := tlp.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(tlp)
	if len(tlp.Payload) == 0 {
		return nil
	}
	return p.NextDecoder(tlp.NextLayerType())
}

// TLPPrefix is a gopacket layer for a single TLP prefix dword. Prefixes are
// followed by either another prefix or the TLP itself.
type TLPPrefix struct {
	layers.BaseLayer
	Type TlpType
	// Prefix specific content (24b).
	Value uint32
}

func (l *TLPPrefix) LayerType() gopacket.LayerType { return LayerTypeTLPPrefix }

func (l *TLPPrefix) CanDecode() gopacket.LayerClass { return LayerTypeTLPPrefix }

// NextLayerType peeks at the next type byte to pick a prefix or the TLP.
func (l *TLPPrefix) NextLayerType() gopacket.LayerType {
	if len(l.Payload) > 0 && TlpType(l.Payload[0]).IsPrefix() {
		return LayerTypeTLPPrefix
	}
	return LayerTypeTLP
}

func (l *TLPPrefix) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < DwordLen {
		df.SetTruncated()
		return fmt.Errorf("%w: TLP prefix is %d bytes", ErrTooShort, len(data))
	}
	t, err := TlpTypeFromByte(data[0])
	if err != nil {
		return err
	}
	if !t.IsPrefix() {
		return fmt.Errorf("%w: %v is not a TLP prefix", ErrInvalidType, t)
	}
	l.Type = t
	l.Value = binary.BigEndian.Uint32(data[:DwordLen]) & 0xffffff
	l.Contents = data[:DwordLen]
	l.Payload = data[DwordLen:]
	return nil
}

func (l *TLPPrefix) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if !l.Type.IsPrefix() {
		return fmt.Errorf("%w: %v is not a TLP prefix", ErrInvalidType, l.Type)
	}
	dest, err := b.PrependBytes(DwordLen)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(dest, uint32(l.Type)<<24|l.Value&0xffffff)
	return nil
}

func decodeTLPPrefix(data []byte, p gopacket.PacketBuilder) error {
	prefix := &TLPPrefix{}
	if err := prefix.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(prefix)
	// decodeTLP hands further prefixes back here.
	return p.NextDecoder(gopacket.DecodeFunc(decodeTLP))
}
