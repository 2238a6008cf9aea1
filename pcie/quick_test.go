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
	"math/rand"
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// allowUnexported lets cmp look at the fields only reachable through
// validating setters.
var allowUnexported = cmp.AllowUnexported(TlpHeader{}, RequestHeader{}, CplHeader{}, Address{})

var allTlpTypes = []TlpType{
	MRd3, MRd4, MRdLk3, MRdLk4, MWr3, MWr4,
	IORdT, IOWrtT,
	CfgRd0, CfgWr0, CfgRd1, CfgWr1,
	CplE, CplD, CplLk, CplLkD,
	MRIOV, LocalVendPrefix, ExtTPH, PASID, EndEndVendPrefix,
}

var allCompletionStatus = []CompletionStatus{
	SuccessfulCompletion, UnsupportedRequest, ConfigurationRequestRetry, CompleterAbort,
}

// The Generate methods below make testing/quick produce only values that the
// builders could have produced.

func (DeviceID) Generate(r *rand.Rand, _ int) reflect.Value {
	return reflect.ValueOf(DeviceID{
		Bus:      uint8(r.Intn(256)),
		Device:   uint8(r.Intn(maxDevice + 1)),
		Function: uint8(r.Intn(maxFunction + 1)),
	})
}

func (TlpHeader) Generate(r *rand.Rand, _ int) reflect.Value {
	return reflect.ValueOf(TlpHeader{
		Type:   allTlpTypes[r.Intn(len(allTlpTypes))],
		TC:     TrafficClass(r.Intn(8)),
		LN:     r.Intn(2) == 1,
		TH:     r.Intn(2) == 1,
		TD:     r.Intn(2) == 1,
		EP:     r.Intn(2) == 1,
		NS:     r.Intn(2) == 1,
		RO:     r.Intn(2) == 1,
		IBO:    r.Intn(2) == 1,
		AT:     AddressType(r.Intn(4)),
		length: uint16(r.Intn(1024)),
	})
}

func (RequestHeader) Generate(r *rand.Rand, size int) reflect.Value {
	return reflect.ValueOf(RequestHeader{
		Header:  TlpHeader{}.Generate(r, size).Interface().(TlpHeader),
		ReqID:   DeviceID{}.Generate(r, size).Interface().(DeviceID),
		Tag:     uint8(r.Intn(256)),
		firstBE: uint8(r.Intn(16)),
		lastBE:  uint8(r.Intn(16)),
	})
}

func (CplHeader) Generate(r *rand.Rand, size int) reflect.Value {
	return reflect.ValueOf(CplHeader{
		Header:  TlpHeader{}.Generate(r, size).Interface().(TlpHeader),
		CplID:   DeviceID{}.Generate(r, size).Interface().(DeviceID),
		Status:  allCompletionStatus[r.Intn(len(allCompletionStatus))],
		ReqID:   DeviceID{}.Generate(r, size).Interface().(DeviceID),
		Tag:     uint8(r.Intn(256)),
		bc:      uint16(r.Intn(maxByteCount + 1)),
		addrLow: uint8(r.Intn(maxAddressLow + 1)),
	})
}
