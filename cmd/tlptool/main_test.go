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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-pcie-tlp/internal/color"
)

const pcileechMRd = "00 00 00 00 61 00 80 ff 00 01 20 00"

// run executes the root command with fresh flag values.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	color.Disable()
	decodeFile, decodeOutput = "", "text"
	encodeFile, encodeDump = "", false

	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDecodeText(t *testing.T) {
	out, err := run(t, "", append([]string{"decode"}, strings.Fields(pcileechMRd)...)...)
	if err != nil {
		t.Fatalf("decode = %v\n%s", err, out)
	}
	for _, want := range []string{
		"--- TLP ---",
		"0000    00 00 00 00 61 00 80 ff  00 01 20 00",
		"Header:  MRd3 TC0 Len: 1024 DW",
		"ReqID: 61:00.0 BE_FL: ff Tag: 80 Addr: 00012000",
		"[OK] 12 bytes decoded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("decode output missing %q:\n%s", want, out)
		}
	}
}

func TestDecodeMarkers(t *testing.T) {
	// TD, EP and the reserved address type set, then the digest dword.
	in := "00 00 cc 00 61 00 80 ff 00 01 20 00 de ad be ef"
	out, err := run(t, "", "decode", in)
	if err != nil {
		t.Fatalf("decode = %v\n%s", err, out)
	}
	for _, want := range []string{
		"[INFO] ECRC digest deadbeef",
		"[WARN] MRd3 is poisoned",
		"[WARN] address type is reserved",
		"[OK] 16 bytes decoded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("decode output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "", append([]string{"decode"}, strings.Fields(pcileechMRd)...)...)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "[WARN]") || strings.Contains(out, "[INFO]") {
		t.Errorf("plain MRd printed markers:\n%s", out)
	}
}

func TestDecodeStructured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mrd.hex")
	if err := os.WriteFile(path, []byte(pcileechMRd+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "", "decode", "--file", path, "--output", "yaml")
	if err != nil {
		t.Fatalf("decode --output yaml = %v\n%s", err, out)
	}
	for _, want := range []string{"type: MRd3", "length: 4096", "tag: 128"} {
		if !strings.Contains(out, want) {
			t.Errorf("yaml output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "", "decode", "-f", path, "-o", "json")
	if err != nil {
		t.Fatalf("decode --output json = %v\n%s", err, out)
	}
	for _, want := range []string{`"type": "MRd3"`, `"req_id": "61:00.0"`, `"address": "0x12000"`} {
		if !strings.Contains(out, want) {
			t.Errorf("json output missing %q:\n%s", want, out)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no bytes", []string{"decode"}},
		{"bad hex", []string{"decode", "zz"}},
		{"truncated", []string{"decode", "00 00 00 00 61 00"}},
		{"trailing bytes", []string{"decode", pcileechMRd + " 01 02 03 04 05"}},
		{"missing digest", []string{"decode", "00 00 80 00 61 00 80 ff 00 01 20 00"}},
		{"bad format", []string{"decode", "--output", "xml", pcileechMRd}},
		{"file and args", []string{"decode", "--file", "x.hex", "00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, "", tt.args...); err == nil {
				t.Errorf("%v = nil error, want failure", tt.args)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	in := `
type: MRd3
req_id: "61:00.0"
tag: 0x80
length: 4096
address: 0x12000
`
	out, err := run(t, in, "encode")
	if err != nil {
		t.Fatalf("encode = %v\n%s", err, out)
	}
	if got := strings.TrimSpace(out); got != pcileechMRd {
		t.Errorf("encode = %q, want %q", got, pcileechMRd)
	}

	path := filepath.Join(t.TempDir(), "mrd.yaml")
	if err := os.WriteFile(path, []byte(in), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, "", "encode", "--file", path, "--dump")
	if err != nil {
		t.Fatalf("encode --dump = %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "0000    00 00 00 00 61 00 80 ff  00 01 20 00") {
		t.Errorf("encode --dump = %q", out)
	}

	if _, err := run(t, "type: MRd3\n", "encode"); err == nil {
		t.Error("encode without address = nil error, want failure")
	}
}

func TestBDF(t *testing.T) {
	tests := []struct {
		arg  string
		want string
	}{
		{"61:00.0", "61:00.0  0x6100  61 00"},
		{"0x000a", "00:01.2  0x000a  00 0a"},
		{"ab:1f.7", "AB:1F.7  0xabff  ab ff"},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			out, err := run(t, "", "bdf", tt.arg)
			if err != nil {
				t.Fatalf("bdf %s = %v", tt.arg, err)
			}
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("bdf %s = %q, want %q", tt.arg, got, tt.want)
			}
		})
	}

	for _, arg := range []string{"61:00", "0xzz", "00:20.0"} {
		if _, err := run(t, "", "bdf", arg); err == nil {
			t.Errorf("bdf %s = nil error, want failure", arg)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "tlptool ") {
		t.Errorf("version = %q", out)
	}
}
