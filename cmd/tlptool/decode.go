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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-pcie-tlp/internal/color"
	"github.com/google/go-pcie-tlp/internal/desc"
	"github.com/google/go-pcie-tlp/internal/hexutil"
	"github.com/google/go-pcie-tlp/pcie"
	"github.com/google/gopacket"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var decodeFile string
var decodeOutput string

var decodeCmd = &cobra.Command{
	Use:   "decode [hex...]",
	Short: "Decode a TLP from hex bytes",
	Long: `Decodes one TLP, including any leading TLP prefixes, from hex bytes given
as arguments or read from a file. Whitespace between bytes is ignored.

Example:
  tlptool decode 00 00 00 00 61 00 80 ff 00 01 20 00
  tlptool decode --file mwr.hex --output yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch decodeOutput {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q (want text, json or yaml)", decodeOutput)
		}

		text := strings.Join(args, " ")
		if decodeFile != "" {
			if len(args) > 0 {
				return errors.New("give hex bytes as arguments or with --file, not both")
			}
			b, err := os.ReadFile(decodeFile)
			if err != nil {
				return fmt.Errorf("failed to read TLP file: %w", err)
			}
			text = string(b)
		}
		raw, err := hexutil.Decode(text)
		if err != nil {
			return err
		}
		if len(raw) == 0 {
			return errors.New("no TLP bytes given")
		}

		pkt := gopacket.NewPacket(raw, pcie.LayerTypeTLP, gopacket.Default)
		d, err := desc.FromPacket(pkt)
		if err != nil {
			return fmt.Errorf("%s", color.Failf("Cannot decode TLP: %v", err))
		}

		out := cmd.OutOrStdout()
		switch decodeOutput {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(d); err != nil {
				return err
			}
			return enc.Close()
		}
		printTLP(out, pkt, raw)
		return nil
	},
}

func printTLP(w io.Writer, pkt gopacket.Packet, raw []byte) {
	fmt.Fprintln(w, color.Header("TLP"))
	fmt.Fprint(w, color.Dim(hexutil.Dump(raw)))
	for _, l := range pkt.Layers() {
		switch l := l.(type) {
		case *pcie.TLPPrefix:
			fmt.Fprintf(w, "Prefix:  %s %#06x\n", color.Bold(l.Type.String()), l.Value)
		case *pcie.TLP:
			fmt.Fprintf(w, "Header:  %s\n", l.Header)
			switch t := l.Header.Type; {
			case t.IsCompletion():
				c := l.Completion
				fmt.Fprintf(w, "CplID: %v Status: %v ReqID: %v Tag: %02x BC: %d Addr: %02x\n",
					c.CplID, c.Status, c.ReqID, c.Tag, c.ByteCount(), c.AddressLow())
			case t.IsConfig():
				c := l.Config
				fmt.Fprintf(w, "ReqID: %v BE_FL: %x%x Tag: %02x Target: %v Reg: %03x\n",
					c.Hdr.ReqID, c.Hdr.LastBE(), c.Hdr.FirstBE(), c.Hdr.Tag, c.Target, c.Register)
			default:
				r := l.Request
				fmt.Fprintf(w, "ReqID: %v BE_FL: %x%x Tag: %02x Addr: %v\n",
					r.ReqID, r.LastBE(), r.FirstBE(), r.Tag, l.Address)
			}
			if len(l.Payload) > 0 {
				fmt.Fprintf(w, "Data:    %d bytes\n", len(l.Payload))
			}
			if l.Header.TD {
				fmt.Fprintln(w, color.Info(fmt.Sprintf("ECRC digest %08x", l.Digest)))
			}
			if l.Header.EP {
				fmt.Fprintln(w, color.Warnf("%v is poisoned", l.Header.Type))
			}
			if l.Header.AT == pcie.AddressTypeReserved {
				fmt.Fprintln(w, color.Warn("address type is reserved"))
			}
		}
	}
	fmt.Fprintln(w, color.Okf("%d bytes decoded", len(raw)))
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeFile, "file", "f", "", "read hex bytes from file")
	decodeCmd.Flags().StringVarP(&decodeOutput, "output", "o", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(decodeCmd)
}
