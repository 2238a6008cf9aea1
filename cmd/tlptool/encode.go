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
	"fmt"
	"io"
	"os"

	"github.com/google/go-pcie-tlp/internal/color"
	"github.com/google/go-pcie-tlp/internal/desc"
	"github.com/google/go-pcie-tlp/internal/hexutil"
	"github.com/spf13/cobra"
)

var encodeFile string
var encodeDump bool

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a TLP from a YAML or JSON description",
	Long: `Builds one TLP from a YAML or JSON description and prints its bytes as hex.
The description is read from --file, or from stdin when no file is given.

Example description:
  type: MRd3
  req_id: "61:00.0"
  tag: 0x80
  length: 4096
  address: 0x12000

Example:
  tlptool encode --file mrd.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if encodeFile != "" && encodeFile != "-" {
			f, err := os.Open(encodeFile)
			if err != nil {
				return fmt.Errorf("failed to open description: %w", err)
			}
			defer f.Close()
			r = f
		}

		d, err := desc.Parse(r)
		if err != nil {
			return fmt.Errorf("failed to parse description: %w", err)
		}
		b, err := d.Bytes()
		if err != nil {
			return fmt.Errorf("%s", color.Failf("Cannot encode %v: %v", d.Type, err))
		}

		out := cmd.OutOrStdout()
		if encodeDump {
			fmt.Fprint(out, hexutil.Dump(b))
			return nil
		}
		fmt.Fprintln(out, hexutil.Encode(b))
		return nil
	},
}

func init() {
	encodeCmd.Flags().StringVarP(&encodeFile, "file", "f", "", "description file (default stdin)")
	encodeCmd.Flags().BoolVar(&encodeDump, "dump", false, "print a pcileech style hex dump")
	rootCmd.AddCommand(encodeCmd)
}
