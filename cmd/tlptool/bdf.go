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
	"strconv"
	"strings"

	"github.com/google/go-pcie-tlp/internal/color"
	"github.com/google/go-pcie-tlp/pcie"
	"github.com/spf13/cobra"
)

var bdfCmd = &cobra.Command{
	Use:   "bdf <BB:DD.F | 0xNNNN>",
	Short: "Convert a device ID between its text and packed forms",
	Long: `Parses a Bus:Device.Function identifier, or a 16-bit packed ID written as
0x prefixed hex, and prints both forms and the wire bytes.

Example:
  tlptool bdf 61:00.0
  tlptool bdf 0x6100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBDF(args[0])
		if err != nil {
			return fmt.Errorf("invalid BDF: %w", err)
		}
		b := id.Bytes()
		fmt.Fprintf(cmd.OutOrStdout(), "%s  0x%04x  % x\n", color.Bold(id.String()), id.ToUint16(), b[:])
		return nil
	},
}

func parseBDF(s string) (pcie.DeviceID, error) {
	if hex, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		v, err := strconv.ParseUint(hex, 16, 16)
		if err != nil {
			return pcie.DeviceID{}, fmt.Errorf("%w: %q: %w", pcie.ErrInvalidHex, s, err)
		}
		return pcie.DeviceIDFromUint16(uint16(v)), nil
	}
	return pcie.ParseDeviceID(s)
}

func init() {
	rootCmd.AddCommand(bdfCmd)
}
