// Copyright 2023 Buf Technologies, Inc.
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
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTargetsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the targets of the topology in one traversal order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			topo, err := flags.loadTopology()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tCHECKSUM\tADDRESS\tTOTAL\tCONNECTION\tSOCKET")
			for i, target := range topo.Root.Targets() {
				fmt.Fprintf(w, "%d\t%08x\t%s\t%v\t%v\t%v\n",
					i+1, target.Checksum(), target.Address(),
					target.TotalTimeout(), target.ConnectionTimeout(), target.SocketTimeout())
			}
			return w.Flush()
		},
	}
}

func newLookupCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup CHECKSUM",
		Short: "Find the target with the given hexadecimal checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			crc, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(args[0]), "0x"), 16, 32)
			if err != nil {
				return fmt.Errorf("invalid checksum %q: %w", args[0], err)
			}
			topo, err := flags.loadTopology()
			if err != nil {
				return err
			}
			target, ok := topo.Root.TargetByChecksum(uint32(crc))
			if !ok {
				return fmt.Errorf("no target with checksum %08x", crc)
			}
			fmt.Fprintln(cmd.OutOrStdout(), target)
			return nil
		},
	}
}
