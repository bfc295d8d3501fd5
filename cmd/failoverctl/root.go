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
	"io"
	"time"

	"github.com/bufbuild/failover/topology"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	topologyPath string
	envFile      string
	debug        bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:          "failoverctl",
		Short:        "Inspect failover topologies and call their targets",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if flags.envFile != "" {
				if err := godotenv.Load(flags.envFile); err != nil {
					return fmt.Errorf("failed to load env file: %w", err)
				}
				return nil
			}
			// A .env file in the working directory is optional.
			_ = godotenv.Load()
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&flags.topologyPath, "topology", "topology.yaml", "topology file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "file with environment variables to load before reading the topology")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newTargetsCommand(flags),
		newLookupCommand(flags),
		newCallCommand(flags),
	)
	return cmd
}

func (f *rootFlags) loadTopology() (*topology.Topology, error) {
	return topology.Load(f.topologyPath)
}

func (f *rootFlags) logger(out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if f.debug {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", "failoverctl").Logger()
}
