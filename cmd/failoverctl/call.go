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
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bufbuild/failover"
	"github.com/bufbuild/failover/httpcall"
	"github.com/bufbuild/failover/observer"
	"github.com/spf13/cobra"
)

type callFlags struct {
	method        string
	data          string
	headers       []string
	requestID     string
	unconditional bool
	failStatus    int
}

func newCallCommand(root *rootFlags) *cobra.Command {
	flags := &callFlags{}
	cmd := &cobra.Command{
		Use:   "call [PATH]",
		Short: "Send an HTTP request to the topology, failing over between targets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			return runCall(cmd, root, flags, path)
		},
	}
	cmd.Flags().StringVarP(&flags.method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&flags.data, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&flags.headers, "header", "H", nil, "request header as \"Name: value\", repeatable")
	cmd.Flags().StringVar(&flags.requestID, "request-id", "", "request ID to send instead of a random one")
	cmd.Flags().BoolVar(&flags.unconditional, "fail-over-unconditionally", false, "fail over after any failure, overriding the topology")
	cmd.Flags().IntVar(&flags.failStatus, "fail-status", 0, "treat response status codes at or above this value as failures (0 disables)")
	return cmd
}

func runCall(cmd *cobra.Command, root *rootFlags, flags *callFlags, path string) error {
	topo, err := root.loadTopology()
	if err != nil {
		return err
	}
	logger := root.logger(cmd.ErrOrStderr())

	var callerOptions []httpcall.Option
	if flags.failStatus > 0 {
		callerOptions = append(callerOptions, httpcall.WithFailureStatus(func(code int) bool {
			return code >= flags.failStatus
		}))
	}
	caller := httpcall.NewCaller(callerOptions...)
	defer caller.Close()

	dispatcherOptions := append(topo.DispatcherOptions(), failover.WithObserver(observer.NewLogger(logger)))
	dispatcher, err := httpcall.NewDispatcher(topo.Root, caller, dispatcherOptions...)
	if err != nil {
		return err
	}

	var body []byte
	if flags.data != "" {
		body = []byte(flags.data)
	}
	req := httpcall.NewRequest(strings.ToUpper(flags.method), path, body)
	if flags.requestID != "" {
		req.Payload.ID = flags.requestID
	}
	if len(flags.headers) > 0 {
		req.Payload.Header = http.Header{}
		for _, header := range flags.headers {
			name, value, ok := strings.Cut(header, ":")
			if !ok {
				return fmt.Errorf("invalid header %q", header)
			}
			req.Payload.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}
	}
	if cmd.Flags().Changed("fail-over-unconditionally") {
		req = req.WithConfig(failover.CallConfig{FailOverUnconditionally: flags.unconditional})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	result, err := dispatcher.Dispatch(ctx, req)
	if err != nil {
		return err
	}
	logger.Info().
		Str("target", result.Target.Address()).
		Int("status", result.Value.StatusCode).
		Int("failed_attempts", result.Failures.Len()).
		Str("request_id", req.Payload.ID).
		Msg("call succeeded")
	_, err = cmd.OutOrStdout().Write(result.Value.Body)
	return err
}
