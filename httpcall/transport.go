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

package httpcall

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bufbuild/failover/descriptor"
	"golang.org/x/net/http2"
)

var errCallerClosed = errors.New("caller is closed")

// transportKey identifies the transports that can be shared: targets with
// the same address and time-outs behave identically.
type transportKey struct {
	address  string
	timeouts descriptor.Timeouts
}

type transport struct {
	http.RoundTripper
	// scheme is the URL scheme the round tripper expects.
	scheme string
	close  func()
}

func (c *Caller) transportFor(target *descriptor.Target) (*transport, error) {
	key := transportKey{address: target.Address(), timeouts: target.Timeouts()}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errCallerClosed
	}
	if t, ok := c.transports[key]; ok {
		return t, nil
	}
	t, err := newTransport(target, c.opts)
	if err != nil {
		return nil, err
	}
	c.transports[key] = t
	return t, nil
}

func newTransport(target *descriptor.Target, opts *callerOptions) (*transport, error) {
	dial := dialFunc(target.ConnectionTimeout())
	switch protocol := target.Protocol(); protocol {
	case "http", "https":
		roundTripper := &http.Transport{
			DialContext:         dial,
			ForceAttemptHTTP2:   true,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: target.ConnectionTimeout(),
			TLSClientConfig:     opts.tlsConfig.Clone(),
		}
		return &transport{RoundTripper: roundTripper, scheme: protocol, close: roundTripper.CloseIdleConnections}, nil
	case "h2c":
		// h2c is plain-text only, so no TLS config.
		roundTripper := &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, network, addr)
			},
			ReadIdleTimeout: 30 * time.Second,
			PingTimeout:     target.ConnectionTimeout(),
		}
		return &transport{RoundTripper: roundTripper, scheme: "http", close: roundTripper.CloseIdleConnections}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", protocol)
	}
}

// dialFunc returns a dial function that limits establishing a connection to
// connectTimeout. A zero time-out means no limit. The socket time-out is not
// a property of the connection: pooled connections are shared by requests
// and read in the background while idle. See socketWatchdog.
func dialFunc(connectTimeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return dialer.DialContext
}
