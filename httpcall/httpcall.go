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

// Package httpcall calls HTTP targets on behalf of a failover.Dispatcher.
//
// A [Caller] implements failover.CallFunc for targets with the "http",
// "https" and "h2c" schemes. The latter forces HTTP/2 over clear-text. Every
// target gets its own transport, which enforces the target's connection
// time-out. The socket time-out limits how long a target may stay silent once
// a request has been written to it. Network errors are classified with
// failover.WrapNetError so that the dispatcher can decide whether failing
// over is safe.
//
//	caller := httpcall.NewCaller()
//	defer caller.Close()
//	dispatcher, err := httpcall.NewDispatcher(tree, caller)
//	...
//	result, err := dispatcher.Dispatch(ctx, httpcall.NewRequest(http.MethodGet, "/status", nil))
package httpcall

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"

	"github.com/bufbuild/failover"
	"github.com/bufbuild/failover/descriptor"
	"github.com/google/uuid"
)

// DefaultRequestIDHeader is the header that carries the request ID unless
// WithRequestIDHeader is used.
const DefaultRequestIDHeader = "X-Request-Id"

// ErrResponseTooLarge is returned when a response body exceeds the limit set
// with WithMaxResponseBytes.
var ErrResponseTooLarge = errors.New("response body too large")

// Request is an HTTP request to be sent to a target. The request URL is the
// target address with Path appended.
type Request struct {
	Method string
	// Path is the path, and optionally query, relative to the target
	// address.
	Path   string
	Header http.Header
	Body   []byte
	// ID is sent in the request ID header. It is the same for every attempt
	// of a dispatch, so that targets can recognize repeated requests.
	ID string
}

// NewRequest returns a dispatch request with a new random ID.
func NewRequest(method, path string, body []byte) *failover.Request[*Request] {
	return failover.NewRequest(&Request{
		Method: method,
		Path:   path,
		Body:   body,
		ID:     uuid.NewString(),
	})
}

// Response is the response of a target.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is the cause of the failure of a call whose response has a
// status code that WithFailureStatus considers a failure.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Option is an option used to customize a Caller.
type Option interface {
	apply(*callerOptions)
}

// WithTLSConfig configures the TLS client configuration used for "https"
// targets. If no WithTLSConfig option is provided, the system roots are
// trusted.
func WithTLSConfig(config *tls.Config) Option {
	return optionFunc(func(opts *callerOptions) {
		opts.tlsConfig = config
	})
}

// WithMaxResponseBytes limits the size of response bodies. A larger body
// fails the call with ErrResponseTooLarge. If zero or if no
// WithMaxResponseBytes option is used, the limit is 4 MB (2^22 bytes).
func WithMaxResponseBytes(limit int64) Option {
	return optionFunc(func(opts *callerOptions) {
		opts.maxResponseBytes = limit
	})
}

// WithRequestIDHeader configures the header that carries Request.ID. An
// empty name disables sending the ID.
func WithRequestIDHeader(name string) Option {
	return optionFunc(func(opts *callerOptions) {
		opts.requestIDHeader = &name
	})
}

// WithFailureStatus configures which response status codes fail the call.
// Such a failure has kind KindIO, since the target received the request, and
// its cause is a *StatusError. If no WithFailureStatus option is provided,
// every response is a success.
func WithFailureStatus(isFailure func(statusCode int) bool) Option {
	return optionFunc(func(opts *callerOptions) {
		opts.isFailure = isFailure
	})
}

type optionFunc func(*callerOptions)

func (f optionFunc) apply(opts *callerOptions) {
	f(opts)
}

type callerOptions struct {
	tlsConfig        *tls.Config
	maxResponseBytes int64
	requestIDHeader  *string
	isFailure        func(int) bool
}

func (opts *callerOptions) applyDefaults() {
	if opts.maxResponseBytes <= 0 {
		opts.maxResponseBytes = 1 << 22
	}
	if opts.requestIDHeader == nil {
		name := DefaultRequestIDHeader
		opts.requestIDHeader = &name
	}
	if opts.isFailure == nil {
		opts.isFailure = func(int) bool { return false }
	}
}

// Caller performs HTTP calls to individual targets. It is safe for
// concurrent use. Call Close to release idle connections when it is no longer
// needed.
type Caller struct {
	opts *callerOptions

	mu sync.Mutex
	// +checklocks:mu
	transports map[transportKey]*transport
	// +checklocks:mu
	closed bool
}

// NewCaller returns a new caller that uses the given options.
func NewCaller(options ...Option) *Caller {
	var opts callerOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	return &Caller{
		opts:       &opts,
		transports: map[transportKey]*transport{},
	}
}

// NewDispatcher returns a dispatcher that calls the targets of desc with
// caller. It only accepts targets whose protocol the caller supports.
func NewDispatcher(
	desc descriptor.Descriptor,
	caller *Caller,
	options ...failover.Option,
) (*failover.Dispatcher[*Request, *Response], error) {
	options = append([]failover.Option{failover.WithSupportedProtocols(caller.Protocols()...)}, options...)
	return failover.NewDispatcher(desc, caller.Call, options...)
}

// Protocols returns the target protocols the caller supports.
func (c *Caller) Protocols() []string {
	return []string{"http", "https", "h2c"}
}

// Call sends req to target. It implements failover.CallFunc.
func (c *Caller) Call(
	ctx context.Context,
	req *failover.Request[*Request],
	_ failover.CallConfig,
	target *descriptor.Target,
) (*Response, error) {
	payload := req.Payload
	if payload == nil {
		return nil, errors.New("request has no payload")
	}
	roundTripper, err := c.transportFor(target)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := newSocketWatchdog(target.SocketTimeout(), cancel)
	defer watchdog.stop()
	httpReq, err := c.newHTTPRequest(httptrace.WithClientTrace(ctx, watchdog.trace()), payload, target, roundTripper.scheme)
	if err != nil {
		return nil, err
	}
	httpResp, err := roundTripper.RoundTrip(httpReq)
	if err != nil {
		return nil, watchdog.failure(ctx, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(watchdog.reader(httpResp.Body), c.opts.maxResponseBytes+1))
	if err != nil {
		return nil, watchdog.failure(ctx, err)
	}
	if int64(len(body)) > c.opts.maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.opts.maxResponseBytes)
	}
	if c.opts.isFailure(httpResp.StatusCode) {
		return nil, failover.NewCallError(failover.KindIO, &StatusError{StatusCode: httpResp.StatusCode})
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

// Close closes the idle connections of all transports. The caller must not
// be used afterwards.
func (c *Caller) Close() {
	c.mu.Lock()
	transports := c.transports
	c.transports = nil
	c.closed = true
	c.mu.Unlock()
	for _, transport := range transports {
		transport.close()
	}
}

func (c *Caller) newHTTPRequest(ctx context.Context, payload *Request, target *descriptor.Target, scheme string) (*http.Request, error) {
	rawURL := target.Address()
	if payload.Path != "" {
		rawURL = strings.TrimSuffix(rawURL, "/") + "/" + strings.TrimPrefix(payload.Path, "/")
	}
	reqURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}
	reqURL.Scheme = scheme

	method := payload.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if payload.Body != nil {
		body = bytes.NewReader(payload.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, err
	}
	for name, values := range payload.Header {
		httpReq.Header[name] = append([]string(nil), values...)
	}
	if name := *c.opts.requestIDHeader; name != "" && payload.ID != "" {
		httpReq.Header.Set(name, payload.ID)
	}
	return httpReq, nil
}
