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

package failover_test

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/bufbuild/failover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyNetError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		kind failover.Kind
		ok   bool
	}{
		{
			name: "refused",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			kind: failover.KindConnectionRefused,
			ok:   true,
		},
		{
			name: "refused inside url error",
			err: &url.Error{Op: "Get", URL: "http://t1", Err: &net.OpError{
				Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
			}},
			kind: failover.KindConnectionRefused,
			ok:   true,
		},
		{
			name: "dial time-out",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded},
			kind: failover.KindConnectionTimeout,
			ok:   true,
		},
		{
			name: "unknown host",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}},
			kind: failover.KindUnknownHost,
			ok:   true,
		},
		{
			name: "host unreachable",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)},
			kind: failover.KindNoRouteToHost,
			ok:   true,
		},
		{
			name: "network unreachable",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ENETUNREACH)},
			kind: failover.KindNoRouteToHost,
			ok:   true,
		},
		{
			name: "untrusted certificate",
			err:  &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}},
			kind: failover.KindSSLConnect,
			ok:   true,
		},
		{
			name: "tls alert",
			err:  fmt.Errorf("remote error: %w", tls.AlertError(40)),
			kind: failover.KindSSLConnect,
			ok:   true,
		},
		{
			name: "tls handshake time-out",
			err:  &url.Error{Op: "Get", URL: "https://t1", Err: errors.New("net/http: TLS handshake timeout")},
			kind: failover.KindSSLConnect,
			ok:   true,
		},
		{
			name: "read time-out",
			err:  &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded},
			kind: failover.KindSocketTimeout,
			ok:   true,
		},
		{
			name: "connection reset",
			err:  &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)},
			kind: failover.KindIO,
			ok:   true,
		},
		{
			name: "unexpected eof",
			err:  fmt.Errorf("reading body: %w", io.ErrUnexpectedEOF),
			kind: failover.KindIO,
			ok:   true,
		},
		{
			name: "call error",
			err:  fmt.Errorf("wrapped: %w", failover.NewCallError(failover.KindTotalTimeout, nil)),
			kind: failover.KindTotalTimeout,
			ok:   true,
		},
		{
			name: "unrelated",
			err:  errors.New("invalid payload"),
			ok:   false,
		},
		{
			name: "nil",
			err:  nil,
			ok:   false,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			kind, ok := failover.ClassifyNetError(testCase.err)
			require.Equal(t, testCase.ok, ok)
			if ok {
				assert.Equal(t, testCase.kind, kind)
			}
		})
	}
}

func TestWrapNetError(t *testing.T) {
	t.Parallel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	wrapped := failover.WrapNetError(refused)
	var callErr *failover.CallError
	require.ErrorAs(t, wrapped, &callErr)
	assert.Equal(t, failover.KindConnectionRefused, callErr.Kind)
	assert.ErrorIs(t, wrapped, syscall.ECONNREFUSED)

	existing := failover.NewCallError(failover.KindSSLConnect, nil)
	assert.Same(t, existing, failover.WrapNetError(existing))

	other := errors.New("invalid payload")
	assert.Same(t, other, failover.WrapNetError(other))
}
