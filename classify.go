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

package failover

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// ClassifyNetError maps an error returned by the standard network stack (net,
// crypto/tls, net/http) to a Kind. It reports false if the error is not
// recognized. A *CallError anywhere in the chain is classified by its own
// kind.
//
// Failures to establish a connection (refused, dial time-out, unresolvable
// host, unreachable network, TLS handshake) map to kinds that are never
// possibly processed. Time-outs and I/O errors on an established connection
// map to KindSocketTimeout and KindIO.
func ClassifyNetError(err error) (Kind, bool) {
	if err == nil {
		return 0, false
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnknownHost, true
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused, true
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return KindNoRouteToHost, true
	case isTLSHandshakeError(err):
		return KindSSLConnect, true
	}
	var opErr *net.OpError
	isOpErr := errors.As(err, &opErr)
	if isOpErr && opErr.Op == "dial" && opErr.Timeout() {
		return KindConnectionTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindSocketTimeout, true
	}
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		isOpErr:
		return KindIO, true
	}
	return 0, false
}

// WrapNetError returns err as a *CallError if ClassifyNetError recognizes it.
// Otherwise it returns err unchanged, which the dispatcher records as
// KindUnexpectedException.
func WrapNetError(err error) error {
	kind, ok := ClassifyNetError(err)
	if !ok {
		return err
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return err
	}
	return NewCallError(kind, err)
}

func isTLSHandshakeError(err error) bool {
	var (
		recordHeaderErr tls.RecordHeaderError
		alertErr        tls.AlertError
		verifyErr       *tls.CertificateVerificationError
		authorityErr    x509.UnknownAuthorityError
		hostnameErr     x509.HostnameError
		invalidErr      x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordHeaderErr),
		errors.As(err, &alertErr),
		errors.As(err, &verifyErr),
		errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return true
	}
	// net/http does not export the type of its handshake time-out error.
	return strings.Contains(err.Error(), "TLS handshake timeout")
}
