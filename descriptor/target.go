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

package descriptor

import (
	"errors"
	"fmt"
	"hash/crc32"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// DefaultTimeout is the time-out used for all three time-outs by
// DefaultTimeouts.
const DefaultTimeout = 5 * time.Second

//nolint:gochecknoglobals
var (
	// DefaultTimeouts applies DefaultTimeout to the total, connection and
	// socket time-outs.
	DefaultTimeouts = Timeouts{
		Total:      DefaultTimeout,
		Connection: DefaultTimeout,
		Socket:     DefaultTimeout,
	}

	// ErrMalformedAddress is matched (via errors.Is) by the error returned from
	// NewTarget for an address that is not an acceptable absolute URI.
	ErrMalformedAddress = errors.New("malformed address")

	// schemes for which an absolute URI without a host is not acceptable
	hostRequired = map[string]struct{}{
		"http":   {},
		"https":  {},
		"ftp":    {},
		"sftp":   {},
		"smtp":   {},
		"smtps":  {},
		"gopher": {},
	}

	// +checkatomic
	instanceCount atomic.Uint64
)

// Timeouts holds the three time-outs of a target. A zero or negative value
// for Total disables the total time-out. A zero or negative value for
// Connection or Socket means "same as Total".
type Timeouts struct {
	// Total limits the complete duration of a call to the target, including
	// establishing a connection, sending the request and receiving the
	// response. The dispatcher enforces it.
	Total time.Duration
	// Connection limits the time spent establishing a connection. Protocol
	// callers enforce it.
	Connection time.Duration
	// Socket limits the time spent waiting for data on an established
	// connection. Protocol callers enforce it.
	Socket time.Duration
}

// normalize clamps the connection and socket time-outs into [1ns, Total]. When
// the total time-out is disabled, all three become zero.
func (t Timeouts) normalize() Timeouts {
	total := max(t.Total, 0)
	connection, socket := t.Connection, t.Socket
	if connection <= 0 {
		connection = total
	}
	if socket <= 0 {
		socket = total
	}
	return Timeouts{
		Total:      total,
		Connection: min(connection, total),
		Socket:     min(socket, total),
	}
}

// MalformedAddressError is returned by NewTarget when the given address is
// rejected.
type MalformedAddressError struct {
	Address string
}

func (e *MalformedAddressError) Error() string {
	return fmt.Sprintf("%v: %q", ErrMalformedAddress, e.Address)
}

// Is allows errors.Is(err, ErrMalformedAddress).
func (e *MalformedAddressError) Is(target error) bool {
	return target == ErrMalformedAddress
}

// Target describes a single addressable endpoint of a service. It is
// immutable and safe for concurrent use.
type Target struct {
	address  string
	timeouts Timeouts
	crc      uint32
	instance uint64
}

var _ Descriptor = (*Target)(nil)

// NewTarget validates address and returns a target for it. The address must
// be an absolute URI. If it is not, one leading "scheme:" segment is stripped
// and the remainder is tried again, so that composite schemes such as
// "jdbc:mysql://db.example.com/shop" are accepted. Addresses whose scheme is
// http, https, ftp, sftp, smtp, smtps or gopher must also name a host.
//
// The time-outs are normalized: negative values disable the total time-out,
// zero or negative connection and socket time-outs default to the total
// time-out, and both are capped at the total time-out.
func NewTarget(address string, timeouts Timeouts) (*Target, error) {
	if !validAddress(address) {
		return nil, &MalformedAddressError{Address: address}
	}
	return &Target{
		address:  address,
		timeouts: timeouts.normalize(),
		crc:      checksum(address),
		instance: instanceCount.Add(1),
	}, nil
}

// MustTarget is like NewTarget but panics if the address is malformed.
func MustTarget(address string, timeouts Timeouts) *Target {
	return Must(NewTarget(address, timeouts))
}

func validAddress(address string) bool {
	if address == "" {
		return false
	}
	if uri, err := url.Parse(address); err == nil && uri.IsAbs() {
		if _, ok := hostRequired[uri.Scheme]; !ok || uri.Hostname() != "" {
			return true
		}
	}
	if i := strings.IndexByte(address, ':'); i > 0 {
		return validAddress(address[i+1:])
	}
	return false
}

// checksum computes the CRC-32 of the US-ASCII encoding of s. Characters
// outside of US-ASCII are encoded as '?'.
func checksum(s string) uint32 {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r < utf8.RuneSelf {
			buf = append(buf, byte(r))
		} else {
			buf = append(buf, '?')
		}
	}
	return crc32.ChecksumIEEE(buf)
}

// Address returns the address the target was created with.
func (t *Target) Address() string {
	return t.address
}

// Protocol returns the lower-cased part of the address before "://". For
// opaque addresses without "://", it returns the part before the first ':'.
func (t *Target) Protocol() string {
	if i := strings.Index(t.address, "://"); i >= 0 {
		return strings.ToLower(t.address[:i])
	}
	i := strings.IndexByte(t.address, ':')
	if i < 0 {
		return ""
	}
	return strings.ToLower(t.address[:i])
}

// Timeouts returns the normalized time-outs.
func (t *Target) Timeouts() Timeouts {
	return t.timeouts
}

// TotalTimeout returns the total time-out, or zero if it is disabled.
func (t *Target) TotalTimeout() time.Duration {
	return t.timeouts.Total
}

// ConnectionTimeout returns the connection time-out, or zero if it is
// disabled.
func (t *Target) ConnectionTimeout() time.Duration {
	return t.timeouts.Connection
}

// SocketTimeout returns the socket time-out, or zero if it is disabled.
func (t *Target) SocketTimeout() time.Duration {
	return t.timeouts.Socket
}

// Checksum returns the CRC-32 checksum of the address. Targets created from
// the same address always have the same checksum, which makes it usable as a
// stable identity, for example to find a target again with TargetByChecksum.
func (t *Target) Checksum() uint32 {
	return t.crc
}

// Equal reports whether t and other have the same address and time-outs.
func (t *Target) Equal(other *Target) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.address == other.address && t.timeouts == other.timeouts
}

// IsGroup returns false.
func (t *Target) IsGroup() bool {
	return false
}

// Targets returns a slice containing only t.
func (t *Target) Targets() []*Target {
	return []*Target{t}
}

// TargetCount returns 1.
func (t *Target) TargetCount() int {
	return 1
}

// TargetByChecksum returns t if its checksum equals crc.
func (t *Target) TargetByChecksum(crc uint32) (*Target, bool) {
	if t.crc == crc {
		return t, true
	}
	return nil, false
}

func (t *Target) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Target #%d [address=%q; checksum=0x%08x", t.instance, t.address, t.crc)
	writeTimeout(&buf, "total", t.timeouts.Total)
	writeTimeout(&buf, "connection", t.timeouts.Connection)
	writeTimeout(&buf, "socket", t.timeouts.Socket)
	buf.WriteByte(']')
	return buf.String()
}

func writeTimeout(buf *strings.Builder, name string, timeout time.Duration) {
	if timeout <= 0 {
		fmt.Fprintf(buf, "; %s time-out is disabled", name)
		return
	}
	fmt.Fprintf(buf, "; %s time-out is %v", name, timeout)
}
