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
	"fmt"
	"strings"
	"time"

	"github.com/bufbuild/failover/descriptor"
)

// Kind classifies the failure of a call to a single target. The set of kinds
// is closed. Each kind determines whether the target may have started
// processing the request before the failure; see PossiblyProcessed.
type Kind int

const (
	// KindUnexpectedException is any failure that is not otherwise
	// classified. The dispatcher uses it to wrap errors that are not a
	// *CallError.
	KindUnexpectedException Kind = iota
	// KindConnectionRefused means the target actively refused the connection.
	KindConnectionRefused
	// KindConnectionTimeout means establishing the connection took longer
	// than the connection time-out.
	KindConnectionTimeout
	// KindUnknownHost means the host name of the target could not be
	// resolved.
	KindUnknownHost
	// KindNoRouteToHost means the network or host is unreachable.
	KindNoRouteToHost
	// KindSSLConnect means the TLS handshake failed.
	KindSSLConnect
	// KindSocketTimeout means no data arrived within the socket time-out
	// after the connection was established.
	KindSocketTimeout
	// KindTotalTimeout means the call was aborted because its total time-out
	// expired.
	KindTotalTimeout
	// KindIO means an I/O error occurred after the connection was
	// established, for example while transferring the request or response.
	KindIO
)

// String returns the short reason for failures of this kind.
func (k Kind) String() string {
	switch k {
	case KindUnexpectedException:
		return "Unexpected exception caught"
	case KindConnectionRefused:
		return "Connection refused"
	case KindConnectionTimeout:
		return "Connection time-out"
	case KindUnknownHost:
		return "Unknown host"
	case KindNoRouteToHost:
		return "No route to host"
	case KindSSLConnect:
		return "SSL-level connect failed"
	case KindSocketTimeout:
		return "Socket time-out"
	case KindTotalTimeout:
		return "Total time-out"
	case KindIO:
		return "I/O error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// PossiblyProcessed reports whether a failure of this kind may have happened
// after the target started processing the request. Failures to establish a
// connection never reach the target, so a call can safely be repeated on
// another target. All other kinds, including unknown ones, report true.
func (k Kind) PossiblyProcessed() bool {
	switch k {
	case KindConnectionRefused,
		KindConnectionTimeout,
		KindUnknownHost,
		KindNoRouteToHost,
		KindSSLConnect:
		return false
	default:
		return true
	}
}

// CallError describes the failure of a call to a single target.
//
// Call functions return a CallError (usually via NewCallError or Errorf) to
// classify a failure. They do not need to fill in the request, target or
// duration: the dispatcher records a copy with those fields completed. A
// recorded CallError must not be modified.
type CallError struct {
	Kind Kind
	// Request is the *Request the call was made for.
	Request any
	// Target is the target that was called.
	Target *descriptor.Target
	// Duration is how long the attempt took before it failed.
	Duration time.Duration
	// Detail is optional additional text.
	Detail string
	// Cause is the optional underlying error.
	Cause error
}

// NewCallError returns a CallError of the given kind caused by cause, which
// may be nil.
func NewCallError(kind Kind, cause error) *CallError {
	return &CallError{Kind: kind, Cause: cause}
}

// Errorf returns a CallError of the given kind whose detail is formatted
// according to format. If the arguments contain an error for a %w verb, it
// becomes the cause.
func Errorf(kind Kind, format string, args ...any) *CallError {
	err := fmt.Errorf(format, args...)
	callErr := &CallError{Kind: kind, Detail: err.Error()}
	if cause, ok := err.(interface{ Unwrap() error }); ok {
		callErr.Cause = cause.Unwrap()
	}
	return callErr
}

func (e *CallError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Kind.String())
	if e.Target != nil {
		fmt.Fprintf(&buf, " calling %s", e.Target.Address())
	}
	if e.Duration > 0 {
		fmt.Fprintf(&buf, " after %v", e.Duration)
	}
	switch {
	case e.Detail != "":
		buf.WriteString(": ")
		buf.WriteString(e.Detail)
	case e.Cause != nil:
		buf.WriteString(": ")
		buf.WriteString(e.Cause.Error())
	}
	return buf.String()
}

// Unwrap returns the cause.
func (e *CallError) Unwrap() error {
	return e.Cause
}

// PossiblyProcessed reports whether the target may have started processing
// the request. It depends only on the kind.
func (e *CallError) PossiblyProcessed() bool {
	return e.Kind.PossiblyProcessed()
}

// Failures is the ordered history of failed attempts during one dispatch,
// oldest first. It is only ever appended to.
type Failures []*CallError

// Len returns the number of failures.
func (f Failures) Len() int {
	return len(f)
}

// First returns the earliest failure, or nil if there are none.
func (f Failures) First() *CallError {
	if len(f) == 0 {
		return nil
	}
	return f[0]
}

// Last returns the latest failure, or nil if there are none.
func (f Failures) Last() *CallError {
	if len(f) == 0 {
		return nil
	}
	return f[len(f)-1]
}

// All returns a copy of the failures.
func (f Failures) All() []*CallError {
	all := make([]*CallError, len(f))
	copy(all, f)
	return all
}

// DispatchError is returned when a dispatch fails, either because every
// target failed or because the failover policy stopped the dispatch. It
// reports the earliest failure; the complete history is in Failures.
//
// Because Unwrap returns the failures in order, errors.As(err, &callErr) with
// a *CallError binds the earliest failure.
type DispatchError struct {
	Failures Failures
}

func (e *DispatchError) Error() string {
	first := e.Failures.First()
	if first == nil {
		return "dispatch failed"
	}
	if len(e.Failures) == 1 {
		return first.Error()
	}
	return fmt.Sprintf("%v (and %d later failures)", first, len(e.Failures)-1)
}

// First returns the earliest failure.
func (e *DispatchError) First() *CallError {
	return e.Failures.First()
}

// Last returns the latest failure.
func (e *DispatchError) Last() *CallError {
	return e.Failures.Last()
}

// Unwrap returns the failures, oldest first.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, failure := range e.Failures {
		errs[i] = failure
	}
	return errs
}
