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
	"errors"
	"fmt"
	"time"
)

// ErrProgramming is matched (via errors.Is) by errors that report a violated
// invariant, as opposed to a failed call. Such errors are never retried.
var ErrProgramming = errors.New("programming error")

// Observer receives notifications from a Dispatcher. All methods are called
// synchronously from the dispatching goroutine, in call order, so they must
// return quickly. Implementations must be safe for concurrent use if the
// dispatcher is used concurrently.
//
// The observer package provides implementations for logging and metrics.
type Observer interface {
	// BeforeTargetCall is called before each attempt.
	BeforeTargetCall(address string)
	// TargetCallSucceeded is called when an attempt succeeds.
	TargetCallSucceeded(address string, duration time.Duration)
	// TargetCallFailed is called when an attempt fails. The error is always
	// a *CallError.
	TargetCallFailed(address string, duration time.Duration, err error)
	// FailoverDecided is called after each failed attempt. The dispatch
	// continues with the next target only if willContinue is true.
	FailoverDecided(policyAllowed, hasNext, willContinue bool)
	// CallCompletelyFailed is called when a dispatch gives up.
	CallCompletelyFailed(failures Failures)
	// ProgrammingError is called when the dispatcher detects a violated
	// invariant, such as a descriptor without targets. It returns the error
	// that the dispatcher reports to its caller.
	ProgrammingError(detail string, cause error) error
}

// ProgrammingError describes a violated invariant.
type ProgrammingError struct {
	Detail string
	Cause  error
}

func (e *ProgrammingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", ErrProgramming, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", ErrProgramming, e.Detail)
}

// Is allows errors.Is(err, ErrProgramming).
func (e *ProgrammingError) Is(target error) bool {
	return target == ErrProgramming
}

// Unwrap returns the cause.
func (e *ProgrammingError) Unwrap() error {
	return e.Cause
}

// NopObserver ignores all notifications. Its ProgrammingError method returns
// a *ProgrammingError. It can be embedded to implement only some methods of
// Observer.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) BeforeTargetCall(string) {}

func (NopObserver) TargetCallSucceeded(string, time.Duration) {}

func (NopObserver) TargetCallFailed(string, time.Duration, error) {}

func (NopObserver) FailoverDecided(bool, bool, bool) {}

func (NopObserver) CallCompletelyFailed(Failures) {}

func (NopObserver) ProgrammingError(detail string, cause error) error {
	return &ProgrammingError{Detail: detail, Cause: cause}
}
