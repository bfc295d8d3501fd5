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

// Package observer provides failover.Observer implementations that log
// dispatches with zerolog and record them as Prometheus metrics.
package observer

import (
	"time"

	"github.com/bufbuild/failover"
)

// Multi returns an observer that forwards every notification to all the
// given observers, in order. Its ProgrammingError method returns the error
// returned by the first observer.
func Multi(observers ...failover.Observer) failover.Observer {
	switch len(observers) {
	case 0:
		return failover.NopObserver{}
	case 1:
		return observers[0]
	}
	return multi(observers)
}

type multi []failover.Observer

func (m multi) BeforeTargetCall(address string) {
	for _, o := range m {
		o.BeforeTargetCall(address)
	}
}

func (m multi) TargetCallSucceeded(address string, duration time.Duration) {
	for _, o := range m {
		o.TargetCallSucceeded(address, duration)
	}
}

func (m multi) TargetCallFailed(address string, duration time.Duration, err error) {
	for _, o := range m {
		o.TargetCallFailed(address, duration, err)
	}
}

func (m multi) FailoverDecided(policyAllowed, hasNext, willContinue bool) {
	for _, o := range m {
		o.FailoverDecided(policyAllowed, hasNext, willContinue)
	}
}

func (m multi) CallCompletelyFailed(failures failover.Failures) {
	for _, o := range m {
		o.CallCompletelyFailed(failures)
	}
}

func (m multi) ProgrammingError(detail string, cause error) error {
	var first error
	for i, o := range m {
		err := o.ProgrammingError(detail, cause)
		if i == 0 {
			first = err
		}
	}
	return first
}
