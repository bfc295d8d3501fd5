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
	"time"

	"github.com/bufbuild/failover/descriptor"
)

// CallConfig configures how a call is dispatched.
type CallConfig struct {
	// FailOverUnconditionally allows failing over to the next target after
	// any failure, including failures where the target may already have
	// processed the request. Only enable this for idempotent requests.
	FailOverUnconditionally bool
}

// Request is a protocol-specific payload plus an optional call configuration
// that overrides the dispatcher's fallback configuration.
type Request[T any] struct {
	Payload T
	Config  *CallConfig
}

// NewRequest returns a request for payload without a call configuration.
func NewRequest[T any](payload T) *Request[T] {
	return &Request[T]{Payload: payload}
}

// WithConfig returns a copy of the request that carries cfg.
func (r *Request[T]) WithConfig(cfg CallConfig) *Request[T] {
	clone := *r
	clone.Config = &cfg
	return &clone
}

// Result is the outcome of a successful dispatch.
type Result[T any] struct {
	// Target is the target that succeeded.
	Target *descriptor.Target
	// Duration is the duration of the successful attempt.
	Duration time.Duration
	// Value is the value returned by the call function.
	Value T
	// Failures holds the attempts that failed before the successful one. It
	// is empty if the first attempt succeeded.
	Failures Failures
}
