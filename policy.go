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

// Policy decides whether a dispatch may fail over to the next target after a
// failed attempt.
type Policy interface {
	// ShouldFailOver is called after every failed attempt with the active
	// call configuration and all failures so far. The latest failure is
	// failures.Last().
	ShouldFailOver(cfg CallConfig, failures Failures) bool
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(cfg CallConfig, failures Failures) bool

// ShouldFailOver calls f.
func (f PolicyFunc) ShouldFailOver(cfg CallConfig, failures Failures) bool {
	return f(cfg, failures)
}

// DefaultPolicy allows failover if the configuration allows it
// unconditionally, or if the latest failure guarantees that the target never
// started processing the request. Custom policies can call it to extend the
// default rule, for example:
//
//	failover.PolicyFunc(func(cfg failover.CallConfig, failures failover.Failures) bool {
//		return failures.Len() < 3 && failover.DefaultPolicy.ShouldFailOver(cfg, failures)
//	})
//
// It panics if failures is empty.
//
//nolint:gochecknoglobals
var DefaultPolicy Policy = PolicyFunc(defaultPolicy)

func defaultPolicy(cfg CallConfig, failures Failures) bool {
	last := failures.Last()
	if last == nil {
		panic("failover: policy consulted without failures")
	}
	return cfg.FailOverUnconditionally || !last.PossiblyProcessed()
}
