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
	"testing"

	"github.com/bufbuild/failover"
	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	unconditional := failover.CallConfig{FailOverUnconditionally: true}
	conditional := failover.CallConfig{}
	for kind := failover.KindUnexpectedException; kind <= failover.KindIO; kind++ {
		failures := failover.Failures{failover.NewCallError(kind, nil)}
		assert.True(t, failover.DefaultPolicy.ShouldFailOver(unconditional, failures), kind.String())
		assert.Equal(t, !kind.PossiblyProcessed(), failover.DefaultPolicy.ShouldFailOver(conditional, failures), kind.String())
	}

	// Only the latest failure counts.
	failures := failover.Failures{
		failover.NewCallError(failover.KindIO, nil),
		failover.NewCallError(failover.KindConnectionRefused, nil),
	}
	assert.True(t, failover.DefaultPolicy.ShouldFailOver(conditional, failures))
	failures = append(failures, failover.NewCallError(failover.KindSocketTimeout, nil))
	assert.False(t, failover.DefaultPolicy.ShouldFailOver(conditional, failures))

	assert.Panics(t, func() {
		failover.DefaultPolicy.ShouldFailOver(unconditional, nil)
	})
}

func TestPolicyFunc(t *testing.T) {
	t.Parallel()

	limited := failover.PolicyFunc(func(cfg failover.CallConfig, failures failover.Failures) bool {
		return failures.Len() < 2 && failover.DefaultPolicy.ShouldFailOver(cfg, failures)
	})
	refused := failover.NewCallError(failover.KindConnectionRefused, nil)
	assert.True(t, limited.ShouldFailOver(failover.CallConfig{}, failover.Failures{refused}))
	assert.False(t, limited.ShouldFailOver(failover.CallConfig{}, failover.Failures{refused, refused}))
}
