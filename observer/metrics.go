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

package observer

import (
	"errors"
	"strconv"
	"time"

	"github.com/bufbuild/failover"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics is an observer that records dispatches as Prometheus metrics.
type Metrics struct {
	targetCalls       *prometheus.CounterVec
	targetDuration    *prometheus.HistogramVec
	failoverDecisions *prometheus.CounterVec
	completeFailures  prometheus.Counter
	programmingErrors prometheus.Counter
}

var _ failover.Observer = (*Metrics)(nil)

// NewMetrics creates the dispatch metrics in the given namespace and
// registers them with reg. Creating metrics twice for the same registerer
// and namespace is allowed; the second observer shares the collectors of the
// first.
//
// The following metrics are recorded:
//
//   - <namespace>_target_calls_total{target,outcome,kind}
//   - <namespace>_target_call_duration_seconds{target,outcome}
//   - <namespace>_failover_decisions_total{policy_allowed,has_next,will_continue}
//   - <namespace>_complete_failures_total
//   - <namespace>_programming_errors_total
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	metrics := &Metrics{
		targetCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "target_calls_total",
				Help:      "Total calls to individual targets.",
			},
			[]string{"target", "outcome", "kind"},
		),
		targetDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "target_call_duration_seconds",
				Help:      "Duration of calls to individual targets in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"target", "outcome"},
		),
		failoverDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failover_decisions_total",
				Help:      "Failover decisions made after failed target calls.",
			},
			[]string{"policy_allowed", "has_next", "will_continue"},
		),
		completeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "complete_failures_total",
				Help:      "Dispatches that failed on every attempted target.",
			},
		),
		programmingErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "programming_errors_total",
				Help:      "Violated invariants detected by the dispatcher.",
			},
		),
	}
	var err error
	if metrics.targetCalls, err = register(reg, metrics.targetCalls); err != nil {
		return nil, err
	}
	if metrics.targetDuration, err = register(reg, metrics.targetDuration); err != nil {
		return nil, err
	}
	if metrics.failoverDecisions, err = register(reg, metrics.failoverDecisions); err != nil {
		return nil, err
	}
	if metrics.completeFailures, err = register(reg, metrics.completeFailures); err != nil {
		return nil, err
	}
	if metrics.programmingErrors, err = register(reg, metrics.programmingErrors); err != nil {
		return nil, err
	}
	return metrics, nil
}

// register registers collector with reg, or returns the equal collector that
// is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return collector, err
}

func (m *Metrics) BeforeTargetCall(string) {}

func (m *Metrics) TargetCallSucceeded(address string, duration time.Duration) {
	m.targetCalls.WithLabelValues(address, outcomeSuccess, "").Inc()
	m.targetDuration.WithLabelValues(address, outcomeSuccess).Observe(duration.Seconds())
}

func (m *Metrics) TargetCallFailed(address string, duration time.Duration, err error) {
	kind := failover.KindUnexpectedException
	var callErr *failover.CallError
	if errors.As(err, &callErr) {
		kind = callErr.Kind
	}
	m.targetCalls.WithLabelValues(address, outcomeFailure, kind.String()).Inc()
	m.targetDuration.WithLabelValues(address, outcomeFailure).Observe(duration.Seconds())
}

func (m *Metrics) FailoverDecided(policyAllowed, hasNext, willContinue bool) {
	m.failoverDecisions.WithLabelValues(
		strconv.FormatBool(policyAllowed),
		strconv.FormatBool(hasNext),
		strconv.FormatBool(willContinue),
	).Inc()
}

func (m *Metrics) CallCompletelyFailed(failover.Failures) {
	m.completeFailures.Inc()
}

func (m *Metrics) ProgrammingError(detail string, cause error) error {
	m.programmingErrors.Inc()
	return &failover.ProgrammingError{Detail: detail, Cause: cause}
}
