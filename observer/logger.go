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
	"time"

	"github.com/bufbuild/failover"
	"github.com/rs/zerolog"
)

// Logger is an observer that writes a structured log event for every
// notification.
type Logger struct {
	logger zerolog.Logger
}

var _ failover.Observer = (*Logger)(nil)

// NewLogger returns an observer that logs to logger. Call starts and failover
// decisions are logged at debug level, successes at info, failed attempts at
// warn, and complete failures and programming errors at error level.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) BeforeTargetCall(address string) {
	l.logger.Debug().
		Str("target", address).
		Msg("calling target")
}

func (l *Logger) TargetCallSucceeded(address string, duration time.Duration) {
	l.logger.Info().
		Str("target", address).
		Dur("duration", duration).
		Msg("target call succeeded")
}

func (l *Logger) TargetCallFailed(address string, duration time.Duration, err error) {
	event := l.logger.Warn().
		Str("target", address).
		Dur("duration", duration)
	var callErr *failover.CallError
	if errors.As(err, &callErr) {
		event = event.
			Str("kind", callErr.Kind.String()).
			Bool("possibly_processed", callErr.PossiblyProcessed())
	}
	event.Err(err).Msg("target call failed")
}

func (l *Logger) FailoverDecided(policyAllowed, hasNext, willContinue bool) {
	l.logger.Debug().
		Bool("policy_allowed", policyAllowed).
		Bool("has_next", hasNext).
		Bool("will_continue", willContinue).
		Msg("failover decided")
}

func (l *Logger) CallCompletelyFailed(failures failover.Failures) {
	addresses := make([]string, 0, len(failures))
	for _, failure := range failures {
		if failure.Target != nil {
			addresses = append(addresses, failure.Target.Address())
		}
	}
	event := l.logger.Error().
		Int("attempts", failures.Len()).
		Strs("targets", addresses)
	if first := failures.First(); first != nil {
		event = event.Err(first)
	}
	event.Msg("call completely failed")
}

func (l *Logger) ProgrammingError(detail string, cause error) error {
	err := &failover.ProgrammingError{Detail: detail, Cause: cause}
	l.logger.Error().Err(err).Msg("programming error")
	return err
}
