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
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bufbuild/failover/deadline"
	"github.com/bufbuild/failover/descriptor"
	"github.com/bufbuild/failover/internal"
)

var (
	// ErrNilRequest is returned when dispatching a nil request.
	ErrNilRequest = errors.New("request must not be nil")
	// ErrNoDescriptor is returned when dispatching without a descriptor.
	ErrNoDescriptor = errors.New("no descriptor set")
)

// CallFunc performs the actual, protocol-specific call of req to a single
// target. It should honor the connection and socket time-outs of the target;
// the dispatcher enforces the total time-out by cancelling ctx.
//
// To classify a failure, return a *CallError. Any other error is recorded as
// KindUnexpectedException, which is considered possibly processed.
type CallFunc[Req, Resp any] func(ctx context.Context, req *Request[Req], cfg CallConfig, target *descriptor.Target) (Resp, error)

// UnsupportedProtocolError is returned when a descriptor contains a target
// whose protocol is not in the set configured with WithSupportedProtocols.
type UnsupportedProtocolError struct {
	Target *descriptor.Target
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("unsupported protocol %q for target %s", e.Target.Protocol(), e.Target.Address())
}

// Option is an option used to customize a Dispatcher.
type Option interface {
	apply(*dispatcherOptions)
}

// WithObserver configures the observer that is notified of every attempt,
// failover decision and failure. If no WithObserver option is provided,
// NopObserver is used.
func WithObserver(observer Observer) Option {
	return optionFunc(func(opts *dispatcherOptions) {
		opts.observer = observer
	})
}

// WithFallbackConfig configures the call configuration used when neither the
// dispatch nor the request provides one.
func WithFallbackConfig(cfg CallConfig) Option {
	return optionFunc(func(opts *dispatcherOptions) {
		opts.fallback = &cfg
	})
}

// WithDefaultConfig configures a function that provides the fallback call
// configuration when no WithFallbackConfig option is used. It is called once,
// by NewDispatcher. If it returns an error or a nil configuration,
// NewDispatcher fails with a programming error.
func WithDefaultConfig(provider func() (*CallConfig, error)) Option {
	return optionFunc(func(opts *dispatcherOptions) {
		opts.defaultConfig = provider
	})
}

// WithFailoverPolicy configures the policy that decides whether to fail over
// after a failed attempt. If no WithFailoverPolicy option is provided,
// DefaultPolicy is used.
func WithFailoverPolicy(policy Policy) Option {
	return optionFunc(func(opts *dispatcherOptions) {
		opts.policy = policy
	})
}

// WithSupportedProtocols restricts the protocols of the targets the
// dispatcher accepts, for call functions that only handle some protocols.
// Descriptors with other targets are rejected with an
// *UnsupportedProtocolError. Protocols are compared case-insensitively. If no
// WithSupportedProtocols option is provided, all protocols are accepted.
func WithSupportedProtocols(protocols ...string) Option {
	return optionFunc(func(opts *dispatcherOptions) {
		if opts.protocols == nil {
			opts.protocols = map[string]struct{}{}
		}
		for _, protocol := range protocols {
			opts.protocols[strings.ToLower(protocol)] = struct{}{}
		}
	})
}

// WithDeadlineGrace configures how long to wait for a call whose total
// time-out expired to acknowledge its cancellation. If the call does not
// return within the grace period, the attempt is recorded as
// KindUnexpectedException (wrapping deadline.ErrCancelIgnored) instead of
// KindTotalTimeout. See deadline.WithGrace.
func WithDeadlineGrace(grace time.Duration) Option {
	return optionFunc(func(opts *dispatcherOptions) {
		opts.grace = grace
	})
}

type optionFunc func(*dispatcherOptions)

func (f optionFunc) apply(opts *dispatcherOptions) {
	f(opts)
}

type dispatcherOptions struct {
	observer      Observer
	fallback      *CallConfig
	defaultConfig func() (*CallConfig, error)
	policy        Policy
	protocols     map[string]struct{}
	grace         time.Duration
}

func (opts *dispatcherOptions) applyDefaults() {
	if opts.observer == nil {
		opts.observer = NopObserver{}
	}
	if opts.policy == nil {
		opts.policy = DefaultPolicy
	}
	if opts.defaultConfig == nil {
		opts.defaultConfig = func() (*CallConfig, error) {
			return &CallConfig{}, nil
		}
	}
}

// Dispatcher calls a logical service described by a descriptor tree. Each
// dispatch tries the targets of the tree, one at a time and in traversal
// order, until a call succeeds or the failover policy stops it.
//
// A Dispatcher is safe for concurrent use. Concurrent dispatches are
// independent of each other.
type Dispatcher[Req, Resp any] struct {
	call       CallFunc[Req, Resp]
	observer   Observer
	policy     Policy
	protocols  map[string]struct{}
	config     CallConfig
	controller *deadline.Controller
	clock      internal.Clock

	mu sync.RWMutex
	// +checklocks:mu
	desc descriptor.Descriptor
}

// NewDispatcher returns a dispatcher that uses call to call the targets of
// desc. The descriptor may be nil, in which case SetDescriptor must be called
// before dispatching.
func NewDispatcher[Req, Resp any](
	desc descriptor.Descriptor,
	call CallFunc[Req, Resp],
	options ...Option,
) (*Dispatcher[Req, Resp], error) {
	if call == nil {
		return nil, errors.New("call function must not be nil")
	}
	var opts dispatcherOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()

	dispatcher := &Dispatcher[Req, Resp]{
		call:       call,
		observer:   opts.observer,
		policy:     opts.policy,
		protocols:  opts.protocols,
		controller: deadline.NewController(deadline.WithGrace(opts.grace)),
		clock:      internal.NewRealClock(),
	}
	if opts.fallback != nil {
		dispatcher.config = *opts.fallback
	} else {
		cfg, err := opts.defaultConfig()
		if err != nil {
			return nil, dispatcher.observer.ProgrammingError("default call config provider failed", err)
		}
		if cfg == nil {
			return nil, dispatcher.observer.ProgrammingError("default call config provider returned nil", nil)
		}
		dispatcher.config = *cfg
	}
	if err := dispatcher.SetDescriptor(desc); err != nil {
		return nil, err
	}
	return dispatcher, nil
}

// SetDescriptor replaces the descriptor tree. Dispatches already in progress
// keep using the targets of the previous tree.
func (d *Dispatcher[Req, Resp]) SetDescriptor(desc descriptor.Descriptor) error {
	if desc != nil && d.protocols != nil {
		for _, target := range desc.Targets() {
			if _, ok := d.protocols[target.Protocol()]; !ok {
				return &UnsupportedProtocolError{Target: target}
			}
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.desc = desc
	return nil
}

// Descriptor returns the current descriptor tree, or nil if there is none.
func (d *Dispatcher[Req, Resp]) Descriptor() descriptor.Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.desc
}

// Config returns the fallback call configuration.
func (d *Dispatcher[Req, Resp]) Config() CallConfig {
	return d.config
}

// Dispatch calls the service with req. The call configuration attached to
// req is used if present, otherwise the dispatcher's fallback configuration.
//
// On success, the result includes the failures of any earlier attempts. If no
// attempt succeeds, the returned error is a *DispatchError that reports the
// earliest failure and holds all of them.
func (d *Dispatcher[Req, Resp]) Dispatch(ctx context.Context, req *Request[Req]) (*Result[Resp], error) {
	return d.dispatch(ctx, req, nil)
}

// DispatchWithConfig is like Dispatch but uses cfg, regardless of the
// configuration attached to req.
func (d *Dispatcher[Req, Resp]) DispatchWithConfig(ctx context.Context, req *Request[Req], cfg CallConfig) (*Result[Resp], error) {
	return d.dispatch(ctx, req, &cfg)
}

func (d *Dispatcher[Req, Resp]) dispatch(ctx context.Context, req *Request[Req], override *CallConfig) (*Result[Resp], error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	desc := d.Descriptor()
	if desc == nil {
		return nil, ErrNoDescriptor
	}
	cfg := d.resolveConfig(req, override)

	targets := desc.Targets()
	if len(targets) == 0 {
		return nil, d.observer.ProgrammingError(fmt.Sprintf("descriptor %v returned no targets", desc), nil)
	}

	var failures Failures
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			if len(failures) == 0 {
				return nil, err
			}
			break
		}
		address := target.Address()
		start := d.clock.Now()
		d.observer.BeforeTargetCall(address)
		value, err := deadline.Do(ctx, d.controller, target.TotalTimeout(), func(ctx context.Context) (Resp, error) {
			return d.call(ctx, req, cfg, target)
		})
		duration := d.clock.Since(start)
		if err == nil {
			d.observer.TargetCallSucceeded(address, duration)
			return &Result[Resp]{
				Target:   target,
				Duration: duration,
				Value:    value,
				Failures: failures,
			}, nil
		}

		failure := recordFailure(req, target, duration, err)
		d.observer.TargetCallFailed(address, duration, failure)
		failures = append(failures, failure)

		allowed := d.policy.ShouldFailOver(cfg, failures)
		hasNext := i < len(targets)-1
		willContinue := allowed && hasNext && ctx.Err() == nil
		d.observer.FailoverDecided(allowed, hasNext, willContinue)
		if !willContinue {
			break
		}
	}

	d.observer.CallCompletelyFailed(failures)
	return nil, &DispatchError{Failures: failures}
}

func (d *Dispatcher[Req, Resp]) resolveConfig(req *Request[Req], override *CallConfig) CallConfig {
	switch {
	case override != nil:
		return *override
	case req.Config != nil:
		return *req.Config
	default:
		return d.config
	}
}

// recordFailure classifies err and returns the *CallError to record, with the
// request, target and duration filled in.
func recordFailure(req any, target *descriptor.Target, duration time.Duration, err error) *CallError {
	var failure CallError
	var callErr *CallError
	switch {
	case errors.As(err, &callErr):
		failure = *callErr
	case errors.Is(err, deadline.ErrTimeout):
		failure = CallError{Kind: KindTotalTimeout, Cause: err}
	default:
		failure = CallError{Kind: KindUnexpectedException, Cause: err}
	}
	if failure.Request == nil {
		failure.Request = req
	}
	if failure.Target == nil {
		failure.Target = target
	}
	if failure.Duration == 0 {
		failure.Duration = duration
	}
	return &failure
}
