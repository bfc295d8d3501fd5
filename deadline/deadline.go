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

// Package deadline runs a unit of work with an enforced wall-clock deadline,
// independent of whether the work itself honors any time-outs.
//
// When a deadline is set, the work runs on its own goroutine while the caller
// waits. If the deadline passes first, the context given to the work is
// cancelled and the caller gets [ErrTimeout] right away. Cancellation is
// cooperative: the goroutine keeps running until the work notices that its
// context is done. Only one attempt is ever made.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bufbuild/failover/internal"
)

var (
	// ErrTimeout is returned when the work did not complete before the
	// deadline.
	ErrTimeout = errors.New("deadline exceeded: total time-out")
	// ErrCancelIgnored is returned instead of ErrTimeout when the controller
	// has a grace period and the work did not return within that period
	// after its context was cancelled.
	ErrCancelIgnored = errors.New("deadline exceeded: work ignored cancellation")
)

// PanicError is returned when the work panics. The panic is recovered so that
// a panic on the auxiliary goroutine cannot crash the process.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during call: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Option is an option used to customize a Controller.
type Option interface {
	apply(*Controller)
}

// WithGrace configures how long the controller waits, after cancelling work
// whose deadline passed, for the work to return. If the work returns within
// the grace period, ErrTimeout is reported. Otherwise ErrCancelIgnored is
// reported. The default of zero returns ErrTimeout immediately after
// cancelling, without waiting.
func WithGrace(grace time.Duration) Option {
	return optionFunc(func(c *Controller) {
		c.grace = grace
	})
}

type optionFunc func(*Controller)

func (f optionFunc) apply(c *Controller) {
	f(c)
}

// Controller enforces deadlines. The zero value is not usable; use
// NewController. A Controller is safe for concurrent use.
type Controller struct {
	grace time.Duration
	clock internal.Clock
}

// NewController returns a new controller.
func NewController(options ...Option) *Controller {
	ctl := &Controller{clock: internal.NewRealClock()}
	for _, opt := range options {
		opt.apply(ctl)
	}
	return ctl
}

// Run is like Do for work that produces no value.
func (c *Controller) Run(ctx context.Context, timeout time.Duration, task func(context.Context) error) error {
	_, err := Do(ctx, c, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, task(ctx)
	})
	return err
}

// Do runs task with the given time-out and returns its result.
//
// If timeout is zero or negative, task runs synchronously on the calling
// goroutine, with ctx, and nothing is enforced. Otherwise task runs on a new
// goroutine with a context derived from ctx. If it has not finished when the
// time-out expires, its context is cancelled and ErrTimeout (or
// ErrCancelIgnored, see WithGrace) is returned. If ctx is done first, the
// task's context is cancelled too and ctx.Err() is returned.
//
// A panic in task is returned as a *PanicError.
func Do[T any](ctx context.Context, ctl *Controller, timeout time.Duration, task func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return protect(ctx, task)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Buffered so the goroutine never blocks when nobody is left to receive.
	done := make(chan outcome[T], 1)
	go func() {
		value, err := protect(taskCtx, task)
		done <- outcome[T]{value: value, err: err}
	}()

	timer := ctl.clock.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case result := <-done:
		return result.value, result.err
	case <-timer.Chan():
		cancel()
		if !awaitCancel(ctl, done) {
			return zero, ErrCancelIgnored
		}
		return zero, ErrTimeout
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// awaitCancel waits up to the grace period for cancelled work to return. It
// reports false if the work is still running afterwards.
func awaitCancel[T any](ctl *Controller, done <-chan outcome[T]) bool {
	if ctl.grace <= 0 {
		return true
	}
	timer := ctl.clock.NewTimer(ctl.grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.Chan():
		return false
	}
}

func protect[T any](ctx context.Context, task func(context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}
