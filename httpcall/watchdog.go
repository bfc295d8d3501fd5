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

package httpcall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/bufbuild/failover"
)

var errSocketTimeout = errors.New("target sent no data within the socket time-out")

// socketWatchdog enforces the socket time-out of a single request. It is
// armed once the request has been written, so dialing and the TLS handshake
// are only bounded by the connection time-out, and it is re-armed whenever
// the target sends data. When it fires, it cancels the request.
type socketWatchdog struct {
	timeout time.Duration
	cancel  context.CancelCauseFunc

	mu sync.Mutex
	// +checklocks:mu
	timer *time.Timer
	// +checklocks:mu
	stopped bool
}

func newSocketWatchdog(timeout time.Duration, cancel context.CancelCauseFunc) *socketWatchdog {
	return &socketWatchdog{timeout: timeout, cancel: cancel}
}

// trace returns the hooks that arm the watchdog.
func (w *socketWatchdog) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) {
			w.touch()
		},
		GotFirstResponseByte: w.touch,
	}
}

// reader returns r, re-arming the watchdog whenever data is read from it.
func (w *socketWatchdog) reader(r io.Reader) io.Reader {
	return &progressReader{Reader: r, progress: w.touch}
}

func (w *socketWatchdog) touch() {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.timeout, func() {
			w.cancel(errSocketTimeout)
		})
		return
	}
	w.timer.Reset(w.timeout)
}

func (w *socketWatchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// failure classifies err, an error of a request sent with ctx.
func (w *socketWatchdog) failure(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errSocketTimeout) {
		return failover.NewCallError(failover.KindSocketTimeout, fmt.Errorf("%w (%v): %w", errSocketTimeout, w.timeout, err))
	}
	return failover.WrapNetError(err)
}

type progressReader struct {
	io.Reader
	progress func()
}

func (r *progressReader) Read(b []byte) (int, error) {
	n, err := r.Reader.Read(b)
	if n > 0 {
		r.progress()
	}
	return n, err
}
