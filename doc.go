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

// Package failover provides a protocol-agnostic call dispatcher. Given a
// logical service made of one or more network targets, a [Dispatcher]
// executes a request against a target, detects failure, and transparently
// fails over to alternate targets.
//
// The dispatcher does not speak any protocol itself. It is created with a
// [CallFunc] that performs the actual call to a single target; the httpcall
// package provides one for HTTP.
//
// # Descriptors
//
// The targets of a service are described by a tree from the [descriptor]
// package. Leaves are single targets; groups iterate over their children
// either in declared order or in a random order that is recomputed for every
// dispatch. Every dispatch takes one fresh traversal of the tree and tries
// the targets in that order, one at a time.
//
// # Time-outs
//
// Each target has three time-outs. The total time-out limits the whole call
// and is enforced by the dispatcher: when it expires, the context given to
// the CallFunc is cancelled and the attempt fails with [KindTotalTimeout].
// The connection and socket time-outs are enforced by the CallFunc.
//
// # Fail-over
//
// Not every failure can safely be retried on another target. If a request
// reached a target before the failure, the target may have processed it, and
// repeating it elsewhere could duplicate its side effects. Every [CallError]
// has a [Kind], and kinds that occur while establishing a connection (such as
// [KindConnectionRefused]) guarantee the request was never processed. The
// [DefaultPolicy] fails over after such failures only, unless the active
// [CallConfig] allows failover unconditionally. Use [WithFailoverPolicy] to
// change this rule.
//
// # Call configuration
//
// A call configuration can be supplied in three places. In order of
// precedence, they are: passed to [Dispatcher.DispatchWithConfig], attached
// to the [Request], and the dispatcher's fallback configuration. Exactly one
// of them is used for a dispatch.
//
// # Results and failures
//
// A successful dispatch returns a [Result] that includes the failures of all
// earlier attempts. A failed dispatch returns a [*DispatchError] that reports
// the earliest failure and holds the complete, ordered history. An
// [Observer] is notified of every attempt and every failover decision.
package failover
