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

package descriptor

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/bufbuild/failover/internal"
)

var (
	// ErrEmptyGroup is returned when creating a group without children.
	ErrEmptyGroup = errors.New("group must have at least one child")
	// ErrNilChild is returned when creating a group with a nil child.
	ErrNilChild = errors.New("group child must not be nil")
)

// GroupOption is an option used to customize a Group.
type GroupOption interface {
	apply(*groupOptions)
}

// WithRand configures the random source used to shuffle the children of a
// Random group. This is mostly useful for reproducible tests. The given value
// must be safe for concurrent use if the group may be traversed concurrently.
// If no WithRand option is used, each group uses its own properly seeded
// source that is guarded by a mutex.
func WithRand(rng *rand.Rand) GroupOption {
	return groupOptionFunc(func(opts *groupOptions) {
		opts.rng = rng
	})
}

type groupOptionFunc func(*groupOptions)

func (f groupOptionFunc) apply(opts *groupOptions) {
	f(opts)
}

type groupOptions struct {
	rng *rand.Rand
}

func (opts *groupOptions) applyDefaults() {
	if opts.rng == nil {
		opts.rng = internal.NewLockedRand()
	}
}

// Group is a composite of descriptors with an Ordering. Its children are
// fixed at construction, but the order in which Targets returns them is
// recomputed on every call for Random groups.
type Group struct {
	ordering    Ordering
	children    []Descriptor
	targetCount int
	rng         *rand.Rand
}

var _ Descriptor = (*Group)(nil)

// NewGroup returns a group of the given children. At least one child is
// required and no child may be nil.
func NewGroup(ordering Ordering, children []Descriptor, options ...GroupOption) (*Group, error) {
	if ordering != Ordered && ordering != Random {
		return nil, fmt.Errorf("invalid ordering %v", ordering)
	}
	if len(children) == 0 {
		return nil, ErrEmptyGroup
	}
	var opts groupOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	group := &Group{
		ordering: ordering,
		children: make([]Descriptor, len(children)),
		rng:      opts.rng,
	}
	for i, child := range children {
		if child == nil {
			return nil, fmt.Errorf("child %d: %w", i, ErrNilChild)
		}
		group.children[i] = child
		group.targetCount += child.TargetCount()
	}
	return group, nil
}

// NewOrderedGroup returns a group that iterates over children in the given
// order.
func NewOrderedGroup(children ...Descriptor) (*Group, error) {
	return NewGroup(Ordered, children)
}

// NewRandomGroup returns a group that iterates over children in a random
// order.
func NewRandomGroup(children ...Descriptor) (*Group, error) {
	return NewGroup(Random, children)
}

// Ordering returns the ordering of the group.
func (g *Group) Ordering() Ordering {
	return g.ordering
}

// Children returns the children of the group in declared order.
func (g *Group) Children() []Descriptor {
	children := make([]Descriptor, len(g.children))
	copy(children, g.children)
	return children
}

// IsGroup returns true.
func (g *Group) IsGroup() bool {
	return true
}

// Targets concatenates the targets of all children. For Random groups the
// order of the children (but not of the targets within them, which is up to
// each child) is shuffled first.
func (g *Group) Targets() []*Target {
	order := g.children
	if g.ordering == Random && len(order) > 1 {
		order = make([]Descriptor, len(g.children))
		copy(order, g.children)
		g.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	targets := make([]*Target, 0, g.targetCount)
	for _, child := range order {
		targets = append(targets, child.Targets()...)
	}
	return targets
}

// TargetCount returns the number of leaf targets in the group.
func (g *Group) TargetCount() int {
	return g.targetCount
}

// TargetByChecksum searches the children depth-first, in declared order,
// for a target with the given checksum.
func (g *Group) TargetByChecksum(crc uint32) (*Target, bool) {
	for _, child := range g.children {
		if target, ok := child.TargetByChecksum(crc); ok {
			return target, true
		}
	}
	return nil, false
}

func (g *Group) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Group [%v; %d targets; children=", g.ordering, g.targetCount)
	for i, child := range g.children {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(child.String())
	}
	buf.WriteByte(']')
	return buf.String()
}
