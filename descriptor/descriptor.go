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

// Package descriptor models the back-ends of a logical service as an
// immutable tree. Leaves are [Target] values, each describing a single
// addressable endpoint and its time-outs. Internal nodes are [Group] values
// that iterate over their children either in declared order ([Ordered]) or in
// a freshly shuffled order on every traversal ([Random]).
//
// Because groups nest, a single recursive rule realizes both load-balancing
// and site preference. Consider a primary site with three back-ends and a
// backup site with two. Traffic should spread evenly within a site, but the
// backup site should only be used once the primary site is exhausted:
//
//	all, err := descriptor.NewOrderedGroup(
//	    descriptor.Must(descriptor.NewRandomGroup(main1, main2, main3)),
//	    descriptor.Must(descriptor.NewRandomGroup(backup1, backup2)),
//	)
//
// Every call to all.Targets() then returns the three main targets in a random
// order followed by the two backup targets in a random order.
package descriptor

import (
	"fmt"
	"strings"
)

// Descriptor describes either a single target or a group of descriptors.
// Implementations must be safe for concurrent use and must not change the set
// of targets they describe after construction.
type Descriptor interface {
	// IsGroup reports whether this descriptor is a group.
	IsGroup() bool
	// Targets returns a new slice of the leaf targets in traversal order. Groups
	// compute the order anew on every call, so random groups may return a
	// different order each time. Callers may modify the returned slice.
	Targets() []*Target
	// TargetCount returns the total number of leaf targets. It is always at
	// least one for descriptors constructed by this package.
	TargetCount() int
	// TargetByChecksum returns the first target, in declared depth-first order,
	// whose Checksum equals crc.
	TargetByChecksum(crc uint32) (*Target, bool)
	String() string
}

// Ordering determines how a Group iterates over its children.
type Ordering int

const (
	// Ordered groups iterate over children in the order they were declared.
	Ordered Ordering = iota
	// Random groups iterate over children in a uniformly random order that
	// is recomputed on every traversal.
	Random
)

// String returns "ordered" or "random".
func (o Ordering) String() string {
	switch o {
	case Ordered:
		return "ordered"
	case Random:
		return "random"
	default:
		return fmt.Sprintf("Ordering(%d)", int(o))
	}
}

// ParseOrdering converts the (case-insensitive) name of an ordering, as
// produced by Ordering.String, back to an Ordering.
func ParseOrdering(name string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ordered", "":
		return Ordered, nil
	case "random":
		return Random, nil
	default:
		return 0, fmt.Errorf("unknown ordering %q", name)
	}
}

// Must panics if err is non-nil and otherwise returns desc. It is intended for
// descriptor trees built from static values, such as in tests.
func Must[D Descriptor](desc D, err error) D {
	if err != nil {
		panic(err)
	}
	return desc
}
