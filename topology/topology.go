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

// Package topology builds descriptor trees and call configurations from
// declarative YAML files.
//
// A topology file looks like this:
//
//	call:
//	  fail_over_unconditionally: false
//	timeouts: {total: 5s, connection: 2s, socket: 3s}
//	root:
//	  ordering: ordered
//	  children:
//	    - ordering: random
//	      children:
//	        - address: http://main1.example.com
//	        - address: http://main2.example.com
//	          timeouts: {total: 1s}
//	    - address: ${BACKUP_URL}
//
// Environment variables in the file are expanded before it is parsed. The
// top-level time-outs apply to every target and default to
// descriptor.DefaultTimeouts; a target can override any of them.
package topology

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bufbuild/failover"
	"github.com/bufbuild/failover/descriptor"
	"gopkg.in/yaml.v2"
)

var errNoAddress = errors.New("a target needs a non-empty address")

// Topology is the content of a topology file.
type Topology struct {
	// Config is the call configuration of the file, meant as the fallback
	// configuration of a dispatcher.
	Config failover.CallConfig
	// Root is the descriptor tree.
	Root descriptor.Descriptor
}

// DispatcherOptions returns the options that apply the topology's call
// configuration to a dispatcher.
func (t *Topology) DispatcherOptions() []failover.Option {
	return []failover.Option{failover.WithFallbackConfig(t.Config)}
}

type file struct {
	Call struct {
		FailOverUnconditionally bool `yaml:"fail_over_unconditionally"`
	} `yaml:"call"`
	Timeouts timeouts `yaml:"timeouts"`
	Root     *node    `yaml:"root"`
}

type timeouts struct {
	Total      *time.Duration `yaml:"total"`
	Connection *time.Duration `yaml:"connection"`
	Socket     *time.Duration `yaml:"socket"`
}

// over returns base with the time-outs that are set in t replaced.
func (t timeouts) over(base descriptor.Timeouts) descriptor.Timeouts {
	if t.Total != nil {
		base.Total = *t.Total
	}
	if t.Connection != nil {
		base.Connection = *t.Connection
	}
	if t.Socket != nil {
		base.Socket = *t.Socket
	}
	return base
}

type node struct {
	Address  string   `yaml:"address"`
	Timeouts timeouts `yaml:"timeouts"`
	Ordering string   `yaml:"ordering"`
	Children []*node  `yaml:"children"`
}

// Load reads and parses the topology file at path.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	topology, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topology, nil
}

// Parse parses a topology from YAML, expanding environment variables first.
func Parse(data []byte) (*Topology, error) {
	var f file
	expanded := os.ExpandEnv(string(data))
	if err := yaml.UnmarshalStrict([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	if f.Root == nil {
		return nil, errors.New("topology has no root")
	}
	root, err := f.Root.build("root", f.Timeouts.over(descriptor.DefaultTimeouts))
	if err != nil {
		return nil, err
	}
	return &Topology{
		Config: failover.CallConfig{FailOverUnconditionally: f.Call.FailOverUnconditionally},
		Root:   root,
	}, nil
}

func (n *node) build(path string, defaults descriptor.Timeouts) (descriptor.Descriptor, error) {
	if n == nil {
		return nil, fmt.Errorf("%s: empty node", path)
	}
	if n.Address != "" {
		if len(n.Children) > 0 || n.Ordering != "" {
			return nil, fmt.Errorf("%s: a node has either an address or children", path)
		}
		target, err := descriptor.NewTarget(n.Address, n.Timeouts.over(defaults))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return target, nil
	}
	if len(n.Children) == 0 && n.Ordering == "" {
		// Typically an address that expanded to nothing.
		return nil, fmt.Errorf("%s: %w", path, errNoAddress)
	}
	if n.Timeouts != (timeouts{}) {
		return nil, fmt.Errorf("%s: time-outs are only allowed on targets", path)
	}
	ordering, err := descriptor.ParseOrdering(n.Ordering)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(n.Children) == 0 {
		return nil, fmt.Errorf("%s: %w", path, descriptor.ErrEmptyGroup)
	}
	children := make([]descriptor.Descriptor, len(n.Children))
	for i, child := range n.Children {
		if children[i], err = child.build(fmt.Sprintf("%s.children[%d]", path, i), defaults); err != nil {
			return nil, err
		}
	}
	group, err := descriptor.NewGroup(ordering, children)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return group, nil
}
