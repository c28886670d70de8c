// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config loads the node topology file and the optional
// operational (logging/metrics) configuration described in spec.md §6.3.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// NodeConfig is one node's entry in the topology file: its endpoint and
// the name of the node that acts as its registry. A node whose own
// endpoint matches its declared root's endpoint IS the registry.
type NodeConfig struct {
	Host                   string `json:"host" yaml:"host"`
	Port                   int    `json:"port" yaml:"port"`
	Root                   string `json:"root,omitempty" yaml:"root,omitempty"`
	AllowInvalidSignatures bool   `json:"allow_invalid_signatures,omitempty" yaml:"allow_invalid_signatures,omitempty"`
}

// Topology is the full node-config file: a JSON object keyed by node
// name, per spec.md §6.3.
type Topology map[string]NodeConfig

// LoadTopology reads a topology file. JSON is the format spec.md §6.3
// pins; YAML is also accepted so operators can hand-edit a topology
// without the JSON/json dance, the way config/config.go tries YAML
// before JSON — here JSON is tried first since it is the format the
// wire protocol and every test fixture actually uses.
func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology file: %w", err)
	}

	topo := Topology{}
	if err := json.Unmarshal(data, &topo); err != nil {
		if yerr := unmarshalYAML(data, &topo); yerr != nil {
			return nil, fmt.Errorf("parse topology file (tried JSON and YAML): %w", err)
		}
	}
	return topo, nil
}

// Node returns the named entry, or an error if the name is absent.
func (t Topology) Node(name string) (NodeConfig, error) {
	nc, ok := t[name]
	if !ok {
		return NodeConfig{}, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	return nc, nil
}

// IsRoot reports whether the named node is its own registry: either it
// declares no root, or its declared root resolves to the same endpoint
// as itself.
func (t Topology) IsRoot(name string) (bool, error) {
	nc, err := t.Node(name)
	if err != nil {
		return false, err
	}
	if nc.Root == "" {
		return true, nil
	}
	root, err := t.Node(nc.Root)
	if err != nil {
		return false, err
	}
	return root.Host == nc.Host && root.Port == nc.Port, nil
}

// RootOf returns the endpoint of the named node's registry. If the node
// is itself the root, RootOf returns its own entry.
func (t Topology) RootOf(name string) (NodeConfig, error) {
	nc, err := t.Node(name)
	if err != nil {
		return NodeConfig{}, err
	}
	isRoot, err := t.IsRoot(name)
	if err != nil {
		return NodeConfig{}, err
	}
	if isRoot {
		return nc, nil
	}
	return t.Node(nc.Root)
}

// Addr formats host:port the way net.Dial and net.Listen expect.
func (nc NodeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", nc.Host, nc.Port)
}

func unmarshalYAML(data []byte, topo *Topology) error {
	// Cheap heuristic: only bother invoking the YAML parser when the
	// document doesn't look like JSON, so malformed JSON still reports
	// a JSON error rather than a confusing YAML one.
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("not YAML")
	}
	return yamlUnmarshal(data, topo)
}
