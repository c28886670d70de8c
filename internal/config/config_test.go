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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTopologyFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadTopologyJSON(t *testing.T) {
	path := writeTopologyFile(t, `{
		"Eve":   {"host": "127.0.0.1", "port": 33000},
		"Alice": {"host": "127.0.0.1", "port": 33001, "root": "Eve"},
		"Bob":   {"host": "127.0.0.1", "port": 33002, "root": "Eve"}
	}`)

	topo, err := LoadTopology(path)
	require.NoError(t, err)
	require.Len(t, topo, 3)

	alice, err := topo.Node("Alice")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:33001", alice.Addr())

	isRoot, err := topo.IsRoot("Eve")
	require.NoError(t, err)
	assert.True(t, isRoot)

	isRoot, err = topo.IsRoot("Alice")
	require.NoError(t, err)
	assert.False(t, isRoot)

	root, err := topo.RootOf("Alice")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:33000", root.Addr())
}

func TestLoadTopologyYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Eve:\n  host: 127.0.0.1\n  port: 33000\n"), 0o644))

	topo, err := LoadTopology(path)
	require.NoError(t, err)
	require.Len(t, topo, 1)
}

func TestLoadTopologyUnknownNode(t *testing.T) {
	path := writeTopologyFile(t, `{"Eve": {"host": "127.0.0.1", "port": 33000}}`)
	topo, err := LoadTopology(path)
	require.NoError(t, err)

	_, err = topo.Node("Carol")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestAllowInvalidSignaturesField(t *testing.T) {
	path := writeTopologyFile(t, `{"Eve": {"host": "127.0.0.1", "port": 33000, "allow_invalid_signatures": true}}`)
	topo, err := LoadTopology(path)
	require.NoError(t, err)

	eve, err := topo.Node("Eve")
	require.NoError(t, err)
	assert.True(t, eve.AllowInvalidSignatures)
}

func TestDefaultRuntimeConfig(t *testing.T) {
	rc := DefaultRuntimeConfig()
	assert.Equal(t, "info", rc.Logging.Level)
	assert.Equal(t, "json", rc.Logging.Format)
	assert.Equal(t, ":9090", rc.Metrics.Addr)
	assert.Equal(t, "/metrics", rc.Metrics.Path)
	assert.Equal(t, 2048, rc.Protocol.RSAKeyBits)
}

func TestLoadRuntimeConfigAppliesDefaultsOverPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o644))

	rc, err := LoadRuntimeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", rc.Logging.Level)
	assert.Equal(t, "json", rc.Logging.Format)
	assert.Equal(t, 2048, rc.Protocol.RSAKeyBits)
}
