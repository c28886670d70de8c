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
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// LoggingConfig controls the structured logger's behaviour.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
}

// MetricsConfig controls whether and where the Prometheus metrics
// endpoint is served.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Path    string `json:"path" yaml:"path"`
}

// ProtocolConfig holds the tunable session timing the protocol engine
// uses; defaults match spec.md §4.7/§5 exactly.
type ProtocolConfig struct {
	IdleTimeout   time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	PollInterval  time.Duration `json:"poll_interval" yaml:"poll_interval"`
	EPRTimeout    time.Duration `json:"epr_timeout" yaml:"epr_timeout"`
	RSAKeyBits    int           `json:"rsa_key_bits" yaml:"rsa_key_bits"`
}

// RuntimeConfig is operational configuration not part of the topology
// file: logging, metrics, and protocol timing defaults. Unlike the
// topology file, this is optional — every field has a safe default.
type RuntimeConfig struct {
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Protocol ProtocolConfig `json:"protocol" yaml:"protocol"`
}

// LoadRuntimeConfig reads an operational config file, trying JSON then
// YAML, and fills in defaults for anything left zero-valued.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read runtime config file: %w", err)
	}

	rc := &RuntimeConfig{}
	if err := json.Unmarshal(data, rc); err != nil {
		if yerr := yamlUnmarshalRuntime(data, rc); yerr != nil {
			return nil, fmt.Errorf("parse runtime config file (tried JSON and YAML): %w", err)
		}
	}
	setDefaults(rc)
	return rc, nil
}

// DefaultRuntimeConfig returns a RuntimeConfig with every default
// applied, for callers that don't supply a config file at all.
func DefaultRuntimeConfig() *RuntimeConfig {
	rc := &RuntimeConfig{}
	setDefaults(rc)
	return rc
}

func setDefaults(rc *RuntimeConfig) {
	if rc.Logging.Level == "" {
		rc.Logging.Level = "info"
	}
	if rc.Logging.Format == "" {
		rc.Logging.Format = "json"
	}
	if rc.Logging.Output == "" {
		rc.Logging.Output = "stdout"
	}

	if rc.Metrics.Addr == "" {
		rc.Metrics.Addr = ":9090"
	}
	if rc.Metrics.Path == "" {
		rc.Metrics.Path = "/metrics"
	}

	if rc.Protocol.IdleTimeout == 0 {
		rc.Protocol.IdleTimeout = 60 * time.Second
	}
	if rc.Protocol.PollInterval == 0 {
		rc.Protocol.PollInterval = 5 * time.Millisecond
	}
	if rc.Protocol.EPRTimeout == 0 {
		rc.Protocol.EPRTimeout = 60 * time.Second
	}
	if rc.Protocol.RSAKeyBits == 0 {
		rc.Protocol.RSAKeyBits = 2048
	}
}
