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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProtocolSessionsStarted tracks protocol sessions started, by
	// protocol name and role.
	ProtocolSessionsStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "sessions_started_total",
			Help:      "Total number of protocol sessions started",
		},
		[]string{"protocol", "role"}, // BB84_PURIFIED/DIQKD/SUPERDENSE, leader/follower
	)

	// ProtocolSessionsCompleted tracks protocol sessions that ran to
	// completion, by protocol name and outcome.
	ProtocolSessionsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "sessions_completed_total",
			Help:      "Total number of protocol sessions completed",
		},
		[]string{"protocol", "status"}, // success, aborted, timeout, chsh_violation
	)

	// ProtocolSessionDuration tracks protocol session duration.
	ProtocolSessionDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "session_duration_seconds",
			Help:      "Protocol session duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to 32s
		},
		[]string{"protocol"},
	)

	// ReconciliationRounds tracks Golay reconciliation rounds consumed
	// while distilling a key.
	ReconciliationRounds = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "reconciliation_rounds_total",
			Help:      "Total number of Golay reconciliation rounds processed",
		},
		[]string{"protocol"},
	)

	// KeyBytesProduced tracks distilled key material produced by key
	// establishment protocols.
	KeyBytesProduced = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "key_bytes_produced_total",
			Help:      "Total number of key bytes produced by key establishment protocols",
		},
		[]string{"protocol"},
	)

	// EstimatedErrorRate tracks the QBER estimated during the sampling
	// phase of a key establishment round.
	EstimatedErrorRate = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "estimated_error_rate",
			Help:      "Estimated bit error rate observed during key establishment sampling",
			Buckets:   prometheus.LinearBuckets(0, 0.02, 11), // 0 to 0.20
		},
		[]string{"protocol"},
	)
)
