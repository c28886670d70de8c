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
	// ConnectionsAccepted tracks inbound TCP connections accepted by the
	// listener, by outcome.
	ConnectionsAccepted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "accepted_total",
			Help:      "Total number of inbound connections accepted",
		},
		[]string{"status"}, // ok, malformed, rejected
	)

	// ConnectionsSent tracks outbound one-shot connections made to send
	// a single frame, by outcome.
	ConnectionsSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "sent_total",
			Help:      "Total number of outbound one-shot connections made",
		},
		[]string{"status"}, // ok, dial_error, write_error
	)

	// ConnectionDuration tracks the time an inbound connection handler
	// spends from accept to close.
	ConnectionDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "duration_seconds",
			Help:      "Inbound connection handling duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to 819ms
		},
	)
)
