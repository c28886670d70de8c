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
	// FramesProcessed tracks frames decoded off the wire, by header tag
	// and outcome.
	FramesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "processed_total",
			Help:      "Total number of wire frames processed",
		},
		[]string{"tag", "status"}, // MSSG/RGST/QCHT/..., ok/unverified
	)

	// FramesRejected tracks frames rejected during decode, by reason.
	FramesRejected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "rejected_total",
			Help:      "Total number of wire frames rejected during decode",
		},
		[]string{"reason"}, // bad_header, bad_sender, short_payload, long_payload, bad_json, trailing_bytes
	)

	// FrameProcessingDuration tracks decode+dispatch latency.
	FrameProcessingDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "processing_duration_seconds",
			Help:      "Frame decode and dispatch duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to 205ms
		},
	)

	// FrameSize tracks the size of frames on the wire.
	FrameSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "size_bytes",
			Help:      "Wire frame size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8), // 64B to 1MB
		},
	)
)
