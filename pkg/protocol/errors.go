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

package protocol

import "errors"

// Error taxonomy, per spec.md §7.1: a running session fails one of
// these ways, never silently.
var (
	// ErrTimeout means no control message arrived within the session's
	// idle timeout.
	ErrTimeout = errors.New("protocol: timed out waiting for control message")

	// ErrMisframe means a control message of the wrong tag, or with a
	// malformed handshake field, arrived where a specific one was
	// expected.
	ErrMisframe = errors.New("protocol: received incorrect control message")

	// ErrAborted means the peer's own protocol logic signalled failure
	// (a false ack) rather than a framing problem.
	ErrAborted = errors.New("protocol: peer aborted the session")

	// ErrCHSHViolation means DIQKD's CHSH/basis-matching test failed to
	// clear its tolerance, so the device pair cannot be trusted.
	ErrCHSHViolation = errors.New("protocol: CHSH test failed")
)
