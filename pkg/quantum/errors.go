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

package quantum

import "errors"

// ErrNotReady is returned by RecvEPR/RecvQubit when no qubit is
// currently pending; callers poll in a small-sleep loop (pkg/measure).
var ErrNotReady = errors.New("quantum: no qubit pending")

// ErrInboxFull is returned when a peer's inbound qubit queue has no
// room left.
var ErrInboxFull = errors.New("quantum: peer inbox full")

// ErrForeignQubit is returned when a Qubit from a different Link
// implementation is passed where a Link's own Qubit type is required.
var ErrForeignQubit = errors.New("quantum: qubit not from this link")

// ErrCrossPairCNOT is the value the in-memory simulator's CNOT panics with when
// control and target do not share an originating EPR pair. The
// protocol this package serves never does this; a richer simulator
// would need full joint-state composition to support it.
var ErrCrossPairCNOT = errors.New("quantum: CNOT across unrelated pair states is unsupported by the in-memory simulator")
