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

// Package quantum declares the abstract quantum-backend capability the
// protocol layer depends on (spec.md §6.4) and a Network-mediated
// in-memory implementation of it for tests.
package quantum

// Qubit is a single qubit handle. Gate methods mutate the qubit (and,
// for CNOT, its entangled partner) in place; Measure is destructive.
type Qubit interface {
	H()
	X()
	Z()
	CNOT(target Qubit)
	RotY(units int)
	Measure() (int, error)
}

// Link is the quantum backend capability a node's measurement device
// and protocol sessions are built against. Receives are non-blocking:
// callers that need to wait poll in a loop, matching the source's
// try/except recv pattern (see pkg/measure).
type Link interface {
	CreateEPR(peer string) (Qubit, error)
	RecvEPR() (Qubit, error)
	RecvQubit() (Qubit, error)
	SendQubit(q Qubit, peer string) error
	NewQubit() (Qubit, error)
}
