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

import (
	"math"
	"math/cmplx"
	"math/rand"
	"sync"
)

// RotYUnit is the angle, in radians, of one rot_Y unit. The backend
// this protocol was written against expresses Y-rotations in units of
// 2*pi/256 radians (1/256 of a turn); the follower's DIQKD bases (units 16 and 48) are
// only CHSH-optimal under this convention, not the alternative
// 208/240 reading also found in the source (see
// TestBellStateCorrelationsMatchClosedForm).
const RotYUnit = 2 * math.Pi / 256

// pairState is the joint amplitude vector of up to two entangled
// qubit "slots", indexed as amps[2*bit0+bit1].
type pairState struct {
	mu   sync.Mutex
	amps [4]complex128
}

// simQubit is one slot of a pairState.
type simQubit struct {
	state *pairState
	slot  int
}

var invSqrt2 = complex(1/math.Sqrt2, 0)

func (q *simQubit) H() {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	applyGate1(&q.state.amps, q.slot, [2][2]complex128{
		{invSqrt2, invSqrt2},
		{invSqrt2, -invSqrt2},
	})
}

func (q *simQubit) X() {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	applyGate1(&q.state.amps, q.slot, [2][2]complex128{
		{0, 1},
		{1, 0},
	})
}

func (q *simQubit) Z() {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	applyGate1(&q.state.amps, q.slot, [2][2]complex128{
		{1, 0},
		{0, -1},
	})
}

// RotY rotates this qubit about the Y axis by units * RotYUnit
// radians.
func (q *simQubit) RotY(units int) {
	theta := float64(units) * RotYUnit
	c := complex(math.Cos(theta/2), 0)
	s := complex(math.Sin(theta/2), 0)
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	applyGate1(&q.state.amps, q.slot, [2][2]complex128{
		{c, -s},
		{s, c},
	})
}

// CNOT flips target's bit when this qubit's bit is 1. Both qubits
// must share the same underlying pairState (true for every call this
// protocol makes: target is always the other half of the EPR pair
// this qubit came from). Anything else panics.
func (q *simQubit) CNOT(target Qubit) {
	t, ok := target.(*simQubit)
	if !ok || t.state != q.state {
		panic(ErrCrossPairCNOT)
	}
	q.state.mu.Lock()
	defer q.state.mu.Unlock()
	applyCNOT(&q.state.amps, q.slot, t.slot)
}

// Measure collapses this qubit's slot and returns the classical
// outcome.
func (q *simQubit) Measure() (int, error) {
	q.state.mu.Lock()
	defer q.state.mu.Unlock()

	var prob0 float64
	for other := 0; other < 2; other++ {
		a := q.state.amps[idx(q.slot, 0, other)]
		prob0 += real(a)*real(a) + imag(a)*imag(a)
	}

	outcome := 0
	if rand.Float64() >= prob0 {
		outcome = 1
	}

	var norm float64
	for other := 0; other < 2; other++ {
		a := q.state.amps[idx(q.slot, outcome, other)]
		norm += real(a)*real(a) + imag(a)*imag(a)
	}
	scale := complex(1/math.Sqrt(math.Max(norm, 1e-300)), 0)

	var out [4]complex128
	for other := 0; other < 2; other++ {
		i := idx(q.slot, outcome, other)
		out[i] = q.state.amps[i] * scale
	}
	q.state.amps = out

	return outcome, nil
}

// idx maps (qubitSlot, bit, otherBit) to an index into a pairState's
// 4-element amplitude array, where index = 2*bit0 + bit1.
func idx(qubitSlot, bit, other int) int {
	if qubitSlot == 0 {
		return bit*2 + other
	}
	return other*2 + bit
}

func applyGate1(amps *[4]complex128, slot int, g [2][2]complex128) {
	for other := 0; other < 2; other++ {
		i0 := idx(slot, 0, other)
		i1 := idx(slot, 1, other)
		a0, a1 := amps[i0], amps[i1]
		amps[i0] = g[0][0]*a0 + g[0][1]*a1
		amps[i1] = g[1][0]*a0 + g[1][1]*a1
	}
}

func applyCNOT(amps *[4]complex128, controlSlot, targetSlot int) {
	var out [4]complex128
	for b0 := 0; b0 < 2; b0++ {
		for b1 := 0; b1 < 2; b1++ {
			bits := [2]int{b0, b1}
			if bits[controlSlot] == 1 {
				bits[targetSlot] ^= 1
			}
			out[bits[0]*2+bits[1]] = amps[b0*2+b1]
		}
	}
	*amps = out
}

// normSq is a small helper kept for documentation/debugging of state
// vectors in tests.
func normSq(amps [4]complex128) float64 {
	var total float64
	for _, a := range amps {
		total += real(cmplx.Conj(a) * a)
	}
	return total
}

// Network mediates EPR and qubit delivery between named Links, the
// in-memory stand-in for the quantum backend's physical transport.
type Network struct {
	mu    sync.Mutex
	epr   map[string]chan *simQubit
	qubit map[string]chan *simQubit
}

// NewNetwork returns an empty Network.
func NewNetwork() *Network {
	return &Network{
		epr:   make(map[string]chan *simQubit),
		qubit: make(map[string]chan *simQubit),
	}
}

func (n *Network) inbox(m map[string]chan *simQubit, name string) chan *simQubit {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := m[name]
	if !ok {
		ch = make(chan *simQubit, 64)
		m[name] = ch
	}
	return ch
}

// Link returns the Link endpoint bound to name on this Network.
func (n *Network) Link(name string) Link {
	return &simLink{net: n, name: name}
}

type simLink struct {
	net  *Network
	name string
}

func (l *simLink) CreateEPR(peer string) (Qubit, error) {
	ps := &pairState{amps: [4]complex128{invSqrt2, 0, 0, invSqrt2}}
	local := &simQubit{state: ps, slot: 0}
	remote := &simQubit{state: ps, slot: 1}

	ch := l.net.inbox(l.net.epr, peer)
	select {
	case ch <- remote:
	default:
		return nil, ErrInboxFull
	}
	return local, nil
}

func (l *simLink) RecvEPR() (Qubit, error) {
	ch := l.net.inbox(l.net.epr, l.name)
	select {
	case q := <-ch:
		return q, nil
	default:
		return nil, ErrNotReady
	}
}

func (l *simLink) RecvQubit() (Qubit, error) {
	ch := l.net.inbox(l.net.qubit, l.name)
	select {
	case q := <-ch:
		return q, nil
	default:
		return nil, ErrNotReady
	}
}

func (l *simLink) SendQubit(q Qubit, peer string) error {
	sq, ok := q.(*simQubit)
	if !ok {
		return ErrForeignQubit
	}
	ch := l.net.inbox(l.net.qubit, peer)
	select {
	case ch <- sq:
		return nil
	default:
		return ErrInboxFull
	}
}

func (l *simLink) NewQubit() (Qubit, error) {
	ps := &pairState{amps: [4]complex128{1, 0, 0, 0}}
	return &simQubit{state: ps, slot: 0}, nil
}
