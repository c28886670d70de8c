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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQubitMeasuresZero(t *testing.T) {
	net := NewNetwork()
	link := net.Link("alice")

	q, err := link.NewQubit()
	require.NoError(t, err)

	outcome, err := q.Measure()
	require.NoError(t, err)
	assert.Equal(t, 0, outcome)
}

func TestXFlipsFreshQubit(t *testing.T) {
	net := NewNetwork()
	link := net.Link("alice")

	q, err := link.NewQubit()
	require.NoError(t, err)
	q.X()

	outcome, err := q.Measure()
	require.NoError(t, err)
	assert.Equal(t, 1, outcome)
}

func TestEPRHalvesAlwaysAgree(t *testing.T) {
	net := NewNetwork()
	alice := net.Link("alice")
	bob := net.Link("bob")

	for i := 0; i < 200; i++ {
		local, err := alice.CreateEPR("bob")
		require.NoError(t, err)

		remote, err := bob.RecvEPR()
		require.NoError(t, err)

		a, err := local.Measure()
		require.NoError(t, err)
		b, err := remote.Measure()
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestRecvEPRNotReadyWithoutCreate(t *testing.T) {
	net := NewNetwork()
	bob := net.Link("bob")

	_, err := bob.RecvEPR()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSendRecvQubitCarriesState(t *testing.T) {
	net := NewNetwork()
	alice := net.Link("alice")
	bob := net.Link("bob")

	q, err := alice.NewQubit()
	require.NoError(t, err)
	q.X()

	require.NoError(t, alice.SendQubit(q, "bob"))

	received, err := bob.RecvQubit()
	require.NoError(t, err)

	outcome, err := received.Measure()
	require.NoError(t, err)
	assert.Equal(t, 1, outcome)
}

func TestSuperdenseEncodeDecodeAllFourSymbols(t *testing.T) {
	net := NewNetwork()
	alice := net.Link("alice")
	bob := net.Link("bob")

	cases := []struct{ b1, b2 int }{
		{0, 0}, {0, 1}, {1, 0}, {1, 1},
	}

	for _, c := range cases {
		local, err := alice.CreateEPR("bob")
		require.NoError(t, err)
		remote, err := bob.RecvEPR()
		require.NoError(t, err)

		if c.b2 == 1 {
			local.X()
		}
		if c.b1 == 1 {
			local.Z()
		}

		require.NoError(t, alice.SendQubit(local, "bob"))
		leaderHalf, err := bob.RecvQubit()
		require.NoError(t, err)

		leaderHalf.CNOT(remote)
		leaderHalf.H()

		m1, err := leaderHalf.Measure()
		require.NoError(t, err)
		m2, err := remote.Measure()
		require.NoError(t, err)

		assert.Equal(t, c.b1, m1, "b1 for case %+v", c)
		assert.Equal(t, c.b2, m2, "b2 for case %+v", c)
	}
}

// TestBellStateCorrelationsMatchClosedForm validates the simulator's
// quantum mechanics against the two closed-form correlation functions
// the DIQKD CHSH estimate depends on: for a Phi+ pair with qubit A
// measured directly (E=cos(theta)) or after a Hadamard (E=-sin(theta))
// against qubit B rotated by rot_Y(theta).
func TestBellStateCorrelationsMatchClosedForm(t *testing.T) {
	const trials = 20000
	unitsToRadians := func(units int) float64 { return float64(units) * RotYUnit }

	run := func(applyHOnA bool, units int) float64 {
		net := NewNetwork()
		alice := net.Link("alice")
		bob := net.Link("bob")

		var agree int
		for i := 0; i < trials; i++ {
			a, err := alice.CreateEPR("bob")
			require.NoError(t, err)
			b, err := bob.RecvEPR()
			require.NoError(t, err)

			if applyHOnA {
				a.H()
			}
			b.RotY(units)

			oa, err := a.Measure()
			require.NoError(t, err)
			ob, err := b.Measure()
			require.NoError(t, err)
			if oa == ob {
				agree++
			}
		}
		pEqual := float64(agree) / float64(trials)
		return 2*pEqual - 1 // sample estimate of E[(-1)^(a xor b)]
	}

	tolerance := 0.03

	eDirect := run(false, 48)
	wantDirect := math.Cos(unitsToRadians(48))
	assert.InDelta(t, wantDirect, eDirect, tolerance)

	eHadamard := run(true, 16)
	wantHadamard := -math.Sin(unitsToRadians(16))
	assert.InDelta(t, wantHadamard, eHadamard, tolerance)
}
