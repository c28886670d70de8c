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

import (
	"context"
	"math/rand"
	"time"

	"github.com/mdskrzypczyk/QChat/internal/metrics"
	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

// DIQKD implements the device-independent purified BB84 variant
// (spec.md §4.7.2): the same outer reconcile/amplify loop as
// BB84Purified, but candidate secret bits are gathered through a
// three-basis distribution and a CHSH/basis-matching test rather than
// a simple two-basis sift.
type DIQKD struct {
	KeyDeriver
}

// NewDIQKD returns a DIQKD session ready to Run.
func NewDIQKD(sess Session, keySize int, device MeasuringDevice) *DIQKD {
	return &DIQKD{KeyDeriver{
		Session: sess,
		KeySize: keySize,
		Device:  device,
		Tag:     wire.TagDQKD,
		Name:    NameDIQKD,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano() + int64(len(sess.Self)))),
	}}
}

// Run executes the handshake, the full key-derivation loop, and the
// closing FIN exchange, returning the derived key.
func (p *DIQKD) Run(ctx context.Context) ([]byte, error) {
	metrics.ProtocolSessionsStarted.WithLabelValues(p.Name, roleLabel(p.Role)).Inc()
	start := time.Now()

	extra := map[string]interface{}{"key_size": p.KeySize}
	if err := p.begin(ctx, p.Tag, p.Name, extra); err != nil {
		metrics.ProtocolSessionsCompleted.WithLabelValues(p.Name, "aborted").Inc()
		return nil, err
	}

	key, err := p.runKeyLoop(ctx, p.distillDeviceIndependentData)
	metrics.ProtocolSessionDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
	metrics.ProtocolSessionsCompleted.WithLabelValues(p.Name, outcomeLabel(err)).Inc()
	return key, err
}

// distillDeviceIndependentData gathers one round's measurement data
// and runs the CHSH/basis-matching test on it.
func (p *DIQKD) distillDeviceIndependentData(ctx context.Context) ([]int, error) {
	var x, theta []int
	var err error
	if p.Role == Leader {
		x, theta, err = p.distributeBB84(ctx)
	} else {
		x, theta, err = p.receiveBB84(ctx)
	}
	if err != nil {
		return nil, err
	}
	return p.eprTest(ctx, x, theta)
}

// distributeBB84 is the leader's role: choose a basis in {0,1} for
// each round, request and measure an EPR half in that basis.
func (p *DIQKD) distributeBB84(ctx context.Context) (x, theta []int, err error) {
	theta = make([]int, RoundSize)
	for i := range theta {
		theta[i] = p.rng.Intn(2)
	}

	for _, b := range theta {
		if err := p.Device.RequestEPR(p.Peer.User); err != nil {
			return nil, nil, err
		}
		q, err := p.Device.ReceiveEPR(ctx, p.idleTimeout())
		if err != nil {
			return nil, nil, err
		}
		outcome, err := p.Device.Measure(q, b)
		if err != nil {
			return nil, nil, err
		}
		x = append(x, outcome)

		resp, err := p.exchange(ctx, p.Tag, map[string]interface{}{"ack": true})
		if err != nil {
			return nil, nil, err
		}
		if !asBool(resp.Data["ack"]) {
			return nil, nil, ErrAborted
		}
	}
	return x, theta, nil
}

// receiveBB84 is the follower's role: choose a basis in {0,1,2} for
// each round (basis 2 is the standard-basis measurement the CHSH test
// correlates against).
func (p *DIQKD) receiveBB84(ctx context.Context) (x, theta []int, err error) {
	theta = make([]int, RoundSize)
	for i := range theta {
		theta[i] = p.rng.Intn(3)
	}

	for _, b := range theta {
		q, err := p.Device.ReceiveEPR(ctx, p.idleTimeout())
		if err != nil {
			return nil, nil, err
		}
		outcome, err := p.Device.Measure(q, b)
		if err != nil {
			return nil, nil, err
		}
		x = append(x, outcome)

		resp, err := p.exchange(ctx, p.Tag, map[string]interface{}{"ack": true})
		if err != nil {
			return nil, nil, err
		}
		if !asBool(resp.Data["ack"]) {
			return nil, nil, ErrAborted
		}
	}
	return x, theta, nil
}

// eprTest runs the CHSH game and the "same basis" matching check on a
// random half of the round's data, and returns the untested bits that
// both sides measured in their matching standard bases (leader's
// basis 0 paired with follower's basis 2).
func (p *DIQKD) eprTest(ctx context.Context, x, theta []int) ([]int, error) {
	resp, err := p.exchange(ctx, p.Tag, map[string]interface{}{"theta": theta})
	if err != nil {
		return nil, err
	}
	thetaHat := asIntSlice(resp.Data["theta"])

	var testSet []int
	var tp, tpp, remainIdx []int

	if p.Role == Leader {
		testSet = p.rng.Perm(len(x))[:len(x)/2]
		if err := p.sendControl(p.Tag, map[string]interface{}{"T": testSet}); err != nil {
			return nil, err
		}

		inTest := toSet(testSet)
		for _, j := range testSet {
			if thetaHat[j] == 0 || thetaHat[j] == 1 {
				tp = append(tp, j)
			}
			if theta[j] == 0 && thetaHat[j] == 2 {
				tpp = append(tpp, j)
			}
		}
		for j := range x {
			if _, in := inTest[j]; !in && theta[j] == 0 && thetaHat[j] == 2 {
				remainIdx = append(remainIdx, j)
			}
		}
	} else {
		frame, err := p.waitControl(ctx, p.Tag)
		if err != nil {
			return nil, err
		}
		testSet = asIntSlice(frame.Data["T"])

		inTest := toSet(testSet)
		for _, j := range testSet {
			if theta[j] == 0 || theta[j] == 1 {
				tp = append(tp, j)
			}
			if thetaHat[j] == 0 && theta[j] == 2 {
				tpp = append(tpp, j)
			}
		}
		for j := range x {
			if _, in := inTest[j]; !in && thetaHat[j] == 0 && theta[j] == 2 {
				remainIdx = append(remainIdx, j)
			}
		}
	}

	xT := make([]int, len(testSet))
	for i, j := range testSet {
		xT[i] = x[j]
	}
	resp, err = p.exchange(ctx, p.Tag, map[string]interface{}{"x_T": xT})
	if err != nil {
		return nil, err
	}
	xTHat := asIntSlice(resp.Data["x_T"])

	inTp := toSet(tp)
	inTpp := toSet(tpp)

	winning, matching := 0, 0
	for i, j := range testSet {
		if i >= len(xTHat) {
			break
		}
		x1, x2 := xT[i], xTHat[i]
		if _, ok := inTp[j]; ok && (x1^x2) == (theta[j]&thetaHat[j]) {
			winning++
		}
		if _, ok := inTpp[j]; ok && x1 == x2 {
			matching++
		}
	}

	const epsilon = 0.1
	pWin := ratio(winning, len(tp))
	pMatch := ratio(matching, len(tpp))
	if pWin < PCHSH-epsilon || pMatch < 1-epsilon {
		return nil, ErrCHSHViolation
	}

	remain := make([]int, len(remainIdx))
	for i, j := range remainIdx {
		remain[i] = x[j]
	}
	return remain, nil
}

func toSet(idx []int) map[int]struct{} {
	s := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		s[i] = struct{}{}
	}
	return s
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 1
	}
	return float64(n) / float64(d)
}
