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

// BB84Purified implements the purified BB84 key establishment
// protocol (spec.md §4.7.1): EPR pairs are distributed and measured in
// randomly-flipped Hadamard/standard bases, sifted, tested for errors,
// reconciled via Golay codes, and privacy-amplified into a key.
type BB84Purified struct {
	KeyDeriver
}

// NewBB84Purified returns a BB84Purified session ready to Run.
func NewBB84Purified(sess Session, keySize int, device MeasuringDevice) *BB84Purified {
	return &BB84Purified{KeyDeriver{
		Session: sess,
		KeySize: keySize,
		Device:  device,
		Tag:     wire.TagBB84,
		Name:    NameBB84Purified,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano() + int64(len(sess.Self)))),
	}}
}

// Run executes the handshake, the full key-derivation loop, and the
// closing FIN exchange, returning the derived key.
func (p *BB84Purified) Run(ctx context.Context) ([]byte, error) {
	metrics.ProtocolSessionsStarted.WithLabelValues(p.Name, roleLabel(p.Role)).Inc()
	start := time.Now()

	extra := map[string]interface{}{"key_size": p.KeySize}
	if err := p.begin(ctx, p.Tag, p.Name, extra); err != nil {
		metrics.ProtocolSessionsCompleted.WithLabelValues(p.Name, "aborted").Inc()
		return nil, err
	}

	key, err := p.runKeyLoop(ctx, p.distillTestedData)
	metrics.ProtocolSessionDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())
	metrics.ProtocolSessionsCompleted.WithLabelValues(p.Name, outcomeLabel(err)).Inc()
	return key, err
}

// distillTestedData gathers one round of BB84 states, sifts by basis,
// and estimates the error rate; a round whose error rate meets or
// exceeds MaxGolayError contributes no secret bits.
func (p *BB84Purified) distillTestedData(ctx context.Context) ([]int, error) {
	x, theta, err := p.receiveStates(ctx)
	if err != nil {
		return nil, err
	}

	xRemain, err := p.filterTheta(ctx, x, theta)
	if err != nil {
		return nil, err
	}

	errorRate, xRemain, err := p.estimateErrorRate(ctx, xRemain)
	if err != nil {
		return nil, err
	}
	if errorRate >= MaxGolayError {
		return nil, nil
	}
	return xRemain, nil
}

// receiveStates distributes RoundSize EPR pairs, measuring each half
// in a randomly-chosen basis.
func (p *BB84Purified) receiveStates(ctx context.Context) (x, theta []int, err error) {
	for len(x) < RoundSize {
		if p.Role == Leader {
			if err := p.Device.RequestEPR(p.Peer.User); err != nil {
				return nil, nil, err
			}
		}

		q, err := p.Device.ReceiveEPR(ctx, p.idleTimeout())
		if err != nil {
			return nil, nil, err
		}

		basisflip := p.rng.Intn(2)
		if basisflip == 1 {
			q.H()
		}
		outcome, err := q.Measure()
		if err != nil {
			return nil, nil, err
		}

		theta = append(theta, basisflip)
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

// filterTheta exchanges basis choices with the peer and retains only
// the measurement outcomes where both sides happened to pick the same
// basis.
func (p *BB84Purified) filterTheta(ctx context.Context, x, theta []int) ([]int, error) {
	resp, err := p.exchange(ctx, p.Tag, map[string]interface{}{"theta": theta})
	if err != nil {
		return nil, err
	}
	thetaHat := asIntSlice(resp.Data["theta"])

	var remain []int
	for i, bit := range x {
		if i < len(thetaHat) && theta[i] == thetaHat[i] {
			remain = append(remain, bit)
		}
	}
	return remain, nil
}

// estimateErrorRate samples a subset of the sifted bits, compares it
// against the peer's copy, and reports the fraction that disagree. The
// sampled bits are consumed: the returned slice is what remains after
// sampling.
func (p *BB84Purified) estimateErrorRate(ctx context.Context, x []int) (float64, []int, error) {
	var testBits, testIndices []int

	if p.Role == Leader {
		for len(testIndices) < RoundSize/4 && len(x) > 0 {
			idx := p.rng.Intn(len(x))
			testBits = append(testBits, x[idx])
			x = append(x[:idx], x[idx+1:]...)
			testIndices = append(testIndices, idx)
		}
		resp, err := p.exchange(ctx, p.Tag, map[string]interface{}{"test_indices": testIndices})
		if err != nil {
			return 0, nil, err
		}
		if !asBool(resp.Data["ack"]) {
			return 0, nil, ErrAborted
		}
	} else {
		resp, err := p.exchange(ctx, p.Tag, map[string]interface{}{"ack": true})
		if err != nil {
			return 0, nil, err
		}
		for _, idx := range asIntSlice(resp.Data["test_indices"]) {
			testBits = append(testBits, x[idx])
			x = append(x[:idx], x[idx+1:]...)
		}
	}

	resp, err := p.exchange(ctx, p.Tag, map[string]interface{}{"test_bits": testBits})
	if err != nil {
		return 0, nil, err
	}
	targetTestBits := asIntSlice(resp.Data["test_bits"])

	numError := 0
	for i, bit := range testBits {
		if i < len(targetTestBits) && bit != targetTestBits[i] {
			numError++
		}
	}

	finResp, err := p.exchange(ctx, p.Tag, map[string]interface{}{"fin": true})
	if err != nil {
		return 0, nil, err
	}
	if !asBool(finResp.Data["fin"]) {
		return 0, nil, ErrAborted
	}

	if len(testBits) == 0 {
		metrics.EstimatedErrorRate.WithLabelValues(p.Name).Observe(1)
		return 1, x, nil
	}
	rate := float64(numError) / float64(len(testBits))
	metrics.EstimatedErrorRate.WithLabelValues(p.Name).Observe(rate)
	return rate, x, nil
}
