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
	"time"

	"github.com/mdskrzypczyk/QChat/internal/metrics"
	"github.com/mdskrzypczyk/QChat/pkg/quantum"
	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

// SuperDense implements the superdense-coding message protocol
// (spec.md §4.7.3): two classical bits are carried per qubit by
// encoding them onto one half of a fresh EPR pair and shipping that
// half to the peer, who decodes by reuniting it with the other half.
// Unlike BB84Purified/DIQKD, SuperDense talks to the quantum.Link
// directly rather than through a MeasuringDevice: the session it was
// grounded on does the same.
type SuperDense struct {
	Session
	Link quantum.Link
}

// NewSuperDense returns a SuperDense session ready to SendMessage or
// ReceiveMessage.
func NewSuperDense(sess Session, link quantum.Link) *SuperDense {
	return &SuperDense{Session: sess, Link: link}
}

// SendMessage streams message to the peer two bits per qubit, LSB
// pair first within each byte.
func (s *SuperDense) SendMessage(ctx context.Context, message []byte) (err error) {
	metrics.ProtocolSessionsStarted.WithLabelValues(NameSuperDense, roleLabel(s.Role)).Inc()
	start := time.Now()
	defer func() {
		metrics.ProtocolSessionDuration.WithLabelValues(NameSuperDense).Observe(time.Since(start).Seconds())
		metrics.ProtocolSessionsCompleted.WithLabelValues(NameSuperDense, outcomeLabel(err)).Inc()
	}()

	if err = s.begin(ctx, wire.TagSPDS, NameSuperDense, nil); err != nil {
		return err
	}

	user := s.Peer.User
	resp, respErr := s.exchange(ctx, wire.TagSPDS, map[string]interface{}{"message_length": len(message)})
	if respErr != nil {
		err = respErr
		return err
	}
	if !asBool(resp.Data["ack"]) {
		err = ErrAborted
		return err
	}

	for _, b := range message {
		for pair := 0; pair < 4; pair++ {
			b2 := (b >> (2 * pair)) & 1
			b1 := (b >> (2*pair + 1)) & 1

			qa, err := s.Link.CreateEPR(user)
			if err != nil {
				return err
			}

			readyResp, err := s.exchange(ctx, wire.TagSPDS, map[string]interface{}{"ack": true})
			if err != nil {
				return err
			}
			if !asBool(readyResp.Data["ack"]) {
				return ErrAborted
			}

			if b2 == 1 {
				qa.X()
			}
			if b1 == 1 {
				qa.Z()
			}
			if err := s.Link.SendQubit(qa, user); err != nil {
				return err
			}

			sentResp, err := s.exchange(ctx, wire.TagSPDS, map[string]interface{}{"ack": true})
			if err != nil {
				return err
			}
			if !asBool(sentResp.Data["ack"]) {
				return ErrAborted
			}

			nextFrame, err := s.waitControl(ctx, wire.TagSPDS)
			if err != nil {
				return err
			}
			if !asBool(nextFrame.Data["ack"]) {
				return ErrAborted
			}
		}
	}

	return s.end(ctx, wire.TagSPDS)
}

// ReceiveMessage receives a superdense-coded message, blocking until
// the sender has streamed every byte and the closing FIN exchange
// completes.
func (s *SuperDense) ReceiveMessage(ctx context.Context) (message []byte, err error) {
	metrics.ProtocolSessionsStarted.WithLabelValues(NameSuperDense, roleLabel(s.Role)).Inc()
	start := time.Now()
	defer func() {
		metrics.ProtocolSessionDuration.WithLabelValues(NameSuperDense).Observe(time.Since(start).Seconds())
		metrics.ProtocolSessionsCompleted.WithLabelValues(NameSuperDense, outcomeLabel(err)).Inc()
	}()

	if err = s.begin(ctx, wire.TagSPDS, NameSuperDense, nil); err != nil {
		return nil, err
	}

	resp, err := s.exchange(ctx, wire.TagSPDS, map[string]interface{}{"ack": true})
	if err != nil {
		return nil, err
	}
	messageLength := asInt(resp.Data["message_length"])

	message = make([]byte, 0, messageLength)
	for i := 0; i < messageLength; i++ {
		var b byte
		for pair := 0; pair < 4; pair++ {
			readyResp, err := s.exchange(ctx, wire.TagSPDS, map[string]interface{}{"ack": true})
			if err != nil {
				return nil, err
			}
			if !asBool(readyResp.Data["ack"]) {
				return nil, ErrAborted
			}

			qb, err := s.pollQubit(ctx, s.Link.RecvEPR)
			if err != nil {
				return nil, err
			}

			sentResp, err := s.exchange(ctx, wire.TagSPDS, map[string]interface{}{"ack": true})
			if err != nil {
				return nil, err
			}
			if !asBool(sentResp.Data["ack"]) {
				return nil, ErrAborted
			}

			qa, err := s.pollQubit(ctx, s.Link.RecvQubit)
			if err != nil {
				return nil, err
			}

			qa.CNOT(qb)
			qa.H()

			b1, err := qa.Measure()
			if err != nil {
				return nil, err
			}
			b2, err := qb.Measure()
			if err != nil {
				return nil, err
			}

			b |= byte(b2) << (2 * pair)
			b |= byte(b1) << (2*pair + 1)

			if err := s.sendControl(wire.TagSPDS, map[string]interface{}{"ack": true}); err != nil {
				return nil, err
			}
		}
		message = append(message, b)
	}

	if err := s.end(ctx, wire.TagSPDS); err != nil {
		return nil, err
	}
	return message, nil
}
