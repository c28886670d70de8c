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
	"errors"
	"fmt"
	"time"

	"github.com/mdskrzypczyk/QChat/pkg/cryptobox"
	"github.com/mdskrzypczyk/QChat/pkg/queue"
	"github.com/mdskrzypczyk/QChat/pkg/quantum"
	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

// Role is a session's position in the leader/follower lockstep, per
// spec.md §9: a field on Session, not a subtype.
type Role int

const (
	Leader Role = iota
	Follower
)

// PeerInfo is the addressing and naming information a session needs to
// reach its peer: the classical endpoint to dial, and the user name
// the registry knows it by.
type PeerInfo struct {
	User string
	Host string
	Port int
}

// MeasuringDevice is what BB84-Purified and DIQKD need from the
// Measurement Device (spec.md §4.6): request an EPR half, receive it,
// and measure it in a caller-chosen basis. *measure.LeadDevice and
// *measure.FollowDevice both satisfy this.
type MeasuringDevice interface {
	RequestEPR(user string) error
	ReceiveEPR(ctx context.Context, timeout time.Duration) (quantum.Qubit, error)
	Measure(q quantum.Qubit, basis int) (int, error)
}

// Session holds what every protocol shares: identity, addressing, the
// classical transport, and the timing knobs for the exchange
// primitive.
type Session struct {
	Self         string
	Peer         PeerInfo
	Role         Role
	Signer       *cryptobox.Signer
	CtrlQ        *queue.ControlQueue
	Outbound     *queue.Outbound
	IdleTimeout  time.Duration
	PollInterval time.Duration
}

func (s *Session) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return s.IdleTimeout
}

func (s *Session) pollInterval() time.Duration {
	if s.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return s.PollInterval
}

// sendControl signs data and pushes the resulting frame onto the
// outbound queue for delivery to the peer. The per-tag policy for
// every protocol tag requires a signature (wire.PolicyFor), so every
// outbound control message is signed here.
func (s *Session) sendControl(tag wire.Tag, data map[string]interface{}) error {
	signed := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		signed[k] = v
	}

	raw, err := wire.SignedBytes(tag, s.Self, signed)
	if err != nil {
		return fmt.Errorf("protocol: compute signed bytes: %w", err)
	}
	sig, err := s.Signer.Sign(raw)
	if err != nil {
		return fmt.Errorf("protocol: sign control message: %w", err)
	}
	signed["sig"] = wire.ISO88591Encode(sig)

	frame, err := wire.Encode(tag, s.Self, signed)
	if err != nil {
		return fmt.Errorf("protocol: encode control message: %w", err)
	}

	return s.Outbound.Push(queue.OutboundItem{Host: s.Peer.Host, Port: s.Peer.Port, Frame: frame})
}

// waitControl pops the next frame from the control queue, failing if
// it times out or carries the wrong tag. By the time a frame reaches
// the control queue the router has already verified and stripped its
// signature (wire.PolicyFor's Verify/Strip for every protocol tag).
func (s *Session) waitControl(ctx context.Context, tag wire.Tag) (*wire.Frame, error) {
	f, err := s.CtrlQ.Pop(ctx, s.idleTimeout())
	if err != nil {
		if errors.Is(err, queue.ErrTimeout) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	if f.Tag != tag {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrMisframe, tag, f.Tag)
	}
	return f, nil
}

// exchange is the lockstep primitive every protocol round uses: the
// leader sends then receives, the follower receives then sends.
func (s *Session) exchange(ctx context.Context, tag wire.Tag, data map[string]interface{}) (*wire.Frame, error) {
	if s.Role == Leader {
		if err := s.sendControl(tag, data); err != nil {
			return nil, err
		}
		return s.waitControl(ctx, tag)
	}

	f, err := s.waitControl(ctx, tag)
	if err != nil {
		return nil, err
	}
	if err := s.sendControl(tag, data); err != nil {
		return nil, err
	}
	return f, nil
}

// begin runs the PTCL handshake that starts every protocol: the
// leader announces the protocol (and any extra fields, e.g. key_size)
// and awaits an ACK framed with the protocol's own tag; the follower
// just sends the ACK, having already been dispatched into this
// session by the router's PTCL handling.
func (s *Session) begin(ctx context.Context, tag wire.Tag, name string, extra map[string]interface{}) error {
	if s.Role == Leader {
		data := map[string]interface{}{"name": name}
		for k, v := range extra {
			data[k] = v
		}
		if err := s.sendControl(wire.TagPTCL, data); err != nil {
			return err
		}
		resp, err := s.waitControl(ctx, tag)
		if err != nil {
			return err
		}
		if ack, _ := resp.Data["ACK"].(string); ack != "ACK" {
			return fmt.Errorf("%w: leader/follower handshake", ErrMisframe)
		}
		return nil
	}
	return s.sendControl(tag, map[string]interface{}{"ACK": "ACK"})
}

// end runs the FIN handshake every protocol finishes with.
func (s *Session) end(ctx context.Context, tag wire.Tag) error {
	resp, err := s.exchange(ctx, tag, map[string]interface{}{"FIN": true})
	if err != nil {
		return err
	}
	if !asBool(resp.Data["FIN"]) {
		return fmt.Errorf("%w: protocol termination", ErrMisframe)
	}
	return nil
}

// pollQubit retries recv until it succeeds, the context is cancelled,
// or the session's idle timeout elapses. SuperDense talks to the
// quantum.Link directly rather than through a MeasuringDevice (the
// source it's grounded on does the same: SuperDenseCoding calls
// connection.cqc directly, unlike BB84/DIQKD which go through
// device.py), so it needs its own poll loop rather than reusing
// measure.Device's.
func (s *Session) pollQubit(ctx context.Context, recv func() (quantum.Qubit, error)) (quantum.Qubit, error) {
	deadline := time.Now().Add(s.idleTimeout())
	for {
		q, err := recv()
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, quantum.ErrNotReady) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval()):
		}
	}
}
