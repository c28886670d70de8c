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

// Package measure implements the Measurement Device (spec.md §4.6):
// leader and follower variants that request EPR halves from a
// registry and measure them in the basis the calling protocol
// chooses.
package measure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mdskrzypczyk/QChat/pkg/quantum"
)

// ErrEPRTimeout is returned by ReceiveEPR when no half arrives before
// the deadline. Callers promote this to a protocol-level timeout.
var ErrEPRTimeout = errors.New("measure: timed out waiting for EPR half")

// RequestFunc sends an RQQB frame naming user to the registry acting
// as EPR source.
type RequestFunc func(user string) error

// Device holds what leader and follower measurement devices share: a
// quantum link, the poll interval used while waiting, and the
// function that issues EPR requests to the registry.
type Device struct {
	Link         quantum.Link
	PollInterval time.Duration
	Request      RequestFunc
}

// RequestEPR asks the registry to source an EPR pair shared with user.
func (d *Device) RequestEPR(user string) error {
	return d.Request(user)
}

func (d *Device) pollInterval() time.Duration {
	if d.PollInterval <= 0 {
		return 5 * time.Millisecond
	}
	return d.PollInterval
}

// pollFor repeatedly calls recv until it succeeds, ctx is cancelled,
// or timeout elapses; quantum.ErrNotReady is treated as "try again",
// anything else is returned immediately.
func (d *Device) pollFor(ctx context.Context, timeout time.Duration, recv func() (quantum.Qubit, error)) (quantum.Qubit, error) {
	deadline := time.Now().Add(timeout)
	for {
		q, err := recv()
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, quantum.ErrNotReady) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrEPRTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.pollInterval()):
		}
	}
}

// LeadDevice is the measurement device used by a protocol session's
// leader role.
type LeadDevice struct {
	Device
}

// Measure measures q in the leader's basis: 0 is the standard (Z)
// basis, 1 applies a Hadamard before measuring.
func (d *LeadDevice) Measure(q quantum.Qubit, basis int) (int, error) {
	switch basis {
	case 0:
		return q.Measure()
	case 1:
		q.H()
		return q.Measure()
	default:
		return 0, fmt.Errorf("measure: invalid leader basis %d", basis)
	}
}

// ReceiveEPR polls the link's EPR-receive call, which is how the
// leader obtains its half: it requested EPR distribution from the
// registry, so the backend delivers its half via recv_EPR semantics.
func (d *LeadDevice) ReceiveEPR(ctx context.Context, timeout time.Duration) (quantum.Qubit, error) {
	return d.pollFor(ctx, timeout, d.Link.RecvEPR)
}

// FollowDevice is the measurement device used by a protocol session's
// follower role.
type FollowDevice struct {
	Device
}

// Measure measures q in the follower's basis. Basis 2 matches the
// leader's standard basis (used for key rounds); bases 0 and 1 are
// fixed Y-rotations used only by DIQKD's CHSH test. The rotation
// units (48 and 16) are the ones used in the implementation this
// protocol was distilled from; see quantum.RotYUnit for the angle
// convention that makes them CHSH-relevant.
func (d *FollowDevice) Measure(q quantum.Qubit, basis int) (int, error) {
	switch basis {
	case 0:
		q.RotY(48)
		return q.Measure()
	case 1:
		q.RotY(16)
		return q.Measure()
	case 2:
		return q.Measure()
	default:
		return 0, fmt.Errorf("measure: invalid follower basis %d", basis)
	}
}

// ReceiveEPR polls the link's plain qubit-receive call: the registry
// sends the follower its paired half as an ordinary qubit transmission
// rather than through the EPR-receive path the leader uses.
func (d *FollowDevice) ReceiveEPR(ctx context.Context, timeout time.Duration) (quantum.Qubit, error) {
	return d.pollFor(ctx, timeout, d.Link.RecvQubit)
}
