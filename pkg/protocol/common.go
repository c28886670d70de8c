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

// Package protocol implements the interactive two-role QKD and
// superdense-coding sessions (spec.md §4.7): BB84-Purified, DIQKD, and
// SuperDense. Every protocol shares a lockstep exchange primitive, an
// idle timeout, and a PTCL/FIN handshake; the leader/follower role is
// a field, not a type hierarchy, per spec.md §9's redesign note.
package protocol

import (
	"errors"
	"time"
)

// Protocol names, sent in the PTCL handshake's "name" field.
const (
	NameBB84Purified = "BB84_PURIFIED"
	NameDIQKD        = "DIQKD"
	NameSuperDense   = "SUPERDENSE"
)

// RoundSize is the number of EPR pairs distributed per BB84/DIQKD
// distillation round.
const RoundSize = 100

// PCHSH is the CHSH game's quantum-optimal winning probability,
// (2+sqrt(2))/4.
const PCHSH = 0.8535533905932737

// MaxGolayError is the largest pre-reconciliation bit error rate the
// (23,12) Golay code can still correct: 3 flips in 23 bits.
const MaxGolayError = 3.0 / 23.0

// DefaultIdleTimeout bounds how long a session waits for the next
// control message before aborting.
const DefaultIdleTimeout = 60 * time.Second

// DefaultPollInterval is the sleep between EPR-availability polls.
const DefaultPollInterval = 5 * time.Millisecond

// asInt coerces a JSON-decoded (float64) or directly-constructed (int)
// value to int.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// asBool coerces a control message field to bool.
func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// asIntSlice coerces a JSON-decoded ([]interface{}) or
// directly-constructed ([]int) value to []int.
func asIntSlice(v interface{}) []int {
	switch s := v.(type) {
	case []int:
		return s
	case []interface{}:
		out := make([]int, len(s))
		for i, e := range s {
			out[i] = asInt(e)
		}
		return out
	}
	return nil
}

// packByte assembles 8 bits (MSB first) into a byte.
func packByte(bits []int) byte {
	var b byte
	for _, bit := range bits {
		b = b<<1 | byte(bit&1)
	}
	return b
}

// bitsToBytes converts a 0/1 bit slice to the []byte form
// golay.Chunk/golay.ToCodeword operate on (one 0/1 value per byte, not
// packed).
func bitsToBytes(bits []int) []byte {
	out := make([]byte, len(bits))
	for i, b := range bits {
		out[i] = byte(b)
	}
	return out
}

func bytesToInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

// roleLabel renders a Role for metrics labels.
func roleLabel(r Role) string {
	if r == Leader {
		return "leader"
	}
	return "follower"
}

// outcomeLabel classifies a session's final error for the
// sessions_completed_total metric.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCHSHViolation):
		return "chsh_violation"
	default:
		return "aborted"
	}
}
