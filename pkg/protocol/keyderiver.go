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

	"github.com/mdskrzypczyk/QChat/internal/metrics"
	"github.com/mdskrzypczyk/QChat/pkg/golay"
	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

// KeyDeriver holds what BB84-Purified and DIQKD share: the session,
// the desired key length, the measurement device, and the
// reconcile/amplify machinery that turns raw correlated bits into key
// bytes. BB84Purified and DIQKD each supply their own per-round
// "distill" step and embed a KeyDeriver for the rest, per spec.md §9's
// note that the two protocols differ only in how they gather
// candidate secret bits.
type KeyDeriver struct {
	Session
	KeySize int
	Device  MeasuringDevice
	Tag     wire.Tag
	Name    string
	rng     *rand.Rand
}

// distillFunc produces zero or more candidate secret bits for one
// round; an empty, nil-error result means the round's data failed
// error estimation and was dropped, not that the session aborted.
type distillFunc func(ctx context.Context) ([]int, error)

// runKeyLoop drives the derive-reconcile-amplify loop common to both
// key establishment protocols until a key of KeySize bytes has been
// produced, then runs the FIN handshake.
func (k *KeyDeriver) runKeyLoop(ctx context.Context, distill distillFunc) ([]byte, error) {
	var key []byte
	var secretBits []int
	var reconciled []int

	for len(key) < k.KeySize {
		for len(reconciled) < 2*8 {
			for len(secretBits) < golay.CodewordLength {
				bits, err := distill(ctx)
				if err != nil {
					return nil, err
				}
				secretBits = append(secretBits, bits...)
			}

			remaining, newlyReconciled, err := k.reconcileInformation(ctx, secretBits)
			if err != nil {
				return nil, err
			}
			secretBits = remaining
			reconciled = append(reconciled, newlyReconciled...)
		}

		x0 := packByte(reconciled[0:8])
		x1 := packByte(reconciled[8:16])
		reconciled = reconciled[16:]

		out, err := k.amplifyPrivacy(ctx, x0, x1)
		if err != nil {
			return nil, err
		}
		key = append(key, out...)
		metrics.KeyBytesProduced.WithLabelValues(k.Name).Add(float64(len(out)))
	}

	if err := k.end(ctx, k.Tag); err != nil {
		return nil, err
	}
	return key, nil
}

// reconcileInformation runs one round of Golay-based information
// reconciliation (spec.md §4.5/§4.7.1): every full 23-bit codeword in
// secretBits is reconciled via a syndrome exchange; the trailing short
// chunk is returned for the caller to carry into the next round.
func (k *KeyDeriver) reconcileInformation(ctx context.Context, secretBits []int) (remaining []int, reconciled []int, err error) {
	chunks, trailing := golay.Chunk(bitsToBytes(secretBits))

	for _, chunk := range chunks {
		var s golay.Syndrome
		if k.Role == Leader {
			s = golay.Encode(chunk)
			resp, err := k.exchange(ctx, k.Tag, map[string]interface{}{"s": syndromeToInts(s)})
			if err != nil {
				return nil, nil, err
			}
			if !asBool(resp.Data["ack"]) {
				return nil, nil, ErrAborted
			}
		} else {
			resp, err := k.exchange(ctx, k.Tag, map[string]interface{}{"ack": true})
			if err != nil {
				return nil, nil, err
			}
			s = syndromeFromInts(asIntSlice(resp.Data["s"]))
		}

		decoded := golay.Decode(chunk, s)
		reconciled = append(reconciled, bytesToInts(decoded[:])...)
	}

	metrics.ReconciliationRounds.WithLabelValues(k.Name).Add(float64(len(chunks)))
	return bytesToInts(trailing), reconciled, nil
}

// amplifyPrivacy runs one round of the one-round privacy-amplification
// extractor (spec.md §4.7.1, https://eprint.iacr.org/2010/456.pdf): two
// reconciled bytes in, at most one extracted key byte out. An empty
// result (no error) means the round's tag didn't verify and the byte
// is discarded, not that the session aborted.
func (k *KeyDeriver) amplifyPrivacy(ctx context.Context, x0, x1 byte) ([]byte, error) {
	if k.Role == Leader {
		y := k.rng.Intn(256)
		tmp := y * int(x0)
		r := byte(tmp >> 8)
		t := (tmp & 0xff) + int(x1)

		resp, err := k.exchange(ctx, k.Tag, map[string]interface{}{"Y": y, "T": t})
		if err != nil {
			return nil, err
		}
		if !asBool(resp.Data["ack"]) {
			return nil, nil
		}
		return []byte{r}, nil
	}

	frame, err := k.waitControl(ctx, k.Tag)
	if err != nil {
		return nil, err
	}
	y := asInt(frame.Data["Y"])
	t := asInt(frame.Data["T"])
	tmp := y * int(x0)
	if t != (tmp&0xff)+int(x1) {
		if err := k.sendControl(k.Tag, map[string]interface{}{"ack": false}); err != nil {
			return nil, err
		}
		return nil, nil
	}
	r := byte(tmp >> 8)
	if err := k.sendControl(k.Tag, map[string]interface{}{"ack": true}); err != nil {
		return nil, err
	}
	return []byte{r}, nil
}

func syndromeToInts(s golay.Syndrome) []int {
	return bytesToInts(s[:])
}

func syndromeFromInts(v []int) golay.Syndrome {
	var s golay.Syndrome
	for i := 0; i < len(v) && i < golay.SyndromeLength; i++ {
		s[i] = byte(v[i])
	}
	return s
}
