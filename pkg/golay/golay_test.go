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

package golay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allZeroCodeword() Codeword {
	return Codeword{}
}

func withBitsSet(positions ...int) Codeword {
	var cw Codeword
	for _, p := range positions {
		cw[p] = 1
	}
	return cw
}

// TestGolayCorrectsUpToThreeErrors realizes Testable Property 4: for
// representative codewords and every error pattern of Hamming weight
// <= 3, decode(v xor e, encode(v)) == v.
func TestGolayCorrectsUpToThreeErrors(t *testing.T) {
	codewords := []Codeword{
		allZeroCodeword(),
		withBitsSet(0, 5, 9, 17),
		withBitsSet(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12),
		withBitsSet(22),
	}

	for _, v := range codewords {
		s := Encode(v)

		// zero errors
		assert.Equal(t, v, Decode(v, s))

		// all single-bit errors
		for i := 0; i < CodewordLength; i++ {
			e := withBitsSet(i)
			corrupted := xorVec(v, e)
			assert.Equal(t, v, Decode(corrupted, s), "1-bit error at %d", i)
		}

		// a sample of 2-bit and 3-bit error patterns
		for i := 0; i < CodewordLength; i += 3 {
			for j := i + 1; j < CodewordLength; j += 5 {
				e2 := withBitsSet(i, j)
				assert.Equal(t, v, Decode(xorVec(v, e2), s), "2-bit error at %d,%d", i, j)

				for k := j + 1; k < CodewordLength; k += 7 {
					e3 := withBitsSet(i, j, k)
					assert.Equal(t, v, Decode(xorVec(v, e3), s), "3-bit error at %d,%d,%d", i, j, k)
				}
			}
		}
	}
}

func TestSyndromeTableCoversFullSpace(t *testing.T) {
	assert.Equal(t, 1<<SyndromeLength, len(syndromeToError))
}

func TestChunkRecyclesTrailingShortChunk(t *testing.T) {
	bits := make([]byte, CodewordLength*2+5)
	for i := range bits {
		bits[i] = byte(i % 2)
	}

	chunks, trailing := Chunk(bits)
	require.Len(t, chunks, 2)
	assert.Len(t, trailing, 5)
	assert.Equal(t, bits[CodewordLength*2:], trailing)
}

func TestChunkExactMultipleHasNoTrailing(t *testing.T) {
	bits := make([]byte, CodewordLength*3)
	chunks, trailing := Chunk(bits)
	assert.Len(t, chunks, 3)
	assert.Nil(t, trailing)
}

func TestToCodewordRejectsWrongLengthOrBits(t *testing.T) {
	_, err := ToCodeword(make([]byte, 10))
	assert.Error(t, err)

	bad := make([]byte, CodewordLength)
	bad[0] = 2
	_, err = ToCodeword(bad)
	assert.Error(t, err)

	good := make([]byte, CodewordLength)
	cw, err := ToCodeword(good)
	require.NoError(t, err)
	assert.Equal(t, Codeword{}, cw)
}
