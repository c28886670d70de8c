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

package wire

import "fmt"

// SignedBytes returns the full frame encoding used as the signature
// input, per spec.md §7.2: the frame is encoded with the "sig" field
// absent from the payload, including the 4-byte length prefix. Callers
// sign this, then add "sig" to data before the real Encode call; a
// verifier does the reverse: it pulls "sig" out, calls SignedBytes on
// what remains, and verifies against that.
func SignedBytes(tag Tag, sender string, data map[string]interface{}) ([]byte, error) {
	unsigned := make(map[string]interface{}, len(data))
	for k, v := range data {
		if k == "sig" {
			continue
		}
		unsigned[k] = v
	}
	b, err := Encode(tag, sender, unsigned)
	if err != nil {
		return nil, fmt.Errorf("wire: compute signed bytes: %w", err)
	}
	return b, nil
}

// ISO88591Encode converts a binary byte slice to its ISO-8859-1 string
// representation, which is byte-preserving over 0x00-0xFF and is how
// signatures, nonces, ciphertexts, tags and public keys travel inside
// a JSON payload (spec.md §6.1).
func ISO88591Encode(b []byte) string {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

// ISO88591Decode reverses ISO88591Encode. It returns an error if s
// contains any rune outside the Latin-1 range, which would mean the
// string did not originate from ISO88591Encode.
func ISO88591Decode(s string) ([]byte, error) {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, fmt.Errorf("wire: rune %U out of ISO-8859-1 range", r)
		}
		b = append(b, byte(r))
	}
	return b, nil
}
