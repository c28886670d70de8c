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

package cryptobox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSignVerifyRoundTrip realizes the signing half of Testable
// Property 5: a signature produced by Sign verifies under the
// matching public key.
func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := GenerateSigner(TestKeyBits)
	require.NoError(t, err)

	pub, err := signer.PublicKeyBytes()
	require.NoError(t, err)
	verifier, err := NewVerifier(pub)
	require.NoError(t, err)

	data := []byte("QCHT frame bytes excluding sig")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	assert.NoError(t, verifier.Verify(data, sig))
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	signer, err := GenerateSigner(TestKeyBits)
	require.NoError(t, err)
	pub, err := signer.PublicKeyBytes()
	require.NoError(t, err)
	verifier, err := NewVerifier(pub)
	require.NoError(t, err)

	data := []byte("original payload")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0xFF

	err = verifier.Verify(tampered, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signer, err := GenerateSigner(TestKeyBits)
	require.NoError(t, err)
	other, err := GenerateSigner(TestKeyBits)
	require.NoError(t, err)

	otherPub, err := other.PublicKeyBytes()
	require.NoError(t, err)
	verifier, err := NewVerifier(otherPub)
	require.NoError(t, err)

	data := []byte("payload")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	err = verifier.Verify(data, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestGenerateSignerDefaultKeyBits(t *testing.T) {
	signer, err := GenerateSigner(DefaultKeyBits)
	require.NoError(t, err)
	assert.Equal(t, DefaultKeyBits, signer.key.N.BitLen())
}

func TestNewVerifierRejectsNonRSAOrGarbage(t *testing.T) {
	_, err := NewVerifier([]byte("not a DER-encoded public key"))
	assert.Error(t, err)
}
