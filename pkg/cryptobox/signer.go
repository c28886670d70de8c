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
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/mdskrzypczyk/QChat/internal/metrics"
)

// DefaultKeyBits is the safe-default RSA modulus size this package
// generates when the caller doesn't ask for a specific size. The
// source this protocol was distilled from used 1024-bit keys; that is
// retained only as an option for interop with fixed test vectors (see
// TestKeyBits), never as the default.
const DefaultKeyBits = 2048

// TestKeyBits is the source's original RSA modulus size. Tests that
// need fast key generation, or need to exercise interop with fixed
// 1024-bit test vectors, may request this explicitly.
const TestKeyBits = 1024

// Signer holds an RSA private key and signs with PKCS#1 v1.5 over
// SHA-384, per spec.md §4.4.
type Signer struct {
	key *rsa.PrivateKey
}

// GenerateSigner creates a new RSA key pair of the given size in bits.
func GenerateSigner(bits int) (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: generate RSA key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Sign returns the PKCS#1 v1.5/SHA-384 signature over data.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	start := time.Now()
	digest := sha512.Sum384(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA384, digest[:])
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("sign").Inc()
		return nil, fmt.Errorf("cryptobox: sign: %w", err)
	}
	metrics.CryptoOperations.WithLabelValues("sign", "rsa-pkcs1v15-sha384").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("sign", "rsa-pkcs1v15-sha384").Observe(time.Since(start).Seconds())
	return sig, nil
}

// PublicKeyBytes returns the PKIX DER encoding of the signer's public
// key, the form exchanged over the wire and stored in the directory.
func (s *Signer) PublicKeyBytes() ([]byte, error) {
	b, err := x509.MarshalPKIXPublicKey(&s.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: marshal public key: %w", err)
	}
	return b, nil
}

// Verifier holds an RSA public key and verifies PKCS#1 v1.5/SHA-384
// signatures against it.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses a PKIX DER-encoded RSA public key.
func NewVerifier(publicKeyBytes []byte) (*Verifier, error) {
	pub, err := x509.ParsePKIXPublicKey(publicKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cryptobox: public key is not RSA")
	}
	return &Verifier{key: rsaPub}, nil
}

// Verify reports whether sig is a valid PKCS#1 v1.5/SHA-384 signature
// over data under this verifier's public key.
func (v *Verifier) Verify(data, sig []byte) error {
	start := time.Now()
	digest := sha512.Sum384(data)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA384, digest[:], sig); err != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	metrics.CryptoOperations.WithLabelValues("verify", "rsa-pkcs1v15-sha384").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("verify", "rsa-pkcs1v15-sha384").Observe(time.Since(start).Seconds())
	return nil
}
