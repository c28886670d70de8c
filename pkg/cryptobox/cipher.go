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

// Package cryptobox implements the two primitives the message layer
// needs: an AES-GCM cipher over the 16-byte derived message key, and
// an RSA-PKCS#1 v1.5 / SHA-384 signer and verifier over frame bytes.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/mdskrzypczyk/QChat/internal/metrics"
)

// MessageKeySize is the length in bytes of a derived AES-GCM message
// key, per spec.md §3/§4.4.
const MessageKeySize = 16

// Cipher wraps a single AES-GCM key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher over key, which must be MessageKeySize
// bytes (AES-128).
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt produces a fresh nonce and returns (nonce, ciphertext, tag).
// Go's GCM.Seal appends the tag to the ciphertext; Encrypt splits them
// back out to match the wire schema's three separate fields.
func (c *Cipher) Encrypt(plaintext []byte) (nonce, ciphertext, tag []byte, err error) {
	start := time.Now()
	nonce = make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return nil, nil, nil, fmt.Errorf("cryptobox: generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	overhead := c.aead.Overhead()
	ciphertext = sealed[:len(sealed)-overhead]
	tag = sealed[len(sealed)-overhead:]

	metrics.CryptoOperations.WithLabelValues("encrypt", "aes-gcm").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("encrypt", "aes-gcm").Observe(time.Since(start).Seconds())
	return nonce, ciphertext, tag, nil
}

// Decrypt verifies tag and, on success, returns the plaintext. Any
// tampering with nonce, ciphertext, or tag fails with ErrAuthFailure.
func (c *Cipher) Decrypt(nonce, ciphertext, tag []byte) ([]byte, error) {
	start := time.Now()
	sealed := append(append([]byte(nil), ciphertext...), tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}

	metrics.CryptoOperations.WithLabelValues("decrypt", "aes-gcm").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("decrypt", "aes-gcm").Observe(time.Since(start).Seconds())
	return plaintext, nil
}
