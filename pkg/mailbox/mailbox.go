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

// Package mailbox is the append-only store of received messages, per
// spec.md §3. Entries arrive either as an encrypted QCHT frame or as
// plaintext recovered from a superdense-coding session.
package mailbox

import "sync"

// Kind distinguishes the two shapes a Mailbox Entry can take.
type Kind int

const (
	// Ciphertext is a message received over QCHT: nonce/ciphertext/tag
	// still need decryption with the sender's derived message key.
	Ciphertext Kind = iota
	// Plaintext is a message recovered directly from a superdense
	// session; there is no cipher material to decrypt.
	Plaintext
)

// Entry is one stored message.
type Entry struct {
	Sender     string
	Kind       Kind
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
	Text       []byte
}

// Mailbox is a thread-safe, append-only message store. Peek reads
// without removing; Drain removes and returns everything stored.
type Mailbox struct {
	mu      sync.Mutex
	entries []Entry
}

// New returns an empty Mailbox.
func New() *Mailbox {
	return &Mailbox{}
}

// Store appends entry to the mailbox.
func (m *Mailbox) Store(entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Peek returns a copy of every entry currently stored, without
// removing them.
func (m *Mailbox) Peek() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Drain returns every entry currently stored and removes them from
// the mailbox.
func (m *Mailbox) Drain() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.entries
	m.entries = nil
	return out
}
