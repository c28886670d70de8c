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

// Package directory is the in-memory user directory: name to public
// key, connection endpoint, and optional derived message key.
package directory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mdskrzypczyk/QChat/internal/metrics"
	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

// ErrUnknownUser is returned by reads and by Change/DeleteFields when
// the named user has no record.
var ErrUnknownUser = errors.New("directory: unknown user")

// Endpoint is a TCP host/port pair.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Record is one User Record, per spec.md §3. PublicKey, once set, is
// never cleared by Change/Add — only Delete or DeleteFields remove it.
type Record struct {
	Name       string
	PublicKey  []byte
	Connection Endpoint
	MessageKey []byte
}

func (r Record) clone() Record {
	out := r
	out.PublicKey = append([]byte(nil), r.PublicKey...)
	out.MessageKey = append([]byte(nil), r.MessageKey...)
	return out
}

// Fields is a partial update: nil/zero members are left untouched by
// Add and Change, mirroring the source's **kwargs merge.
type Fields struct {
	PublicKey  []byte
	Connection *Endpoint
	MessageKey []byte
}

func (r *Record) merge(f Fields) {
	if f.PublicKey != nil {
		r.PublicKey = f.PublicKey
	}
	if f.Connection != nil {
		r.Connection = *f.Connection
	}
	if f.MessageKey != nil {
		r.MessageKey = f.MessageKey
	}
}

// Directory is a thread-safe, in-memory user directory.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*Record
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{users: make(map[string]*Record)}
}

// Has reports whether user has a record.
func (d *Directory) Has(user string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[user]
	metrics.DirectoryOperations.WithLabelValues("has", statusOf(ok)).Inc()
	return ok
}

// Add inserts or merges fields into user's record, creating it if
// absent. Adding an existing user merges fields rather than replacing
// the record.
func (d *Directory) Add(user string, f Fields) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.users[user]
	if !ok {
		r = &Record{Name: user}
		d.users[user] = r
	}
	r.merge(f)

	metrics.DirectoryOperations.WithLabelValues("add", "ok").Inc()
	metrics.DirectoryUsers.Set(float64(len(d.users)))
}

// Change merges fields into an existing user's record. Unlike Add, it
// fails with ErrUnknownUser if the user isn't already known.
func (d *Directory) Change(user string, f Fields) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.users[user]
	if !ok {
		metrics.DirectoryOperations.WithLabelValues("change", "not_found").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	r.merge(f)
	metrics.DirectoryOperations.WithLabelValues("change", "ok").Inc()
	return nil
}

// Delete removes user's record entirely, including any derived
// message key.
func (d *Directory) Delete(user string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[user]; !ok {
		metrics.DirectoryOperations.WithLabelValues("delete", "not_found").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	delete(d.users, user)
	metrics.DirectoryOperations.WithLabelValues("delete", "ok").Inc()
	metrics.DirectoryUsers.Set(float64(len(d.users)))
	return nil
}

// Field names accepted by DeleteFields.
const (
	FieldPublicKey  = "public_key"
	FieldConnection = "connection"
	FieldMessageKey = "message_key"
)

// DeleteFields clears the named fields on user's record, leaving the
// record itself (and its other fields) in place. Re-adding a public
// key after it's been cleared is allowed; a cleared message key means
// the next send re-runs key establishment.
func (d *Directory) DeleteFields(user string, fields []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.users[user]
	if !ok {
		metrics.DirectoryOperations.WithLabelValues("delete_fields", "not_found").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	for _, f := range fields {
		switch f {
		case FieldPublicKey:
			r.PublicKey = nil
		case FieldConnection:
			r.Connection = Endpoint{}
		case FieldMessageKey:
			r.MessageKey = nil
		}
	}
	metrics.DirectoryOperations.WithLabelValues("delete_fields", "ok").Inc()
	return nil
}

// PublicKey returns user's public key bytes.
func (d *Directory) PublicKey(user string) ([]byte, error) {
	r, err := d.lookup(user, "public_key")
	if err != nil {
		return nil, err
	}
	return r.PublicKey, nil
}

// Connection returns user's connection endpoint.
func (d *Directory) Connection(user string) (Endpoint, error) {
	r, err := d.lookup(user, "connection")
	if err != nil {
		return Endpoint{}, err
	}
	return r.Connection, nil
}

// MessageKey returns user's derived AES-GCM message key, or nil if
// none has been established yet.
func (d *Directory) MessageKey(user string) ([]byte, error) {
	r, err := d.lookup(user, "message_key")
	if err != nil {
		return nil, err
	}
	return r.MessageKey, nil
}

func (d *Directory) lookup(user, op string) (Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.users[user]
	if !ok {
		metrics.DirectoryOperations.WithLabelValues(op, "not_found").Inc()
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	metrics.DirectoryOperations.WithLabelValues(op, "ok").Inc()
	return r.clone(), nil
}

// PublicInfo is the shape PublicInfoFor returns for a single user; the
// wildcard form wraps a list of them in PublicInfoAll.
type PublicInfo struct {
	User       string   `json:"user"`
	Connection Endpoint `json:"connection"`
	PublicKey  string   `json:"pub"`
}

// PublicInfoAll is the envelope PublicInfoFor returns for user == "*".
type PublicInfoAll struct {
	User string       `json:"user"`
	Info []PublicInfo `json:"info"`
}

// WildcardUser is the sentinel directory.PublicInfoFor accepts to mean
// "every known user".
const WildcardUser = "*"

// PublicInfoFor returns the public, shareable view of user, or (for
// WildcardUser) every known user. The public key is carried as an
// ISO-8859-1 string, matching the wire payload's binary-in-JSON
// convention.
func (d *Directory) PublicInfoFor(user string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if user == WildcardUser {
		out := make([]PublicInfo, 0, len(d.users))
		for name, r := range d.users {
			out = append(out, PublicInfo{
				User:       name,
				Connection: r.Connection,
				PublicKey:  wire.ISO88591Encode(r.PublicKey),
			})
		}
		metrics.DirectoryOperations.WithLabelValues("lookup", "ok").Inc()
		return PublicInfoAll{User: WildcardUser, Info: out}, nil
	}

	r, ok := d.users[user]
	if !ok {
		metrics.DirectoryOperations.WithLabelValues("lookup", "not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	metrics.DirectoryOperations.WithLabelValues("lookup", "ok").Inc()
	return PublicInfo{
		User:       user,
		Connection: r.Connection,
		PublicKey:  wire.ISO88591Encode(r.PublicKey),
	}, nil
}

func statusOf(ok bool) string {
	if ok {
		return "ok"
	}
	return "not_found"
}
