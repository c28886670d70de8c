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

package router

import "errors"

// Auth and directory error taxonomy, per spec.md §7.1.
var (
	// ErrSignatureInvalid means a verify-policy frame carried a
	// signature that did not check out under the sender's known
	// public key.
	ErrSignatureInvalid = errors.New("router: signature invalid")

	// ErrSignatureMissing means a verify-policy frame carried no "sig"
	// field at all.
	ErrSignatureMissing = errors.New("router: signature missing")

	// ErrUnknownSender means verification needed the sender's public
	// key and bootstrapping via GETU did not resolve one in time.
	ErrUnknownSender = errors.New("router: unknown sender, bootstrap failed")

	// ErrDuplicateRegistration means a registry received RGST for a
	// name it already has a record for, matching original_source's
	// registerUser check (spec.md §10.3).
	ErrDuplicateRegistration = errors.New("router: user already registered")

	// ErrUnknownProtocol means a PTCL frame named a protocol this
	// node's router has no follower launcher for.
	ErrUnknownProtocol = errors.New("router: unknown protocol name")
)
