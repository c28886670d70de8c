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

import "errors"

// Frame error taxonomy, per spec.md §7.1. All are recovered locally by
// the acceptor: the connection is dropped and the acceptor loop
// continues.
var (
	ErrBadHeader      = errors.New("wire: unrecognised header tag")
	ErrBadSender      = errors.New("wire: malformed sender field")
	ErrOversizeSender = errors.New("wire: sender exceeds 16 bytes")
	ErrShortPayload   = errors.New("wire: payload shorter than declared length")
	ErrLongPayload    = errors.New("wire: payload longer than declared length")
	ErrBadJson        = errors.New("wire: payload is not a valid JSON object")
)
