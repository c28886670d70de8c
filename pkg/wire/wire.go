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

// Package wire implements the framed binary message format every node
// speaks on the classical channel: a 4-byte header tag, a 16-byte
// left-NUL-padded sender name, a 4-byte big-endian length, and a
// UTF-8-encoded JSON payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Field widths, per spec.md §6.1.
const (
	HeaderLength = 4
	SenderLength = 16
	LengthWidth  = 4
	FrameOverhead = HeaderLength + SenderLength + LengthWidth
)

// Tag is one of the eleven ASCII header tags.
type Tag string

const (
	TagMSSG Tag = "MSSG"
	TagRGST Tag = "RGST"
	TagAUTH Tag = "AUTH"
	TagQCHT Tag = "QCHT"
	TagGETU Tag = "GETU"
	TagPUTU Tag = "PUTU"
	TagPTCL Tag = "PTCL"
	TagRQQB Tag = "RQQB"
	TagBB84 Tag = "BB84"
	TagDQKD Tag = "DQKD"
	TagSPDS Tag = "SPDS"
)

// Policy is the per-tag router behaviour spec.md §3/§4.8 attaches to a
// header: whether a signature is required, and whether it is stripped
// from the payload before the handler sees it.
type Policy struct {
	Verify bool
	Strip  bool
}

var policies = map[Tag]Policy{
	TagMSSG: {},
	TagRGST: {},
	TagAUTH: {},
	TagQCHT: {Verify: true, Strip: true},
	TagGETU: {Strip: true},
	TagPUTU: {Strip: true},
	TagPTCL: {Verify: true, Strip: true},
	TagRQQB: {},
	TagBB84: {Verify: true, Strip: true},
	TagDQKD: {Verify: true, Strip: true},
	TagSPDS: {Verify: true, Strip: true},
}

// PolicyFor returns the dispatch policy for tag, and whether tag is a
// header this codec recognises at all.
func PolicyFor(tag Tag) (Policy, bool) {
	p, ok := policies[tag]
	return p, ok
}

// KnownTag reports whether tag is one of the eleven recognised headers.
func KnownTag(tag Tag) bool {
	_, ok := policies[tag]
	return ok
}

// Frame is the decoded form of a message on the wire.
type Frame struct {
	Tag    Tag
	Sender string
	Data   map[string]interface{}
}

// DecodeInto re-marshals f.Data and unmarshals it into v, letting
// callers work with a typed struct instead of the generic map.
func (f *Frame) DecodeInto(v interface{}) error {
	b, err := json.Marshal(f.Data)
	if err != nil {
		return fmt.Errorf("wire: re-marshal payload: %w", err)
	}
	return json.Unmarshal(b, v)
}

// Encode builds the wire representation of a frame. payload must be
// JSON-marshalable as an object (a struct or map[string]interface{}).
func Encode(tag Tag, sender string, payload interface{}) ([]byte, error) {
	if len(tag) != HeaderLength {
		return nil, fmt.Errorf("%w: tag %q is not %d bytes", ErrBadHeader, tag, HeaderLength)
	}
	if len(sender) == 0 {
		return nil, fmt.Errorf("%w: sender is empty", ErrBadSender)
	}
	if len(sender) > SenderLength {
		return nil, fmt.Errorf("%w: sender %q exceeds %d bytes", ErrOversizeSender, sender, SenderLength)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJson, err)
	}

	buf := make([]byte, 0, FrameOverhead+len(body))
	buf = append(buf, []byte(tag)...)
	buf = append(buf, padSender(sender)...)

	lenField := make([]byte, LengthWidth)
	binary.BigEndian.PutUint32(lenField, uint32(len(body)))
	buf = append(buf, lenField...)
	buf = append(buf, body...)

	return buf, nil
}

// Decode parses a complete frame buffer (as produced by Encode, or
// assembled by a connection handler) into a Frame. It rejects short
// buffers, unknown headers, empty senders, a declared length that
// doesn't match what's present, and trailing bytes after the payload.
func Decode(b []byte) (*Frame, error) {
	if len(b) < FrameOverhead {
		return nil, fmt.Errorf("%w: frame shorter than header", ErrShortPayload)
	}

	tag := Tag(b[:HeaderLength])
	if !KnownTag(tag) {
		return nil, fmt.Errorf("%w: %q", ErrBadHeader, tag)
	}

	senderField := b[HeaderLength : HeaderLength+SenderLength]
	sender := string(bytes.TrimLeft(senderField, "\x00"))
	if sender == "" {
		return nil, fmt.Errorf("%w: sender is empty after NUL-trim", ErrBadSender)
	}

	lenOffset := HeaderLength + SenderLength
	declared := binary.BigEndian.Uint32(b[lenOffset : lenOffset+LengthWidth])
	payload := b[lenOffset+LengthWidth:]

	if uint32(len(payload)) < declared {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrShortPayload, declared, len(payload))
	}
	if uint32(len(payload)) > declared {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrLongPayload, declared, len(payload))
	}

	data := map[string]interface{}{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJson, err)
	}

	return &Frame{Tag: tag, Sender: sender, Data: data}, nil
}

// padSender left-pads name with NUL bytes to SenderLength, keeping the
// right-most SenderLength bytes if name is already that long.
func padSender(name string) []byte {
	out := make([]byte, SenderLength)
	b := []byte(name)
	if len(b) >= SenderLength {
		copy(out, b[len(b)-SenderLength:])
		return out
	}
	copy(out[SenderLength-len(b):], b)
	return out
}
