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

package connection

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

func startTestListener(t *testing.T) (*Listener, int) {
	t.Helper()
	l := NewListener("127.0.0.1", 0, nil)
	require.NoError(t, l.Start())
	t.Cleanup(func() { l.Close() })

	addr, ok := l.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return l, addr.Port
}

func waitForFrame(t *testing.T, inbox *Inbox, timeout time.Duration) (*wire.Frame, bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f, ok := inbox.Recv(); ok {
			return f, true
		}
		time.Sleep(time.Millisecond)
	}
	return nil, false
}

func TestListenerDeliversFrameToInbox(t *testing.T) {
	l, port := startTestListener(t)

	frame, err := wire.Encode(wire.TagMSSG, "Alice", map[string]string{"text": "hi"})
	require.NoError(t, err)
	require.NoError(t, Send("127.0.0.1", port, frame))

	got, ok := waitForFrame(t, l.Inbox(), time.Second)
	require.True(t, ok)
	assert.Equal(t, wire.TagMSSG, got.Tag)
	assert.Equal(t, "Alice", got.Sender)
	assert.Equal(t, "hi", got.Data["text"])
}

func TestListenerDropsMalformedFrame(t *testing.T) {
	l, port := startTestListener(t)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	_, err = conn.Write([]byte("not a real frame at all"))
	require.NoError(t, err)
	conn.Close()

	_, ok := waitForFrame(t, l.Inbox(), 100*time.Millisecond)
	assert.False(t, ok)
}

func TestListenerDropsOversizeDeclaredLength(t *testing.T) {
	l, port := startTestListener(t)

	prefix := make([]byte, wire.FrameOverhead)
	copy(prefix, []byte(wire.TagMSSG))
	copy(prefix[wire.HeaderLength:], []byte("Alice"))
	// Declare an absurd length the sender never follows through on.
	prefix[wire.HeaderLength+wire.SenderLength] = 0x7f

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	_, err = conn.Write(prefix)
	require.NoError(t, err)
	conn.Close()

	_, ok := waitForFrame(t, l.Inbox(), 100*time.Millisecond)
	assert.False(t, ok)
}

func TestSendFailsWhenNothingListening(t *testing.T) {
	l := NewListener("127.0.0.1", 0, nil)
	require.NoError(t, l.Start())
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	err := Send("127.0.0.1", addr.Port, []byte("x"))
	assert.Error(t, err)
}

func TestInboxRecvIsFIFO(t *testing.T) {
	inbox := NewInbox()
	f1 := &wire.Frame{Tag: wire.TagMSSG, Sender: "A"}
	f2 := &wire.Frame{Tag: wire.TagMSSG, Sender: "B"}
	inbox.push(f1)
	inbox.push(f2)

	got1, ok := inbox.Recv()
	require.True(t, ok)
	got2, ok := inbox.Recv()
	require.True(t, ok)

	assert.Same(t, f1, got1)
	assert.Same(t, f2, got2)

	_, ok = inbox.Recv()
	assert.False(t, ok)
}
