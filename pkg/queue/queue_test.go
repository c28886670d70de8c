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

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

func TestControlQueueFIFOOrder(t *testing.T) {
	q := NewControlQueue(4)
	f1 := &wire.Frame{Tag: "BB84", Sender: "Alice"}
	f2 := &wire.Frame{Tag: "BB84", Sender: "Alice"}

	require.NoError(t, q.Push(f1))
	require.NoError(t, q.Push(f2))

	got1, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	got2, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)

	assert.Same(t, f1, got1)
	assert.Same(t, f2, got2)
}

func TestControlQueuePopTimesOut(t *testing.T) {
	q := NewControlQueue(4)
	_, err := q.Pop(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestControlQueuePushFailsWhenFull(t *testing.T) {
	q := NewControlQueue(1)
	require.NoError(t, q.Push(&wire.Frame{Tag: "BB84"}))
	assert.ErrorIs(t, q.Push(&wire.Frame{Tag: "BB84"}), ErrQueueFull)
}

func TestControlQueuesCreatesOnFirstMiss(t *testing.T) {
	cqs := NewControlQueues(4)
	a := cqs.For("Alice")
	b := cqs.For("Alice")
	assert.Same(t, a, b)

	other := cqs.For("Bob")
	assert.NotSame(t, a, other)
}

func TestControlQueuesDelete(t *testing.T) {
	cqs := NewControlQueues(4)
	a := cqs.For("Alice")
	cqs.Delete("Alice")
	b := cqs.For("Alice")
	assert.NotSame(t, a, b)
}

func TestOutboundFIFOOrder(t *testing.T) {
	o := NewOutbound(4)
	require.NoError(t, o.Push(OutboundItem{Host: "h1", Port: 1, Frame: []byte("a")}))
	require.NoError(t, o.Push(OutboundItem{Host: "h2", Port: 2, Frame: []byte("b")}))

	first, err := o.Pop(context.Background())
	require.NoError(t, err)
	second, err := o.Pop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "h1", first.Host)
	assert.Equal(t, "h2", second.Host)
}

func TestOutboundPopRespectsCancellation(t *testing.T) {
	o := NewOutbound(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Pop(ctx)
	assert.Error(t, err)
}

func TestOutboundPushFailsWhenFull(t *testing.T) {
	o := NewOutbound(1)
	require.NoError(t, o.Push(OutboundItem{Host: "h"}))
	assert.ErrorIs(t, o.Push(OutboundItem{Host: "h"}), ErrQueueFull)
}
