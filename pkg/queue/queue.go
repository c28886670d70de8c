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

// Package queue implements the per-peer control queue and the
// outbound send queue (spec.md §3/§5) as bounded, channel-backed
// FIFOs with timed blocking waits — no busy-sleep polling.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

// ErrQueueFull is returned by Push when a queue is at capacity.
var ErrQueueFull = errors.New("queue: full")

// ErrTimeout is returned by ControlQueue.Pop when no frame arrives
// before the deadline.
var ErrTimeout = errors.New("queue: timed out waiting for frame")

// DefaultCapacity bounds a single queue's buffered frames absent an
// explicit capacity.
const DefaultCapacity = 256

// ControlQueue is a per-peer FIFO of inbound protocol frames not
// claimed by the router (spec.md §4.8's BB84/DQKD/SPDS fallthrough).
type ControlQueue struct {
	ch chan *wire.Frame
}

// NewControlQueue returns a ControlQueue with the given capacity, or
// DefaultCapacity if capacity <= 0.
func NewControlQueue(capacity int) *ControlQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ControlQueue{ch: make(chan *wire.Frame, capacity)}
}

// Push enqueues f, failing with ErrQueueFull if the queue has no room.
func (q *ControlQueue) Push(f *wire.Frame) error {
	select {
	case q.ch <- f:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pop blocks until a frame is available, ctx is cancelled, or timeout
// elapses.
func (q *ControlQueue) Pop(ctx context.Context, timeout time.Duration) (*wire.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.ch:
		return f, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ControlQueues is a concurrent map of per-peer ControlQueues that
// creates an entry on first miss, per spec.md §9's redesign note.
type ControlQueues struct {
	mu       sync.Mutex
	capacity int
	queues   map[string]*ControlQueue
}

// NewControlQueues returns an empty ControlQueues whose entries are
// created with the given per-queue capacity (DefaultCapacity if <= 0).
func NewControlQueues(capacity int) *ControlQueues {
	return &ControlQueues{capacity: capacity, queues: make(map[string]*ControlQueue)}
}

// For returns peer's control queue, creating it if this is the first
// reference.
func (c *ControlQueues) For(peer string) *ControlQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[peer]
	if !ok {
		q = NewControlQueue(c.capacity)
		c.queues[peer] = q
	}
	return q
}

// Delete removes peer's control queue, if any.
func (c *ControlQueues) Delete(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queues, peer)
}

// OutboundItem is one pending classical send: a framed message and
// the endpoint to deliver it to over a fresh TCP connection.
type OutboundItem struct {
	Host  string
	Port  int
	Frame []byte
}

// Outbound is the node's single outbound send queue (spec.md §5: "a
// thread-safe FIFO").
type Outbound struct {
	ch chan OutboundItem
}

// NewOutbound returns an Outbound with the given capacity, or
// DefaultCapacity if capacity <= 0.
func NewOutbound(capacity int) *Outbound {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Outbound{ch: make(chan OutboundItem, capacity)}
}

// Push enqueues item, failing with ErrQueueFull if the queue has no
// room.
func (o *Outbound) Push(item OutboundItem) error {
	select {
	case o.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pop blocks until an item is available or ctx is cancelled. The
// outbound-sender task calls this in a loop for as long as the node
// runs.
func (o *Outbound) Pop(ctx context.Context) (OutboundItem, error) {
	select {
	case item := <-o.ch:
		return item, nil
	case <-ctx.Done():
		return OutboundItem{}, ctx.Err()
	}
}
