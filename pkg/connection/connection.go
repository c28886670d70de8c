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

// Package connection is the classical transport: a one-message-per-TCP-
// connection listener and a one-shot sender, per spec.md §4.2. Every
// inbound connection is handled by a short-lived goroutine that reads
// exactly one framed message, pushes it to the shared Inbox, and closes
// the socket; a separate drainer (owned by the node/router layer) pops
// frames from the Inbox and spawns dispatch work per spec.md §5.
package connection

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mdskrzypczyk/QChat/internal/logger"
	"github.com/mdskrzypczyk/QChat/internal/metrics"
	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

// DialTimeout bounds how long a one-shot Send waits to establish the
// outbound connection.
const DialTimeout = 5 * time.Second

// maxFrameBody bounds the declared payload length a handler will read,
// guarding against a peer that sends a bogus multi-gigabyte length
// field and exhausts memory before the read loop notices a mismatch.
const maxFrameBody = 16 << 20 // 16 MiB

// Inbox is the mutex-guarded store of frames delivered by the acceptor,
// mirroring original_source's message_queue: handlers append, the
// drainer pops in FIFO order.
type Inbox struct {
	mu     sync.Mutex
	frames []*wire.Frame
}

// NewInbox returns an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

func (b *Inbox) push(f *wire.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, f)
}

// Recv pops the oldest pending frame, reporting false if the Inbox is
// empty. It never blocks; callers drain it in a loop.
func (b *Inbox) Recv() (*wire.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil, false
	}
	f := b.frames[0]
	b.frames = b.frames[1:]
	return f, true
}

// Listener accepts inbound classical connections on host:port and
// delivers exactly one frame per connection to its Inbox.
type Listener struct {
	host  string
	port  int
	log   logger.Logger
	inbox *Inbox

	mu sync.Mutex
	ln net.Listener
}

// NewListener returns a Listener bound to host:port once Start is
// called. log may be nil, in which case the package default logger is
// used.
func NewListener(host string, port int, log logger.Logger) *Listener {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Listener{host: host, port: port, log: log, inbox: NewInbox()}
}

// Inbox returns the listener's frame inbox.
func (l *Listener) Inbox() *Inbox {
	return l.inbox
}

// Addr returns the listener's bound address. Valid only after Start
// succeeds.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Start binds the listening socket and runs the accept loop in a new
// goroutine. It returns once the bind succeeds.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", l.host, l.port))
	if err != nil {
		return fmt.Errorf("connection: listen %s:%d: %w", l.host, l.port, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	go l.acceptLoop(ln)
	return nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

func (l *Listener) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				return
			}
			l.log.Warn("connection: accept failed", logger.Error(err))
			continue
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	start := time.Now()
	defer func() {
		conn.Close()
		metrics.ConnectionDuration.Observe(time.Since(start).Seconds())
	}()

	frame, err := readFrame(conn)
	if err != nil {
		l.log.Warn("connection: dropping malformed frame", logger.Error(err), logger.String("remote", conn.RemoteAddr().String()))
		metrics.ConnectionsAccepted.WithLabelValues("malformed").Inc()
		return
	}

	metrics.ConnectionsAccepted.WithLabelValues("ok").Inc()
	l.inbox.push(frame)
}

// readFrame reads exactly one frame's worth of bytes from conn — the
// fixed header/sender/length prefix, then the declared payload — and
// decodes it. A connection that sends fewer or more bytes than its
// declared length fails here rather than blocking forever, mirroring
// original_source's _handle_connection mismatch checks.
func readFrame(conn net.Conn) (*wire.Frame, error) {
	prefix := make([]byte, wire.FrameOverhead)
	if _, err := io.ReadFull(conn, prefix); err != nil {
		return nil, fmt.Errorf("connection: read frame prefix: %w", err)
	}

	declared := int(prefix[wire.HeaderLength+wire.SenderLength])<<24 |
		int(prefix[wire.HeaderLength+wire.SenderLength+1])<<16 |
		int(prefix[wire.HeaderLength+wire.SenderLength+2])<<8 |
		int(prefix[wire.HeaderLength+wire.SenderLength+3])
	if declared < 0 || declared > maxFrameBody {
		return nil, fmt.Errorf("%w: declared payload length %d exceeds limit", wire.ErrLongPayload, declared)
	}

	payload := make([]byte, declared)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, fmt.Errorf("connection: read frame payload: %w", err)
	}

	// A well-behaved peer closes the connection immediately after the
	// payload; one more byte of availability means it sent more than it
	// declared.
	extra := make([]byte, 1)
	if n, err := conn.Read(extra); n > 0 || (err != nil && err != io.EOF) {
		return nil, fmt.Errorf("%w: connection sent data past declared length", wire.ErrLongPayload)
	}

	return wire.Decode(append(prefix, payload...))
}

// Send dials host:port, writes frame, and closes the connection — the
// classical transport's one-shot outbound send, per
// original_source's send_message.
func Send(host string, port int, frame []byte) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), DialTimeout)
	if err != nil {
		metrics.ConnectionsSent.WithLabelValues("dial_error").Inc()
		return fmt.Errorf("connection: dial %s:%d: %w", host, port, err)
	}
	defer conn.Close()

	if _, err := conn.Write(frame); err != nil {
		metrics.ConnectionsSent.WithLabelValues("write_error").Inc()
		return fmt.Errorf("connection: write to %s:%d: %w", host, port, err)
	}

	metrics.ConnectionsSent.WithLabelValues("ok").Inc()
	return nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
