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

// Package node is the Node Core (spec.md §4.9/§6.5): lifecycle,
// outbound-queue drain, registry handshake, and the public API
// surface (SendQChatMessage, SendSuperDenseMessage,
// GetMessageHistory, RequestUserInfo). A Node configured as its own
// registry is the Registry Variant — same type, a router built with
// IsRegistry set.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mdskrzypczyk/QChat/internal/config"
	"github.com/mdskrzypczyk/QChat/internal/logger"
	"github.com/mdskrzypczyk/QChat/pkg/connection"
	"github.com/mdskrzypczyk/QChat/pkg/cryptobox"
	"github.com/mdskrzypczyk/QChat/pkg/directory"
	"github.com/mdskrzypczyk/QChat/pkg/mailbox"
	"github.com/mdskrzypczyk/QChat/pkg/measure"
	"github.com/mdskrzypczyk/QChat/pkg/protocol"
	"github.com/mdskrzypczyk/QChat/pkg/quantum"
	"github.com/mdskrzypczyk/QChat/pkg/queue"
	"github.com/mdskrzypczyk/QChat/pkg/router"
	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

// inboxPollInterval is how often the drainer checks the listener's
// Inbox for new frames, replacing the source's GLOBAL_SLEEP_TIME
// busy-loop with a bounded, infrequent poll (spec.md §9's redesign
// note prefers a blocking wait; the Inbox here is a plain mutex-backed
// slice rather than a channel, so a short poll is the least invasive
// way to drain it without holding its mutex across dispatch).
const inboxPollInterval = 2 * time.Millisecond

// Node is one peer in the QChat network: directory, mailbox, control
// queues, outbound queue, classical listener, router, and the
// quantum-link handle protocol sessions measure through.
type Node struct {
	Name             string
	Endpoint         directory.Endpoint
	RegistryEndpoint directory.Endpoint
	IsRegistry       bool

	Signer     *cryptobox.Signer
	Dir        *directory.Directory
	Mailbox    *mailbox.Mailbox
	CtrlQueues *queue.ControlQueues
	Outbound   *queue.Outbound
	Listener   *connection.Listener
	Router     *router.Router
	Link       quantum.Link

	log logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures a new Node beyond what the topology file
// carries.
type Options struct {
	KeyBits       int // RSA modulus size for the node's signer; DefaultKeyBits if 0
	QueueCapacity int // per-queue capacity; queue.DefaultCapacity if 0
	Log           logger.Logger
}

// New builds a Node named name from topo, wiring it to net as its
// quantum transport. The node registers neither with the network nor
// its registry until Start and RegisterWithRoot are called.
func New(name string, topo config.Topology, net *quantum.Network, opts Options) (*Node, error) {
	nc, err := topo.Node(name)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	isRoot, err := topo.IsRoot(name)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	keyBits := opts.KeyBits
	if keyBits <= 0 {
		keyBits = cryptobox.DefaultKeyBits
	}
	signer, err := cryptobox.GenerateSigner(keyBits)
	if err != nil {
		return nil, fmt.Errorf("node: generate signer: %w", err)
	}

	log := opts.Log
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	dir := directory.New()
	pub, err := signer.PublicKeyBytes()
	if err != nil {
		return nil, fmt.Errorf("node: marshal public key: %w", err)
	}
	selfEndpoint := directory.Endpoint{Host: nc.Host, Port: nc.Port}
	dir.Add(name, directory.Fields{PublicKey: pub, Connection: &selfEndpoint})

	var registryEndpoint directory.Endpoint
	if isRoot {
		registryEndpoint = selfEndpoint
	} else {
		root, err := topo.RootOf(name)
		if err != nil {
			return nil, fmt.Errorf("node: resolve root: %w", err)
		}
		registryEndpoint = directory.Endpoint{Host: root.Host, Port: root.Port}
	}

	n := &Node{
		Name:             name,
		Endpoint:         selfEndpoint,
		RegistryEndpoint: registryEndpoint,
		IsRegistry:       isRoot,
		Signer:           signer,
		Dir:              dir,
		Mailbox:          mailbox.New(),
		CtrlQueues:       queue.NewControlQueues(opts.QueueCapacity),
		Outbound:         queue.NewOutbound(opts.QueueCapacity),
		Listener:         connection.NewListener(nc.Host, nc.Port, log),
		Link:             net.Link(name),
		log:              log,
	}

	n.Router = router.New(router.Config{
		Self:                   name,
		Signer:                 signer,
		Dir:                    dir,
		Mailbox:                n.Mailbox,
		CtrlQueues:             n.CtrlQueues,
		Send:                   n.signAndSend,
		Launchers:              n.followerLaunchers(),
		AllowInvalidSignatures: nc.AllowInvalidSignatures,
		RegistryEndpoint:       registryEndpoint,
		Log:                    log,
		IsRegistry:             isRoot,
		EPRLink:                n.Link,
	})

	return n, nil
}

// Start binds the listening socket and begins draining the inbox and
// outbound queue. It does not register with the root; call
// RegisterWithRoot separately once every node in the topology has
// called Start.
func (n *Node) Start() error {
	if err := n.Listener.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.wg.Add(2)
	go n.outboundLoop(ctx)
	go n.inboxLoop(ctx)
	return nil
}

// Stop cancels the outbound/inbox loops and closes the listening
// socket, waiting for both loops to exit. There is no mid-protocol
// cancellation (spec.md §5): any protocol session in flight will run
// to its own timeout.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	err := n.Listener.Close()
	n.wg.Wait()
	return err
}

func (n *Node) outboundLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		item, err := n.Outbound.Pop(ctx)
		if err != nil {
			return
		}
		if err := connection.Send(item.Host, item.Port, item.Frame); err != nil {
			n.log.Warn("node: outbound send failed", logger.String("host", item.Host), logger.Int("port", item.Port), logger.Error(err))
		}
	}
}

func (n *Node) inboxLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(inboxPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				f, ok := n.Listener.Inbox().Recv()
				if !ok {
					break
				}
				go n.Router.Dispatch(ctx, f)
			}
		}
	}
}

// signAndSend signs data under the node's own key, encodes a frame
// from it, and pushes the result onto the outbound queue for delivery
// by outboundLoop.
func (n *Node) signAndSend(host string, port int, tag wire.Tag, data map[string]interface{}) error {
	signed := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		signed[k] = v
	}
	raw, err := wire.SignedBytes(tag, n.Name, signed)
	if err != nil {
		return fmt.Errorf("node: compute signed bytes: %w", err)
	}
	sig, err := n.Signer.Sign(raw)
	if err != nil {
		return fmt.Errorf("node: sign frame: %w", err)
	}
	signed["sig"] = wire.ISO88591Encode(sig)

	frame, err := wire.Encode(tag, n.Name, signed)
	if err != nil {
		return fmt.Errorf("node: encode frame: %w", err)
	}
	return n.Outbound.Push(queue.OutboundItem{Host: host, Port: port, Frame: frame})
}

// sendRQQB asks the registry to source an EPR pair with peer, matching
// measure.RequestFunc's signature exactly.
func (n *Node) sendRQQB(peer string) error {
	return n.signAndSend(n.RegistryEndpoint.Host, n.RegistryEndpoint.Port, wire.TagRQQB, map[string]interface{}{"user": peer})
}

// RegisterWithRoot sends this node's RGST frame to its registry. A
// registry node is its own root and never calls this.
func (n *Node) RegisterWithRoot() error {
	if n.IsRegistry {
		return nil
	}
	pub, err := n.Signer.PublicKeyBytes()
	if err != nil {
		return fmt.Errorf("node: marshal public key: %w", err)
	}
	payload := map[string]interface{}{
		"user":       n.Name,
		"pub":        wire.ISO88591Encode(pub),
		"connection": n.Endpoint,
	}
	return n.signAndSend(n.RegistryEndpoint.Host, n.RegistryEndpoint.Port, wire.TagRGST, payload)
}

// RequestUserInfo fetches user's directory record from the registry,
// blocking until it arrives or the bootstrap times out (spec.md S2).
func (n *Node) RequestUserInfo(ctx context.Context, user string) error {
	return n.Router.RequestUserInfo(ctx, user)
}

// SetInterceptProbability adjusts the registry's EPR-intercept
// probability knob (spec.md §4.9). It has no effect on a non-registry
// node: its router only runs the RQQB handler when IsRegistry is set,
// and otherwise queues RQQB frames as control traffic.
func (n *Node) SetInterceptProbability(p float64) {
	n.Router.SetInterceptProbability(p)
}

// QubitHistory returns the registry's recorded intercept outcomes for
// peer (spec.md §3; empty on a non-registry node).
func (n *Node) QubitHistory(peer string) []int {
	return n.Router.QubitHistory(peer)
}

// followerLaunchers builds the router.FollowerLauncher closures for
// every protocol this node can run the follower role of.
func (n *Node) followerLaunchers() map[string]router.FollowerLauncher {
	return map[string]router.FollowerLauncher{
		protocol.NameBB84Purified: n.launchBB84Follower,
		protocol.NameDIQKD:        n.launchDIQKDFollower,
		protocol.NameSuperDense:   n.launchSuperDenseFollower,
	}
}

func (n *Node) followerSession(peer protocol.PeerInfo, ctrlQ *queue.ControlQueue) protocol.Session {
	return protocol.Session{
		Self:     n.Name,
		Peer:     peer,
		Role:     protocol.Follower,
		Signer:   n.Signer,
		CtrlQ:    ctrlQ,
		Outbound: n.Outbound,
	}
}

func (n *Node) followDevice() *measure.FollowDevice {
	return &measure.FollowDevice{Device: measure.Device{Link: n.Link, Request: n.sendRQQB}}
}

func (n *Node) launchBB84Follower(ctx context.Context, peer protocol.PeerInfo, ctrlQ *queue.ControlQueue, keySize int) (router.FollowerResult, error) {
	p := protocol.NewBB84Purified(n.followerSession(peer, ctrlQ), keySize, n.followDevice())
	key, err := p.Run(ctx)
	if err != nil {
		return router.FollowerResult{}, err
	}
	return router.FollowerResult{Key: key}, nil
}

func (n *Node) launchDIQKDFollower(ctx context.Context, peer protocol.PeerInfo, ctrlQ *queue.ControlQueue, keySize int) (router.FollowerResult, error) {
	p := protocol.NewDIQKD(n.followerSession(peer, ctrlQ), keySize, n.followDevice())
	key, err := p.Run(ctx)
	if err != nil {
		return router.FollowerResult{}, err
	}
	return router.FollowerResult{Key: key}, nil
}

func (n *Node) launchSuperDenseFollower(ctx context.Context, peer protocol.PeerInfo, ctrlQ *queue.ControlQueue, _ int) (router.FollowerResult, error) {
	sd := protocol.NewSuperDense(n.followerSession(peer, ctrlQ), n.Link)
	msg, err := sd.ReceiveMessage(ctx)
	if err != nil {
		return router.FollowerResult{}, err
	}
	return router.FollowerResult{Message: msg}, nil
}

// establishKey runs the leader role of BB84-Purified against user,
// stores the derived message key in the directory, and returns it.
func (n *Node) establishKey(ctx context.Context, user string) ([]byte, error) {
	conn, err := n.Dir.Connection(user)
	if err != nil {
		return nil, fmt.Errorf("node: cannot establish key with unknown user %s: %w", user, err)
	}
	peer := protocol.PeerInfo{User: user, Host: conn.Host, Port: conn.Port}
	sess := protocol.Session{
		Self:     n.Name,
		Peer:     peer,
		Role:     protocol.Leader,
		Signer:   n.Signer,
		CtrlQ:    n.CtrlQueues.For(user),
		Outbound: n.Outbound,
	}
	device := &measure.LeadDevice{Device: measure.Device{Link: n.Link, Request: n.sendRQQB}}
	p := protocol.NewBB84Purified(sess, cryptobox.MessageKeySize, device)
	key, err := p.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("node: key establishment with %s failed: %w", user, err)
	}
	n.Dir.Add(user, directory.Fields{MessageKey: key})
	return key, nil
}

// SendQChatMessage encrypts text under the AES-GCM message key shared
// with user — establishing one via BB84-Purified first if none exists
// yet — and sends it as a QCHT frame (spec.md §4.7.4/S3).
func (n *Node) SendQChatMessage(ctx context.Context, user string, text string) error {
	if !n.Dir.Has(user) {
		if err := n.RequestUserInfo(ctx, user); err != nil {
			return fmt.Errorf("node: cannot resolve %s: %w", user, err)
		}
	}

	key, err := n.Dir.MessageKey(user)
	if err != nil || len(key) == 0 {
		key, err = n.establishKey(ctx, user)
		if err != nil {
			return err
		}
	}

	cipher, err := cryptobox.NewCipher(key)
	if err != nil {
		return fmt.Errorf("node: build cipher for %s: %w", user, err)
	}
	nonce, ciphertext, tag, err := cipher.Encrypt([]byte(text))
	if err != nil {
		return fmt.Errorf("node: encrypt message for %s: %w", user, err)
	}

	conn, err := n.Dir.Connection(user)
	if err != nil {
		return fmt.Errorf("node: no connection info for %s: %w", user, err)
	}
	return n.signAndSend(conn.Host, conn.Port, wire.TagQCHT, map[string]interface{}{
		"nonce":      wire.ISO88591Encode(nonce),
		"ciphertext": wire.ISO88591Encode(ciphertext),
		"tag":        wire.ISO88591Encode(tag),
	})
}

// SendSuperDenseMessage runs the leader role of the superdense-coding
// protocol to deliver text to user directly over the quantum link,
// without any classical-message encryption (spec.md §4.7.3/S4).
func (n *Node) SendSuperDenseMessage(ctx context.Context, user string, text string) error {
	if !n.Dir.Has(user) {
		if err := n.RequestUserInfo(ctx, user); err != nil {
			return fmt.Errorf("node: cannot resolve %s: %w", user, err)
		}
	}
	conn, err := n.Dir.Connection(user)
	if err != nil {
		return fmt.Errorf("node: no connection info for %s: %w", user, err)
	}
	sess := protocol.Session{
		Self:     n.Name,
		Peer:     protocol.PeerInfo{User: user, Host: conn.Host, Port: conn.Port},
		Role:     protocol.Leader,
		Signer:   n.Signer,
		CtrlQ:    n.CtrlQueues.For(user),
		Outbound: n.Outbound,
	}
	sd := protocol.NewSuperDense(sess, n.Link)
	return sd.SendMessage(ctx, []byte(text))
}

// GetMessageHistory decrypts and removes every stored mailbox entry,
// grouped by sender (spec.md §10.3's destructive Drain API).
func (n *Node) GetMessageHistory() map[string][]string {
	return n.messagesBySender(n.Mailbox.Drain())
}

// PeekMessageHistory decrypts every stored mailbox entry without
// removing it, grouped by sender (spec.md §10.3's non-destructive Peek
// API).
func (n *Node) PeekMessageHistory() map[string][]string {
	return n.messagesBySender(n.Mailbox.Peek())
}

func (n *Node) messagesBySender(entries []mailbox.Entry) map[string][]string {
	out := map[string][]string{}
	for _, e := range entries {
		switch e.Kind {
		case mailbox.Plaintext:
			out[e.Sender] = append(out[e.Sender], string(e.Text))
		case mailbox.Ciphertext:
			text, err := n.decryptEntry(e)
			if err != nil {
				n.log.Warn("node: dropping undecryptable message", logger.String("sender", e.Sender), logger.Error(err))
				continue
			}
			out[e.Sender] = append(out[e.Sender], text)
		}
	}
	return out
}

func (n *Node) decryptEntry(e mailbox.Entry) (string, error) {
	key, err := n.Dir.MessageKey(e.Sender)
	if err != nil || len(key) == 0 {
		return "", fmt.Errorf("node: no message key for %s", e.Sender)
	}
	cipher, err := cryptobox.NewCipher(key)
	if err != nil {
		return "", err
	}
	plaintext, err := cipher.Decrypt(e.Nonce, e.Ciphertext, e.Tag)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
