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

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdskrzypczyk/QChat/pkg/cryptobox"
	"github.com/mdskrzypczyk/QChat/pkg/directory"
	"github.com/mdskrzypczyk/QChat/pkg/mailbox"
	"github.com/mdskrzypczyk/QChat/pkg/protocol"
	"github.com/mdskrzypczyk/QChat/pkg/queue"
	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

type fixture struct {
	r      *Router
	dir    *directory.Directory
	mbox   *mailbox.Mailbox
	ctrlQs *queue.ControlQueues
	signer *cryptobox.Signer
	sent   []sentFrame
}

type sentFrame struct {
	host string
	port int
	tag  wire.Tag
	data map[string]interface{}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	signer, err := cryptobox.GenerateSigner(cryptobox.TestKeyBits)
	require.NoError(t, err)

	fx := &fixture{dir: directory.New(), mbox: mailbox.New(), ctrlQs: queue.NewControlQueues(0), signer: signer}
	cfg.Self = "Bob"
	cfg.Signer = signer
	cfg.Dir = fx.dir
	cfg.Mailbox = fx.mbox
	cfg.CtrlQueues = fx.ctrlQs
	cfg.Send = func(host string, port int, tag wire.Tag, data map[string]interface{}) error {
		fx.sent = append(fx.sent, sentFrame{host, port, tag, data})
		return nil
	}
	fx.r = New(cfg)
	return fx
}

func signedFrame(t *testing.T, signer *cryptobox.Signer, tag wire.Tag, sender string, data map[string]interface{}) *wire.Frame {
	t.Helper()
	raw, err := wire.SignedBytes(tag, sender, data)
	require.NoError(t, err)
	sig, err := signer.Sign(raw)
	require.NoError(t, err)
	data["sig"] = wire.ISO88591Encode(sig)
	return &wire.Frame{Tag: tag, Sender: sender, Data: data}
}

func TestDispatchQCHTStoresMailboxEntry(t *testing.T) {
	fx := newFixture(t, Config{})
	aliceSigner, err := cryptobox.GenerateSigner(cryptobox.TestKeyBits)
	require.NoError(t, err)
	pub, err := aliceSigner.PublicKeyBytes()
	require.NoError(t, err)
	fx.dir.Add("Alice", directory.Fields{PublicKey: pub, Connection: &directory.Endpoint{Host: "127.0.0.1", Port: 1}})

	f := signedFrame(t, aliceSigner, wire.TagQCHT, "Alice", map[string]interface{}{
		"nonce":      wire.ISO88591Encode([]byte("nonce12345678")),
		"ciphertext": wire.ISO88591Encode([]byte("ciphertext")),
		"tag":        wire.ISO88591Encode([]byte("tagtagtagtagtag1")),
	})

	fx.r.Dispatch(context.Background(), f)

	entries := fx.mbox.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0].Sender)
	assert.Equal(t, mailbox.Ciphertext, entries[0].Kind)
	assert.Equal(t, []byte("ciphertext"), entries[0].Ciphertext)
}

func TestDispatchQCHTDroppedWhenSignatureMissing(t *testing.T) {
	fx := newFixture(t, Config{})
	aliceSigner, err := cryptobox.GenerateSigner(cryptobox.TestKeyBits)
	require.NoError(t, err)
	pub, err := aliceSigner.PublicKeyBytes()
	require.NoError(t, err)
	fx.dir.Add("Alice", directory.Fields{PublicKey: pub})

	f := &wire.Frame{Tag: wire.TagQCHT, Sender: "Alice", Data: map[string]interface{}{
		"nonce": "x", "ciphertext": "y", "tag": "z",
	}}
	fx.r.Dispatch(context.Background(), f)

	assert.Empty(t, fx.mbox.Drain())
}

func TestDispatchQCHTAcceptedWhenInvalidSignaturesAllowed(t *testing.T) {
	fx := newFixture(t, Config{AllowInvalidSignatures: true})
	fx.dir.Add("Alice", directory.Fields{PublicKey: []byte("not-a-real-key")})

	f := &wire.Frame{Tag: wire.TagQCHT, Sender: "Alice", Data: map[string]interface{}{
		"nonce":      wire.ISO88591Encode([]byte("n")),
		"ciphertext": wire.ISO88591Encode([]byte("c")),
		"tag":        wire.ISO88591Encode([]byte("t")),
	}}
	fx.r.Dispatch(context.Background(), f)

	assert.Len(t, fx.mbox.Drain(), 1)
}

func TestDispatchGETUAnswersWithPUTU(t *testing.T) {
	fx := newFixture(t, Config{})
	pub, err := fx.signer.PublicKeyBytes()
	require.NoError(t, err)
	fx.dir.Add("Bob", directory.Fields{PublicKey: pub, Connection: &directory.Endpoint{Host: "127.0.0.1", Port: 9000}})

	f := &wire.Frame{Tag: wire.TagGETU, Sender: "Alice", Data: map[string]interface{}{
		"user":       "Bob",
		"connection": map[string]interface{}{"host": "127.0.0.1", "port": float64(7000)},
	}}
	fx.r.Dispatch(context.Background(), f)

	require.Len(t, fx.sent, 1)
	assert.Equal(t, wire.TagPUTU, fx.sent[0].tag)
	assert.Equal(t, "Bob", fx.sent[0].data["user"])
}

func TestDispatchPUTUUpsertsDirectory(t *testing.T) {
	fx := newFixture(t, Config{})
	f := &wire.Frame{Tag: wire.TagPUTU, Sender: "Eve", Data: map[string]interface{}{
		"user": "Carol",
		"pub":  wire.ISO88591Encode([]byte("carol-pub")),
		"connection": map[string]interface{}{"host": "127.0.0.1", "port": float64(5555)},
	}}
	fx.r.Dispatch(context.Background(), f)

	assert.True(t, fx.dir.Has("Carol"))
	pub, err := fx.dir.PublicKey("Carol")
	require.NoError(t, err)
	assert.Equal(t, []byte("carol-pub"), pub)
}

func TestDispatchPUTUWildcardSkipsKnownUsers(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.dir.Add("Known", directory.Fields{PublicKey: []byte("original")})

	f := &wire.Frame{Tag: wire.TagPUTU, Sender: "Eve", Data: map[string]interface{}{
		"user": "*",
		"info": []interface{}{
			map[string]interface{}{"user": "Known", "pub": wire.ISO88591Encode([]byte("overwrite"))},
			map[string]interface{}{"user": "New", "pub": wire.ISO88591Encode([]byte("new-pub"))},
		},
	}}
	fx.r.Dispatch(context.Background(), f)

	pub, err := fx.dir.PublicKey("Known")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), pub, "wildcard PUTU must not overwrite an already-known user")
	assert.True(t, fx.dir.Has("New"))
}

func TestDispatchRGSTRejectsDuplicate(t *testing.T) {
	fx := newFixture(t, Config{IsRegistry: true})
	fx.dir.Add("Alice", directory.Fields{PublicKey: []byte("first")})

	f := &wire.Frame{Tag: wire.TagRGST, Sender: "registrar", Data: map[string]interface{}{
		"user":       "Alice",
		"pub":        wire.ISO88591Encode([]byte("second")),
		"connection": map[string]interface{}{"host": "127.0.0.1", "port": float64(1)},
	}}
	fx.r.Dispatch(context.Background(), f)

	pub, err := fx.dir.PublicKey("Alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), pub)
}

func TestDispatchPTCLLaunchesFollowerAndStoresKey(t *testing.T) {
	launched := make(chan protocol.PeerInfo, 1)
	fx := newFixture(t, Config{
		Launchers: map[string]FollowerLauncher{
			protocol.NameBB84Purified: func(ctx context.Context, peer protocol.PeerInfo, ctrlQ *queue.ControlQueue, keySize int) (FollowerResult, error) {
				launched <- peer
				return FollowerResult{Key: []byte("0123456789abcdef")}, nil
			},
		},
	})
	aliceSigner, err := cryptobox.GenerateSigner(cryptobox.TestKeyBits)
	require.NoError(t, err)
	pub, err := aliceSigner.PublicKeyBytes()
	require.NoError(t, err)
	fx.dir.Add("Alice", directory.Fields{PublicKey: pub, Connection: &directory.Endpoint{Host: "127.0.0.1", Port: 4242}})

	f := signedFrame(t, aliceSigner, wire.TagPTCL, "Alice", map[string]interface{}{
		"name": protocol.NameBB84Purified, "key_size": float64(16),
	})
	fx.r.Dispatch(context.Background(), f)

	select {
	case peer := <-launched:
		assert.Equal(t, "Alice", peer.User)
		assert.Equal(t, 4242, peer.Port)
	case <-time.After(time.Second):
		t.Fatal("follower launcher was never invoked")
	}

	require.Eventually(t, func() bool {
		key, err := fx.dir.MessageKey("Alice")
		return err == nil && len(key) == 16
	}, time.Second, 5*time.Millisecond)
}

func TestDispatchUnhandledTagEnqueuesControl(t *testing.T) {
	fx := newFixture(t, Config{})
	f := &wire.Frame{Tag: wire.TagMSSG, Sender: "Alice", Data: map[string]interface{}{"ack": true}}
	fx.r.Dispatch(context.Background(), f)

	got, err := fx.ctrlQs.For("Alice").Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.TagMSSG, got.Tag)
}
