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

// Package router implements the Message Router (spec.md §4.8): the
// inbound dispatch table keyed by header tag, signature verification
// and stripping per wire.PolicyFor, and follower-role protocol launch.
// A second mode (IsRegistry) adds the registry-only RGST/RQQB handlers
// (spec.md §4.9).
package router

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mdskrzypczyk/QChat/internal/logger"
	"github.com/mdskrzypczyk/QChat/internal/metrics"
	"github.com/mdskrzypczyk/QChat/pkg/cryptobox"
	"github.com/mdskrzypczyk/QChat/pkg/directory"
	"github.com/mdskrzypczyk/QChat/pkg/mailbox"
	"github.com/mdskrzypczyk/QChat/pkg/protocol"
	"github.com/mdskrzypczyk/QChat/pkg/quantum"
	"github.com/mdskrzypczyk/QChat/pkg/queue"
	"github.com/mdskrzypczyk/QChat/pkg/wire"
)

// BootstrapTimeout bounds how long a verify-policy dispatch waits for
// a GETU bootstrap round-trip to populate an unknown sender's public
// key before giving up.
const BootstrapTimeout = 10 * time.Second

// FollowerResult is what a follower-role protocol produces once it
// runs to completion: a derived key for BB84-Purified/DIQKD, or a
// recovered plaintext message for SuperDense. Exactly one is set.
type FollowerResult struct {
	Key     []byte
	Message []byte
}

// FollowerLauncher runs this node's follower role for one named
// protocol to completion against peer, consuming control frames from
// ctrlQ. keySize is the key-establishment target length in bytes
// (ignored by message protocols).
type FollowerLauncher func(ctx context.Context, peer protocol.PeerInfo, ctrlQ *queue.ControlQueue, keySize int) (FollowerResult, error)

// Sender pushes a signed frame onto the node's outbound queue. Router
// uses it both for replies it originates itself (PUTU in answer to
// GETU, the GETU bootstrap request) and is otherwise unused — session
// traffic goes through pkg/protocol's own sendControl.
type Sender func(host string, port int, tag wire.Tag, data map[string]interface{}) error

// Config wires a Router to the node components it dispatches into.
// Self and Signer are always required; the rest default sensibly for
// a minimal router (useful in tests).
type Config struct {
	Self                   string
	Signer                 *cryptobox.Signer
	Dir                    *directory.Directory
	Mailbox                *mailbox.Mailbox
	CtrlQueues             *queue.ControlQueues
	Send                   Sender
	Launchers              map[string]FollowerLauncher
	AllowInvalidSignatures bool
	ProtocolTimeout        time.Duration
	Log                    logger.Logger

	// RegistryEndpoint is where GETU bootstrap requests are sent. For
	// the registry's own router this is its own endpoint (requestUserInfo
	// is never exercised there in practice).
	RegistryEndpoint directory.Endpoint

	// IsRegistry enables the RGST/RQQB registry-only handlers
	// (spec.md §4.9). EPRLink and InterceptProbability are only used
	// when IsRegistry is true.
	IsRegistry           bool
	EPRLink              quantum.Link
	InterceptProbability float64
}

// Router dispatches decoded frames to the handler spec.md §4.8's table
// names, verifying and stripping signatures per tag policy first.
type Router struct {
	cfg Config
	log logger.Logger

	bootstrap singleflight.Group
	intercept atomic.Uint64 // float64 bits; registry's EPR-intercept probability knob

	mu           sync.Mutex
	qubitHistory map[string][]int // registry-only, per spec.md §3
}

// New returns a Router built from cfg.
func New(cfg Config) *Router {
	if cfg.ProtocolTimeout <= 0 {
		cfg.ProtocolTimeout = protocol.DefaultIdleTimeout
	}
	log := cfg.Log
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	r := &Router{cfg: cfg, log: log, qubitHistory: map[string][]int{}}
	r.intercept.Store(math.Float64bits(cfg.InterceptProbability))
	return r
}

// SetInterceptProbability adjusts the registry's EPR-intercept
// probability knob at runtime (spec.md §4.9: default 0, exists only
// to model an attacker).
func (r *Router) SetInterceptProbability(p float64) {
	r.intercept.Store(math.Float64bits(p))
}

func (r *Router) interceptProbability() float64 {
	return math.Float64frombits(r.intercept.Load())
}

// Dispatch verifies and routes one already-decoded frame, per spec.md §4.8.
// It is safe to call concurrently; callers typically spawn one
// goroutine per frame popped off the node's Inbox.
func (r *Router) Dispatch(ctx context.Context, f *wire.Frame) {
	start := time.Now()
	defer func() {
		metrics.FrameProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	policy, known := wire.PolicyFor(f.Tag)
	if !known {
		r.enqueueControl(f)
		return
	}

	if policy.Verify {
		if err := r.verify(ctx, f); err != nil {
			if !r.cfg.AllowInvalidSignatures {
				r.log.Warn("router: dropping unverified frame", logger.String("tag", string(f.Tag)), logger.String("sender", f.Sender), logger.Error(err))
				metrics.FramesProcessed.WithLabelValues(string(f.Tag), "unverified").Inc()
				return
			}
			r.log.Warn("router: accepting unverified frame (allow_invalid_signatures)", logger.String("tag", string(f.Tag)), logger.String("sender", f.Sender), logger.Error(err))
		}
	}
	if policy.Strip {
		delete(f.Data, "sig")
	}

	metrics.FramesProcessed.WithLabelValues(string(f.Tag), "ok").Inc()

	switch f.Tag {
	case wire.TagQCHT:
		r.handleQCHT(f)
	case wire.TagGETU:
		r.handleGETU(f)
	case wire.TagPUTU:
		r.handlePUTU(f)
	case wire.TagPTCL:
		r.handlePTCL(f)
	case wire.TagRGST:
		if r.cfg.IsRegistry {
			r.handleRGST(f)
		} else {
			r.enqueueControl(f)
		}
	case wire.TagRQQB:
		if r.cfg.IsRegistry {
			r.handleRQQB(f)
		} else {
			r.enqueueControl(f)
		}
	default:
		// BB84/DQKD/SPDS, and MSSG/AUTH which carry no dedicated
		// handler in this engine: enqueue on the sender's control
		// queue per spec.md §4.8.
		r.enqueueControl(f)
	}
}

func (r *Router) enqueueControl(f *wire.Frame) {
	if r.cfg.CtrlQueues == nil {
		return
	}
	if err := r.cfg.CtrlQueues.For(f.Sender).Push(f); err != nil {
		r.log.Warn("router: control queue full, dropping frame", logger.String("sender", f.Sender), logger.String("tag", string(f.Tag)))
	}
}

// verify checks f's "sig" field against the sender's public key,
// bootstrapping it via GETU if the directory doesn't have it yet.
func (r *Router) verify(ctx context.Context, f *wire.Frame) error {
	sigStr, ok := f.Data["sig"].(string)
	if !ok {
		return ErrSignatureMissing
	}
	sig, err := wire.ISO88591Decode(sigStr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	pub, err := r.publicKeyFor(ctx, f.Sender)
	if err != nil {
		return err
	}
	verifier, err := cryptobox.NewVerifier(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	signed, err := wire.SignedBytes(f.Tag, f.Sender, f.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if err := verifier.Verify(signed, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// publicKeyFor returns sender's known public key, bootstrapping it
// with a GETU request if the directory doesn't have one yet.
// singleflight collapses concurrent lookups for the same sender into
// one in-flight GETU round trip.
func (r *Router) publicKeyFor(ctx context.Context, sender string) ([]byte, error) {
	if pub, err := r.cfg.Dir.PublicKey(sender); err == nil && len(pub) > 0 {
		return pub, nil
	}

	v, err, _ := r.bootstrap.Do(sender, func() (interface{}, error) {
		return nil, r.requestUserInfo(ctx, sender)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSender, err)
	}
	_ = v

	pub, err := r.cfg.Dir.PublicKey(sender)
	if err != nil || len(pub) == 0 {
		return nil, ErrUnknownSender
	}
	return pub, nil
}

// requestUserInfo sends a GETU frame to this node's registry and
// polls the directory until user appears or BootstrapTimeout elapses.
// It is also exported indirectly as the node's public RequestUserInfo
// API (spec.md S2).
func (r *Router) RequestUserInfo(ctx context.Context, user string) error {
	return r.requestUserInfo(ctx, user)
}

func (r *Router) requestUserInfo(ctx context.Context, user string) error {
	if r.cfg.Dir.Has(user) {
		return nil
	}
	ep := r.cfg.RegistryEndpoint
	if ep.Host == "" {
		return fmt.Errorf("router: no registry endpoint configured")
	}

	selfConn, _ := r.cfg.Dir.Connection(r.cfg.Self)
	payload := map[string]interface{}{
		"user":       user,
		"connection": directory.Endpoint{Host: selfConn.Host, Port: selfConn.Port},
	}
	if err := r.signAndSend(ep.Host, ep.Port, wire.TagGETU, payload); err != nil {
		return err
	}

	deadline := time.Now().Add(BootstrapTimeout)
	for !r.cfg.Dir.Has(user) {
		if time.Now().After(deadline) {
			return fmt.Errorf("router: GETU bootstrap for %s timed out", user)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}

func (r *Router) signAndSend(host string, port int, tag wire.Tag, data map[string]interface{}) error {
	if r.cfg.Send != nil {
		return r.cfg.Send(host, port, tag, data)
	}
	return fmt.Errorf("router: no Sender configured")
}

func (r *Router) handleQCHT(f *wire.Frame) {
	var payload struct {
		Nonce      string `json:"nonce"`
		Ciphertext string `json:"ciphertext"`
		Tag        string `json:"tag"`
	}
	if err := f.DecodeInto(&payload); err != nil {
		r.log.Warn("router: malformed QCHT payload", logger.Error(err))
		return
	}
	nonce, err1 := wire.ISO88591Decode(payload.Nonce)
	ct, err2 := wire.ISO88591Decode(payload.Ciphertext)
	tag, err3 := wire.ISO88591Decode(payload.Tag)
	if err1 != nil || err2 != nil || err3 != nil {
		r.log.Warn("router: QCHT payload has non-Latin-1 binary field", logger.String("sender", f.Sender))
		return
	}
	r.cfg.Mailbox.Store(mailbox.Entry{
		Sender:     f.Sender,
		Kind:       mailbox.Ciphertext,
		Nonce:      nonce,
		Ciphertext: ct,
		Tag:        tag,
	})
}

func (r *Router) handleGETU(f *wire.Frame) {
	var payload struct {
		User       string            `json:"user"`
		Connection directory.Endpoint `json:"connection"`
	}
	if err := f.DecodeInto(&payload); err != nil {
		r.log.Warn("router: malformed GETU payload", logger.Error(err))
		return
	}
	info, err := r.cfg.Dir.PublicInfoFor(payload.User)
	if err != nil {
		r.log.Warn("router: GETU for unknown user", logger.String("user", payload.User))
		return
	}
	if err := r.signAndSend(payload.Connection.Host, payload.Connection.Port, wire.TagPUTU, publicInfoToPayload(info)); err != nil {
		r.log.Warn("router: failed to answer GETU", logger.Error(err))
	}
}

func publicInfoToPayload(info interface{}) map[string]interface{} {
	switch v := info.(type) {
	case directory.PublicInfo:
		return map[string]interface{}{
			"user":       v.User,
			"pub":        v.PublicKey,
			"connection": v.Connection,
		}
	case directory.PublicInfoAll:
		return map[string]interface{}{
			"user": v.User,
			"info": v.Info,
		}
	default:
		return nil
	}
}

func (r *Router) handlePUTU(f *wire.Frame) {
	if user, _ := f.Data["user"].(string); user == directory.WildcardUser {
		infos, _ := f.Data["info"].([]interface{})
		for _, raw := range infos {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := m["user"].(string)
			if name == "" || r.cfg.Dir.Has(name) {
				continue
			}
			r.upsertFromPayload(name, m)
		}
		return
	}

	user, _ := f.Data["user"].(string)
	if user == "" {
		r.log.Warn("router: PUTU payload missing user")
		return
	}
	r.upsertFromPayload(user, f.Data)
}

func (r *Router) upsertFromPayload(user string, data map[string]interface{}) {
	fields := directory.Fields{}
	if pubStr, ok := data["pub"].(string); ok {
		if pub, err := wire.ISO88591Decode(pubStr); err == nil {
			fields.PublicKey = pub
		}
	}
	if connRaw, ok := data["connection"].(map[string]interface{}); ok {
		ep := directory.Endpoint{
			Host: asString(connRaw["host"]),
			Port: int(asFloat(connRaw["port"])),
		}
		fields.Connection = &ep
	}
	r.cfg.Dir.Add(user, fields)
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func (r *Router) handlePTCL(f *wire.Frame) {
	var payload struct {
		Name    string `json:"name"`
		KeySize int    `json:"key_size"`
	}
	if err := f.DecodeInto(&payload); err != nil {
		r.log.Warn("router: malformed PTCL payload", logger.Error(err))
		return
	}
	launcher, ok := r.cfg.Launchers[payload.Name]
	if !ok {
		r.log.Warn("router: unknown protocol requested", logger.String("name", payload.Name), logger.String("sender", f.Sender))
		return
	}
	conn, err := r.cfg.Dir.Connection(f.Sender)
	if err != nil {
		r.log.Warn("router: PTCL from unregistered sender", logger.String("sender", f.Sender))
		return
	}

	peer := protocol.PeerInfo{User: f.Sender, Host: conn.Host, Port: conn.Port}
	ctrlQ := r.cfg.CtrlQueues.For(f.Sender)

	// sessionID correlates this follower run's log lines; it never
	// crosses the wire (the leader has no matching value to compare it
	// against).
	sessionID := uuid.New().String()

	go func() {
		defer r.cfg.CtrlQueues.Delete(f.Sender)
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ProtocolTimeout*4)
		defer cancel()

		r.log.Info("router: launching follower protocol", logger.String("session_id", sessionID), logger.String("name", payload.Name), logger.String("peer", f.Sender))
		metrics.ProtocolSessionsStarted.WithLabelValues(payload.Name, "follower").Inc()
		start := time.Now()
		result, err := launcher(ctx, peer, ctrlQ, payload.KeySize)
		metrics.ProtocolSessionDuration.WithLabelValues(payload.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProtocolSessionsCompleted.WithLabelValues(payload.Name, "aborted").Inc()
			r.log.Warn("router: follower protocol failed", logger.String("session_id", sessionID), logger.String("name", payload.Name), logger.String("peer", f.Sender), logger.Error(err))
			return
		}
		metrics.ProtocolSessionsCompleted.WithLabelValues(payload.Name, "success").Inc()
		r.log.Info("router: follower protocol completed", logger.String("session_id", sessionID), logger.String("name", payload.Name), logger.String("peer", f.Sender))

		switch {
		case result.Key != nil:
			r.cfg.Dir.Add(f.Sender, directory.Fields{MessageKey: result.Key})
		case result.Message != nil:
			r.cfg.Mailbox.Store(mailbox.Entry{Sender: f.Sender, Kind: mailbox.Plaintext, Text: result.Message})
		}
	}()
}

func (r *Router) handleRGST(f *wire.Frame) {
	var payload struct {
		User       string            `json:"user"`
		Pub        string            `json:"pub"`
		Connection directory.Endpoint `json:"connection"`
	}
	if err := f.DecodeInto(&payload); err != nil {
		r.log.Warn("router: malformed RGST payload", logger.Error(err))
		return
	}
	if r.cfg.Dir.Has(payload.User) {
		r.log.Warn("router: duplicate registration", logger.String("user", payload.User), logger.Error(ErrDuplicateRegistration))
		return
	}
	pub, err := wire.ISO88591Decode(payload.Pub)
	if err != nil {
		r.log.Warn("router: RGST payload has non-Latin-1 public key", logger.String("user", payload.User))
		return
	}
	r.cfg.Dir.Add(payload.User, directory.Fields{PublicKey: pub, Connection: &payload.Connection})
}

func (r *Router) handleRQQB(f *wire.Frame) {
	var payload struct {
		User string `json:"user"`
	}
	if err := f.DecodeInto(&payload); err != nil {
		r.log.Warn("router: malformed RQQB payload", logger.Error(err))
		return
	}
	if r.cfg.EPRLink == nil {
		r.log.Warn("router: registry has no EPR source configured")
		return
	}

	local, err := r.cfg.EPRLink.CreateEPR(f.Sender)
	if err != nil {
		r.log.Warn("router: EPR creation failed", logger.Error(err))
		return
	}

	if p := r.interceptProbability(); p > 0 && rand.Float64() < p {
		outcome, err := local.Measure()
		if err == nil {
			r.recordIntercept(f.Sender, outcome)
		}
	}

	if err := r.cfg.EPRLink.SendQubit(local, payload.User); err != nil {
		r.log.Warn("router: forwarding EPR half failed", logger.Error(err))
	}
}

// recordIntercept appends to the registry's Qubit History (spec.md
// §3): not cryptographically meaningful, exists only to model a
// measure-and-resend attacker.
func (r *Router) recordIntercept(peer string, outcome int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qubitHistory[peer] = append(r.qubitHistory[peer], outcome)
}

// QubitHistory returns a copy of the recorded intercept outcomes for
// peer (registry-only, spec.md §3).
func (r *Router) QubitHistory(peer string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.qubitHistory[peer]))
	copy(out, r.qubitHistory[peer])
	return out
}
