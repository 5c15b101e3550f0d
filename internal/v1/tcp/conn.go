// Package tcp implements the session-framed TCP adapter: the listener, the
// X25519 handshake driver, and the per-connection read/write pumps that
// carry post-handshake commands into the shared auth/room/dispatch
// services (spec §4.1-§4.3, §4.5).
package tcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/auth"
	"github.com/lair-chat/server/internal/v1/command"
	"github.com/lair-chat/server/internal/v1/crypto"
	"github.com/lair-chat/server/internal/v1/logging"
	"github.com/lair-chat/server/internal/v1/metrics"
	"github.com/lair-chat/server/internal/v1/protocol"
)

// sendQueueDepth bounds how many outbound frames a slow reader may have
// buffered before the writer starts dropping the oldest (spec §4.8).
const sendQueueDepth = 64

// handshakeTimeout bounds how long a connection may sit in any pre-Ready
// state before it is torn down (spec §8: a stalled handshake is fatal).
const handshakeTimeout = 10 * time.Second

// Deps is the TCP adapter's name for the shared service bundle every
// connection's command dispatch reaches into; the WebSocket adapter uses the
// same underlying type via command.Deps.
type Deps = command.Deps

// conn is one accepted TCP connection carried through the handshake and
// into steady-state command processing.
type conn struct {
	nc    net.Conn
	deps  *Deps
	state State

	keyPair       *crypto.KeyPair
	peerPublicKey [crypto.KeySize]byte
	sessionKey    [crypto.KeySize]byte

	sessionID string
	userID    string
	username  string

	send chan []byte
	done chan struct{}
}

// sendQueue implements registry.Outbound over this connection's buffered
// channel, dropping the oldest pending frame when the queue is full rather
// than blocking the dispatcher (spec §4.8).
type sendQueue struct{ c *conn }

func (q sendQueue) Send(payload []byte) (dropped bool) {
	select {
	case q.c.send <- payload:
		return false
	default:
		select {
		case <-q.c.send:
			dropped = true
		default:
		}
		select {
		case q.c.send <- payload:
		default:
		}
		return dropped
	}
}

func (q sendQueue) Close() error { return q.c.nc.Close() }

// Serve drives one accepted connection end to end: handshake, then
// steady-state command processing, until the peer disconnects or a
// protocol violation tears the connection down.
func Serve(nc net.Conn, deps *Deps) {
	c := &conn{
		nc:    nc,
		deps:  deps,
		state: AwaitingServerHello,
		send:  make(chan []byte, sendQueueDepth),
		done:  make(chan struct{}),
	}
	defer c.teardown()

	metrics.IncTCPConnection()
	defer metrics.DecTCPConnection()

	go c.writePump()

	if err := c.handshake(); err != nil {
		logging.Warn(nil, "tcp: handshake failed", zap.String("remote", nc.RemoteAddr().String()), zap.Error(err))
		metrics.HandshakeFailures.WithLabelValues(reasonFor(err)).Inc()
		return
	}

	c.readLoop()
}

func reasonFor(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return string(ae.Kind)
	}
	return "internal"
}

func (c *conn) teardown() {
	close(c.done)
	c.nc.Close()
	if c.sessionID != "" {
		wasLast, _ := c.deps.Registry.Unregister(c.sessionID)
		if wasLast {
			command.BroadcastPresence(c.deps, c.userID, protocol.EvtUserOffline)
		}
	}
}

// handshake drives AwaitingServerHello through AwaitingAuthenticate. The
// hello frames are cleartext JSON (spec §4.3); from the Authenticate command
// on, which is read while still in AwaitingAuthenticate, every frame is
// AEAD-sealed.
func (c *conn) handshake() error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "generate ephemeral keypair", err)
	}
	c.keyPair = kp

	hello := protocol.ServerHello{
		Type:    "server_hello",
		Version: protocol.ProtocolVersion,
		PubKey:  encodeKey(kp.Public),
	}
	if err := writeJSON(c.nc, hello); err != nil {
		return apperr.Wrap(apperr.Internal, "write server hello", err)
	}
	c.state = AwaitingClientHello

	c.nc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var clientHello protocol.ClientHello
	if err := readJSON(c.nc, &clientHello); err != nil {
		return apperr.Wrap(apperr.Protocol, "read client hello", err)
	}
	if clientHello.Version != protocol.ProtocolVersion {
		return apperr.Validationf("protocol version mismatch: server=%s client=%s", protocol.ProtocolVersion, clientHello.Version)
	}
	peerKey, err := decodeKey(clientHello.PubKey)
	if err != nil {
		return apperr.Wrap(apperr.Protocol, "decode client public key", err)
	}
	c.peerPublicKey = peerKey
	c.state = AwaitingKeyExchange

	shared, err := crypto.SharedSecret(c.keyPair.Private, c.peerPublicKey)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "compute shared secret", err)
	}
	c.sessionKey = crypto.DeriveSessionKey(shared)
	c.state = AwaitingAuthenticate

	return c.awaitAuthenticate()
}

func (c *conn) awaitAuthenticate() error {
	c.nc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	payload, err := c.readEncryptedFrame()
	if err != nil {
		return apperr.Wrap(apperr.Protocol, "read authenticate frame", err)
	}

	var cmd protocol.AuthenticateCmd
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode authenticate command", err)
	}
	if cmd.Type != protocol.CmdAuthenticate {
		return apperr.Validationf("expected authenticate command, got %q", cmd.Type)
	}

	ctx := context.Background()
	result, err := command.AuthenticateUser(ctx, c.deps, cmd)
	if err != nil {
		c.sendAuthResponse(cmd.RequestID, false, reasonFor(err), nil)
		return err
	}

	c.userID = result.User.ID
	c.username = result.User.Username
	live := c.deps.Registry.Register(result.User.ID, result.User.Username, cmd.Device, c.sessionKey, sendQueue{c})
	c.sessionID = live.SessionID
	c.state = Ready

	c.sendAuthResponse(cmd.RequestID, true, "", result)

	c.deps.Rooms.JoinLobby(c.userID)
	command.BroadcastPresence(c.deps, c.userID, protocol.EvtUserOnline)
	logging.Info(nil, "tcp: authenticated", zap.String("user_id", c.userID), zap.String("session_id", c.sessionID))
	return nil
}

func (c *conn) sendAuthResponse(requestID string, ok bool, reason string, result *auth.Result) {
	resp := command.BuildAuthResponse(requestID, ok, reason, result)
	payload, _ := json.Marshal(resp)
	c.sealAndEnqueue(payload)
}

func (c *conn) sealAndEnqueue(payload []byte) {
	nonce, ciphertext, err := crypto.Seal(c.sessionKey, payload)
	if err != nil {
		logging.Error(nil, "tcp: seal failed", zap.Error(err))
		return
	}
	frame := make([]byte, crypto.NonceSize+len(ciphertext))
	copy(frame, nonce[:])
	copy(frame[crypto.NonceSize:], ciphertext)
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

func (c *conn) readEncryptedFrame() ([]byte, error) {
	raw, err := protocol.ReadFrame(c.nc)
	if err != nil {
		return nil, err
	}
	if len(raw) < crypto.NonceSize {
		return nil, apperr.Validationf("frame shorter than nonce")
	}
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], raw[:crypto.NonceSize])
	return crypto.Open(c.sessionKey, nonce, raw[crypto.NonceSize:])
}

// writePump is the only goroutine permitted to write to nc, mirroring the
// teacher's client.go readPump/writePump split so reads and writes never
// race on the same socket.
func (c *conn) writePump() {
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := protocol.WriteFrame(c.nc, frame); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop processes steady-state encrypted command frames once the
// connection has reached Ready. A ProtocolViolation is connection-fatal on
// TCP (spec §7): dispatchCommand's report ends the loop, and teardown (via
// Serve's defer) closes the socket.
func (c *conn) readLoop() {
	for {
		c.nc.SetReadDeadline(time.Time{})
		payload, err := c.readEncryptedFrame()
		if err != nil {
			return
		}
		if c.dispatchCommand(payload) {
			return
		}
	}
}

func encodeKey(k [crypto.KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(k[:])
}

func decodeKey(s string) ([crypto.KeySize]byte, error) {
	var out [crypto.KeySize]byte
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != crypto.KeySize {
		return out, fmt.Errorf("tcp: public key must be %d bytes, got %d", crypto.KeySize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func writeJSON(w net.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(w, payload)
}

func readJSON(r net.Conn, v any) error {
	payload, err := protocol.ReadFrame(r)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	return dec.Decode(v)
}
