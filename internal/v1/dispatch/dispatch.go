// Package dispatch turns domain events (a message landed, a user joined a
// room, an invitation arrived) into concrete per-recipient encrypted frames
// delivered through the session registry (spec §4.8). It is the only
// component that reaches into both registry and crypto at once — adapters
// and the room/auth services never encrypt a frame themselves.
package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/lair-chat/server/internal/v1/bus"
	"github.com/lair-chat/server/internal/v1/crypto"
	"github.com/lair-chat/server/internal/v1/logging"
	"github.com/lair-chat/server/internal/v1/metrics"
	"github.com/lair-chat/server/internal/v1/registry"
	"github.com/lair-chat/server/internal/v1/room"
)

// Dispatcher fans domain events out to live sessions. Each adapter (TCP,
// WebSocket) registers its sessions with the same Registry, so a dispatcher
// instance is shared across both listeners per server process.
//
// When bus and rooms are set (via EnableCrossInstance), room broadcasts are
// additionally published to Redis so members connected to a different server
// process still receive them (spec SPEC_FULL.md domain stack: optional
// cross-instance dispatcher fanout).
type Dispatcher struct {
	registry   *registry.Registry
	bus        *bus.Service
	rooms      *room.Engine
	instanceID string
}

func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// EnableCrossInstance wires a Redis bus and the room engine into the
// dispatcher so room broadcasts fan out to other server processes. instanceID
// identifies this process so Ingest can skip its own echoes.
func (d *Dispatcher) EnableCrossInstance(svc *bus.Service, rooms *room.Engine, instanceID string) {
	d.bus = svc
	d.rooms = rooms
	d.instanceID = instanceID
}

// ToSession marshals event as JSON and hands it to the registry for
// delivery: sealed under the target session's negotiated key, or as
// cleartext JSON when the session was registered with RegisterPlain (the
// WebSocket adapter). A session that has since disconnected is silently
// skipped — the caller's job is best-effort fan-out, not guaranteed
// delivery (spec §4.8).
//
// TCP and WebSocket sessions both receive events through this entry point;
// ToSessionPlain delivers cleartext whatever the session's Plain flag.
func (d *Dispatcher) ToSession(sessionID string, event any) {
	sess, ok := d.registry.Lookup(sessionID)
	if !ok {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Error(nil, "dispatch: marshal event failed", zap.Error(err))
		return
	}
	if sess.Plain {
		if found, dropped := d.registry.Deliver(sessionID, payload); found && dropped {
			metrics.DispatchFramesDropped.Inc()
		}
		return
	}
	nonce, ciphertext, err := crypto.Seal(sess.SessionKey, payload)
	if err != nil {
		logging.Error(nil, "dispatch: seal frame failed", zap.Error(err))
		return
	}
	frame := make([]byte, crypto.NonceSize+len(ciphertext))
	copy(frame, nonce[:])
	copy(frame[crypto.NonceSize:], ciphertext)

	if found, dropped := d.registry.Deliver(sessionID, frame); found && dropped {
		metrics.DispatchFramesDropped.Inc()
	}
}

// ToSessionPlain delivers event as cleartext JSON, for adapters (WebSocket)
// whose transport already provides confidentiality (spec §6.3).
func (d *Dispatcher) ToSessionPlain(sessionID string, event any) {
	sess, ok := d.registry.Lookup(sessionID)
	if !ok {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Error(nil, "dispatch: marshal event failed", zap.Error(err))
		return
	}
	if found, dropped := d.registry.Deliver(sessionID, payload); found && dropped {
		metrics.DispatchFramesDropped.Inc()
	}
	_ = sess
}

// ToUser fans an event out to every session a user currently has open,
// encrypted individually (different sessions may have negotiated different
// keys).
func (d *Dispatcher) ToUser(userID string, event any) int {
	delivered := 0
	for _, sid := range d.registry.SessionsForUser(userID) {
		d.ToSession(sid, event)
		delivered++
	}
	return delivered
}

// ToRoom fans an event out to every member of a room who currently has a
// live session, given the room's member user ids.
func (d *Dispatcher) ToRoom(memberUserIDs []string, event any) {
	for _, uid := range memberUserIDs {
		d.ToUser(uid, event)
	}
}

// ToRoomExcept is ToRoom but skips one user id — the common case of
// broadcasting a join/leave/message notification to everyone but its
// originator, who already has the authoritative response frame.
func (d *Dispatcher) ToRoomExcept(memberUserIDs []string, exceptUserID string, event any) {
	for _, uid := range memberUserIDs {
		if uid == exceptUserID {
			continue
		}
		d.ToUser(uid, event)
	}
}

// PublishRoomEvent additionally fans a room event out over the cross-instance
// bus (if enabled), so members of roomID connected to a different server
// process receive it too. It does nothing beyond the in-process delivery
// already done by ToRoomExcept when cross-instance fanout isn't configured.
func (d *Dispatcher) PublishRoomEvent(ctx context.Context, roomID, eventType string, event any) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, roomID, eventType, event, d.instanceID); err != nil {
		logging.Warn(nil, "dispatch: cross-instance publish failed", zap.String("room_id", roomID), zap.Error(err))
	}
}

// Ingest is the bus.Subscribe handler that main wires up for the Lobby's
// channel, the only room channel it subscribes to: it re-delivers an event
// published by another instance to this instance's local members of the
// event's room, skipping the instance that originated it.
func (d *Dispatcher) Ingest(p bus.PubSubPayload) {
	if p.SenderID == d.instanceID || d.rooms == nil {
		return
	}
	members, err := d.rooms.Members(p.RoomID)
	if err != nil {
		return
	}
	var raw json.RawMessage = p.Payload
	for _, uid := range members {
		d.ToUser(uid, raw)
	}
}
