package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lair-chat/server/internal/v1/bus"
	"github.com/lair-chat/server/internal/v1/crypto"
	"github.com/lair-chat/server/internal/v1/registry"
	"github.com/lair-chat/server/internal/v1/room"
)

type recordingOutbound struct {
	frames [][]byte
}

func (r *recordingOutbound) Send(payload []byte) (dropped bool) {
	r.frames = append(r.frames, payload)
	return false
}
func (r *recordingOutbound) Close() error { return nil }

type pingEvent struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

func TestToSessionEncryptsUnderSessionKey(t *testing.T) {
	reg := registry.New()
	out := &recordingOutbound{}
	key := [crypto.KeySize]byte{1, 2, 3}
	sess := reg.Register("u1", "alice", "cli", key, out)

	d := New(reg)
	d.ToSession(sess.SessionID, pingEvent{Type: "ping", Msg: "hi"})

	require.Len(t, out.frames, 1)
	frame := out.frames[0]
	require.Greater(t, len(frame), crypto.NonceSize)

	var nonce [crypto.NonceSize]byte
	copy(nonce[:], frame[:crypto.NonceSize])
	plaintext, err := crypto.Open(key, nonce, frame[crypto.NonceSize:])
	require.NoError(t, err)

	var got pingEvent
	require.NoError(t, json.Unmarshal(plaintext, &got))
	require.Equal(t, "hi", got.Msg)
}

func TestToSessionUnknownSessionIsNoop(t *testing.T) {
	d := New(registry.New())
	require.NotPanics(t, func() {
		d.ToSession("does-not-exist", pingEvent{Type: "ping"})
	})
}

func TestToSessionPlainDeliversCleartext(t *testing.T) {
	reg := registry.New()
	out := &recordingOutbound{}
	sess := reg.Register("u1", "alice", "cli", [crypto.KeySize]byte{}, out)

	d := New(reg)
	d.ToSessionPlain(sess.SessionID, pingEvent{Type: "ping", Msg: "plain"})

	require.Len(t, out.frames, 1)
	var got pingEvent
	require.NoError(t, json.Unmarshal(out.frames[0], &got))
	require.Equal(t, "plain", got.Msg)
}

func TestToUserFansOutToEverySession(t *testing.T) {
	reg := registry.New()
	out1 := &recordingOutbound{}
	out2 := &recordingOutbound{}
	reg.Register("u1", "alice", "phone", [crypto.KeySize]byte{1}, out1)
	reg.Register("u1", "alice", "laptop", [crypto.KeySize]byte{2}, out2)

	d := New(reg)
	delivered := d.ToUser("u1", pingEvent{Type: "ping"})

	require.Equal(t, 2, delivered)
	require.Len(t, out1.frames, 1)
	require.Len(t, out2.frames, 1)
}

func TestToRoomExceptSkipsOriginator(t *testing.T) {
	reg := registry.New()
	outA := &recordingOutbound{}
	outB := &recordingOutbound{}
	reg.Register("a", "alice", "cli", [crypto.KeySize]byte{1}, outA)
	reg.Register("b", "bob", "cli", [crypto.KeySize]byte{2}, outB)

	d := New(reg)
	d.ToRoomExcept([]string{"a", "b"}, "a", pingEvent{Type: "ping"})

	require.Empty(t, outA.frames)
	require.Len(t, outB.frames, 1)
}

func TestPublishRoomEventNoopWithoutBus(t *testing.T) {
	d := New(registry.New())
	require.NotPanics(t, func() {
		d.PublishRoomEvent(nil, "room-1", "message_received", pingEvent{Type: "ping"})
	})
}

func TestIngestSkipsOwnInstance(t *testing.T) {
	d := New(registry.New())
	d.instanceID = "self"
	// No rooms configured (cross-instance fanout disabled); Ingest must
	// return without panicking regardless of SenderID.
	require.NotPanics(t, func() {
		d.Ingest(bus.PubSubPayload{SenderID: "self", RoomID: "room-1", Event: "x"})
	})
	require.NotPanics(t, func() {
		d.Ingest(bus.PubSubPayload{SenderID: "other", RoomID: "room-1", Event: "x"})
	})

	// With rooms configured, an event this instance published itself is not
	// re-delivered, while one from another instance reaches the local member.
	reg := registry.New()
	out := &recordingOutbound{}
	reg.Register("u1", "alice", "cli", [crypto.KeySize]byte{1}, out)
	rooms := room.NewEngine()
	rooms.JoinLobby("u1")
	d = New(reg)
	d.EnableCrossInstance(nil, rooms, "self")

	payload := json.RawMessage(`{"type":"x"}`)
	d.Ingest(bus.PubSubPayload{SenderID: "self", RoomID: room.LobbyID, Event: "x", Payload: payload})
	require.Empty(t, out.frames)

	d.Ingest(bus.PubSubPayload{SenderID: "other", RoomID: room.LobbyID, Event: "x", Payload: payload})
	require.Len(t, out.frames, 1)
}
