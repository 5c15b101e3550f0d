// Package command implements the post-handshake JSON command/event protocol
// shared by every transport adapter (spec §4.5): decoding the "type"
// discriminator, routing to the matching handler, and turning domain state
// changes into dispatcher fan-out. The TCP adapter drives this over
// AEAD-sealed frames; the WebSocket adapter drives the identical handlers
// directly over cleartext JSON text frames (spec §6.3) — both hand this
// package a Session and never duplicate the routing logic themselves.
package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/auth"
	"github.com/lair-chat/server/internal/v1/dispatch"
	"github.com/lair-chat/server/internal/v1/logging"
	"github.com/lair-chat/server/internal/v1/metrics"
	"github.com/lair-chat/server/internal/v1/protocol"
	"github.com/lair-chat/server/internal/v1/registry"
	"github.com/lair-chat/server/internal/v1/room"
	"github.com/lair-chat/server/internal/v1/storage"
)

// Deps bundles the shared services every connection's command dispatch
// reaches into. One Deps is constructed at startup and handed to both the
// TCP listener and the WebSocket adapter.
type Deps struct {
	Auth       *auth.Service
	Rooms      *room.Engine
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher

	// Store persists messages so the REST history/search endpoints (spec
	// §6.2, §6.4 MessageRepository) can serve what the realtime adapters
	// delivered live. May be nil in tests that only exercise routing.
	Store *storage.Store
}

// Session is the minimal per-connection surface Dispatch needs. The TCP
// adapter's conn seals Reply frames under its session key; the WebSocket
// adapter's conn writes them as a plain text frame (spec §6.3).
type Session interface {
	UserID() string
	Username() string
	Deps() *Deps
	Reply(payload []byte)
	Close()
}

// Dispatch decodes the type discriminator first, then the concrete command,
// mirroring the teacher's assertPayload pattern for WebSocket payloads (spec
// §4.5: commands are JSON envelopes keyed by "type"). It reports fatal when
// the failure is a ProtocolViolation (spec §4.3, §7: malformed JSON, an
// unknown command type, or re-sending authenticate on an already-Ready
// connection) — the caller's read loop must close the connection in that
// case rather than keep reading.
func Dispatch(s Session, payload []byte) (fatal bool) {
	var head struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		SendError(s, "", apperr.Protocol, "malformed command")
		return true
	}

	start := time.Now()
	var err error
	switch head.Type {
	case protocol.CmdSendMessage:
		err = handleSendMessage(s, payload)
	case protocol.CmdJoinRoom:
		err = handleJoinRoom(s, payload)
	case protocol.CmdLeaveRoom:
		err = handleLeaveRoom(s, payload)
	case protocol.CmdCreateRoom:
		err = handleCreateRoom(s, payload)
	case protocol.CmdInviteUser:
		err = handleInviteUser(s, payload)
	case protocol.CmdRespondInvitation:
		err = handleRespondInvitation(s, payload)
	case protocol.CmdListUsers:
		err = handleListUsers(s, payload)
	case protocol.CmdTyping:
		err = handleTyping(s, payload)
	case protocol.CmdHeartbeat:
		s.Reply(mustMarshal(protocol.HeartbeatAck{Type: protocol.EvtHeartbeatAck}))
	case protocol.CmdDisconnect:
		s.Close()
	case protocol.CmdAuthenticate:
		err = apperr.Protocolf("authenticate already completed on this connection")
	default:
		err = apperr.Protocolf("unknown command type %q", head.Type)
	}
	metrics.CommandProcessingDuration.WithLabelValues(head.Type).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
		kind := apperr.KindOf(err)
		SendError(s, head.RequestID, kind, err.Error())
		logging.Warn(nil, "command: failed", zap.String("type", head.Type), zap.Error(err))
		if kind == apperr.Protocol {
			fatal = true
		}
	}
	metrics.CommandsProcessed.WithLabelValues(head.Type, status).Inc()
	return fatal
}

// SendError replies with a protocol-level error envelope. Exported so a
// transport adapter can report framing errors that occur before Dispatch is
// reachable (e.g. a non-UTF8 WebSocket text frame).
func SendError(s Session, requestID string, kind apperr.Kind, message string) {
	resp := protocol.ErrorResponse{Type: protocol.EvtError, RequestID: requestID, Kind: string(kind), Message: message}
	s.Reply(mustMarshal(resp))
}

func mustMarshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// AuthenticateUser resolves an AuthenticateCmd to an auth.Result via whichever
// credential the command carries, shared by every transport's handshake.
func AuthenticateUser(ctx context.Context, deps *Deps, cmd protocol.AuthenticateCmd) (*auth.Result, error) {
	if cmd.Token != "" {
		return deps.Auth.AuthenticateWithToken(ctx, cmd.Token)
	}
	return deps.Auth.AuthenticateWithPassword(ctx, cmd.Username, cmd.Password, cmd.Device)
}

// BuildAuthResponse assembles the AuthenticateResponse envelope, shared by
// every transport so a successful and a failed login look identical on the
// wire regardless of which adapter served them.
func BuildAuthResponse(requestID string, ok bool, reason string, result *auth.Result) protocol.AuthenticateResponse {
	resp := protocol.AuthenticateResponse{
		Type:      protocol.EvtAuthenticateResponse,
		RequestID: requestID,
		OK:        ok,
		Reason:    reason,
	}
	if ok && result != nil {
		resp.User = &protocol.UserView{ID: result.User.ID, Username: result.User.Username, DisplayName: result.User.DisplayName, Role: result.User.Role}
		resp.Session = &protocol.SessionView{
			ID:        result.Session.ID,
			IssuedAt:  result.Session.IssuedAt.Unix(),
			ExpiresAt: result.Session.ExpiresAt.Unix(),
		}
	}
	return resp
}

// BroadcastPresence announces userID's online/offline transition to every
// other member of every room they belong to. Presence is derived from live
// registry state, never stored (spec §4.7).
func BroadcastPresence(deps *Deps, userID, eventType string) {
	for _, rm := range deps.Rooms.RoomsForUser(userID) {
		roomID, _, _ := rm.View()
		members, err := deps.Rooms.Members(roomID)
		if err != nil {
			continue
		}
		evt := struct {
			Type   string `json:"type"`
			RoomID string `json:"room_id"`
			UserID string `json:"user_id"`
		}{Type: eventType, RoomID: roomID, UserID: userID}
		deps.Dispatcher.ToRoomExcept(members, userID, evt)
	}
}

func handleSendMessage(s Session, payload []byte) error {
	var cmd protocol.SendMessageCmd
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode send_message", err)
	}
	if cmd.Content == "" {
		return apperr.Validationf("message content must not be empty")
	}

	deps := s.Deps()
	msgID := uuid.NewString()
	now := time.Now()
	view := protocol.MessageView{ID: msgID, Author: s.Username(), Content: cmd.Content, CreatedAt: now.Unix()}

	var persistTargetID string

	switch cmd.Target.Kind {
	case protocol.TargetRoom:
		if !deps.Rooms.IsMember(s.UserID(), cmd.Target.ID) {
			return apperr.Forbiddenf("not a member of this room")
		}
		members, err := deps.Rooms.Members(cmd.Target.ID)
		if err != nil {
			return err
		}
		evt := protocol.MessageReceived{Type: protocol.EvtMessageReceived, Target: cmd.Target, Message: view}
		deps.Dispatcher.ToRoomExcept(members, s.UserID(), evt)
		deps.Dispatcher.PublishRoomEvent(context.Background(), cmd.Target.ID, protocol.EvtMessageReceived, evt)
		persistTargetID = cmd.Target.ID
	case protocol.TargetUser:
		evt := protocol.MessageReceived{Type: protocol.EvtMessageReceived, Target: protocol.Target{Kind: protocol.TargetUser, ID: s.UserID()}, Message: view}
		deps.Dispatcher.ToUser(cmd.Target.ID, evt)
		persistTargetID = room.DMKey(s.UserID(), cmd.Target.ID)
	default:
		return apperr.Validationf("unknown target kind %q", cmd.Target.Kind)
	}

	if deps.Store != nil {
		msg := &storage.Message{
			ID:         msgID,
			TargetKind: string(cmd.Target.Kind),
			TargetID:   persistTargetID,
			AuthorID:   s.UserID(),
			Content:    cmd.Content,
			CreatedAt:  now,
		}
		if err := deps.Store.SaveMessage(context.Background(), msg); err != nil {
			logging.Error(nil, "command: save message failed", zap.Error(err))
		}
	}

	s.Reply(mustMarshal(protocol.MessageAccepted{Type: protocol.EvtMessageAccepted, RequestID: cmd.RequestID, MessageID: msgID}))
	return nil
}

func handleJoinRoom(s Session, payload []byte) error {
	var cmd protocol.JoinRoomCmd
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode join_room", err)
	}
	deps := s.Deps()
	rm, err := deps.Rooms.Join(s.UserID(), cmd.Room)
	if err != nil {
		return err
	}
	id, name, privacy := rm.View()
	view := protocol.RoomView{ID: id, Name: name, Privacy: string(privacy), Kind: "room"}
	s.Reply(mustMarshal(protocol.RoomJoined{Type: protocol.EvtRoomJoined, RequestID: cmd.RequestID, Room: view}))

	members, _ := deps.Rooms.Members(id)
	deps.Dispatcher.ToRoomExcept(members, s.UserID(), protocol.UserJoinedRoom{
		Type: protocol.EvtUserJoinedRoom, RoomID: id, User: protocol.UserView{ID: s.UserID(), Username: s.Username()},
	})
	return nil
}

func handleLeaveRoom(s Session, payload []byte) error {
	var cmd protocol.LeaveRoomCmd
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode leave_room", err)
	}
	deps := s.Deps()
	members, _ := deps.Rooms.Members(cmd.RoomID)
	if err := deps.Rooms.Leave(s.UserID(), cmd.RoomID); err != nil {
		return err
	}
	s.Reply(mustMarshal(protocol.RoomLeft{Type: protocol.EvtRoomLeft, RequestID: cmd.RequestID, RoomID: cmd.RoomID}))
	deps.Dispatcher.ToRoomExcept(members, s.UserID(), protocol.UserLeftRoom{Type: protocol.EvtUserLeftRoom, RoomID: cmd.RoomID, UserID: s.UserID()})
	return nil
}

func handleCreateRoom(s Session, payload []byte) error {
	var cmd protocol.CreateRoomCmd
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode create_room", err)
	}
	privacy := room.Privacy(cmd.Privacy)
	if privacy == "" {
		privacy = room.Public
	}
	deps := s.Deps()
	rm, err := deps.Rooms.CreateRoom(s.UserID(), cmd.Name, privacy)
	if err != nil {
		return err
	}
	id, name, p := rm.View()
	view := protocol.RoomView{ID: id, Name: name, Privacy: string(p), Kind: "room"}
	s.Reply(mustMarshal(protocol.RoomCreated{Type: protocol.EvtRoomCreated, RequestID: cmd.RequestID, Room: view}))
	return nil
}

func handleInviteUser(s Session, payload []byte) error {
	var cmd protocol.InviteUserCmd
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode invite_user", err)
	}
	deps := s.Deps()
	invitee, err := deps.Auth.UserByUsername(context.Background(), cmd.InviteeUsername)
	if err != nil {
		return apperr.NotFoundf("user %q not found", cmd.InviteeUsername)
	}
	inv, err := deps.Rooms.Invite(s.UserID(), cmd.RoomID, invitee.ID)
	if err != nil {
		return err
	}
	view := protocol.InvitationView{ID: inv.ID, RoomID: inv.RoomID, Inviter: s.Username(), Invitee: cmd.InviteeUsername, Status: inv.Status}
	s.Reply(mustMarshal(protocol.InvitationSent{Type: protocol.EvtInvitationSent, RequestID: cmd.RequestID, Invitation: view}))
	deps.Dispatcher.ToUser(invitee.ID, protocol.InvitationReceived{Type: protocol.EvtInvitationReceived, Invitation: view})
	return nil
}

func handleRespondInvitation(s Session, payload []byte) error {
	var cmd protocol.RespondInvitationCmd
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode respond_invitation", err)
	}
	deps := s.Deps()
	inv, err := deps.Rooms.RespondInvitation(s.UserID(), cmd.InvitationID, cmd.Accept)
	if err != nil {
		return err
	}
	s.Reply(mustMarshal(protocol.InvitationResponded{
		Type: protocol.EvtInvitationResponded, RequestID: cmd.RequestID, InvitationID: inv.ID, Accepted: cmd.Accept,
	}))
	return nil
}

func handleListUsers(s Session, payload []byte) error {
	var cmd protocol.ListUsersCmd
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode list_users", err)
	}
	online := s.Deps().Registry.OnlineUsers()
	views := make([]protocol.UserView, 0, len(online))
	for _, u := range online {
		views = append(views, protocol.UserView{ID: u.UserID, Username: u.Username, Online: true})
	}
	s.Reply(mustMarshal(protocol.UserList{Type: protocol.EvtUserList, RequestID: cmd.RequestID, Users: views}))
	return nil
}

func handleTyping(s Session, payload []byte) error {
	var cmd protocol.TypingCmd
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return apperr.Wrap(apperr.Protocol, "decode typing", err)
	}
	deps := s.Deps()
	evt := protocol.TypingIndicator{Type: protocol.EvtTypingIndicator, Target: cmd.Target, UserID: s.UserID()}
	switch cmd.Target.Kind {
	case protocol.TargetRoom:
		deps.Rooms.SetTyping(s.UserID(), cmd.Target.ID)
		members, err := deps.Rooms.Members(cmd.Target.ID)
		if err != nil {
			return err
		}
		deps.Dispatcher.ToRoomExcept(members, s.UserID(), evt)
	case protocol.TargetUser:
		deps.Dispatcher.ToUser(cmd.Target.ID, evt)
	}
	return nil
}
