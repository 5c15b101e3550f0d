package protocol

import "encoding/json"

// ProtocolVersion is exchanged in the pre-handshake hellos (§4.3). A
// mismatch is fatal with a named reason.
const ProtocolVersion = "1.1"

// ServerHello is the first frame the server sends on every TCP connection,
// cleartext JSON (§4.3 state AwaitingServerHello, §6.1).
type ServerHello struct {
	Type    string `json:"type"` // always "server_hello"
	Version string `json:"version"`
	PubKey  string `json:"pubkey"` // base64(32B) X25519 public key
}

// ClientHello is the client's response, cleartext JSON.
type ClientHello struct {
	Type    string `json:"type"` // always "client_hello"
	Version string `json:"version"`
	PubKey  string `json:"pubkey"`
}

// TargetKind distinguishes a room-addressed command from a peer-addressed
// (direct message) one.
type TargetKind string

const (
	TargetRoom TargetKind = "room"
	TargetUser TargetKind = "user"
)

// Target addresses a SendMessage/Typing command at either a room (by id or
// name, resolved server-side) or a peer user id for a DM.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

// Envelope is the outer shape of every encrypted (post-handshake) frame.
// Adapters decode Type first, then re-decode the same bytes into the
// concrete command/event struct — the same two-step json.RawMessage pattern
// the teacher's assertPayload helper used for WebSocket payloads.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// Command type discriminators (§4.5).
const (
	CmdAuthenticate      = "authenticate"
	CmdSendMessage       = "send_message"
	CmdJoinRoom          = "join_room"
	CmdLeaveRoom         = "leave_room"
	CmdCreateRoom        = "create_room"
	CmdInviteUser        = "invite_user"
	CmdRespondInvitation = "respond_invitation"
	CmdListUsers         = "list_users"
	CmdTyping            = "typing"
	CmdHeartbeat         = "heartbeat"
	CmdDisconnect        = "disconnect"
)

// Event type discriminators (§4.5, §6.1).
const (
	EvtAuthenticateResponse = "authenticate_response"
	EvtMessageAccepted      = "message_accepted"
	EvtMessageReceived      = "message_received"
	EvtRoomJoined           = "room_joined"
	EvtUserJoinedRoom       = "user_joined_room"
	EvtRoomLeft             = "room_left"
	EvtUserLeftRoom         = "user_left_room"
	EvtRoomCreated          = "room_created"
	EvtInvitationSent       = "invitation_sent"
	EvtInvitationReceived   = "invitation_received"
	EvtInvitationResponded  = "invitation_responded"
	EvtUserList             = "user_list"
	EvtTypingIndicator      = "typing_indicator"
	EvtHeartbeatAck         = "heartbeat_ack"
	EvtUserOnline           = "user_online"
	EvtUserOffline          = "user_offline"
	EvtError                = "error"
)

// AuthenticateCmd carries either a bearer token (from a prior REST login) or
// a username/password pair (§4.3 AwaitingAuthenticate, §6.1).
type AuthenticateCmd struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Token     string `json:"token,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Device    string `json:"device,omitempty"`
}

type UserView struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	Online      bool   `json:"online,omitempty"`
}

type SessionView struct {
	ID             string `json:"id"`
	IssuedAt       int64  `json:"issued_at"`
	ExpiresAt      int64  `json:"expires_at"`
	LastActivityAt int64  `json:"last_activity_at,omitempty"`
}

type AuthenticateResponse struct {
	Type      string        `json:"type"`
	RequestID string        `json:"request_id"`
	OK        bool          `json:"ok"`
	Reason    string        `json:"reason,omitempty"`
	User      *UserView     `json:"user,omitempty"`
	Session   *SessionView  `json:"session,omitempty"`
}

type SendMessageCmd struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Target    Target `json:"target"`
	Content   string `json:"content"`
}

type MessageView struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	Edited    bool   `json:"edited"`
}

type MessageAccepted struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	MessageID string `json:"message_id"`
}

type MessageReceived struct {
	Type    string      `json:"type"`
	Target  Target      `json:"target"`
	Message MessageView `json:"message"`
}

type JoinRoomCmd struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Room      string `json:"room"` // id or name
}

type RoomView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Privacy string `json:"privacy"`
	Kind    string `json:"room_type"`
}

type RoomJoined struct {
	Type      string   `json:"type"`
	RequestID string   `json:"request_id"`
	Room      RoomView `json:"room"`
}

type UserJoinedRoom struct {
	Type   string   `json:"type"`
	RoomID string   `json:"room_id"`
	User   UserView `json:"user"`
}

type LeaveRoomCmd struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	RoomID    string `json:"room_id"`
}

type RoomLeft struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	RoomID    string `json:"room_id"`
}

type UserLeftRoom struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type CreateRoomCmd struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Name      string `json:"name"`
	Privacy   string `json:"privacy"`
}

type RoomCreated struct {
	Type      string   `json:"type"`
	RequestID string   `json:"request_id"`
	Room      RoomView `json:"room"`
}

type InviteUserCmd struct {
	Type          string `json:"type"`
	RequestID     string `json:"request_id"`
	RoomID        string `json:"room_id"`
	InviteeUsername string `json:"invitee_username"`
}

type InvitationView struct {
	ID       string `json:"id"`
	RoomID   string `json:"room_id"`
	Inviter  string `json:"inviter"`
	Invitee  string `json:"invitee"`
	Status   string `json:"status"`
}

type InvitationSent struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id"`
	Invitation InvitationView `json:"invitation"`
}

type InvitationReceived struct {
	Type       string         `json:"type"`
	Invitation InvitationView `json:"invitation"`
}

type RespondInvitationCmd struct {
	Type         string `json:"type"`
	RequestID    string `json:"request_id"`
	InvitationID string `json:"invitation_id"`
	Accept       bool   `json:"accept"`
}

type InvitationResponded struct {
	Type         string `json:"type"`
	RequestID    string `json:"request_id"`
	InvitationID string `json:"invitation_id"`
	Accepted     bool   `json:"accepted"`
}

type ListUsersCmd struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

type UserList struct {
	Type      string     `json:"type"`
	RequestID string     `json:"request_id"`
	Users     []UserView `json:"users"`
}

type TypingCmd struct {
	Type   string `json:"type"`
	Target Target `json:"target"`
}

type TypingIndicator struct {
	Type   string `json:"type"`
	Target Target `json:"target"`
	UserID string `json:"user_id"`
}

type HeartbeatCmd struct {
	Type string `json:"type"`
}

type HeartbeatAck struct {
	Type string `json:"type"`
}

type DisconnectCmd struct {
	Type string `json:"type"`
}

// ErrorResponse is the post-handshake wire form of an apperr.Error — the
// "short machine-readable kind and a human-readable message" from §7.
type ErrorResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}
