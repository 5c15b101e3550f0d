// Package room is the in-memory, authoritative room/presence/DM engine
// (spec §4.6-§4.7). Every mutation to a single room is serialized through
// that room's own mutex; there is no global lock, mirroring the teacher's
// per-room Room.mu in session/room.go.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/logging"
	"github.com/lair-chat/server/internal/v1/storage"
)

// Role re-exports storage's membership role enum (spec §3:
// RoomMembership.role ∈ Owner|Moderator|Member) so callers in this package
// never need to import storage just to compare roles.
type Role = storage.MembershipRole

const (
	RoleOwner     = storage.MembershipOwner
	RoleModerator = storage.MembershipModerator
	RoleMember    = storage.MembershipMember
)

// Privacy distinguishes a room any authenticated user may join from one that
// requires an invitation.
type Privacy string

const (
	Public  Privacy = "public"
	Private Privacy = "private"
)

// LobbyID is the well-known id of the room every authenticated session is
// implicitly a member of and can never leave (spec §4.6: "Lobby: implicit
// membership for every authenticated session").
const LobbyID = "lobby"
const LobbyName = "Lobby"

// Room is one chat room: its membership and its pending invitations. Typing
// indicators are tracked per-room with a last-seen timestamp so an engine
// tick can expire stale ones without a client-side Disconnect.
type Room struct {
	mu      sync.Mutex
	ID      string
	Name    string
	Privacy Privacy
	members map[string]Role // user_id -> role
	typing  map[string]time.Time
	created time.Time
}

func newRoom(id, name string, privacy Privacy) *Room {
	return &Room{
		ID:      id,
		Name:    name,
		Privacy: privacy,
		members: make(map[string]Role),
		typing:  make(map[string]time.Time),
		created: time.Now(),
	}
}

func (r *Room) snapshot() (members []string, privacy Privacy, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.members))
	for uid := range r.members {
		out = append(out, uid)
	}
	return out, r.Privacy, r.Name
}

// RoleOf returns the caller's role within the room, and whether they are a
// member at all.
func (r *Room) RoleOf(userID string) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.members[userID]
	return role, ok
}

// Invitation is a pending grant of membership in a private room.
type Invitation struct {
	ID      string
	RoomID  string
	Inviter string
	Invitee string
	Status  string // "pending", "accepted", "declined"
}

// Engine owns every room and invitation on this server instance. When
// store is non-nil, every mutation is written through to it so rooms,
// memberships and invitations survive a restart (spec §2: durable state);
// a nil store keeps the engine purely in-memory, which is what the test
// suite uses.
type Engine struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	roomsByName map[string]string // name -> id, for join-by-name
	invitations map[string]*Invitation
	store       *storage.Store
}

func NewEngine() *Engine {
	return NewEngineWithStore(nil)
}

// NewEngineWithStore builds an engine backed by store for write-through
// persistence. Call LoadFromStore afterward to rehydrate rooms, memberships
// and invitations left over from a previous run.
func NewEngineWithStore(store *storage.Store) *Engine {
	e := &Engine{
		rooms:       make(map[string]*Room),
		roomsByName: make(map[string]string),
		invitations: make(map[string]*Invitation),
		store:       store,
	}
	lobby := newRoom(LobbyID, LobbyName, Public)
	e.rooms[LobbyID] = lobby
	e.roomsByName[LobbyName] = LobbyID
	return e
}

// LoadFromStore rehydrates every non-Lobby room and its memberships from
// durable storage. Called once at startup, after NewEngineWithStore and
// before the server accepts connections (spec §2: a restart must not lose
// rooms/memberships). A nil store makes this a no-op.
func (e *Engine) LoadFromStore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	rows, err := e.store.ListRooms(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID == LobbyID {
			continue
		}
		rm := newRoom(row.ID, row.Name, Privacy(row.Privacy))
		members, err := e.store.ListMembers(ctx, row.ID)
		if err != nil {
			return err
		}
		for _, m := range members {
			rm.members[m.UserID] = m.Role
		}
		e.mu.Lock()
		e.rooms[rm.ID] = rm
		e.roomsByName[rm.Name] = rm.ID
		e.mu.Unlock()
	}

	invs, err := e.store.ListPendingInvitations(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, row := range invs {
		e.invitations[row.ID] = &Invitation{ID: row.ID, RoomID: row.RoomID, Inviter: row.InviterID, Invitee: row.InviteeID, Status: row.Status}
	}
	e.mu.Unlock()

	logging.Info(ctx, "room: rehydrated from storage", zap.Int("rooms", len(rows)), zap.Int("pending_invitations", len(invs)))
	return nil
}

// CreateRoom creates a new room owned implicitly by its creator (the creator
// is auto-joined as Owner, spec §4.5: "caller becomes Owner"). Room names
// must be unique (spec §4.6 edge cases).
func (e *Engine) CreateRoom(creatorID, name string, privacy Privacy) (*Room, error) {
	if name == "" {
		return nil, apperr.Validationf("room name must not be empty")
	}
	if privacy != Public && privacy != Private {
		return nil, apperr.Validationf("unknown room privacy %q", privacy)
	}

	e.mu.Lock()
	if _, exists := e.roomsByName[name]; exists {
		e.mu.Unlock()
		return nil, apperr.Conflictf("room %q already exists", name)
	}
	rm := newRoom(uuid.NewString(), name, privacy)
	e.rooms[rm.ID] = rm
	e.roomsByName[name] = rm.ID
	e.mu.Unlock()

	if e.store != nil {
		row := &storage.Room{ID: rm.ID, Name: rm.Name, Privacy: string(rm.Privacy), CreatedBy: creatorID}
		if err := e.store.CreateRoom(context.Background(), row); err != nil {
			e.mu.Lock()
			delete(e.rooms, rm.ID)
			delete(e.roomsByName, name)
			e.mu.Unlock()
			return nil, err
		}
	}

	rm.mu.Lock()
	rm.members[creatorID] = RoleOwner
	rm.mu.Unlock()
	if e.store != nil {
		if err := e.store.AddMembership(context.Background(), rm.ID, creatorID, RoleOwner); err != nil {
			logging.Warn(nil, "room: persist owner membership failed", zap.String("room_id", rm.ID), zap.Error(err))
		}
	}
	return rm, nil
}

// Resolve finds a room by id or, failing that, by name.
func (e *Engine) Resolve(idOrName string) (*Room, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if rm, ok := e.rooms[idOrName]; ok {
		return rm, true
	}
	if id, ok := e.roomsByName[idOrName]; ok {
		return e.rooms[id], true
	}
	return nil, false
}

// Join admits userID to a room. A public room admits anyone; a private room
// requires a prior accepted invitation (spec §4.6: "private rooms are
// invite-gated").
func (e *Engine) Join(userID, idOrName string) (*Room, error) {
	rm, ok := e.Resolve(idOrName)
	if !ok {
		return nil, apperr.NotFoundf("room %q not found", idOrName)
	}

	rm.mu.Lock()
	if _, already := rm.members[userID]; already {
		rm.mu.Unlock()
		return rm, nil
	}
	if rm.Privacy == Private {
		if !e.hasAcceptedInvitation(rm.ID, userID) {
			rm.mu.Unlock()
			return nil, apperr.Forbiddenf("room %q requires an invitation", rm.Name)
		}
	}
	rm.members[userID] = RoleMember
	rm.mu.Unlock()

	if e.store != nil {
		if err := e.store.AddMembership(context.Background(), rm.ID, userID, RoleMember); err != nil {
			logging.Warn(nil, "room: persist membership failed", zap.String("room_id", rm.ID), zap.Error(err))
		}
	}
	return rm, nil
}

func (e *Engine) hasAcceptedInvitation(roomID, userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, inv := range e.invitations {
		if inv.RoomID == roomID && inv.Invitee == userID && inv.Status == "accepted" {
			return true
		}
	}
	return false
}

// Leave removes userID from a room. Leaving the Lobby is rejected (spec
// §4.6: "cannot leave the Lobby").
func (e *Engine) Leave(userID, roomID string) error {
	if roomID == LobbyID {
		return apperr.Validationf("cannot leave the lobby")
	}
	rm, ok := e.Resolve(roomID)
	if !ok {
		return apperr.NotFoundf("room %q not found", roomID)
	}
	rm.mu.Lock()
	if _, ok := rm.members[userID]; !ok {
		rm.mu.Unlock()
		return apperr.Conflictf("not a member of room %q", rm.Name)
	}
	delete(rm.members, userID)
	delete(rm.typing, userID)
	rm.mu.Unlock()

	if e.store != nil {
		if err := e.store.RemoveMembership(context.Background(), rm.ID, userID); err != nil {
			logging.Warn(nil, "room: persist membership removal failed", zap.String("room_id", rm.ID), zap.Error(err))
		}
	}
	return nil
}

// Members returns the current member user ids of a room.
func (e *Engine) Members(roomID string) ([]string, error) {
	rm, ok := e.Resolve(roomID)
	if !ok {
		return nil, apperr.NotFoundf("room %q not found", roomID)
	}
	members, _, _ := rm.snapshot()
	return members, nil
}

// JoinLobby admits userID to the Lobby. Called once at authentication time
// so every connected user has at least one room membership (spec §4.6:
// "implicit membership for every authenticated session").
func (e *Engine) JoinLobby(userID string) {
	lobby, _ := e.Resolve(LobbyID)
	lobby.mu.Lock()
	_, already := lobby.members[userID]
	lobby.members[userID] = RoleMember
	lobby.mu.Unlock()

	if !already && e.store != nil {
		if err := e.store.AddMembership(context.Background(), LobbyID, userID, RoleMember); err != nil {
			logging.Warn(nil, "room: persist lobby membership failed", zap.Error(err))
		}
	}
}

// RoomsForUser returns every room userID currently belongs to. Rooms are
// scanned under the engine's read lock; each room's own membership check
// takes that room's lock independently, so this never holds two locks at
// once.
func (e *Engine) RoomsForUser(userID string) []*Room {
	e.mu.RLock()
	rooms := make([]*Room, 0, len(e.rooms))
	for _, rm := range e.rooms {
		rooms = append(rooms, rm)
	}
	e.mu.RUnlock()

	var out []*Room
	for _, rm := range rooms {
		rm.mu.Lock()
		_, member := rm.members[userID]
		rm.mu.Unlock()
		if member {
			out = append(out, rm)
		}
	}
	return out
}

// Visible returns every public room plus any private room userID belongs
// to, for the supplemented GET /rooms listing (spec §6.2: room CRUD).
func (e *Engine) Visible(userID string) []*Room {
	e.mu.RLock()
	rooms := make([]*Room, 0, len(e.rooms))
	for _, rm := range e.rooms {
		rooms = append(rooms, rm)
	}
	e.mu.RUnlock()

	var out []*Room
	for _, rm := range rooms {
		rm.mu.Lock()
		_, member := rm.members[userID]
		visible := rm.Privacy == Public || member
		rm.mu.Unlock()
		if visible {
			out = append(out, rm)
		}
	}
	return out
}

// All returns every room regardless of privacy or membership, for the
// supplemented admin room listing (SUPPLEMENTED FEATURES: admin queries see
// everything a regular GET /rooms call would hide).
func (e *Engine) All() []*Room {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Room, 0, len(e.rooms))
	for _, rm := range e.rooms {
		out = append(out, rm)
	}
	return out
}

// IsMember reports whether userID currently belongs to roomID, used to
// authorize SendMessage/Typing targeting that room.
func (e *Engine) IsMember(userID, roomID string) bool {
	rm, ok := e.Resolve(roomID)
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok = rm.members[userID]
	return ok
}

// View returns the wire-facing summary of a room.
func (rm *Room) View() (id, name string, privacy Privacy) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.ID, rm.Name, rm.Privacy
}

// SetTyping records that userID is typing in roomID, for a TTL governed by
// the server's periodic ExpireTyping sweep (spec SUPPLEMENTED FEATURES: typing-indicator
// auto-expiry).
func (e *Engine) SetTyping(userID, roomID string) {
	rm, ok := e.Resolve(roomID)
	if !ok {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.typing[userID] = time.Now()
}

// ExpireTyping clears typing markers older than ttl across every room,
// returning the (roomID, userID) pairs that expired so the caller can
// broadcast a cleared TypingIndicator.
func (e *Engine) ExpireTyping(ttl time.Duration) []struct{ RoomID, UserID string } {
	var expired []struct{ RoomID, UserID string }
	cutoff := time.Now().Add(-ttl)

	e.mu.RLock()
	rooms := make([]*Room, 0, len(e.rooms))
	for _, rm := range e.rooms {
		rooms = append(rooms, rm)
	}
	e.mu.RUnlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		for uid, last := range rm.typing {
			if last.Before(cutoff) {
				delete(rm.typing, uid)
				expired = append(expired, struct{ RoomID, UserID string }{rm.ID, uid})
			}
		}
		rm.mu.Unlock()
	}
	return expired
}

// Invite records a pending invitation to a private room. The inviter must
// already be a member (spec §4.6 edge case: non-members cannot invite).
func (e *Engine) Invite(inviterID, roomID, inviteeID string) (*Invitation, error) {
	rm, ok := e.Resolve(roomID)
	if !ok {
		return nil, apperr.NotFoundf("room %q not found", roomID)
	}
	if !e.IsMember(inviterID, roomID) {
		return nil, apperr.Forbiddenf("must be a member of %q to invite", rm.Name)
	}

	inv := &Invitation{
		ID:      uuid.NewString(),
		RoomID:  roomID,
		Inviter: inviterID,
		Invitee: inviteeID,
		Status:  "pending",
	}
	e.mu.Lock()
	e.invitations[inv.ID] = inv
	e.mu.Unlock()

	if e.store != nil {
		row := &storage.Invitation{ID: inv.ID, RoomID: inv.RoomID, InviterID: inv.Inviter, InviteeID: inv.Invitee, Status: inv.Status}
		if err := e.store.CreateInvitation(context.Background(), row); err != nil {
			logging.Warn(nil, "room: persist invitation failed", zap.String("invitation_id", inv.ID), zap.Error(err))
		}
	}
	return inv, nil
}

// RespondInvitation accepts or declines a pending invitation addressed to
// responderID, and on acceptance admits them to the room.
func (e *Engine) RespondInvitation(responderID, invitationID string, accept bool) (*Invitation, error) {
	e.mu.Lock()
	inv, ok := e.invitations[invitationID]
	e.mu.Unlock()
	if !ok {
		return nil, apperr.NotFoundf("invitation %q not found", invitationID)
	}
	if inv.Invitee != responderID {
		return nil, apperr.Forbiddenf("invitation does not belong to this user")
	}
	if inv.Status != "pending" {
		return nil, apperr.Conflictf("invitation already %s", inv.Status)
	}

	if accept {
		inv.Status = "accepted"
		if rm, ok := e.Resolve(inv.RoomID); ok {
			rm.mu.Lock()
			rm.members[responderID] = RoleMember
			rm.mu.Unlock()
			if e.store != nil {
				if err := e.store.AddMembership(context.Background(), rm.ID, responderID, RoleMember); err != nil {
					logging.Warn(nil, "room: persist invitation-granted membership failed", zap.String("room_id", rm.ID), zap.Error(err))
				}
			}
		}
	} else {
		inv.Status = "declined"
	}

	if e.store != nil {
		if err := e.store.UpdateInvitationStatus(context.Background(), inv.ID, inv.Status); err != nil {
			logging.Warn(nil, "room: persist invitation status failed", zap.String("invitation_id", inv.ID), zap.Error(err))
		}
	}
	return inv, nil
}

// InvitationsFor returns pending invitations addressed to userID.
func (e *Engine) InvitationsFor(userID string) []*Invitation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Invitation
	for _, inv := range e.invitations {
		if inv.Invitee == userID && inv.Status == "pending" {
			out = append(out, inv)
		}
	}
	return out
}

// DMKey returns the canonical, order-independent conversation key for a pair
// of user ids (spec §4.7: "canonical sorted-pair key").
func DMKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
