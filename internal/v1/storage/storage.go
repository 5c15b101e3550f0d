// Package storage is the persistence layer backing spec §6.4: users, rooms,
// memberships, messages, sessions and invitations, via uptrace/bun over a
// pure-Go modernc.org/sqlite driver. Schema changes ship as golang-migrate
// migrations embedded into the binary, applied once at startup.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/lair-chat/server/internal/v1/apperr"
)

// Role gates access to the admin query endpoints (spec §6.2, SUPPLEMENTED
// FEATURES admin queries). Every account carries exactly one.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleUser      = "user"
	RoleGuest     = "guest"
)

// User is a registered account. Email is optional (spec §3: "optional
// email") — registration may omit it entirely.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID           string    `bun:"id,pk"`
	Username     string    `bun:"username,notnull,unique"`
	DisplayName  string    `bun:"display_name,notnull"`
	Email        string    `bun:"email"`
	PasswordHash string    `bun:"password_hash,notnull"`
	Role         string    `bun:"role,notnull,default:'user'"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// IsStaff reports whether the user may reach the admin query endpoints.
func (u *User) IsStaff() bool {
	return u.Role == RoleAdmin || u.Role == RoleModerator
}

// Room is a chat room row; the Lobby is seeded once, outside of this table,
// by the room engine itself (spec §4.6) rather than by migration, since it
// has no owning user at bootstrap.
type Room struct {
	bun.BaseModel `bun:"table:rooms"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull,unique"`
	Privacy   string    `bun:"privacy,notnull"`
	CreatedBy string    `bun:"created_by,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// MembershipRole is a user's standing within one room (spec §3:
// RoomMembership.role ∈ Owner|Moderator|Member). The room's creator is
// recorded as Owner; everyone else who joins (directly or via an accepted
// invitation) is a Member until explicitly promoted.
type MembershipRole string

const (
	MembershipOwner     MembershipRole = "owner"
	MembershipModerator MembershipRole = "moderator"
	MembershipMember    MembershipRole = "member"
)

// RoomMembership is a junction row recording a user's membership in a room
// and their standing within it.
type RoomMembership struct {
	bun.BaseModel `bun:"table:room_memberships"`

	RoomID   string         `bun:"room_id,pk"`
	UserID   string         `bun:"user_id,pk"`
	Role     MembershipRole `bun:"role,notnull,default:'member'"`
	JoinedAt time.Time      `bun:"joined_at,nullzero,notnull,default:current_timestamp"`
}

// Message is a persisted chat message, addressed either at a room or at a
// DM conversation key (room.DMKey), per spec §4.7.
type Message struct {
	bun.BaseModel `bun:"table:messages"`

	ID         string    `bun:"id,pk"`
	TargetKind string    `bun:"target_kind,notnull"`
	TargetID   string    `bun:"target_id,notnull"`
	AuthorID   string    `bun:"author_id,notnull"`
	Content    string    `bun:"content,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	Edited     bool      `bun:"edited,notnull,default:false"`
}

// Session is a persistent, revocable authentication session — the backing
// store for the bearer tokens spec §4.3's token-based Authenticate flow
// validates against. This is distinct from registry.LiveSession, which
// tracks only currently-connected sockets on this instance.
type Session struct {
	bun.BaseModel `bun:"table:sessions"`

	ID             string    `bun:"id,pk"`
	UserID         string    `bun:"user_id,notnull"`
	Device         string    `bun:"device,notnull"`
	IssuedAt       time.Time `bun:"issued_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt      time.Time `bun:"expires_at,notnull"`
	Revoked        bool      `bun:"revoked,notnull,default:false"`
	LastActivityAt time.Time `bun:"last_activity_at,nullzero,notnull,default:current_timestamp"`
}

// Invitation is a persisted grant of access to a private room.
type Invitation struct {
	bun.BaseModel `bun:"table:invitations"`

	ID        string    `bun:"id,pk"`
	RoomID    string    `bun:"room_id,notnull"`
	InviterID string    `bun:"inviter_id,notnull"`
	InviteeID string    `bun:"invitee_id,notnull"`
	Status    string    `bun:"status,notnull,default:'pending'"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Store wraps a bun.DB connection and implements every repository contract
// spec §6.4 names (UserRepository, RoomRepository, MessageRepository,
// SessionRepository) as methods on one handle, the way the teacher's db.DB
// does for its own domain.
type Store struct {
	db *bun.DB
}

// Open opens (creating if absent) a SQLite database at dsn, runs pending
// migrations, and returns a ready Store. Pass ":memory:" for ephemeral
// stores (tests, single-node dev).
func Open(dsn string) (*Store, error) {
	sqlDSN := dsn
	if dsn == ":memory:" {
		sqlDSN = "file::memory:?cache=shared"
	}

	conn, err := sql.Open("sqlite", sqlDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: busy_timeout: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: wal mode: %w", err)
	}
	if dsn == ":memory:" {
		conn.SetMaxIdleConns(1)
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &Store{db: bun.NewDB(conn, sqlitedialect.New())}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- UserRepository ---

func (s *Store) CreateUser(ctx context.Context, u *User) error {
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.db.NewInsert().Model(u).Exec(ctx)
	if err != nil {
		return wrapConflict(err, "username %q already registered", u.Username)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.NewSelect().Model(&u).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("user %q not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "get user by id", err)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.NewSelect().Model(&u).Where("username = ?", username).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("user %q not found", username)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "get user by username", err)
	}
	return &u, nil
}

// ListUsers implements the supplemented paginated GET /admin/users listing
// (SPEC_FULL.md SUPPLEMENTED FEATURES): role filters to one role when
// non-empty, limit/offset page through the result set. limit <= 0 or > 200
// is clamped to 50, matching History's pagination convention.
func (s *Store) ListUsers(ctx context.Context, role string, limit, offset int) ([]User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := s.db.NewSelect().Model((*User)(nil))
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var users []User
	err := q.OrderExpr("username").Limit(limit).Offset(offset).Scan(ctx, &users)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "list users", err)
	}
	return users, nil
}

// SetUserRole updates a user's role, the provisioning path for promoting an
// account to RoleAdmin/RoleModerator (spec has no self-service endpoint for
// this; it is an operator action, e.g. a one-off migration or CLI command).
func (s *Store) SetUserRole(ctx context.Context, userID, role string) error {
	res, err := s.db.NewUpdate().Model((*User)(nil)).
		Set("role = ?", role).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "set user role", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("user %q not found", userID)
	}
	return nil
}

// --- RoomRepository ---

func (s *Store) CreateRoom(ctx context.Context, r *Room) error {
	_, err := s.db.NewInsert().Model(r).Exec(ctx)
	if err != nil {
		return wrapConflict(err, "room %q already exists", r.Name)
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*Room, error) {
	var r Room
	err := s.db.NewSelect().Model(&r).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("room %q not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "get room", err)
	}
	return &r, nil
}

func (s *Store) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	err := s.db.NewSelect().Model(&rooms).OrderExpr("name").Scan(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "list rooms", err)
	}
	return rooms, nil
}

func (s *Store) AddMembership(ctx context.Context, roomID, userID string, role MembershipRole) error {
	m := &RoomMembership{RoomID: roomID, UserID: userID, Role: role, JoinedAt: time.Now()}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (room_id, user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "add membership", err)
	}
	return nil
}

func (s *Store) RemoveMembership(ctx context.Context, roomID, userID string) error {
	_, err := s.db.NewDelete().Model((*RoomMembership)(nil)).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "remove membership", err)
	}
	return nil
}

// ListMembers implements the spec §8 testable property list_members(R): every
// membership row for a room, used to rehydrate room.Engine membership at
// startup.
func (s *Store) ListMembers(ctx context.Context, roomID string) ([]RoomMembership, error) {
	var members []RoomMembership
	err := s.db.NewSelect().Model(&members).Where("room_id = ?", roomID).Scan(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "list members", err)
	}
	return members, nil
}

// ListRoomsForUser implements the spec §8 testable property
// list_rooms_for_user(U): every room U currently belongs to, joined through
// room_memberships.
func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	var rooms []Room
	err := s.db.NewSelect().Model(&rooms).
		Join("JOIN room_memberships AS m ON m.room_id = room.id").
		Where("m.user_id = ?", userID).
		OrderExpr("room.name").
		Scan(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "list rooms for user", err)
	}
	return rooms, nil
}

// --- MessageRepository ---

func (s *Store) SaveMessage(ctx context.Context, m *Message) error {
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "save message", err)
	}
	return nil
}

// History returns up to limit messages for a target, ordered oldest-first:
// the newest ones, or, when beforeID names a stored message, the newest ones
// created before it (spec §4.5: paginated history).
func (s *Store) History(ctx context.Context, targetKind, targetID string, limit int, beforeID string) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.NewSelect().Model((*Message)(nil)).
		Where("target_kind = ? AND target_id = ?", targetKind, targetID)

	if beforeID != "" {
		var before Message
		if err := s.db.NewSelect().Model(&before).Where("id = ?", beforeID).Scan(ctx); err == nil {
			q = q.Where("created_at < ?", before.CreatedAt)
		}
	}

	var msgs []Message
	err := q.OrderExpr("created_at DESC").Limit(limit).Scan(ctx, &msgs)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "message history", err)
	}
	// reverse to oldest-first for display
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SearchMessages implements the supplemented GET /messages/search endpoint:
// a substring search over message content, scoped to a target.
func (s *Store) SearchMessages(ctx context.Context, targetKind, targetID, query string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var msgs []Message
	err := s.db.NewSelect().Model(&msgs).
		Where("target_kind = ? AND target_id = ?", targetKind, targetID).
		Where("content LIKE ?", "%"+query+"%").
		OrderExpr("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "search messages", err)
	}
	return msgs, nil
}

// CountMessagesSince implements spec §4.9's MessageRepository count_since
// contract: the number of messages posted to a target after a given time,
// used for unread-count style queries.
func (s *Store) CountMessagesSince(ctx context.Context, targetKind, targetID string, since time.Time) (int, error) {
	n, err := s.db.NewSelect().Model((*Message)(nil)).
		Where("target_kind = ? AND target_id = ? AND created_at > ?", targetKind, targetID, since).
		Count(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.StorageFailure, "count messages since", err)
	}
	return n, nil
}

// --- SessionRepository ---

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.NewInsert().Model(sess).Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "create session", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.NewSelect().Model(&sess).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("session %q not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "get session", err)
	}
	if sess.Revoked || sess.ExpiresAt.Before(time.Now()) {
		return nil, apperr.Unauthorizedf("session %q expired or revoked", id)
	}
	return &sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	res, err := s.db.NewUpdate().Model((*Session)(nil)).
		Set("revoked = ?", true).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "revoke session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("session %q not found", id)
	}
	return nil
}

// UpdateSessionActivity stamps last_activity_at to now (SUPPLEMENTED
// FEATURES: opportunistic last_activity refresh on GET /sessions and
// token-flow Authenticate). Best-effort: a missing session is not an error
// here, since the caller has already resolved the session elsewhere.
func (s *Store) UpdateSessionActivity(ctx context.Context, id string) error {
	_, err := s.db.NewUpdate().Model((*Session)(nil)).
		Set("last_activity_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "update session activity", err)
	}
	return nil
}

func (s *Store) ListSessionsForUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	err := s.db.NewSelect().Model(&sessions).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, time.Now()).
		OrderExpr("issued_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "list sessions", err)
	}
	return sessions, nil
}

// PurgeExpiredSessions deletes every session row past its expiry, whether
// or not it was ever explicitly revoked, so the table doesn't grow without
// bound (SUPPLEMENTED FEATURES: session lifecycle management).
func (s *Store) PurgeExpiredSessions(ctx context.Context) error {
	_, err := s.db.NewDelete().Model((*Session)(nil)).
		Where("expires_at < ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "purge expired sessions", err)
	}
	return nil
}

// --- InvitationRepository ---

func (s *Store) CreateInvitation(ctx context.Context, inv *Invitation) error {
	_, err := s.db.NewInsert().Model(inv).Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "create invitation", err)
	}
	return nil
}

func (s *Store) UpdateInvitationStatus(ctx context.Context, id, status string) error {
	res, err := s.db.NewUpdate().Model((*Invitation)(nil)).
		Set("status = ?", status).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "update invitation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("invitation %q not found", id)
	}
	return nil
}

// ListPendingInvitations returns every invitation still awaiting a response,
// used to rehydrate room.Engine's invitation index at startup so a restart
// doesn't silently drop invitations that were never acted on.
func (s *Store) ListPendingInvitations(ctx context.Context) ([]Invitation, error) {
	var invs []Invitation
	err := s.db.NewSelect().Model(&invs).Where("status = ?", "pending").Scan(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "list pending invitations", err)
	}
	return invs, nil
}

func wrapConflict(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	// modernc.org/sqlite surfaces UNIQUE constraint violations as a plain
	// error string rather than a typed sentinel; substring match is the
	// pragmatic, driver-agnostic way to distinguish a conflict from any
	// other storage failure.
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE") {
		return apperr.Conflictf(format, args...)
	}
	return apperr.Wrap(apperr.StorageFailure, "store", err)
}
