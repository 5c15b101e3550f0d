package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &User{ID: uuid.NewString(), Username: "alice", DisplayName: "Alice", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = s.GetUserByUsername(ctx, "nobody")
	require.Error(t, err)
}

func TestCreateUserDuplicateUsernameConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1 := &User{ID: uuid.NewString(), Username: "bob", DisplayName: "Bob", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, u1))

	u2 := &User{ID: uuid.NewString(), Username: "bob", DisplayName: "Bob Two", PasswordHash: "y"}
	err := s.CreateUser(ctx, u2)
	require.Error(t, err)
}

func TestRoomMembershipLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner := &User{ID: uuid.NewString(), Username: "carol", DisplayName: "Carol", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, owner))

	rm := &Room{ID: uuid.NewString(), Name: "general", Privacy: "public", CreatedBy: owner.ID}
	require.NoError(t, s.CreateRoom(ctx, rm))

	require.NoError(t, s.AddMembership(ctx, rm.ID, owner.ID, MembershipOwner))
	require.NoError(t, s.AddMembership(ctx, rm.ID, owner.ID, MembershipOwner)) // idempotent

	members, err := s.ListMembers(ctx, rm.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, MembershipOwner, members[0].Role)

	rooms, err := s.ListRoomsForUser(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, rm.ID, rooms[0].ID)

	require.NoError(t, s.RemoveMembership(ctx, rm.ID, owner.ID))
}

func TestMessageHistoryIsOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	author := &User{ID: uuid.NewString(), Username: "dan", DisplayName: "Dan", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, author))

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		msg := &Message{
			ID:         uuid.NewString(),
			TargetKind: "room",
			TargetID:   "lobby",
			AuthorID:   author.ID,
			Content:    "hello",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.SaveMessage(ctx, msg))
	}

	history, err := s.History(ctx, "room", "lobby", 10, "")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.True(t, history[0].CreatedAt.Before(history[2].CreatedAt))

	count, err := s.CountMessagesSince(ctx, "room", "lobby", base.Add(30*time.Second))
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestSessionExpiryIsEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &User{ID: uuid.NewString(), Username: "erin", DisplayName: "Erin", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, user))

	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		IssuedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	_, err := s.GetSession(ctx, sess.ID)
	require.Error(t, err)
}

func TestRevokeSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &User{ID: uuid.NewString(), Username: "frank", DisplayName: "Frank", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, user))

	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, s.RevokeSession(ctx, sess.ID))

	_, err := s.GetSession(ctx, sess.ID)
	require.Error(t, err)
}

func TestUpdateSessionActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &User{ID: uuid.NewString(), Username: "ivan", DisplayName: "Ivan", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, user))

	sess := &Session{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		ExpiresAt:      time.Now().Add(time.Hour),
		LastActivityAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.UpdateSessionActivity(ctx, sess.ID))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, got.LastActivityAt.After(sess.LastActivityAt))
}

func TestListUsersPaginationAndRoleFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	admin := &User{ID: uuid.NewString(), Username: "judy", DisplayName: "Judy", PasswordHash: "x", Role: RoleAdmin}
	require.NoError(t, s.CreateUser(ctx, admin))
	for i := 0; i < 3; i++ {
		u := &User{ID: uuid.NewString(), Username: uuid.NewString(), DisplayName: "Member", PasswordHash: "x", Role: RoleUser}
		require.NoError(t, s.CreateUser(ctx, u))
	}

	admins, err := s.ListUsers(ctx, RoleAdmin, 50, 0)
	require.NoError(t, err)
	require.Len(t, admins, 1)

	page1, err := s.ListUsers(ctx, "", 2, 0)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := s.ListUsers(ctx, "", 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
}

func TestInvitationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &User{ID: uuid.NewString(), Username: "gina", DisplayName: "Gina", PasswordHash: "x"}
	b := &User{ID: uuid.NewString(), Username: "hank", DisplayName: "Hank", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(ctx, a))
	require.NoError(t, s.CreateUser(ctx, b))

	rm := &Room{ID: uuid.NewString(), Name: "secret", Privacy: "private", CreatedBy: a.ID}
	require.NoError(t, s.CreateRoom(ctx, rm))

	inv := &Invitation{ID: uuid.NewString(), RoomID: rm.ID, InviterID: a.ID, InviteeID: b.ID, Status: "pending"}
	require.NoError(t, s.CreateInvitation(ctx, inv))
	require.NoError(t, s.UpdateInvitationStatus(ctx, inv.ID, "accepted"))

	err := s.UpdateInvitationStatus(ctx, "does-not-exist", "accepted")
	require.Error(t, err)
}
