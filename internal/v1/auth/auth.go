// Package auth implements the two authentication flows spec §4.3 and §4.7
// describe: a one-time password check that issues a new session, and a
// token flow that validates an existing bearer token against the session
// store. Both converge on the same Result.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"go.uber.org/zap"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/crypto"
	"github.com/lair-chat/server/internal/v1/logging"
	"github.com/lair-chat/server/internal/v1/storage"
)

// SessionTTL is how long an issued bearer token remains valid before the
// client must re-authenticate with a password.
const SessionTTL = 30 * 24 * time.Hour

// Result is what either flow produces on success: the authenticated user
// and the session record backing their bearer token.
type Result struct {
	User    *storage.User
	Session *storage.Session
}

// Service wires password and token authentication to a Store. It holds no
// state of its own beyond the store handle.
type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

// Register creates a new account with a freshly hashed password verifier.
// Usernames are case-sensitive and must be non-empty (spec §4.7 edge case:
// duplicate username is a Conflict, not silently merged). email is optional
// (spec §3: "optional email") and is never logged unredacted.
func (s *Service) Register(ctx context.Context, username, displayName, email, password string) (*storage.User, error) {
	if username == "" {
		return nil, apperr.Validationf("username must not be empty")
	}
	if len(password) < 8 {
		return nil, apperr.Validationf("password must be at least 8 characters")
	}
	if displayName == "" {
		displayName = username
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "hash password", err)
	}

	user := &storage.User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: hash,
		Role:         storage.RoleUser,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if email != "" {
		logging.Info(ctx, "auth: account registered", zap.String("username", username), zap.String("email", logging.RedactEmail(email)))
	}
	return user, nil
}

// AuthenticateWithPassword verifies a username/password pair and issues a
// fresh session. The error for a wrong password and for an unknown username
// are both Unauthorized, to avoid leaking which usernames exist.
func (s *Service) AuthenticateWithPassword(ctx context.Context, username, password, device string) (*Result, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, apperr.Unauthorizedf("invalid username or password")
	}
	if !crypto.VerifyPassword(password, user.PasswordHash) {
		return nil, apperr.Unauthorizedf("invalid username or password")
	}
	return s.issueSession(ctx, user, device)
}

// AuthenticateWithToken validates a previously issued bearer token (the
// session's id) and returns its owning user, without issuing a new session.
// On success it opportunistically refreshes the session's last_activity_at
// (SUPPLEMENTED FEATURES); a refresh failure doesn't fail authentication.
func (s *Service) AuthenticateWithToken(ctx context.Context, token string) (*Result, error) {
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		return nil, apperr.Unauthorizedf("invalid or expired session token")
	}
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, apperr.Unauthorizedf("invalid or expired session token")
	}
	if err := s.store.UpdateSessionActivity(ctx, sess.ID); err != nil {
		logging.Warn(ctx, "auth: last_activity refresh failed", zap.String("session_id", sess.ID), zap.Error(err))
	} else {
		sess.LastActivityAt = time.Now()
	}
	return &Result{User: user, Session: sess}, nil
}

func (s *Service) issueSession(ctx context.Context, user *storage.User, device string) (*Result, error) {
	now := time.Now()
	sess := &storage.Session{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Device:         device,
		IssuedAt:       now,
		ExpiresAt:      now.Add(SessionTTL),
		LastActivityAt: now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Result{User: user, Session: sess}, nil
}

// Logout revokes a session, terminating the bearer token immediately (spec
// §4.7: sessions support server-side revocation, unlike a stateless JWT).
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.store.RevokeSession(ctx, sessionID)
}

// Sessions lists the live, unrevoked sessions belonging to a user, for the
// supplemented GET /sessions endpoint.
func (s *Service) Sessions(ctx context.Context, userID string) ([]storage.Session, error) {
	return s.store.ListSessionsForUser(ctx, userID)
}

// UserByUsername resolves a username to its account, used by invite_user to
// turn an invitee's username into the user id the room engine tracks
// membership by.
func (s *Service) UserByUsername(ctx context.Context, username string) (*storage.User, error) {
	return s.store.GetUserByUsername(ctx, username)
}
