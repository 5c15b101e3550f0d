// Package registry tracks every live, authenticated connection on this
// server instance: the session_id -> LiveSession map and its user_id ->
// set<session_id> secondary index (spec §4.7). It is the single source of
// truth the room engine and the dispatcher consult to turn a user id or a
// room membership list into concrete frames-on-a-socket.
package registry

import (
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/set"
)

// Outbound is the minimal sink a LiveSession delivers encrypted frames to.
// The TCP adapter and the WebSocket adapter each supply their own
// implementation (a buffered writer channel) rather than sharing one,
// mirroring the teacher's wsConnection abstraction in session/client.go.
type Outbound interface {
	// Send enqueues payload for delivery to this connection. It must never
	// block the caller on network I/O; a full send queue drops the oldest
	// pending frame (spec §4.8) rather than stall the dispatcher.
	Send(payload []byte) (dropped bool)
	// Close tears down the underlying connection.
	Close() error
}

// LiveSession is one authenticated connection: its identity, its delivery
// sink, and the negotiated AEAD key used to encrypt frames addressed to it.
// Device is an opportunistic descriptor (client string, not security-bearing)
// populated from the Authenticate command per SPEC_FULL's supplemented
// device-descriptor feature.
type LiveSession struct {
	SessionID  string
	UserID     string
	Username   string
	Device     string
	SessionKey [32]byte
	Out        Outbound
	// Plain marks a session whose transport already provides confidentiality
	// (the WebSocket adapter, behind TLS at the edge, per spec §6.3) so the
	// dispatcher delivers cleartext JSON instead of sealing under SessionKey.
	Plain bool
}

// Registry is safe for concurrent use by many goroutines; every exported
// method takes its own lock for the duration of the call.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*LiveSession
	byUser    map[string]set.Set[string] // user_id -> set of session_id
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*LiveSession),
		byUser:   make(map[string]set.Set[string]),
	}
}

// Register admits a newly authenticated connection, assigning it a fresh
// session id.
func (r *Registry) Register(userID, username, device string, key [32]byte, out Outbound) *LiveSession {
	sess := &LiveSession{
		SessionID:  uuid.NewString(),
		UserID:     userID,
		Username:   username,
		Device:     device,
		SessionKey: key,
		Out:        out,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.SessionID] = sess
	users, ok := r.byUser[userID]
	if !ok {
		users = set.New[string]()
		r.byUser[userID] = users
	}
	users.Insert(sess.SessionID)
	return sess
}

// RegisterPlain admits a newly authenticated WebSocket connection. It has no
// negotiated AEAD key (there is no X25519 handshake over WS, spec §6.3) so
// the dispatcher delivers cleartext JSON to it instead of sealing frames.
func (r *Registry) RegisterPlain(userID, username, device string, out Outbound) *LiveSession {
	sess := &LiveSession{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Device:    device,
		Out:       out,
		Plain:     true,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.SessionID] = sess
	users, ok := r.byUser[userID]
	if !ok {
		users = set.New[string]()
		r.byUser[userID] = users
	}
	users.Insert(sess.SessionID)
	return sess
}

// Unregister removes a session. It reports whether this was the user's last
// live session, which the caller uses to decide whether to fan out
// UserOffline (spec §4.7: presence is derived, not stored).
func (r *Registry) Unregister(sessionID string) (wasLastForUser bool, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return false, ""
	}
	delete(r.sessions, sessionID)

	users := r.byUser[sess.UserID]
	if users == nil {
		return true, sess.UserID
	}
	users.Delete(sessionID)
	if users.Len() == 0 {
		delete(r.byUser, sess.UserID)
		return true, sess.UserID
	}
	return false, sess.UserID
}

// Lookup returns the live session by id, if connected to this instance.
func (r *Registry) Lookup(sessionID string) (*LiveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// SessionsForUser returns every session id currently registered for a user
// (zero, one on each of several devices, or more).
func (r *Registry) SessionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	return users.UnsortedList()
}

// IsOnline reports whether a user has at least one live session anywhere on
// this instance. Cross-instance presence is out of scope for the in-memory
// registry (spec Non-goals: single authoritative in-process server).
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users, ok := r.byUser[userID]
	return ok && users.Len() > 0
}

// Deliver encodes nothing itself; it hands payload to the named session's
// Outbound sink and reports whether the session was found at all. Dropped
// frames (backpressure) are reported by the sink, not here.
func (r *Registry) Deliver(sessionID string, payload []byte) (found, dropped bool) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false, false
	}
	dropped = sess.Out.Send(payload)
	return true, dropped
}

// DeliverToUser fans payload out to every session the user currently has
// open, returning the count actually delivered.
func (r *Registry) DeliverToUser(userID string, payload []byte) int {
	delivered := 0
	for _, sid := range r.SessionsForUser(userID) {
		if found, _ := r.Deliver(sid, payload); found {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of sessions currently registered, for metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// UserSummary is the minimal identity of an online user, used to answer
// ListUsers without reaching into storage.
type UserSummary struct {
	UserID   string
	Username string
}

// OnlineUsers returns one summary per distinct user with at least one live
// session, for the ListUsers command (spec §4.5).
func (r *Registry) OnlineUsers() []UserSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]UserSummary, 0, len(r.byUser))
	for userID := range r.byUser {
		for _, sid := range r.byUser[userID].UnsortedList() {
			sess := r.sessions[sid]
			out = append(out, UserSummary{UserID: userID, Username: sess.Username})
			break
		}
	}
	return out
}
