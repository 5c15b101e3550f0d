package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/protocol"
	"github.com/lair-chat/server/internal/v1/storage"
)

func toSessionView(sess storage.Session) protocol.SessionView {
	return protocol.SessionView{
		ID:             sess.ID,
		IssuedAt:       sess.IssuedAt.Unix(),
		ExpiresAt:      sess.ExpiresAt.Unix(),
		LastActivityAt: sess.LastActivityAt.Unix(),
	}
}

// listSessions implements GET /sessions: every live session belonging to
// the authenticated user, across every device (spec §6.2). requireAuth has
// already refreshed the calling session's last_activity_at via
// AuthenticateWithToken; this reflects that refresh in the view it returns
// (SUPPLEMENTED FEATURES: opportunistic last_activity refresh).
func (h *Handler) listSessions(c *gin.Context) {
	user := currentUser(c)
	sessions, err := h.deps.Auth.Sessions(c.Request.Context(), user.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	calling := currentSession(c)
	views := make([]protocol.SessionView, 0, len(sessions))
	for _, sess := range sessions {
		if calling != nil && sess.ID == calling.ID {
			sess.LastActivityAt = calling.LastActivityAt
		}
		views = append(views, toSessionView(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// deleteSession implements DELETE /sessions/{id}: revokes one of the
// caller's own sessions, rejecting attempts to revoke someone else's.
func (h *Handler) deleteSession(c *gin.Context) {
	user := currentUser(c)
	id := c.Param("id")

	sess, err := h.store.GetSession(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if sess.UserID != user.ID {
		respondErr(c, apperr.Forbiddenf("cannot revoke another user's session"))
		return
	}

	if err := h.deps.Auth.Logout(c.Request.Context(), id); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
