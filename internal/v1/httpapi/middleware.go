package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/ratelimit"
	"github.com/lair-chat/server/internal/v1/storage"
)

// contextUserKey is where requireAuth stashes the resolved *storage.User for
// handlers that need more than the id (the admin role check, mainly).
const contextUserKey = "httpapi_user"

// contextSessionKey is where requireAuth stashes the resolved *storage.Session
// for the bearer token presented on this request, for handlers that need to
// know which session is making the call (listSessions's own-session refresh).
const contextSessionKey = "httpapi_session"

// requireAuth validates the bearer token against the session store and sets
// both ratelimit.ContextUserIDKey (so MiddlewareForEndpoint, which follows it
// on the rate-limited routes, can key on it) and contextUserKey (the resolved
// user) before calling on. A GlobalMiddleware registered on the whole router
// runs before requireAuth and so does not see the user id.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope{Kind: apperr.Unauthorized, Message: "missing bearer token"})
			return
		}

		result, err := h.deps.Auth.AuthenticateWithToken(c.Request.Context(), token)
		if err != nil {
			respondErr(c, err)
			c.Abort()
			return
		}

		c.Set(ratelimit.ContextUserIDKey, result.User.ID)
		c.Set(contextUserKey, result.User)
		c.Set(contextSessionKey, result.Session)
		c.Next()
	}
}

func currentSession(c *gin.Context) *storage.Session {
	v, ok := c.Get(contextSessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*storage.Session)
	return sess
}

// requireStaff gates a route on the authenticated user's role; requireAuth
// must run first. Used by the admin query endpoints (SUPPLEMENTED FEATURES:
// "gated on RoleAdmin/RoleModerator").
func (h *Handler) requireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || !user.IsStaff() {
			c.AbortWithStatusJSON(http.StatusForbidden, errorEnvelope{Kind: apperr.Forbidden, Message: "admin or moderator role required"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *storage.User {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*storage.User)
	return u
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
