// Package httpapi implements the stateless REST surface spec §6.2 describes:
// registration, login/logout, room and message CRUD, session management and
// the supplemented admin queries. It shares the same auth/room/storage
// services the TCP and WebSocket adapters use through command.Deps, so a
// room created over REST is immediately visible to a connected socket and
// vice versa.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/lair-chat/server/internal/v1/command"
	"github.com/lair-chat/server/internal/v1/ratelimit"
	"github.com/lair-chat/server/internal/v1/storage"
)

// Handler wires gin routes to the shared domain services plus the storage
// handle for the repositories the TCP/WS adapters never touch directly
// (message history search, session listing, admin queries).
type Handler struct {
	deps  *command.Deps
	store *storage.Store
}

// NewHandler builds a Handler. store is the same *storage.Store that backs
// deps.Auth and deps.Store; the REST handlers query it through this field.
func NewHandler(deps *command.Deps, store *storage.Store) *Handler {
	return &Handler{deps: deps, store: store}
}

// Register mounts every REST route onto r, gating each group with the rate
// limiter the way the teacher's main.go gates its own gin routes. rl may be
// nil (tests, or rate limiting disabled), in which case no limit is applied.
func (h *Handler) Register(r gin.IRoutes, rl *ratelimit.RateLimiter) {
	r.POST("/auth/register", h.register)
	r.POST("/auth/login", h.login)
	r.POST("/auth/logout", h.requireAuth(), h.logout)

	r.GET("/rooms", h.requireAuth(), middlewareFor(rl, "rooms"), h.listRooms)
	r.POST("/rooms", h.requireAuth(), middlewareFor(rl, "rooms"), h.createRoom)
	r.GET("/rooms/:id", h.requireAuth(), middlewareFor(rl, "rooms"), h.getRoom)
	r.POST("/rooms/:id/members", h.requireAuth(), middlewareFor(rl, "rooms"), h.addRoomMember)

	r.GET("/messages", h.requireAuth(), middlewareFor(rl, "messages"), h.listMessages)
	r.GET("/messages/search", h.requireAuth(), middlewareFor(rl, "messages"), h.searchMessages)

	r.GET("/sessions", h.requireAuth(), h.listSessions)
	r.DELETE("/sessions/:id", h.requireAuth(), h.deleteSession)

	r.GET("/admin/users", h.requireAuth(), h.requireStaff(), h.adminListUsers)
	r.GET("/admin/rooms", h.requireAuth(), h.requireStaff(), h.adminListRooms)
}

func middlewareFor(rl *ratelimit.RateLimiter, endpoint string) gin.HandlerFunc {
	if rl == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return rl.MiddlewareForEndpoint(endpoint)
}
