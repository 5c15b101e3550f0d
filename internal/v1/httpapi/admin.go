package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lair-chat/server/internal/v1/protocol"
)

// adminListUsers implements the supplemented GET /admin/users endpoint,
// gated on RoleAdmin/RoleModerator by requireStaff. Supports a role filter
// and limit/offset pagination; ListUsers clamps out-of-range values.
func (h *Handler) adminListUsers(c *gin.Context) {
	role := c.Query("role")
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	users, err := h.store.ListUsers(c.Request.Context(), role, limit, offset)
	if err != nil {
		respondErr(c, err)
		return
	}
	views := make([]protocol.UserView, 0, len(users))
	for _, u := range users {
		views = append(views, protocol.UserView{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Role: u.Role})
	}
	c.JSON(http.StatusOK, gin.H{"users": views, "limit": limit, "offset": offset})
}

// adminListRooms implements the supplemented GET /admin/rooms endpoint: the
// full room roster, including private rooms the caller isn't a member of,
// unlike the regular GET /rooms listing.
func (h *Handler) adminListRooms(c *gin.Context) {
	userID := currentUserID(c)
	views := make([]roomView, 0)
	for _, rm := range h.deps.Rooms.All() {
		views = append(views, toRoomView(rm, userID))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": views})
}
