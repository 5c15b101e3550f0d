package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/room"
)

type roomView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Privacy  string `json:"privacy"`
	YourRole string `json:"your_role,omitempty"`
}

func toRoomView(rm *room.Room, userID string) roomView {
	id, name, privacy := rm.View()
	view := roomView{ID: id, Name: name, Privacy: string(privacy)}
	if role, ok := rm.RoleOf(userID); ok {
		view.YourRole = string(role)
	}
	return view
}

type createRoomRequest struct {
	Name    string `json:"name" binding:"required"`
	Privacy string `json:"privacy"`
}

// listRooms implements GET /rooms: every public room plus any private room
// the caller belongs to.
func (h *Handler) listRooms(c *gin.Context) {
	userID := currentUserID(c)
	views := make([]roomView, 0)
	for _, rm := range h.deps.Rooms.Visible(userID) {
		views = append(views, toRoomView(rm, userID))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": views})
}

// createRoom implements POST /rooms.
func (h *Handler) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.Validation, "invalid request body", err))
		return
	}

	privacy := room.Privacy(req.Privacy)
	if privacy == "" {
		privacy = room.Public
	}

	userID := currentUserID(c)
	rm, err := h.deps.Rooms.CreateRoom(userID, req.Name, privacy)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRoomView(rm, userID))
}

// getRoom implements GET /rooms/{id}.
func (h *Handler) getRoom(c *gin.Context) {
	rm, ok := h.deps.Rooms.Resolve(c.Param("id"))
	if !ok {
		respondErr(c, apperr.NotFoundf("room %q not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, toRoomView(rm, currentUserID(c)))
}

// addRoomMember implements POST /rooms/{id}/members: the caller joins the
// room (a public room admits anyone; a private one requires a prior
// accepted invitation, per room.Engine.Join).
func (h *Handler) addRoomMember(c *gin.Context) {
	userID := currentUserID(c)
	rm, err := h.deps.Rooms.Join(userID, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomView(rm, userID))
}

func currentUserID(c *gin.Context) string {
	user := currentUser(c)
	if user == nil {
		return ""
	}
	return user.ID
}
