package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/protocol"
)

type registerRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Device   string `json:"device"`
}

type authResponse struct {
	User    protocol.UserView    `json:"user"`
	Session protocol.SessionView `json:"session"`
}

// register implements POST /auth/register.
func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.Validation, "invalid request body", err))
		return
	}

	user, err := h.deps.Auth.Register(c.Request.Context(), req.Username, req.DisplayName, req.Email, req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, protocol.UserView{
		ID: user.ID, Username: user.Username, DisplayName: user.DisplayName, Email: user.Email, Role: user.Role,
	})
}

// login implements POST /auth/login, the REST twin of the TCP/WS
// Authenticate command's password flow.
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperr.Wrap(apperr.Validation, "invalid request body", err))
		return
	}

	result, err := h.deps.Auth.AuthenticateWithPassword(c.Request.Context(), req.Username, req.Password, req.Device)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, authResponse{
		User: protocol.UserView{
			ID: result.User.ID, Username: result.User.Username, DisplayName: result.User.DisplayName, Role: result.User.Role,
		},
		Session: protocol.SessionView{
			ID:             result.Session.ID,
			IssuedAt:       result.Session.IssuedAt.Unix(),
			ExpiresAt:      result.Session.ExpiresAt.Unix(),
			LastActivityAt: result.Session.LastActivityAt.Unix(),
		},
	})
}

// logout implements POST /auth/logout, revoking the bearer token presented
// in the Authorization header (the same one requireAuth just validated).
func (h *Handler) logout(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if err := h.deps.Auth.Logout(c.Request.Context(), token); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
