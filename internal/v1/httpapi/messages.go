package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lair-chat/server/internal/v1/apperr"
	"github.com/lair-chat/server/internal/v1/protocol"
	"github.com/lair-chat/server/internal/v1/storage"
)

func toMessageView(m storage.Message) protocol.MessageView {
	return protocol.MessageView{
		ID:        m.ID,
		Author:    m.AuthorID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Unix(),
		Edited:    m.Edited,
	}
}

// listMessages implements GET /messages?target_type=...&target_id=...
// &before=...&limit=..., the paginated history endpoint spec §6.2 names.
func (h *Handler) listMessages(c *gin.Context) {
	targetKind := c.Query("target_type")
	targetID := c.Query("target_id")
	if targetKind == "" || targetID == "" {
		respondErr(c, apperr.Validationf("target_type and target_id are required"))
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	before := c.Query("before")

	msgs, err := h.store.History(c.Request.Context(), targetKind, targetID, limit, before)
	if err != nil {
		respondErr(c, err)
		return
	}

	views := make([]protocol.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toMessageView(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// searchMessages implements the supplemented GET /messages/search endpoint.
func (h *Handler) searchMessages(c *gin.Context) {
	targetKind := c.Query("target_type")
	targetID := c.Query("target_id")
	query := c.Query("q")
	if targetKind == "" || targetID == "" || query == "" {
		respondErr(c, apperr.Validationf("target_type, target_id and q are required"))
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, err := h.store.SearchMessages(c.Request.Context(), targetKind, targetID, query, limit)
	if err != nil {
		respondErr(c, err)
		return
	}

	views := make([]protocol.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toMessageView(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": views})
}
