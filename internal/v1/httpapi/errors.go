package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lair-chat/server/internal/v1/apperr"
)

// errorEnvelope is the uniform JSON shape every failed REST call returns,
// the HTTP twin of the TCP/WS AuthenticateResponse's reason field (spec §7:
// "callers receive a short machine-readable kind and a human-readable
// message").
type errorEnvelope struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// statusFor maps an apperr.Kind to the HTTP status the REST surface replies
// with; every other adapter maps the same Kind to its own wire form.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.Protocol:
		return http.StatusBadRequest
	case apperr.StorageFailure, apperr.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes err as the uniform error envelope, deriving both the
// status code and the wire Kind from apperr.KindOf.
func respondErr(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	message := err.Error()
	var ae *apperr.Error
	if as, ok := err.(*apperr.Error); ok {
		ae = as
		message = ae.Message
	}
	c.JSON(statusFor(kind), errorEnvelope{Kind: kind, Message: message})
}
