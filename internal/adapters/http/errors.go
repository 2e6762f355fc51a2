package http

import (
	"errors"
	nethttp "net/http"

	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app/auth"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nethttp.StatusNotFound
	case errors.Is(err, auth.ErrNoSession):
		return nethttp.StatusUnauthorized
	case errors.Is(err, orch.ErrNotMember):
		return nethttp.StatusForbidden
	case errors.Is(err, core.ErrChannelClosed):
		return nethttp.StatusConflict
	}
	switch alert.KindOf(err) {
	case alert.PermissionDenied:
		return nethttp.StatusForbidden
	case alert.TooLarge:
		return nethttp.StatusRequestEntityTooLarge
	case alert.Auth:
		return nethttp.StatusUnauthorized
	case alert.Network, alert.Upload:
		return nethttp.StatusBadGateway
	}
	return nethttp.StatusBadRequest
}

// fail writes the user-facing message of err.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	a := alert.FromError(err)
	if status >= 500 {
		log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": a.Message, "kind": a.Kind})
}
