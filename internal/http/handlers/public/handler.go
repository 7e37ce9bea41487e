package public

import (
	handlershared "github.com/donation-core/internal/http/handlers/shared"
	"github.com/donation-core/internal/provider"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler donor-facing and gateway-facing endpoints.
type Handler struct {
	*provider.Container
}

// New creates the public handler
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func requestLog(c *gin.Context) *zap.SugaredLogger {
	return handlershared.RequestLog(c)
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}
