package public

import (
	"errors"
	"io"
	"net/http"

	"github.com/donation-core/internal/http/response"
	"github.com/donation-core/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBodyBytes = 1 << 20
	webhookRejectedMsg  = "notification rejected"
)

// HandleWebhook receives a gateway notification. Every rejection carries the
// same message so a caller cannot probe which check failed.
func (h *Handler) HandleWebhook(c *gin.Context) {
	log := requestLog(c)
	gatewayName := c.Param("gateway")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil || len(body) == 0 || len(body) > maxWebhookBodyBytes {
		log.Warnw("webhook_body_invalid", "gateway", gatewayName, "body_size", len(body), "error", err)
		response.Status(c, http.StatusBadRequest, response.CodeBadRequest, webhookRejectedMsg, nil)
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for key, values := range c.Request.Header {
		if len(values) == 0 {
			continue
		}
		headers[key] = values[0]
	}

	result, err := h.WebhookService.HandleInbound(c.Request.Context(), gatewayName, body, headers)
	if err != nil {
		if errors.Is(err, service.ErrGatewayUnavailable) {
			response.Status(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, "temporarily unavailable", nil)
			return
		}
		if errors.Is(err, service.ErrInvalidRequest) || errors.Is(err, service.ErrVerificationFailed) {
			response.Status(c, http.StatusBadRequest, response.CodeBadRequest, webhookRejectedMsg, nil)
			return
		}
		// The gateway retries on 5xx, which is what a transient store failure needs.
		log.Errorw("webhook_handle_failed", "gateway", gatewayName, "error", err)
		response.Status(c, http.StatusInternalServerError, response.CodeInternal, "temporarily unavailable", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accepted": true,
		"outcome":  result.Outcome,
	})
}
