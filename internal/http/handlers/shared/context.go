package shared

import (
	"github.com/donation-core/internal/http/response"

	"github.com/gin-gonic/gin"
)

// Context keys set by the operator auth middleware.
const (
	ContextAdminID      = "admin_id"
	ContextAdminName    = "username"
	ContextAdminIsSuper = "admin_is_super"
)

// GetContextUint reads a uint set by middleware and answers the request
// itself when the value is missing or malformed.
func GetContextUint(c *gin.Context, key string) (uint, bool) {
	value, exists := c.Get(key)
	if !exists {
		RespondError(c, response.CodeUnauthorized, "unauthorized", nil)
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			RespondError(c, response.CodeBadRequest, "invalid "+key, nil)
			return 0, false
		}
		return uint(v), true
	case float64:
		if v < 0 {
			RespondError(c, response.CodeBadRequest, "invalid "+key, nil)
			return 0, false
		}
		return uint(v), true
	default:
		RespondError(c, response.CodeInternal, "invalid "+key+" type", nil)
		return 0, false
	}
}
