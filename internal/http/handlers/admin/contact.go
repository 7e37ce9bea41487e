package admin

import (
	handlershared "github.com/donation-core/internal/http/handlers/shared"
	"github.com/donation-core/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GetContact one donor record
func (h *Handler) GetContact(c *gin.Context) {
	id, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		respondError(c, response.CodeBadRequest, "invalid contact id", nil)
		return
	}
	contact, err := h.ContactService.Get(id)
	if err != nil {
		handlershared.RespondMapped(c, err, handlershared.LookupErrorRules, response.CodeInternal, "contact lookup failed")
		return
	}
	response.Success(c, contact)
}
