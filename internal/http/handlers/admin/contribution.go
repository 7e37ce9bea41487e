package admin

import (
	"strings"
	"time"

	handlershared "github.com/donation-core/internal/http/handlers/shared"
	"github.com/donation-core/internal/http/response"
	"github.com/donation-core/internal/repository"

	"github.com/gin-gonic/gin"
)

// ListContributions ledger query with filters
func (h *Handler) ListContributions(c *gin.Context) {
	page, pageSize := handlershared.PageQuery(c)
	filter := repository.ContributionListFilter{
		Page:       page,
		PageSize:   pageSize,
		ContactID:  handlershared.ParseUintQuery(c, "contact_id"),
		ScheduleID: handlershared.ParseUintQuery(c, "schedule_id"),
		Status:     strings.TrimSpace(c.Query("status")),
		Campaign:   strings.TrimSpace(c.Query("campaign")),
		Source:     strings.TrimSpace(c.Query("source")),
		Email:      strings.TrimSpace(c.Query("email")),
	}
	var ok bool
	if filter.CreatedFrom, ok = parseTimeQuery(c, "created_from"); !ok {
		respondError(c, response.CodeBadRequest, "created_from must be RFC3339", nil)
		return
	}
	if filter.CreatedTo, ok = parseTimeQuery(c, "created_to"); !ok {
		respondError(c, response.CodeBadRequest, "created_to must be RFC3339", nil)
		return
	}

	contributions, total, err := h.LedgerService.List(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "contribution query failed", err)
		return
	}
	response.SuccessWithPage(c, contributions, response.BuildPagination(page, pageSize, total))
}

// GetContribution one ledger row
func (h *Handler) GetContribution(c *gin.Context) {
	id, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		respondError(c, response.CodeBadRequest, "invalid contribution id", nil)
		return
	}
	contribution, err := h.LedgerService.Get(id)
	if err != nil {
		handlershared.RespondMapped(c, err, handlershared.LookupErrorRules, response.CodeInternal, "contribution lookup failed")
		return
	}
	response.Success(c, contribution)
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false
	}
	return &parsed, true
}
