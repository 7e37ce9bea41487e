package admin

import (
	"strings"

	handlershared "github.com/donation-core/internal/http/handlers/shared"
	"github.com/donation-core/internal/http/response"
	"github.com/donation-core/internal/repository"

	"github.com/gin-gonic/gin"
)

// ListSchedules recurring schedule query
func (h *Handler) ListSchedules(c *gin.Context) {
	page, pageSize := handlershared.PageQuery(c)
	filter := repository.ScheduleListFilter{
		Page:        page,
		PageSize:    pageSize,
		ContactID:   handlershared.ParseUintQuery(c, "contact_id"),
		Status:      strings.TrimSpace(c.Query("status")),
		Gateway:     strings.TrimSpace(c.Query("gateway")),
		BillingMode: strings.TrimSpace(c.Query("billing_mode")),
	}
	schedules, total, err := h.PaymentService.ListSchedules(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "schedule query failed", err)
		return
	}
	response.SuccessWithPage(c, schedules, response.BuildPagination(page, pageSize, total))
}

// GetSchedule one schedule
func (h *Handler) GetSchedule(c *gin.Context) {
	id, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		respondError(c, response.CodeBadRequest, "invalid schedule id", nil)
		return
	}
	schedule, err := h.PaymentService.GetSchedule(id)
	if err != nil {
		handlershared.RespondMapped(c, err, handlershared.ScheduleErrorRules, response.CodeInternal, "schedule lookup failed")
		return
	}
	response.Success(c, schedule)
}

// CancelScheduleRequest optional cancellation reason
type CancelScheduleRequest struct {
	Reason string `json:"reason"`
}

// CancelSchedule stops a schedule on operator request
func (h *Handler) CancelSchedule(c *gin.Context) {
	id, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		respondError(c, response.CodeBadRequest, "invalid schedule id", nil)
		return
	}
	var req CancelScheduleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, response.CodeBadRequest, "invalid request body", nil)
			return
		}
	}
	adminID, _ := c.Get(handlershared.ContextAdminID)
	requestLog(c).Infow("admin_schedule_cancel_requested", "schedule_id", id, "admin_id", adminID)

	schedule, err := h.PaymentService.CancelSchedule(c.Request.Context(), id, req.Reason)
	if err != nil {
		handlershared.RespondMapped(c, err, handlershared.ScheduleErrorRules, response.CodeInternal, "schedule cancel failed")
		return
	}
	response.Success(c, schedule)
}

// EstablishScheduleRequest processor mandate for an unestablished schedule
type EstablishScheduleRequest struct {
	ExternalSubscriptionID string `json:"external_subscription_id" binding:"required"`
	PaymentMethodRef       string `json:"payment_method_ref" binding:"required"`
}

// EstablishSchedule attaches a mandate so the billing cycle can charge the schedule
func (h *Handler) EstablishSchedule(c *gin.Context) {
	id, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		respondError(c, response.CodeBadRequest, "invalid schedule id", nil)
		return
	}
	var req EstablishScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	adminID, _ := c.Get(handlershared.ContextAdminID)
	requestLog(c).Infow("admin_schedule_establish_requested", "schedule_id", id, "admin_id", adminID)

	schedule, err := h.PaymentService.EstablishSchedule(id, req.ExternalSubscriptionID, req.PaymentMethodRef)
	if err != nil {
		handlershared.RespondMapped(c, err, handlershared.ScheduleErrorRules, response.CodeInternal, "schedule update failed")
		return
	}
	response.Success(c, schedule)
}
