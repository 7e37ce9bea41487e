package admin

import (
	"strings"
	"time"

	"github.com/donation-core/internal/http/response"

	"github.com/gin-gonic/gin"
)

const billingRunUniqueWindow = 10 * time.Minute

// RunBillingCycle runs the cycle inline and returns the report. With
// ?async=true and the queue enabled, the run is handed to a worker instead.
func (h *Handler) RunBillingCycle(c *gin.Context) {
	if strings.EqualFold(strings.TrimSpace(c.Query("async")), "true") && h.QueueClient.Enabled() {
		if err := h.QueueClient.EnqueueBillingRun(billingRunUniqueWindow); err != nil {
			respondError(c, response.CodeConflict, "billing run already queued", err)
			return
		}
		response.SuccessWithMsg(c, "billing run queued", gin.H{"queued": true})
		return
	}

	report, err := h.BillingService.RunDueCycle(c.Request.Context())
	if err != nil {
		respondError(c, response.CodeInternal, "billing run failed", err)
		return
	}
	requestLog(c).Infow("admin_billing_run_finished",
		"due", report.Due,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"cancelled", report.Cancelled,
	)
	response.Success(c, report)
}
