package public

import (
	"strings"

	handlershared "github.com/donation-core/internal/http/handlers/shared"
	"github.com/donation-core/internal/http/response"
	"github.com/donation-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// DonationRequest body of POST /donations
type DonationRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Email         string          `json:"email"`
	DisplayName   string          `json:"display_name"`
	Phone         string          `json:"phone"`
	Gateway       string          `json:"gateway"`
	Recurring     bool            `json:"recurring"`
	IntervalUnit  string          `json:"interval_unit"`
	IntervalCount int             `json:"interval_count"`
	Campaign      string          `json:"campaign"`
	Note          string          `json:"note"`
	PaymentToken  string          `json:"payment_token"`
}

func (r DonationRequest) toService(idempotencyKey string) service.PaymentRequest {
	return service.PaymentRequest{
		Amount:         r.Amount,
		Currency:       r.Currency,
		Email:          r.Email,
		DisplayName:    r.DisplayName,
		Phone:          r.Phone,
		Gateway:        r.Gateway,
		Recurring:      r.Recurring,
		IntervalUnit:   r.IntervalUnit,
		IntervalCount:  r.IntervalCount,
		Campaign:       r.Campaign,
		Note:           r.Note,
		PaymentToken:   r.PaymentToken,
		IdempotencyKey: idempotencyKey,
	}
}

// CreateDonation runs one payment attempt
func (h *Handler) CreateDonation(c *gin.Context) {
	var req DonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	result, err := h.PaymentService.ProcessPayment(c.Request.Context(), req.toService(idempotencyKey))
	if err != nil {
		handlershared.RespondMapped(c, err, handlershared.PaymentErrorRules, response.CodeInternal, "payment failed")
		return
	}
	response.Success(c, result)
}

// GetRedirectStatus lets the donor page poll a redirect payment
func (h *Handler) GetRedirectStatus(c *gin.Context) {
	status, err := h.PaymentService.GetRedirectStatus(c.Param("token"))
	if err != nil {
		handlershared.RespondMapped(c, err, handlershared.PaymentErrorRules, response.CodeInternal, "payment lookup failed")
		return
	}
	response.Success(c, status)
}

// CaptureRedirect captures an approved wallet order on donor return
func (h *Handler) CaptureRedirect(c *gin.Context) {
	result, err := h.PaymentService.CaptureRedirect(c.Request.Context(), c.Param("token"))
	if err != nil {
		handlershared.RespondMapped(c, err, handlershared.PaymentErrorRules, response.CodeInternal, "payment capture failed")
		return
	}
	response.Success(c, result)
}
