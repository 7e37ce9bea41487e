package service

import (
	"context"
	"strings"
	"time"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/gateway"
	"github.com/donation-core/internal/models"
)

// RedirectStatus donor-facing view of a redirect payment.
type RedirectStatus struct {
	Token          string       `json:"token"`
	Gateway        string       `json:"gateway"`
	Status         string       `json:"status"`
	Amount         models.Money `json:"amount"`
	Currency       string       `json:"currency"`
	Recurring      bool         `json:"recurring"`
	ContributionID *uint        `json:"contribution_id,omitempty"`
	ScheduleID     *uint        `json:"schedule_id,omitempty"`
	ExpiresAt      time.Time    `json:"expires_at"`
}

// CaptureResult outcome of capturing an approved redirect order.
type CaptureResult struct {
	Token     string `json:"token"`
	OrderID   string `json:"order_id"`
	CaptureID string `json:"capture_id"`
	Status    string `json:"status"`
}

type orderCapturer interface {
	CaptureOrder(ctx context.Context, orderID string) (*gateway.CaptureStatus, error)
}

// GetRedirectStatus reports where a redirect payment stands. A pending row
// past its expiry reads as expired before the sweep marks it.
func (s *PaymentService) GetRedirectStatus(token string) (*RedirectStatus, error) {
	pending, err := s.loadRedirect(token)
	if err != nil {
		return nil, err
	}
	status := pending.Status
	if status == constants.RedirectStatusPending && s.now().After(pending.ExpiresAt) {
		status = constants.RedirectStatusExpired
	}
	return &RedirectStatus{
		Token:          pending.Token,
		Gateway:        pending.Gateway,
		Status:         status,
		Amount:         pending.Amount,
		Currency:       pending.Currency,
		Recurring:      pending.Recurring,
		ContributionID: pending.ContributionID,
		ScheduleID:     pending.ScheduleID,
		ExpiresAt:      pending.ExpiresAt,
	}, nil
}

// CaptureRedirect captures an approved one-time order when the donor returns.
// The contribution is still written only by the verified notification.
func (s *PaymentService) CaptureRedirect(ctx context.Context, token string) (*CaptureResult, error) {
	pending, err := s.loadRedirect(token)
	if err != nil {
		return nil, err
	}
	if pending.Recurring || pending.Status != constants.RedirectStatusPending || strings.TrimSpace(pending.ExternalRef) == "" {
		return nil, ErrRedirectNotCapturable
	}
	adapter, ok := s.registry.Get(pending.Gateway)
	if !ok {
		return nil, ErrRedirectNotCapturable
	}
	capturer, ok := adapter.(orderCapturer)
	if !ok {
		return nil, ErrRedirectNotCapturable
	}

	captureCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout())
	defer cancel()
	captured, err := capturer.CaptureOrder(captureCtx, pending.ExternalRef)
	if err != nil {
		mapped := mapChargeError(err)
		paymentLogger("token", pending.Token, "order_id", pending.ExternalRef).Warnw("payment_redirect_capture_failed", "error", err)
		return nil, mapped
	}
	paymentLogger("token", pending.Token, "order_id", pending.ExternalRef).Infow("payment_redirect_captured",
		"capture_id", captured.CaptureID,
		"status", captured.Status,
	)
	return &CaptureResult{
		Token:     pending.Token,
		OrderID:   captured.OrderID,
		CaptureID: captured.CaptureID,
		Status:    captured.Status,
	}, nil
}

// ExpireStaleRedirects marks pending redirects past their expiry.
func (s *PaymentService) ExpireStaleRedirects() (int64, error) {
	return s.redirectRepo.ExpireBefore(s.now())
}

func (s *PaymentService) loadRedirect(token string) (*models.PendingRedirect, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrPendingRedirectNotFound
	}
	pending, err := s.redirectRepo.GetByToken(token)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, ErrPendingRedirectNotFound
	}
	return pending, nil
}
