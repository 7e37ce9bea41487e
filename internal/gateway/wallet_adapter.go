package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/payment/paypal"
	"github.com/donation-core/internal/repository"

	"github.com/google/uuid"
)

// CaptureStatus result of capturing an approved wallet order.
type CaptureStatus struct {
	OrderID   string
	CaptureID string
	Status    string
}

// WalletAdapter asynchronous redirect processor. Charge only stores the
// pending request; money is recorded when the verified notification arrives.
type WalletAdapter struct {
	cfg         *paypal.Config
	redirects   repository.PendingRedirectRepository
	redirectTTL time.Duration
	now         func() time.Time
}

// NewWalletAdapter creates the wallet adapter.
func NewWalletAdapter(cfg paypal.Config, redirects repository.PendingRedirectRepository, redirectTTL time.Duration) (*WalletAdapter, error) {
	cfg.Normalize()
	if err := paypal.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	if redirects == nil {
		return nil, errors.New("pending redirect repository is required")
	}
	if redirectTTL <= 0 {
		redirectTTL = 24 * time.Hour
	}
	return &WalletAdapter{cfg: &cfg, redirects: redirects, redirectTTL: redirectTTL, now: time.Now}, nil
}

// Name selector
func (a *WalletAdapter) Name() string {
	return constants.GatewayWallet
}

// Charge stores a pending redirect keyed by a fresh correlation token and
// creates the processor order or subscription the donor must approve.
func (a *WalletAdapter) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Installment != nil {
		return nil, errors.Join(ErrUnsupported, errors.New("wallet installments are billed by the processor"))
	}
	now := a.now()
	token := uuid.NewString()
	pending := &models.PendingRedirect{
		Token:       token,
		Gateway:     a.Name(),
		ContactID:   req.Contact.ContactID,
		Email:       req.Contact.Email,
		DisplayName: req.Contact.DisplayName,
		Amount:      models.NewMoneyFromDecimal(req.Amount),
		Currency:    req.Currency,
		Campaign:    req.Campaign,
		Note:        req.Note,
		Status:      constants.RedirectStatusPending,
		ExpiresAt:   now.Add(a.redirectTTL),
	}
	if req.Recurrence != nil {
		pending.Recurring = true
		pending.IntervalUnit = req.Recurrence.IntervalUnit
		pending.IntervalCount = req.Recurrence.IntervalCount
	}
	if err := a.redirects.Create(pending); err != nil {
		return nil, unavailable("store pending redirect: %v", err)
	}

	var (
		created *paypal.CreateResult
		err     error
	)
	if req.Recurrence != nil {
		created, err = paypal.CreateSubscription(ctx, a.cfg, paypal.SubscriptionInput{
			CustomID:  token,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Email:     req.Contact.Email,
			GivenName: req.Contact.DisplayName,
			RequestID: token,
		})
	} else {
		created, err = paypal.CreateOrder(ctx, a.cfg, paypal.OrderInput{
			CustomID:    token,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Description: describeCharge(req.Campaign),
			RequestID:   token,
		})
	}
	if err != nil {
		if _, markErr := a.redirects.MarkFailed(pending.ID); markErr != nil {
			logger.Warnw("wallet_redirect_mark_failed_error", "token", token, "error", markErr)
		}
		return nil, mapWalletError(err)
	}
	if err := a.redirects.SetExternalRef(pending.ID, created.ID, created.ApprovalURL); err != nil {
		return nil, unavailable("store processor reference: %v", err)
	}

	return &ChargeResult{
		Outcome:          OutcomePending,
		RedirectURL:      created.ApprovalURL,
		CorrelationToken: token,
		SubscriptionID:   subscriptionRef(req, created.ID),
		Amount:           req.Amount,
		Currency:         req.Currency,
		ProcessedAt:      now,
	}, nil
}

// CaptureOrder captures an approved one-time order on the donor's return.
func (a *WalletAdapter) CaptureOrder(ctx context.Context, orderID string) (*CaptureStatus, error) {
	captured, err := paypal.CaptureOrder(ctx, a.cfg, orderID)
	if err != nil {
		return nil, mapWalletError(err)
	}
	return &CaptureStatus{OrderID: captured.OrderID, CaptureID: captured.CaptureID, Status: captured.Status}, nil
}

// CancelSubscription stops processor-side billing.
func (a *WalletAdapter) CancelSubscription(ctx context.Context, externalID, reason string) error {
	if err := paypal.CancelSubscription(ctx, a.cfg, externalID, reason); err != nil {
		return mapWalletError(err)
	}
	return nil
}

// VerifyWebhook performs the round-trip verification before reading any field.
func (a *WalletAdapter) VerifyWebhook(ctx context.Context, payload []byte, headers map[string]string) (*Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(ErrVerification, err)
	}
	header := http.Header{}
	for key, value := range headers {
		header.Set(key, value)
	}
	if err := paypal.VerifyWebhookSignature(ctx, a.cfg, header, raw); err != nil {
		if errors.Is(err, paypal.ErrRequestFailed) {
			return nil, unavailable("wallet verification call failed: %v", err)
		}
		return nil, errors.Join(ErrVerification, err)
	}

	parsed, err := paypal.ParseWebhookEvent(payload)
	if err != nil {
		return nil, errors.Join(ErrVerification, err)
	}
	amount, currency := parsed.Amount()
	event := &Event{
		Gateway:          a.Name(),
		Kind:             EventIgnored,
		EventID:          parsed.ID,
		Type:             parsed.EventType,
		CorrelationToken: parsed.CustomID(),
		ContactEmail:     parsed.SubscriberEmail(),
		Amount:           parseAmount(amount),
		Currency:         strings.ToUpper(currency),
		Reason:           parsed.FailureReason(),
		OccurredAt:       a.now(),
	}
	if at := parsed.OccurredAt(); at != nil {
		event.OccurredAt = *at
	}

	switch parsed.EventType {
	case paypal.EventCaptureCompleted:
		event.Kind = EventOneTimeCompleted
		event.TransactionID = parsed.ResourceID()
	case paypal.EventCaptureDenied, paypal.EventCaptureDeclined:
		event.Kind = EventOneTimeFailed
		event.TransactionID = parsed.ResourceID()
	case paypal.EventSubscriptionActivated:
		event.Kind = EventSubscriptionActivated
		event.SubscriptionID = parsed.SubscriptionID()
	case paypal.EventSaleCompleted:
		event.SubscriptionID = parsed.SubscriptionID()
		event.TransactionID = parsed.ResourceID()
		if event.SubscriptionID != "" {
			event.Kind = EventInstallmentCompleted
		}
	case paypal.EventSubscriptionPayFailed:
		event.Kind = EventInstallmentFailed
		event.SubscriptionID = parsed.SubscriptionID()
	case paypal.EventSubscriptionCancelled, paypal.EventSubscriptionExpired:
		event.Kind = EventSubscriptionCancelled
		event.SubscriptionID = parsed.SubscriptionID()
	}
	return event, nil
}

func subscriptionRef(req ChargeRequest, externalID string) string {
	if req.Recurrence == nil {
		return ""
	}
	return externalID
}

func mapWalletError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, paypal.ErrPaymentDenied):
		return Declined("the wallet provider declined the payment")
	case errors.Is(err, paypal.ErrResponseInvalid):
		return Declined("the wallet provider rejected the request")
	default:
		return unavailable("%v", err)
	}
}
