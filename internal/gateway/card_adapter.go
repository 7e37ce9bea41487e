package gateway

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/payment/stripe"
)

const (
	metaScheduleID    = "schedule_id"
	metaBillingPeriod = "billing_period"
	metaContactID     = "contact_id"
	metaCampaign      = "campaign"
)

// CardAdapter synchronous card-charge processor. Recurring gifts store a
// customer mandate on the processor; installments are charged off-session.
type CardAdapter struct {
	cfg *stripe.Config
	now func() time.Time
}

// NewCardAdapter creates the card adapter.
func NewCardAdapter(cfg stripe.Config) (*CardAdapter, error) {
	cfg.Normalize()
	if err := stripe.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &CardAdapter{cfg: &cfg, now: time.Now}, nil
}

// Name selector
func (a *CardAdapter) Name() string {
	return constants.GatewayCard
}

// RequiresPaymentToken live card charges need a tokenized card.
func (a *CardAdapter) RequiresPaymentToken() bool {
	return true
}

// Charge runs a one-time charge, a first recurring charge plus mandate, or an installment.
func (a *CardAdapter) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Installment != nil {
		return a.chargeInstallment(ctx, req)
	}
	token := strings.TrimSpace(req.PaymentToken)
	if token == "" {
		return nil, Declined("a card payment token is required")
	}

	metadata := map[string]string{
		metaContactID: strconv.FormatUint(uint64(req.Contact.ContactID), 10),
		metaCampaign:  req.Campaign,
	}
	intent, err := stripe.CreatePaymentIntent(ctx, a.cfg, stripe.IntentInput{
		Amount:         req.Amount,
		Currency:       req.Currency,
		PaymentMethod:  token,
		Email:          req.Contact.Email,
		Description:    describeCharge(req.Campaign),
		SaveForFuture:  req.Recurrence != nil,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, mapCardError(err)
	}
	if err := checkIntentStatus(intent); err != nil {
		return nil, err
	}

	result := a.completed(req, intent)
	if req.Recurrence == nil {
		return result, nil
	}

	paymentMethod := intent.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = token
	}
	customerKey := ""
	if req.IdempotencyKey != "" {
		customerKey = req.IdempotencyKey + "-mandate"
	}
	customer, err := stripe.CreateCustomer(ctx, a.cfg, stripe.CustomerInput{
		Email:          req.Contact.Email,
		Name:           req.Contact.DisplayName,
		PaymentMethod:  paymentMethod,
		IdempotencyKey: customerKey,
		Metadata:       metadata,
	})
	if err != nil {
		logger.Warnw("card_mandate_create_failed",
			"contact_id", req.Contact.ContactID,
			"transaction_id", intent.PaymentIntentID,
			"error", err,
		)
		result.Outcome = OutcomePartialSuccess
		result.Reason = "recurring mandate could not be created"
		return result, nil
	}
	result.SubscriptionID = customer.CustomerID
	result.PaymentMethodRef = paymentMethod
	return result, nil
}

func (a *CardAdapter) chargeInstallment(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	inst := req.Installment
	if strings.TrimSpace(inst.ExternalSubscriptionID) == "" || strings.TrimSpace(inst.PaymentMethodRef) == "" {
		return nil, Declined("no stored payment mandate for this schedule")
	}
	key := req.IdempotencyKey
	if key == "" {
		key = InstallmentIdempotencyKey(inst.ScheduleID, inst.BillingPeriod)
	}
	intent, err := stripe.CreatePaymentIntent(ctx, a.cfg, stripe.IntentInput{
		Amount:         req.Amount,
		Currency:       req.Currency,
		PaymentMethod:  inst.PaymentMethodRef,
		Customer:       inst.ExternalSubscriptionID,
		Email:          req.Contact.Email,
		Description:    describeCharge(req.Campaign),
		OffSession:     true,
		IdempotencyKey: key,
		Metadata: map[string]string{
			metaScheduleID:    strconv.FormatUint(uint64(inst.ScheduleID), 10),
			metaBillingPeriod: inst.BillingPeriod,
			metaContactID:     strconv.FormatUint(uint64(req.Contact.ContactID), 10),
			metaCampaign:      req.Campaign,
		},
	})
	if err != nil {
		return nil, mapCardError(err)
	}
	if err := checkIntentStatus(intent); err != nil {
		return nil, err
	}
	result := a.completed(req, intent)
	result.SubscriptionID = inst.ExternalSubscriptionID
	result.PaymentMethodRef = inst.PaymentMethodRef
	return result, nil
}

// CancelSubscription removes the stored customer mandate.
func (a *CardAdapter) CancelSubscription(ctx context.Context, externalID, reason string) error {
	if err := stripe.DeleteCustomer(ctx, a.cfg, externalID); err != nil {
		return mapCardError(err)
	}
	return nil
}

// VerifyWebhook checks the HMAC signature and classifies the event.
func (a *CardAdapter) VerifyWebhook(ctx context.Context, payload []byte, headers map[string]string) (*Event, error) {
	raw, err := stripe.VerifyAndParseWebhook(a.cfg, headers, payload, a.now())
	if err != nil {
		return nil, errors.Join(ErrVerification, err)
	}

	event := &Event{
		Gateway:       a.Name(),
		Kind:          EventIgnored,
		EventID:       raw.EventID,
		Type:          raw.EventType,
		TransactionID: raw.PaymentIntentID,
		ContactEmail:  raw.Email,
		Currency:      raw.Currency,
		Amount:        parseAmount(raw.Amount),
		BillingPeriod: raw.Metadata[metaBillingPeriod],
		Campaign:      raw.Metadata[metaCampaign],
		Reason:        raw.FailureMessage,
		OccurredAt:    a.now(),
	}
	if raw.Created != nil {
		event.OccurredAt = *raw.Created
	}
	if id, err := strconv.ParseUint(strings.TrimSpace(raw.Metadata[metaContactID]), 10, 64); err == nil {
		event.ContactID = uint(id)
	}
	scheduleID, _ := strconv.ParseUint(strings.TrimSpace(raw.Metadata[metaScheduleID]), 10, 64)
	event.ScheduleID = uint(scheduleID)

	switch raw.EventType {
	case "payment_intent.succeeded":
		if event.ScheduleID > 0 {
			event.Kind = EventInstallmentCompleted
			event.SubscriptionID = raw.CustomerID
		} else {
			event.Kind = EventOneTimeCompleted
		}
	case "payment_intent.payment_failed":
		if event.ScheduleID > 0 {
			event.Kind = EventInstallmentFailed
			event.SubscriptionID = raw.CustomerID
		}
	case "customer.deleted":
		event.Kind = EventSubscriptionCancelled
		event.SubscriptionID = raw.CustomerID
		event.TransactionID = ""
	}
	return event, nil
}

// InstallmentIdempotencyKey processor idempotency key for one billing period.
func InstallmentIdempotencyKey(scheduleID uint, billingPeriod string) string {
	return "schedule-" + strconv.FormatUint(uint64(scheduleID), 10) + "-" + billingPeriod
}

func (a *CardAdapter) completed(req ChargeRequest, intent *stripe.IntentResult) *ChargeResult {
	processedAt := a.now()
	if intent.Created != nil {
		processedAt = *intent.Created
	}
	amount := req.Amount
	if parsed := parseAmount(intent.Amount); parsed.IsPositive() {
		amount = parsed
	}
	currency := req.Currency
	if intent.Currency != "" {
		currency = intent.Currency
	}
	return &ChargeResult{
		Outcome:       OutcomeCompleted,
		TransactionID: intent.PaymentIntentID,
		Amount:        amount,
		Currency:      currency,
		ProcessedAt:   processedAt,
	}
}

func checkIntentStatus(intent *stripe.IntentResult) error {
	switch intent.Status {
	case stripe.IntentStatusSucceeded:
		return nil
	case stripe.IntentStatusProcessing:
		return unavailable("payment %s is still processing", intent.PaymentIntentID)
	case stripe.IntentStatusRequiresAction:
		return Declined("the card requires additional authentication")
	default:
		return Declined("the card was not charged (" + intent.Status + ")")
	}
}

func mapCardError(err error) error {
	if err == nil {
		return nil
	}
	var decline *stripe.DeclineError
	if errors.As(err, &decline) {
		return Declined(decline.Reason())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable("card processor timed out")
	}
	if errors.Is(err, stripe.ErrResponseInvalid) {
		return Declined("the card processor rejected the request")
	}
	return unavailable("%v", err)
}

func describeCharge(campaign string) string {
	if campaign = strings.TrimSpace(campaign); campaign != "" {
		return "Donation - " + campaign
	}
	return "Donation"
}
