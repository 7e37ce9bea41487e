// Package gateway puts the card-charge and redirect/wallet processors behind
// one adapter contract. Charge returns a variant outcome instead of forcing
// the asynchronous processor to look synchronous.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDeclined the processor refused the charge for a business reason.
	ErrDeclined = errors.New("gateway declined")
	// ErrUnavailable network failure, timeout or processor outage. The outcome is unknown.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrVerification an inbound notification failed authenticity checks.
	ErrVerification = errors.New("gateway verification failed")
	// ErrUnsupported the adapter cannot perform the requested operation.
	ErrUnsupported = errors.New("gateway operation unsupported")
)

// Outcome result variant of a charge.
type Outcome string

const (
	// OutcomeCompleted money moved and a transaction id is known.
	OutcomeCompleted Outcome = "completed"
	// OutcomePending the donor must finish at the processor; a notification follows.
	OutcomePending Outcome = "pending"
	// OutcomePartialSuccess the first charge succeeded but the recurring mandate was not created.
	OutcomePartialSuccess Outcome = "partial_success"
)

// EventKind normalized classification of an inbound notification.
type EventKind string

const (
	EventOneTimeCompleted      EventKind = "one_time_completed"
	EventOneTimeFailed         EventKind = "one_time_failed"
	EventInstallmentCompleted  EventKind = "installment_completed"
	EventInstallmentFailed     EventKind = "installment_failed"
	EventSubscriptionActivated EventKind = "subscription_activated"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventIgnored               EventKind = "ignored"
)

// ContactInfo donor identity passed to the processor.
type ContactInfo struct {
	ContactID   uint
	Email       string
	DisplayName string
	Phone       string
}

// Recurrence billing interval of a new recurring gift.
type Recurrence struct {
	IntervalUnit  string
	IntervalCount int
}

// Installment identifies a scheduled charge against a stored mandate.
type Installment struct {
	ScheduleID             uint
	BillingPeriod          string
	ExternalSubscriptionID string
	PaymentMethodRef       string
}

// ChargeRequest normalized charge input.
type ChargeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Contact        ContactInfo
	PaymentToken   string
	Recurrence     *Recurrence
	Installment    *Installment
	Campaign       string
	Note           string
	IdempotencyKey string
}

// ChargeResult normalized charge outcome.
type ChargeResult struct {
	Outcome          Outcome
	TransactionID    string
	SubscriptionID   string
	PaymentMethodRef string
	RedirectURL      string
	CorrelationToken string
	Amount           decimal.Decimal
	Currency         string
	ProcessedAt      time.Time
	Reason           string
}

// Event normalized inbound notification. Only produced after verification.
type Event struct {
	Gateway          string
	Kind             EventKind
	EventID          string
	Type             string
	TransactionID    string
	SubscriptionID   string
	CorrelationToken string
	ScheduleID       uint
	ContactID        uint
	ContactEmail     string
	Campaign         string
	Amount           decimal.Decimal
	Currency         string
	OccurredAt       time.Time
	BillingPeriod    string
	Reason           string
}

// Adapter one external payment processor.
type Adapter interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	VerifyWebhook(ctx context.Context, payload []byte, headers map[string]string) (*Event, error)
}

// SubscriptionCanceller stops processor-side recurring billing or removes a stored mandate.
type SubscriptionCanceller interface {
	CancelSubscription(ctx context.Context, externalID, reason string) error
}

// TokenRequirer reports whether live charges need a client-side payment token.
type TokenRequirer interface {
	RequiresPaymentToken() bool
}

// DeclinedError carries the human-readable decline reason.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	if e.Reason == "" {
		return ErrDeclined.Error()
	}
	return ErrDeclined.Error() + ": " + e.Reason
}

// Is matches ErrDeclined.
func (e *DeclinedError) Is(target error) bool {
	return target == ErrDeclined
}

// Declined builds a decline error.
func Declined(reason string) error {
	return &DeclinedError{Reason: strings.TrimSpace(reason)}
}

// DeclineReason extracts the reason from a decline error.
func DeclineReason(err error) string {
	var declined *DeclinedError
	if errors.As(err, &declined) {
		return declined.Reason
	}
	return ""
}

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

func parseAmount(raw string) decimal.Decimal {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return amount
}
