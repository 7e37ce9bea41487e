package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/gateway"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxCampaignLength = 64
	maxNoteLength     = 500
)

// PaymentRequest donor intent for one payment attempt.
type PaymentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Email          string
	DisplayName    string
	Phone          string
	Gateway        string
	Recurring      bool
	IntervalUnit   string
	IntervalCount  int
	Campaign       string
	Note           string
	PaymentToken   string
	IdempotencyKey string
}

// PaymentResult outcome reported to the donor-facing flow. Failures are
// returned as errors instead.
type PaymentResult struct {
	Status                string `json:"status"`
	ContactID             uint   `json:"contact_id"`
	ContributionID        uint   `json:"contribution_id,omitempty"`
	ExternalTransactionID string `json:"external_transaction_id,omitempty"`
	ScheduleID            uint   `json:"schedule_id,omitempty"`
	ScheduleEstablished   bool   `json:"schedule_established,omitempty"`
	ScheduleReused        bool   `json:"schedule_reused,omitempty"`
	PartialSuccess        bool   `json:"partial_success,omitempty"`
	RedirectURL           string `json:"redirect_url,omitempty"`
	CorrelationToken      string `json:"correlation_token,omitempty"`
}

// PaymentService the payment orchestrator. It is the only entry point that
// creates contacts and contributions for live donor requests.
type PaymentService struct {
	cfg          config.PaymentConfig
	registry     *gateway.Registry
	contacts     *ContactService
	ledger       *LedgerService
	scheduleRepo repository.ScheduleRepository
	redirectRepo repository.PendingRedirectRepository
	txRunner     repository.TxRunner
	notifier     Notifier
	maxAmount    decimal.Decimal
	now          func() time.Time
}

// NewPaymentService creates the orchestrator
func NewPaymentService(
	cfg config.PaymentConfig,
	registry *gateway.Registry,
	contacts *ContactService,
	ledger *LedgerService,
	scheduleRepo repository.ScheduleRepository,
	redirectRepo repository.PendingRedirectRepository,
	txRunner repository.TxRunner,
	notifier Notifier,
) *PaymentService {
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	maxAmount, err := decimal.NewFromString(strings.TrimSpace(cfg.MaxAmount))
	if err != nil {
		maxAmount = decimal.Zero
	}
	return &PaymentService{
		cfg:          cfg,
		registry:     registry,
		contacts:     contacts,
		ledger:       ledger,
		scheduleRepo: scheduleRepo,
		redirectRepo: redirectRepo,
		txRunner:     txRunner,
		notifier:     notifier,
		maxAmount:    maxAmount,
		now:          time.Now,
	}
}

func paymentLogger(kv ...interface{}) *zap.SugaredLogger {
	if len(kv) == 0 {
		return logger.S()
	}
	return logger.SW(kv...)
}

// ProcessPayment validates the request, resolves the contact, charges the
// selected gateway and records the outcome.
func (s *PaymentService) ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	adapter, err := s.validate(&req)
	if err != nil {
		return nil, err
	}
	log := paymentLogger("gateway", req.Gateway, "recurring", req.Recurring, "amount", req.Amount.StringFixed(2))

	contact, err := s.contacts.Resolve(ContactInput{Email: req.Email, DisplayName: req.DisplayName, Phone: req.Phone})
	if err != nil {
		log.Errorw("payment_contact_resolve_failed", "error", err)
		return nil, err
	}
	log = log.With("contact_id", contact.ID)

	var existing *models.RecurringSchedule
	if req.Recurring {
		existing, err = s.findLiveSchedule(contact.ID, req)
		if err != nil {
			log.Errorw("payment_schedule_lookup_failed", "error", err)
			return nil, err
		}
	}

	chargeReq := gateway.ChargeRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Contact: gateway.ContactInfo{
			ContactID:   contact.ID,
			Email:       contact.Email,
			DisplayName: contact.DisplayName,
			Phone:       contact.Phone,
		},
		PaymentToken:   req.PaymentToken,
		Campaign:       req.Campaign,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
	}
	if chargeReq.IdempotencyKey == "" {
		chargeReq.IdempotencyKey = "donation-" + uuid.NewString()
	}
	// An existing standing authorization covers the cadence; this attempt
	// is charged as a single gift.
	if req.Recurring && existing == nil {
		chargeReq.Recurrence = &gateway.Recurrence{IntervalUnit: req.IntervalUnit, IntervalCount: req.IntervalCount}
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout())
	result, err := adapter.Charge(chargeCtx, chargeReq)
	cancel()
	if err != nil {
		mapped := mapChargeError(err)
		if errors.Is(mapped, ErrGatewayDeclined) {
			log.Infow("payment_charge_declined", "reason", Reason(mapped))
			s.recordLiveFailure(contact.ID, req, Reason(mapped))
		} else {
			log.Warnw("payment_charge_unavailable", "error", err)
		}
		return nil, mapped
	}

	switch result.Outcome {
	case gateway.OutcomePending:
		log.Infow("payment_pending_redirect", "correlation_token", result.CorrelationToken)
		return &PaymentResult{
			Status:           constants.PaymentResultPendingRedirect,
			ContactID:        contact.ID,
			RedirectURL:      result.RedirectURL,
			CorrelationToken: result.CorrelationToken,
		}, nil
	case gateway.OutcomeCompleted, gateway.OutcomePartialSuccess:
		return s.recordLiveCharge(ctx, contact, req, result, existing, chargeReq.Recurrence != nil)
	default:
		log.Errorw("payment_unknown_outcome", "outcome", result.Outcome)
		return nil, withReason(ErrGatewayUnavailable, "unexpected gateway outcome")
	}
}

func (s *PaymentService) recordLiveCharge(
	ctx context.Context,
	contact *models.Contact,
	req PaymentRequest,
	result *gateway.ChargeResult,
	existing *models.RecurringSchedule,
	createSchedule bool,
) (*PaymentResult, error) {
	now := s.now()
	receivedAt := result.ProcessedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	amount := result.Amount
	if !amount.IsPositive() {
		amount = req.Amount
	}
	out := &PaymentResult{
		Status:                constants.PaymentResultSuccess,
		ContactID:             contact.ID,
		ExternalTransactionID: result.TransactionID,
		PartialSuccess:        result.Outcome == gateway.OutcomePartialSuccess,
	}
	if existing != nil {
		out.ScheduleID = existing.ID
		out.ScheduleReused = true
		out.ScheduleEstablished = existing.Established
	}

	var (
		contribution *models.Contribution
		duplicate    bool
	)
	err := s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		var scheduleID *uint
		if createSchedule {
			schedule := s.newLocalSchedule(contact.ID, req, result, now)
			if err := s.scheduleRepo.WithTx(tx).Create(schedule); err != nil {
				return err
			}
			scheduleID = &schedule.ID
			out.ScheduleID = schedule.ID
			out.ScheduleEstablished = schedule.Established
		}
		entry := LedgerEntry{
			ContactID:     contact.ID,
			Amount:        amount,
			Currency:      req.Currency,
			TransactionID: result.TransactionID,
			ScheduleID:    scheduleID,
			Campaign:      req.Campaign,
			Note:          req.Note,
			Gateway:       req.Gateway,
			Channel:       constants.SourceChannelLive,
			ReceivedAt:    receivedAt,
		}
		if scheduleID != nil {
			entry.BillingPeriod = periodKey(now)
		}
		var err error
		contribution, duplicate, err = s.ledger.RecordCompleted(tx, entry)
		return err
	})
	if err != nil {
		// Money moved but the ledger write failed. The verified webhook for
		// this transaction folds it in later by its idempotency key.
		paymentLogger("contact_id", contact.ID, "transaction_id", result.TransactionID).
			Errorw("payment_ledger_write_failed", "error", err)
		return nil, err
	}
	out.ContributionID = contribution.ID

	paymentLogger(
		"contact_id", contact.ID,
		"contribution_id", contribution.ID,
		"transaction_id", result.TransactionID,
		"schedule_id", out.ScheduleID,
	).Infow("payment_charge_completed",
		"outcome", result.Outcome,
		"duplicate", duplicate,
	)
	if !duplicate && s.notifier != nil {
		s.notifier.ContributionCompleted(ctx, contribution.ID)
	}
	return out, nil
}

func (s *PaymentService) newLocalSchedule(contactID uint, req PaymentRequest, result *gateway.ChargeResult, now time.Time) *models.RecurringSchedule {
	schedule := &models.RecurringSchedule{
		ContactID:        contactID,
		Amount:           models.NewMoneyFromDecimal(req.Amount),
		Currency:         req.Currency,
		IntervalUnit:     req.IntervalUnit,
		IntervalCount:    req.IntervalCount,
		Status:           constants.ScheduleStatusActive,
		NextChargeAt:     addInterval(now, req.IntervalUnit, req.IntervalCount),
		Gateway:          req.Gateway,
		BillingMode:      constants.BillingModeLocal,
		PaymentMethodRef: result.PaymentMethodRef,
		Campaign:         req.Campaign,
	}
	if result.Outcome == gateway.OutcomeCompleted && strings.TrimSpace(result.SubscriptionID) != "" {
		externalID := strings.TrimSpace(result.SubscriptionID)
		schedule.ExternalSubscriptionID = &externalID
		schedule.Established = true
	}
	return schedule
}

func (s *PaymentService) recordLiveFailure(contactID uint, req PaymentRequest, reason string) {
	_, err := s.ledger.RecordFailed(nil, LedgerEntry{
		ContactID:     contactID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Campaign:      req.Campaign,
		Gateway:       req.Gateway,
		Channel:       constants.SourceChannelLive,
		FailureReason: reason,
		ReceivedAt:    s.now(),
	})
	if err != nil {
		paymentLogger("contact_id", contactID).Warnw("payment_failure_audit_failed", "error", err)
	}
}

func (s *PaymentService) findLiveSchedule(contactID uint, req PaymentRequest) (*models.RecurringSchedule, error) {
	rows, err := s.scheduleRepo.FindLiveForContact(contactID, req.Gateway, req.IntervalUnit, req.IntervalCount)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Amount.SameAmount(req.Amount) && strings.EqualFold(rows[i].Currency, req.Currency) {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// validate normalizes req in place and returns the selected adapter. Nothing
// here touches a gateway.
func (s *PaymentService) validate(req *PaymentRequest) (gateway.Adapter, error) {
	if !req.Amount.IsPositive() {
		return nil, invalidRequest("amount must be greater than zero")
	}
	if !req.Amount.Round(2).Equal(req.Amount) {
		return nil, invalidRequest("amount has more than two decimal places")
	}
	if s.maxAmount.IsPositive() && req.Amount.GreaterThan(s.maxAmount) {
		return nil, invalidRequest("amount exceeds the maximum of " + s.maxAmount.StringFixed(2))
	}

	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = s.cfg.Currency
	}
	if req.Currency != s.cfg.Currency {
		return nil, invalidRequest("currency must be " + s.cfg.Currency)
	}

	req.Email = normalizeEmail(req.Email)
	if !validEmail(req.Email) {
		return nil, invalidRequest("email is not valid")
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.Phone = strings.TrimSpace(req.Phone)

	req.Gateway = strings.ToLower(strings.TrimSpace(req.Gateway))
	adapter, ok := s.registry.Get(req.Gateway)
	if !ok || !s.cfg.GatewayEnabled(req.Gateway) {
		return nil, invalidRequest("gateway is not supported")
	}

	if req.Recurring {
		req.IntervalUnit = strings.ToLower(strings.TrimSpace(req.IntervalUnit))
		if _, ok := validIntervalUnits[req.IntervalUnit]; !ok {
			return nil, invalidRequest("interval unit must be day, week, month or year")
		}
		if req.IntervalCount == 0 {
			req.IntervalCount = 1
		}
		if req.IntervalCount < 1 || req.IntervalCount > maxIntervalCount {
			return nil, invalidRequest("interval count must be between 1 and 12")
		}
	} else {
		req.IntervalUnit = ""
		req.IntervalCount = 0
	}

	req.Campaign = strings.TrimSpace(req.Campaign)
	if len([]rune(req.Campaign)) > maxCampaignLength {
		return nil, invalidRequest("campaign is too long")
	}
	req.Note = strings.TrimSpace(req.Note)
	if len([]rune(req.Note)) > maxNoteLength {
		return nil, invalidRequest("note is too long")
	}
	req.PaymentToken = strings.TrimSpace(req.PaymentToken)
	if requirer, ok := adapter.(gateway.TokenRequirer); ok && requirer.RequiresPaymentToken() && req.PaymentToken == "" {
		return nil, invalidRequest("payment token is required")
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	return adapter, nil
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	if addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// mapChargeError translates adapter errors into the service taxonomy.
func mapChargeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrDeclined):
		reason := gateway.DeclineReason(err)
		if reason == "" {
			reason = "the payment was declined"
		}
		return withReason(ErrGatewayDeclined, reason)
	case errors.Is(err, gateway.ErrUnsupported):
		return invalidRequest("the gateway does not support this operation")
	default:
		// Timeouts and outages leave the upstream outcome unknown.
		return withReason(ErrGatewayUnavailable, "the payment provider is unavailable, please try again")
	}
}
