package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/gateway"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Inbound outcomes. Every one of them is acknowledged to the gateway.
const (
	InboundApplied   = "applied"
	InboundDuplicate = "duplicate"
	InboundIgnored   = "ignored"
)

// InboundResult what the reconciler did with a verified event.
type InboundResult struct {
	Gateway        string            `json:"gateway"`
	EventID        string            `json:"event_id"`
	Kind           gateway.EventKind `json:"kind"`
	Outcome        string            `json:"outcome"`
	ContributionID uint              `json:"contribution_id,omitempty"`
	ScheduleID     uint              `json:"schedule_id,omitempty"`
}

// webhookEffects side effects released only after the transaction commits.
type webhookEffects struct {
	completed []uint
	cancelled []cancelNotice
}

type cancelNotice struct {
	schedule       models.RecurringSchedule
	reason         string
	stopProcessors bool
}

// WebhookService reconciles verified gateway notifications against local
// contribution and schedule state. Correctness rests on idempotent inserts and
// per-row compare-and-set, never on a global lock.
type WebhookService struct {
	registry     *gateway.Registry
	contacts     *ContactService
	ledger       *LedgerService
	payments     *PaymentService
	scheduleRepo repository.ScheduleRepository
	redirectRepo repository.PendingRedirectRepository
	receiptRepo  repository.EventReceiptRepository
	txRunner     repository.TxRunner
	notifier     Notifier
	threshold    int
	now          func() time.Time
}

// NewWebhookService creates the reconciler
func NewWebhookService(
	registry *gateway.Registry,
	contacts *ContactService,
	ledger *LedgerService,
	payments *PaymentService,
	scheduleRepo repository.ScheduleRepository,
	redirectRepo repository.PendingRedirectRepository,
	receiptRepo repository.EventReceiptRepository,
	txRunner repository.TxRunner,
	notifier Notifier,
	failureThreshold int,
) *WebhookService {
	if failureThreshold <= 0 {
		failureThreshold = constants.DefaultFailureThreshold
	}
	return &WebhookService{
		registry:     registry,
		contacts:     contacts,
		ledger:       ledger,
		payments:     payments,
		scheduleRepo: scheduleRepo,
		redirectRepo: redirectRepo,
		receiptRepo:  receiptRepo,
		txRunner:     txRunner,
		notifier:     notifier,
		threshold:    failureThreshold,
		now:          time.Now,
	}
}

// HandleInbound verifies, classifies and applies one inbound notification.
// A nil error means the gateway should receive a 2xx acknowledgment.
func (s *WebhookService) HandleInbound(ctx context.Context, gatewayName string, payload []byte, headers map[string]string) (*InboundResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	gatewayName = strings.ToLower(strings.TrimSpace(gatewayName))
	log := logger.SW("gateway", gatewayName, "body_size", len(payload))
	adapter, ok := s.registry.Get(gatewayName)
	if !ok {
		log.Warnw("webhook_unknown_gateway")
		return nil, invalidRequest("unknown gateway")
	}

	event, err := adapter.VerifyWebhook(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			log.Warnw("webhook_verification_unavailable", "error", err)
			return nil, ErrGatewayUnavailable
		}
		logger.Securityw("webhook_verification_failed",
			"gateway", gatewayName,
			"body_size", len(payload),
			"error", logger.Truncate(err.Error(), 120),
		)
		return nil, ErrVerificationFailed
	}

	log = log.With("event_id", event.EventID, "event_type", event.Type, "kind", event.Kind)
	result := &InboundResult{Gateway: event.Gateway, EventID: event.EventID, Kind: event.Kind, Outcome: InboundIgnored}
	effects := &webhookEffects{}

	switch event.Kind {
	case gateway.EventOneTimeCompleted:
		err = s.applyOneTimeCompleted(ctx, event, result, effects, log)
	case gateway.EventOneTimeFailed:
		err = s.applyOneTimeFailed(ctx, event, result, log)
	case gateway.EventInstallmentCompleted:
		err = s.applyInstallmentCompleted(ctx, event, result, effects, log)
	case gateway.EventInstallmentFailed:
		err = s.applyInstallmentFailed(ctx, event, result, effects, log)
	case gateway.EventSubscriptionActivated:
		err = s.applySubscriptionActivated(ctx, event, result, log)
	case gateway.EventSubscriptionCancelled:
		err = s.applySubscriptionCancelled(ctx, event, result, effects, log)
	default:
		log.Debugw("webhook_event_ignored")
	}
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			log.Warnw("webhook_event_malformed", "error", err)
		} else {
			log.Errorw("webhook_apply_failed", "error", err)
		}
		return nil, err
	}

	s.flush(ctx, effects)
	log.Infow("webhook_processed",
		"outcome", result.Outcome,
		"contribution_id", result.ContributionID,
		"schedule_id", result.ScheduleID,
	)
	return result, nil
}

func (s *WebhookService) applyOneTimeCompleted(ctx context.Context, event *gateway.Event, result *InboundResult, effects *webhookEffects, log *zap.SugaredLogger) error {
	if strings.TrimSpace(event.TransactionID) == "" || !event.Amount.IsPositive() {
		return invalidRequest("completed event without transaction id or amount")
	}

	entry := LedgerEntry{
		Amount:        event.Amount,
		Currency:      event.Currency,
		TransactionID: event.TransactionID,
		Campaign:      event.Campaign,
		Gateway:       event.Gateway,
		Channel:       constants.SourceChannelWebhook,
		ReceivedAt:    event.OccurredAt,
	}
	var pending *models.PendingRedirect
	if token := strings.TrimSpace(event.CorrelationToken); token != "" {
		found, err := s.redirectRepo.GetByToken(token)
		if err != nil {
			return err
		}
		if found != nil && found.Gateway == event.Gateway {
			pending = found
		}
	}
	if pending != nil {
		entry.ContactID = pending.ContactID
		entry.Campaign = pending.Campaign
		entry.Note = pending.Note
		if !pending.Amount.SameAmount(event.Amount) {
			log.Warnw("webhook_amount_mismatch", "expected", pending.Amount.String(), "received", event.Amount.StringFixed(2))
		}
	} else {
		contactID, err := s.resolveEventContact(event)
		if err != nil {
			return err
		}
		if contactID == 0 {
			log.Errorw("webhook_contribution_unattributed", "transaction_id", event.TransactionID)
			return nil
		}
		entry.ContactID = contactID
	}

	return s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		contribution, duplicate, err := s.ledger.RecordCompleted(tx, entry)
		if err != nil {
			return err
		}
		result.ContributionID = contribution.ID
		if duplicate {
			result.Outcome = InboundDuplicate
			return nil
		}
		if pending != nil {
			if _, err := s.redirectRepo.WithTx(tx).MarkCompleted(pending.ID, &contribution.ID, nil); err != nil {
				return err
			}
		}
		result.Outcome = InboundApplied
		effects.completed = append(effects.completed, contribution.ID)
		return nil
	})
}

func (s *WebhookService) applyOneTimeFailed(ctx context.Context, event *gateway.Event, result *InboundResult, log *zap.SugaredLogger) error {
	token := strings.TrimSpace(event.CorrelationToken)
	if token == "" {
		log.Infow("webhook_failure_unmatched")
		return nil
	}
	pending, err := s.redirectRepo.GetByToken(token)
	if err != nil {
		return err
	}
	if pending == nil {
		log.Infow("webhook_failure_unmatched")
		return nil
	}
	return s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		inserted, err := s.receiptRepo.WithTx(tx).Record(event.Gateway, event.EventID, string(event.Kind), s.now())
		if err != nil {
			return err
		}
		if !inserted {
			result.Outcome = InboundDuplicate
			return nil
		}
		if _, err := s.redirectRepo.WithTx(tx).MarkFailed(pending.ID); err != nil {
			return err
		}
		if _, err := s.ledger.RecordFailed(tx, LedgerEntry{
			ContactID:     pending.ContactID,
			Amount:        pending.Amount.Decimal,
			Currency:      pending.Currency,
			TransactionID: event.TransactionID,
			Campaign:      pending.Campaign,
			Gateway:       event.Gateway,
			Channel:       constants.SourceChannelWebhook,
			FailureReason: event.Reason,
			ReceivedAt:    event.OccurredAt,
		}); err != nil {
			return err
		}
		result.Outcome = InboundApplied
		return nil
	})
}

func (s *WebhookService) applyInstallmentCompleted(ctx context.Context, event *gateway.Event, result *InboundResult, effects *webhookEffects, log *zap.SugaredLogger) error {
	if strings.TrimSpace(event.TransactionID) == "" {
		return invalidRequest("installment event without transaction id")
	}
	schedule, err := s.scheduleForEvent(ctx, event)
	if err != nil {
		return err
	}
	if schedule == nil {
		log.Warnw("webhook_schedule_unmatched", "subscription_id", event.SubscriptionID, "schedule_id", event.ScheduleID)
		return nil
	}
	result.ScheduleID = schedule.ID

	// Locally billed schedules advance only when the event pays the period
	// that is currently due; gateway-billed ones always pay the current period.
	matchPeriod := schedule.BillingMode == constants.BillingModeLocal
	period := strings.TrimSpace(event.BillingPeriod)
	if period == "" {
		period = periodKey(schedule.NextChargeAt)
	}
	amount := event.Amount
	if !amount.IsPositive() {
		amount = schedule.Amount.Decimal
	}
	now := s.now()

	return s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		scheduleID := schedule.ID
		contribution, duplicate, err := s.ledger.RecordCompleted(tx, LedgerEntry{
			ContactID:     schedule.ContactID,
			Amount:        amount,
			Currency:      schedule.Currency,
			TransactionID: event.TransactionID,
			ScheduleID:    &scheduleID,
			BillingPeriod: period,
			Campaign:      schedule.Campaign,
			Gateway:       event.Gateway,
			Channel:       constants.SourceChannelWebhook,
			ReceivedAt:    event.OccurredAt,
		})
		if err != nil {
			return err
		}
		result.ContributionID = contribution.ID
		if duplicate {
			result.Outcome = InboundDuplicate
			return nil
		}
		result.Outcome = InboundApplied
		effects.completed = append(effects.completed, contribution.ID)

		repo := s.scheduleRepo.WithTx(tx)
		for attempt := 0; attempt < maxCASAttempts; attempt++ {
			current, err := repo.GetByID(scheduleID)
			if err != nil {
				return err
			}
			if !isLiveSchedule(current) {
				log.Infow("webhook_installment_folded_terminal", "schedule_id", scheduleID)
				return nil
			}
			if matchPeriod && periodKey(current.NextChargeAt) != period {
				log.Infow("webhook_installment_folded_off_period", "schedule_id", scheduleID, "period", period)
				return nil
			}
			ok, err := repo.ApplyOutcome(current.ID, current.Version, successOutcome(current, now))
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		log.Warnw("webhook_schedule_cas_exhausted", "schedule_id", scheduleID)
		return nil
	})
}

func (s *WebhookService) applyInstallmentFailed(ctx context.Context, event *gateway.Event, result *InboundResult, effects *webhookEffects, log *zap.SugaredLogger) error {
	schedule, err := s.scheduleForEvent(ctx, event)
	if err != nil {
		return err
	}
	if schedule == nil {
		log.Warnw("webhook_schedule_unmatched", "subscription_id", event.SubscriptionID, "schedule_id", event.ScheduleID)
		return nil
	}
	result.ScheduleID = schedule.ID
	if schedule.BillingMode == constants.BillingModeLocal {
		// The cycle runner already counted this attempt when the charge call returned.
		log.Debugw("webhook_installment_failure_counted_locally", "schedule_id", schedule.ID)
		return nil
	}
	now := s.now()

	return s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		inserted, err := s.receiptRepo.WithTx(tx).Record(event.Gateway, event.EventID, string(event.Kind), now)
		if err != nil {
			return err
		}
		if !inserted {
			result.Outcome = InboundDuplicate
			return nil
		}
		scheduleID := schedule.ID
		if _, err := s.ledger.RecordFailed(tx, LedgerEntry{
			ContactID:     schedule.ContactID,
			Amount:        schedule.Amount.Decimal,
			Currency:      schedule.Currency,
			TransactionID: event.TransactionID,
			ScheduleID:    &scheduleID,
			BillingPeriod: periodKey(schedule.NextChargeAt),
			Campaign:      schedule.Campaign,
			Gateway:       event.Gateway,
			Channel:       constants.SourceChannelWebhook,
			FailureReason: event.Reason,
			ReceivedAt:    event.OccurredAt,
		}); err != nil {
			return err
		}
		result.Outcome = InboundApplied

		repo := s.scheduleRepo.WithTx(tx)
		for attempt := 0; attempt < maxCASAttempts; attempt++ {
			current, err := repo.GetByID(scheduleID)
			if err != nil {
				return err
			}
			if !isLiveSchedule(current) {
				return nil
			}
			outcome, exhausted := failureOutcome(current, s.threshold, now, false)
			ok, err := repo.ApplyOutcome(current.ID, current.Version, outcome)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if exhausted {
				applyOutcome(current, outcome)
				effects.cancelled = append(effects.cancelled, cancelNotice{
					schedule:       *current,
					reason:         constants.CancelReasonRepeatedFailure,
					stopProcessors: true,
				})
			}
			return nil
		}
		return errors.New("schedule changed concurrently")
	})
}

func (s *WebhookService) applySubscriptionActivated(ctx context.Context, event *gateway.Event, result *InboundResult, log *zap.SugaredLogger) error {
	schedule, err := s.ensureGatewaySchedule(ctx, event)
	if err != nil {
		return err
	}
	if schedule == nil {
		log.Warnw("webhook_activation_unmatched", "subscription_id", event.SubscriptionID)
		return nil
	}
	result.ScheduleID = schedule.ID
	result.Outcome = InboundApplied
	return nil
}

func (s *WebhookService) applySubscriptionCancelled(ctx context.Context, event *gateway.Event, result *InboundResult, effects *webhookEffects, log *zap.SugaredLogger) error {
	schedule, err := s.scheduleRepo.GetByExternalID(event.Gateway, event.SubscriptionID)
	if err != nil {
		return err
	}
	if schedule == nil {
		log.Infow("webhook_cancel_unmatched", "subscription_id", event.SubscriptionID)
		return nil
	}
	result.ScheduleID = schedule.ID
	now := s.now()

	return s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		inserted, err := s.receiptRepo.WithTx(tx).Record(event.Gateway, event.EventID, string(event.Kind), now)
		if err != nil {
			return err
		}
		if !inserted {
			result.Outcome = InboundDuplicate
			return nil
		}
		repo := s.scheduleRepo.WithTx(tx)
		for attempt := 0; attempt < maxCASAttempts; attempt++ {
			current, err := repo.GetByID(schedule.ID)
			if err != nil {
				return err
			}
			if !isLiveSchedule(current) {
				return nil
			}
			outcome := cancelOutcome(current, constants.CancelReasonExternal, now)
			ok, err := repo.ApplyOutcome(current.ID, current.Version, outcome)
			if err != nil {
				return err
			}
			if ok {
				applyOutcome(current, outcome)
				result.Outcome = InboundApplied
				effects.cancelled = append(effects.cancelled, cancelNotice{schedule: *current, reason: constants.CancelReasonExternal})
				return nil
			}
		}
		return errors.New("schedule changed concurrently")
	})
}

// scheduleForEvent finds the schedule an installment event refers to.
func (s *WebhookService) scheduleForEvent(ctx context.Context, event *gateway.Event) (*models.RecurringSchedule, error) {
	if event.ScheduleID > 0 {
		schedule, err := s.scheduleRepo.GetByID(event.ScheduleID)
		if err != nil {
			return nil, err
		}
		if schedule != nil && schedule.Gateway == event.Gateway {
			return schedule, nil
		}
	}
	if strings.TrimSpace(event.SubscriptionID) == "" {
		return nil, nil
	}
	schedule, err := s.scheduleRepo.GetByExternalID(event.Gateway, event.SubscriptionID)
	if err != nil || schedule != nil {
		return schedule, err
	}
	return s.ensureGatewaySchedule(ctx, event)
}

// ensureGatewaySchedule returns the schedule for a processor-billed
// subscription, creating it from the pending redirect on first sight. Both
// the activation and the first sale may arrive first.
func (s *WebhookService) ensureGatewaySchedule(ctx context.Context, event *gateway.Event) (*models.RecurringSchedule, error) {
	subscriptionID := strings.TrimSpace(event.SubscriptionID)
	if subscriptionID == "" {
		return nil, nil
	}
	existing, err := s.scheduleRepo.GetByExternalID(event.Gateway, subscriptionID)
	if err != nil || existing != nil {
		return existing, err
	}

	var pending *models.PendingRedirect
	if token := strings.TrimSpace(event.CorrelationToken); token != "" {
		if pending, err = s.redirectRepo.GetByToken(token); err != nil {
			return nil, err
		}
	}
	if pending == nil {
		if pending, err = s.redirectRepo.GetByExternalRef(event.Gateway, subscriptionID); err != nil {
			return nil, err
		}
	}
	if pending == nil || !pending.Recurring || pending.Gateway != event.Gateway {
		return nil, nil
	}

	startAt := event.OccurredAt
	if startAt.IsZero() {
		startAt = s.now()
	}
	schedule := &models.RecurringSchedule{
		ContactID:              pending.ContactID,
		Amount:                 pending.Amount,
		Currency:               pending.Currency,
		IntervalUnit:           pending.IntervalUnit,
		IntervalCount:          pending.IntervalCount,
		Status:                 constants.ScheduleStatusActive,
		NextChargeAt:           startAt,
		Gateway:                event.Gateway,
		ExternalSubscriptionID: &subscriptionID,
		BillingMode:            constants.BillingModeGateway,
		Established:            true,
		Campaign:               pending.Campaign,
	}
	err = s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.scheduleRepo.WithTx(tx).Create(schedule); err != nil {
			return err
		}
		_, err := s.redirectRepo.WithTx(tx).MarkCompleted(pending.ID, nil, &schedule.ID)
		return err
	})
	if err != nil {
		// A concurrent delivery may have created it first.
		if again, lookupErr := s.scheduleRepo.GetByExternalID(event.Gateway, subscriptionID); lookupErr == nil && again != nil {
			return again, nil
		}
		return nil, err
	}
	logger.Infow("webhook_schedule_created",
		"schedule_id", schedule.ID,
		"gateway", event.Gateway,
		"subscription_id", subscriptionID,
	)
	return schedule, nil
}

func (s *WebhookService) resolveEventContact(event *gateway.Event) (uint, error) {
	if event.ContactID > 0 {
		contact, err := s.contacts.Get(event.ContactID)
		if err == nil {
			return contact.ID, nil
		}
		if !errors.Is(err, ErrContactNotFound) {
			return 0, err
		}
	}
	contact, err := s.contacts.FindByEmail(event.ContactEmail)
	if err != nil || contact == nil {
		return 0, err
	}
	return contact.ID, nil
}

func (s *WebhookService) flush(ctx context.Context, effects *webhookEffects) {
	for _, id := range effects.completed {
		if s.notifier != nil {
			s.notifier.ContributionCompleted(ctx, id)
		}
	}
	for _, notice := range effects.cancelled {
		schedule := notice.schedule
		if notice.stopProcessors && s.payments != nil {
			s.payments.stopProcessorBilling(ctx, &schedule, notice.reason)
		}
		if s.notifier != nil {
			s.notifier.ScheduleCancelled(ctx, schedule.ID, notice.reason)
		}
	}
}
