package service

import (
	"context"
	"strings"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/gateway"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"
)

const maxCASAttempts = 3

// GetSchedule returns a schedule with its contact
func (s *PaymentService) GetSchedule(id uint) (*models.RecurringSchedule, error) {
	schedule, err := s.scheduleRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, ErrScheduleNotFound
	}
	return schedule, nil
}

// ListSchedules back-office schedule query
func (s *PaymentService) ListSchedules(filter repository.ScheduleListFilter) ([]models.RecurringSchedule, int64, error) {
	return s.scheduleRepo.ListAdmin(filter)
}

// CancelSchedule stops a schedule on operator request. The local transition
// is written first; processor-side billing is then stopped best-effort.
func (s *PaymentService) CancelSchedule(ctx context.Context, id uint, reason string) (*models.RecurringSchedule, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = constants.CancelReasonOperator
	}
	if len([]rune(reason)) > 64 {
		return nil, invalidRequest("reason is too long")
	}

	var schedule *models.RecurringSchedule
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.GetSchedule(id)
		if err != nil {
			return nil, err
		}
		if !isLiveSchedule(current) {
			return nil, ErrScheduleTerminal
		}
		outcome := cancelOutcome(current, reason, s.now())
		ok, err := s.scheduleRepo.ApplyOutcome(current.ID, current.Version, outcome)
		if err != nil {
			return nil, err
		}
		if ok {
			applyOutcome(current, outcome)
			schedule = current
			break
		}
	}
	if schedule == nil {
		return nil, withReason(ErrScheduleTerminal, "schedule changed concurrently, retry")
	}

	log := paymentLogger("schedule_id", schedule.ID, "gateway", schedule.Gateway)
	log.Infow("schedule_cancelled", "reason", reason)
	s.stopProcessorBilling(ctx, schedule, reason)
	if s.notifier != nil {
		s.notifier.ScheduleCancelled(ctx, schedule.ID, reason)
	}
	return schedule, nil
}

// EstablishSchedule attaches a processor mandate to a locally billed schedule
// whose first charge succeeded without one. The runner bills it from then on.
func (s *PaymentService) EstablishSchedule(id uint, externalID, paymentMethodRef string) (*models.RecurringSchedule, error) {
	externalID = strings.TrimSpace(externalID)
	paymentMethodRef = strings.TrimSpace(paymentMethodRef)
	if externalID == "" || paymentMethodRef == "" {
		return nil, invalidRequest("external id and payment method are required")
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.GetSchedule(id)
		if err != nil {
			return nil, err
		}
		if !isLiveSchedule(current) {
			return nil, ErrScheduleTerminal
		}
		if current.Established || current.BillingMode != constants.BillingModeLocal {
			return nil, ErrScheduleEstablished
		}
		ok, err := s.scheduleRepo.AttachExternal(current.ID, current.Version, externalID, paymentMethodRef)
		if err != nil {
			return nil, err
		}
		if ok {
			paymentLogger("schedule_id", current.ID, "gateway", current.Gateway).
				Infow("schedule_established", "external_id", externalID)
			return s.GetSchedule(current.ID)
		}
	}
	return nil, withReason(ErrScheduleTerminal, "schedule changed concurrently, retry")
}

// stopProcessorBilling removes the processor mandate or subscription of a
// cancelled schedule. Failures are logged for operator follow-up.
func (s *PaymentService) stopProcessorBilling(ctx context.Context, schedule *models.RecurringSchedule, reason string) {
	externalID := schedule.ExternalID()
	if externalID == "" {
		return
	}
	adapter, ok := s.registry.Get(schedule.Gateway)
	if !ok {
		return
	}
	canceller, ok := adapter.(gateway.SubscriptionCanceller)
	if !ok {
		return
	}
	cancelCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout())
	defer cancel()
	if err := canceller.CancelSubscription(cancelCtx, externalID, reason); err != nil {
		paymentLogger("schedule_id", schedule.ID, "gateway", schedule.Gateway).
			Errorw("schedule_processor_cancel_failed", "external_id", externalID, "error", err)
	}
}
