package service

import (
	"context"
	"strings"

	"github.com/donation-core/internal/gateway"
	"github.com/donation-core/internal/models"
)

// ChargeInstallment charges one billing period of a locally billed schedule
// through the same adapter path as live requests. The processor idempotency
// key is derived from the schedule and period, so a resumed attempt for the
// same period never produces a second charge.
func (s *PaymentService) ChargeInstallment(ctx context.Context, schedule *models.RecurringSchedule, billingPeriod string) (*gateway.ChargeResult, error) {
	if schedule == nil {
		return nil, ErrScheduleNotFound
	}
	adapter, ok := s.registry.Get(schedule.Gateway)
	if !ok {
		return nil, invalidRequest("gateway is not supported")
	}

	req := gateway.ChargeRequest{
		Amount:   schedule.Amount.Decimal,
		Currency: schedule.Currency,
		Contact:  gateway.ContactInfo{ContactID: schedule.ContactID},
		Campaign: schedule.Campaign,
		Installment: &gateway.Installment{
			ScheduleID:             schedule.ID,
			BillingPeriod:          billingPeriod,
			ExternalSubscriptionID: schedule.ExternalID(),
			PaymentMethodRef:       strings.TrimSpace(schedule.PaymentMethodRef),
		},
		IdempotencyKey: gateway.InstallmentIdempotencyKey(schedule.ID, billingPeriod),
	}
	if schedule.Contact != nil {
		req.Contact.Email = schedule.Contact.Email
		req.Contact.DisplayName = schedule.Contact.DisplayName
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout())
	defer cancel()
	result, err := adapter.Charge(chargeCtx, req)
	if err != nil {
		return nil, mapChargeError(err)
	}
	if result.Outcome != gateway.OutcomeCompleted || strings.TrimSpace(result.TransactionID) == "" {
		return nil, withReason(ErrGatewayUnavailable, "installment did not complete synchronously")
	}
	return result, nil
}
