package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/provider"
	"github.com/donation-core/internal/queue"
	"github.com/donation-core/internal/service"

	"github.com/hibiken/asynq"
)

// NotificationDeliverer forwards queued signals to the acknowledgment sender.
type NotificationDeliverer interface {
	DeliverContributionCompleted(ctx context.Context, payload queue.ContributionCompletedPayload) error
	DeliverScheduleCancelled(ctx context.Context, payload queue.ScheduleCancelledPayload) error
}

// CycleRunner runs one recurring billing cycle.
type CycleRunner interface {
	RunDueCycle(ctx context.Context) (*service.CycleReport, error)
}

// Consumer handles asynq tasks
type Consumer struct {
	Notifications NotificationDeliverer
	Billing       CycleRunner
}

// NewConsumer builds a consumer from the container
func NewConsumer(c *provider.Container) *Consumer {
	if c == nil {
		return &Consumer{}
	}
	return &Consumer{
		Notifications: c.NotificationService,
		Billing:       c.BillingService,
	}
}

// Register binds task handlers
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskContributionCompleted, c.handleContributionCompleted)
	mux.HandleFunc(queue.TaskScheduleCancelled, c.handleScheduleCancelled)
	mux.HandleFunc(queue.TaskBillingRunDueCycle, c.handleBillingRunDueCycle)
}

func (c *Consumer) handleContributionCompleted(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.ContributionCompletedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_contribution_completed_unmarshal_failed", "error", err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.ContributionID == 0 {
		logger.Debugw("worker_contribution_completed_skip_invalid_payload")
		return nil
	}
	if c.Notifications == nil {
		logger.Warnw("worker_contribution_completed_skip_no_notifier", "contribution_id", payload.ContributionID)
		return nil
	}
	if err := c.Notifications.DeliverContributionCompleted(ctx, payload); err != nil {
		logger.Warnw("worker_contribution_completed_deliver_failed", "contribution_id", payload.ContributionID, "error", err)
		return err
	}
	return nil
}

func (c *Consumer) handleScheduleCancelled(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.ScheduleCancelledPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_schedule_cancelled_unmarshal_failed", "error", err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.ScheduleID == 0 {
		logger.Debugw("worker_schedule_cancelled_skip_invalid_payload")
		return nil
	}
	if c.Notifications == nil {
		logger.Warnw("worker_schedule_cancelled_skip_no_notifier", "schedule_id", payload.ScheduleID)
		return nil
	}
	if err := c.Notifications.DeliverScheduleCancelled(ctx, payload); err != nil {
		logger.Warnw("worker_schedule_cancelled_deliver_failed", "schedule_id", payload.ScheduleID, "error", err)
		return err
	}
	return nil
}

// A failed cycle is not retried by asynq; the next scheduled run picks the
// remaining schedules up.
func (c *Consumer) handleBillingRunDueCycle(ctx context.Context, _ *asynq.Task) error {
	if c == nil || c.Billing == nil {
		logger.Warnw("worker_billing_cycle_skip_no_runner")
		return nil
	}
	report, err := c.Billing.RunDueCycle(ctx)
	if err != nil {
		logger.Errorw("worker_billing_cycle_failed", "error", err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	logger.Infow("worker_billing_cycle_done",
		"locked", report.Locked,
		"due", report.Due,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"cancelled", report.Cancelled,
		"skipped", report.Skipped,
	)
	return nil
}
