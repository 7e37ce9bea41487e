package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/queue"
)

// Notifier emits completion signals and cancellation notices. Delivery
// problems are logged and never fail the payment flow.
type Notifier interface {
	ContributionCompleted(ctx context.Context, contributionID uint)
	ScheduleCancelled(ctx context.Context, scheduleID uint, reason string)
}

// NotificationMessage body posted to the acknowledgment sender.
type NotificationMessage struct {
	Event          string    `json:"event"`
	ContributionID uint      `json:"contribution_id,omitempty"`
	ScheduleID     uint      `json:"schedule_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// NotificationService enqueues signals on asynq, or delivers them inline when
// the queue is disabled.
type NotificationService struct {
	cfg         config.NotificationConfig
	queueClient *queue.Client
	httpClient  *http.Client
}

// NewNotificationService creates the notification emitter
func NewNotificationService(cfg config.NotificationConfig, queueClient *queue.Client) *NotificationService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotificationService{
		cfg:         cfg,
		queueClient: queueClient,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// ContributionCompleted emits the completion signal
func (s *NotificationService) ContributionCompleted(ctx context.Context, contributionID uint) {
	if s == nil || contributionID == 0 {
		return
	}
	if s.queueClient.Enabled() {
		if err := s.queueClient.EnqueueContributionCompleted(queue.ContributionCompletedPayload{ContributionID: contributionID}); err != nil {
			logger.Warnw("notify_contribution_enqueue_failed", "contribution_id", contributionID, "error", err)
		}
		return
	}
	if err := s.DeliverContributionCompleted(ctx, queue.ContributionCompletedPayload{ContributionID: contributionID}); err != nil {
		logger.Warnw("notify_contribution_deliver_failed", "contribution_id", contributionID, "error", err)
	}
}

// ScheduleCancelled emits the cancellation notice
func (s *NotificationService) ScheduleCancelled(ctx context.Context, scheduleID uint, reason string) {
	if s == nil || scheduleID == 0 {
		return
	}
	payload := queue.ScheduleCancelledPayload{ScheduleID: scheduleID, Reason: reason}
	if s.queueClient.Enabled() {
		if err := s.queueClient.EnqueueScheduleCancelled(payload); err != nil {
			logger.Warnw("notify_schedule_enqueue_failed", "schedule_id", scheduleID, "error", err)
		}
		return
	}
	if err := s.DeliverScheduleCancelled(ctx, payload); err != nil {
		logger.Warnw("notify_schedule_deliver_failed", "schedule_id", scheduleID, "error", err)
	}
}

// DeliverContributionCompleted forwards the signal to the configured endpoint.
// The worker calls this for queued tasks; a returned error makes asynq retry.
func (s *NotificationService) DeliverContributionCompleted(ctx context.Context, payload queue.ContributionCompletedPayload) error {
	return s.deliver(ctx, NotificationMessage{
		Event:          constants.NotifyContributionCompleted,
		ContributionID: payload.ContributionID,
		SentAt:         time.Now(),
	})
}

// DeliverScheduleCancelled forwards the notice to the configured endpoint.
func (s *NotificationService) DeliverScheduleCancelled(ctx context.Context, payload queue.ScheduleCancelledPayload) error {
	return s.deliver(ctx, NotificationMessage{
		Event:      constants.NotifyScheduleCancelled,
		ScheduleID: payload.ScheduleID,
		Reason:     payload.Reason,
		SentAt:     time.Now(),
	})
}

func (s *NotificationService) deliver(ctx context.Context, msg NotificationMessage) error {
	endpoint := strings.TrimSpace(s.cfg.Endpoint)
	if endpoint == "" {
		logger.Infow("notify_no_endpoint",
			"event", msg.Event,
			"contribution_id", msg.ContributionID,
			"schedule_id", msg.ScheduleID,
			"reason", msg.Reason,
		)
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	logger.Debugw("notify_delivered", "event", msg.Event, "contribution_id", msg.ContributionID, "schedule_id", msg.ScheduleID)
	return nil
}
