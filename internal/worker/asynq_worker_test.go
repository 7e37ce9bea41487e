package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/queue"
	"github.com/donation-core/internal/service"

	"github.com/hibiken/asynq"
)

type fakeDeliverer struct {
	completed []uint
	cancelled []queue.ScheduleCancelledPayload
	err       error
}

func (f *fakeDeliverer) DeliverContributionCompleted(_ context.Context, payload queue.ContributionCompletedPayload) error {
	if f.err != nil {
		return f.err
	}
	f.completed = append(f.completed, payload.ContributionID)
	return nil
}

func (f *fakeDeliverer) DeliverScheduleCancelled(_ context.Context, payload queue.ScheduleCancelledPayload) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, payload)
	return nil
}

type fakeCycleRunner struct {
	calls int
	err   error
}

func (f *fakeCycleRunner) RunDueCycle(context.Context) (*service.CycleReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &service.CycleReport{Due: 2, Succeeded: 1, Failed: 1}, nil
}

func mustTask(t *testing.T, name string, payload interface{}) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}
	return asynq.NewTask(name, body)
}

func TestHandleContributionCompletedDelivers(t *testing.T) {
	deliverer := &fakeDeliverer{}
	consumer := &Consumer{Notifications: deliverer}

	task := mustTask(t, queue.TaskContributionCompleted, queue.ContributionCompletedPayload{ContributionID: 42})
	if err := consumer.handleContributionCompleted(context.Background(), task); err != nil {
		t.Fatalf("handle task failed: %v", err)
	}
	if len(deliverer.completed) != 1 || deliverer.completed[0] != 42 {
		t.Fatalf("expected contribution 42 delivered, got %v", deliverer.completed)
	}
}

func TestHandleContributionCompletedSkipsZeroID(t *testing.T) {
	deliverer := &fakeDeliverer{}
	consumer := &Consumer{Notifications: deliverer}

	task := mustTask(t, queue.TaskContributionCompleted, queue.ContributionCompletedPayload{})
	if err := consumer.handleContributionCompleted(context.Background(), task); err != nil {
		t.Fatalf("handle task failed: %v", err)
	}
	if len(deliverer.completed) != 0 {
		t.Fatalf("expected nothing delivered, got %v", deliverer.completed)
	}
}

func TestHandleContributionCompletedBadPayloadSkipsRetry(t *testing.T) {
	consumer := &Consumer{Notifications: &fakeDeliverer{}}
	task := asynq.NewTask(queue.TaskContributionCompleted, []byte("{not json"))

	err := consumer.handleContributionCompleted(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleScheduleCancelledDeliveryErrorIsRetried(t *testing.T) {
	deliverer := &fakeDeliverer{err: errors.New("endpoint down")}
	consumer := &Consumer{Notifications: deliverer}

	task := mustTask(t, queue.TaskScheduleCancelled, queue.ScheduleCancelledPayload{ScheduleID: 7, Reason: "repeated_failure"})
	err := consumer.handleScheduleCancelled(context.Background(), task)
	if err == nil {
		t.Fatalf("expected delivery error to surface")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("delivery errors must stay retryable")
	}
}

func TestHandleScheduleCancelledDelivers(t *testing.T) {
	deliverer := &fakeDeliverer{}
	consumer := &Consumer{Notifications: deliverer}

	task := mustTask(t, queue.TaskScheduleCancelled, queue.ScheduleCancelledPayload{ScheduleID: 7, Reason: "repeated_failure"})
	if err := consumer.handleScheduleCancelled(context.Background(), task); err != nil {
		t.Fatalf("handle task failed: %v", err)
	}
	if len(deliverer.cancelled) != 1 || deliverer.cancelled[0].Reason != "repeated_failure" {
		t.Fatalf("unexpected cancellations: %+v", deliverer.cancelled)
	}
}

func TestHandleBillingRunDueCycle(t *testing.T) {
	runner := &fakeCycleRunner{}
	consumer := &Consumer{Billing: runner}
	if err := consumer.handleBillingRunDueCycle(context.Background(), queue.NewBillingRunDueCycleTask()); err != nil {
		t.Fatalf("handle cycle failed: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected one cycle run, got %d", runner.calls)
	}

	runner.err = errors.New("db down")
	err := consumer.handleBillingRunDueCycle(context.Background(), queue.NewBillingRunDueCycleTask())
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry on cycle failure, got %v", err)
	}
}

func TestNewServiceRejectsDisabledQueue(t *testing.T) {
	if _, err := NewService(&config.QueueConfig{Enabled: false}, config.BillingConfig{}, &Consumer{}); err == nil {
		t.Fatalf("expected error for disabled queue")
	}
}

func TestNewServiceRejectsBadCron(t *testing.T) {
	_, err := NewService(&config.QueueConfig{Enabled: true}, config.BillingConfig{CycleCron: "not a cron"}, &Consumer{})
	if err == nil {
		t.Fatalf("expected invalid cron to be rejected")
	}
}
