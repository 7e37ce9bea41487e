package queue

import (
	"encoding/json"

	"github.com/donation-core/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskContributionCompleted completion signal for the acknowledgment sender
	TaskContributionCompleted = constants.TaskContributionCompleted
	// TaskScheduleCancelled cancellation notice
	TaskScheduleCancelled = constants.TaskScheduleCancelled
	// TaskBillingRunDueCycle one cycle runner invocation
	TaskBillingRunDueCycle = constants.TaskBillingRunDueCycle
)

// ContributionCompletedPayload completion signal payload
type ContributionCompletedPayload struct {
	ContributionID uint `json:"contribution_id"`
}

// ScheduleCancelledPayload cancellation notice payload
type ScheduleCancelledPayload struct {
	ScheduleID uint   `json:"schedule_id"`
	Reason     string `json:"reason"`
}

// NewContributionCompletedTask builds the completion task
func NewContributionCompletedTask(payload ContributionCompletedPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskContributionCompleted, body), nil
}

// NewScheduleCancelledTask builds the cancellation task
func NewScheduleCancelledTask(payload ScheduleCancelledPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskScheduleCancelled, body), nil
}

// NewBillingRunDueCycleTask builds the cycle task; it has no payload.
func NewBillingRunDueCycleTask() *asynq.Task {
	return asynq.NewTask(TaskBillingRunDueCycle, nil)
}
