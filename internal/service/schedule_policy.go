package service

import (
	"time"

	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"
)

const periodKeyLayout = "2006-01-02"

var validIntervalUnits = map[string]struct{}{
	constants.IntervalDay:   {},
	constants.IntervalWeek:  {},
	constants.IntervalMonth: {},
	constants.IntervalYear:  {},
}

const maxIntervalCount = 12

// periodKey identifies the billing period a due date belongs to.
func periodKey(due time.Time) string {
	return due.UTC().Format(periodKeyLayout)
}

// addInterval moves t forward by one schedule interval. Month and year steps
// clamp to the last day of the target month instead of overflowing.
func addInterval(t time.Time, unit string, count int) time.Time {
	if count <= 0 {
		count = 1
	}
	switch unit {
	case constants.IntervalDay:
		return t.AddDate(0, 0, count)
	case constants.IntervalWeek:
		return t.AddDate(0, 0, 7*count)
	case constants.IntervalYear:
		return addMonthsClamped(t, 12*count)
	default:
		return addMonthsClamped(t, count)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	firstOfTarget := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// nextChargeDate advances from the previous due date, then skips whole
// intervals that are already in the past so a late run never bills twice.
func nextChargeDate(previousDue time.Time, unit string, count int, now time.Time) time.Time {
	next := addInterval(previousDue, unit, count)
	for guard := 0; !next.After(now) && guard < 1000; guard++ {
		next = addInterval(next, unit, count)
	}
	return next
}

func isLiveSchedule(schedule *models.RecurringSchedule) bool {
	if schedule == nil {
		return false
	}
	return schedule.Status == constants.ScheduleStatusActive || schedule.Status == constants.ScheduleStatusOverdue
}

// successOutcome resets failures and advances the due date.
func successOutcome(schedule *models.RecurringSchedule, now time.Time) repository.ScheduleOutcome {
	next := nextChargeDate(schedule.NextChargeAt, schedule.IntervalUnit, schedule.IntervalCount, now)
	return repository.ScheduleOutcome{
		Status:              constants.ScheduleStatusActive,
		ConsecutiveFailures: 0,
		NextChargeAt:        &next,
		LastAttemptAt:       &now,
		LastChargedAt:       &now,
		ReleaseLease:        true,
	}
}

// failureOutcome counts one failed attempt. Reaching the threshold cancels the
// schedule with repeated_failure and reports exhausted=true. advance moves the
// due date to the next interval, which is the retry cadence for locally
// billed schedules; gateway-billed schedules keep the processor's dates.
func failureOutcome(schedule *models.RecurringSchedule, threshold int, now time.Time, advance bool) (repository.ScheduleOutcome, bool) {
	if threshold <= 0 {
		threshold = constants.DefaultFailureThreshold
	}
	failures := schedule.ConsecutiveFailures + 1
	outcome := repository.ScheduleOutcome{
		ConsecutiveFailures: failures,
		LastAttemptAt:       &now,
		ReleaseLease:        true,
	}
	if failures >= threshold {
		reason := constants.CancelReasonRepeatedFailure
		outcome.Status = constants.ScheduleStatusCancelled
		outcome.CancellationReason = &reason
		outcome.CancelledAt = &now
		return outcome, true
	}
	outcome.Status = constants.ScheduleStatusOverdue
	if advance {
		next := nextChargeDate(schedule.NextChargeAt, schedule.IntervalUnit, schedule.IntervalCount, now)
		outcome.NextChargeAt = &next
	}
	return outcome, false
}

// cancelOutcome terminal transition for operator or processor cancellation.
func cancelOutcome(schedule *models.RecurringSchedule, reason string, now time.Time) repository.ScheduleOutcome {
	return repository.ScheduleOutcome{
		Status:              constants.ScheduleStatusCancelled,
		ConsecutiveFailures: schedule.ConsecutiveFailures,
		CancellationReason:  &reason,
		CancelledAt:         &now,
		ReleaseLease:        true,
	}
}

// applyOutcome copies a written outcome onto the in-memory schedule.
func applyOutcome(schedule *models.RecurringSchedule, outcome repository.ScheduleOutcome) {
	schedule.Version++
	schedule.ConsecutiveFailures = outcome.ConsecutiveFailures
	if outcome.Status != "" {
		schedule.Status = outcome.Status
	}
	if outcome.NextChargeAt != nil {
		schedule.NextChargeAt = *outcome.NextChargeAt
	}
	if outcome.CancellationReason != nil {
		reason := *outcome.CancellationReason
		schedule.CancellationReason = &reason
	}
	if outcome.LastAttemptAt != nil {
		schedule.LastAttemptAt = outcome.LastAttemptAt
	}
	if outcome.LastChargedAt != nil {
		schedule.LastChargedAt = outcome.LastChargedAt
	}
	if outcome.CancelledAt != nil {
		schedule.CancelledAt = outcome.CancelledAt
	}
	if outcome.ReleaseLease {
		schedule.LeaseUntil = nil
	}
}
