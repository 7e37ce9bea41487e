package repository

import "time"

// ContributionListFilter ledger query filter
type ContributionListFilter struct {
	Page        int
	PageSize    int
	ContactID   uint
	ScheduleID  uint
	Status      string
	Campaign    string
	Source      string
	Email       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// ScheduleListFilter recurring schedule query filter
type ScheduleListFilter struct {
	Page        int
	PageSize    int
	ContactID   uint
	Status      string
	Gateway     string
	BillingMode string
}

// ScheduleOutcome fields written when a charge attempt settles.
type ScheduleOutcome struct {
	Status              string
	ConsecutiveFailures int
	NextChargeAt        *time.Time
	CancellationReason  *string
	LastAttemptAt       *time.Time
	LastChargedAt       *time.Time
	CancelledAt         *time.Time
	ReleaseLease        bool
}
