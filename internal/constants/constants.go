package constants

// Contribution statuses
const (
	ContributionStatusPending   = "pending"
	ContributionStatusCompleted = "completed"
	ContributionStatusFailed    = "failed"
)

// Recurring schedule statuses
const (
	ScheduleStatusActive    = "active"
	ScheduleStatusOverdue   = "overdue"
	ScheduleStatusCancelled = "cancelled"
	ScheduleStatusFailed    = "failed"
)

// Schedule billing modes
const (
	// BillingModeLocal schedules are charged by the cycle runner.
	BillingModeLocal = "local"
	// BillingModeGateway schedules are billed by the processor and advanced by webhooks.
	BillingModeGateway = "gateway"
)

// Cancellation reasons
const (
	CancelReasonRepeatedFailure = "repeated_failure"
	CancelReasonExternal        = "external_cancelled"
	CancelReasonOperator        = "operator_cancelled"
)

// DefaultFailureThreshold consecutive failures that cancel a schedule
const DefaultFailureThreshold = 3

// Recurrence interval units
const (
	IntervalDay   = "day"
	IntervalWeek  = "week"
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// Gateway selectors
const (
	GatewayCard   = "card"
	GatewayWallet = "wallet"
)

// Contribution source channels
const (
	SourceChannelLive    = "live"
	SourceChannelCycle   = "cycle"
	SourceChannelWebhook = "webhook"
)

// Pending redirect statuses
const (
	RedirectStatusPending   = "pending"
	RedirectStatusCompleted = "completed"
	RedirectStatusFailed    = "failed"
	RedirectStatusExpired   = "expired"
)

// Payment result statuses returned to the donor-facing flow
const (
	PaymentResultSuccess         = "success"
	PaymentResultPendingRedirect = "pending_redirect"
)

// Queue and task names
const (
	QueueDefault              = "default"
	QueueCritical             = "critical"
	TaskContributionCompleted = "contribution:completed"
	TaskScheduleCancelled     = "schedule:cancelled"
	TaskBillingRunDueCycle    = "billing:run_due_cycle"
)

// Notification event names
const (
	NotifyContributionCompleted = "contribution.completed"
	NotifyScheduleCancelled     = "schedule.cancelled"
)
