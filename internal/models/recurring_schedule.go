package models

import (
	"time"
)

// RecurringSchedule standing authorization to charge a contact on an interval.
type RecurringSchedule struct {
	ID                     uint       `gorm:"primarykey" json:"id"`
	ContactID              uint       `gorm:"index;not null" json:"contact_id"`
	Amount                 Money      `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency               string     `gorm:"type:varchar(16);not null" json:"currency"`
	IntervalUnit           string     `gorm:"type:varchar(16);not null" json:"interval_unit"`
	IntervalCount          int        `gorm:"not null;default:1" json:"interval_count"`
	Status                 string     `gorm:"type:varchar(20);index;not null" json:"status"`
	NextChargeAt           time.Time  `gorm:"index;not null" json:"next_charge_at"`
	ConsecutiveFailures    int        `gorm:"not null;default:0" json:"consecutive_failures"`
	Gateway                string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_schedule_gateway_external" json:"gateway"`
	ExternalSubscriptionID *string    `gorm:"type:varchar(191);uniqueIndex:idx_schedule_gateway_external" json:"external_subscription_id,omitempty"`
	BillingMode            string     `gorm:"type:varchar(16);index;not null" json:"billing_mode"`
	PaymentMethodRef       string     `gorm:"type:varchar(191)" json:"-"`
	Established            bool       `gorm:"not null" json:"established"`
	Campaign               string     `gorm:"type:varchar(64)" json:"campaign,omitempty"`
	CancellationReason     *string    `gorm:"type:varchar(64)" json:"cancellation_reason,omitempty"`
	Version                int64      `gorm:"not null;default:0" json:"-"`
	LeaseUntil             *time.Time `gorm:"index" json:"-"`
	LastAttemptAt          *time.Time `json:"last_attempt_at,omitempty"`
	LastChargedAt          *time.Time `json:"last_charged_at,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt              time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`

	Contact *Contact `gorm:"foreignKey:ContactID" json:"contact,omitempty"`
}

// TableName table name
func (RecurringSchedule) TableName() string {
	return "recurring_schedules"
}

// ExternalID returns the processor subscription id or an empty string.
func (s *RecurringSchedule) ExternalID() string {
	if s == nil || s.ExternalSubscriptionID == nil {
		return ""
	}
	return *s.ExternalSubscriptionID
}
