package models

import (
	"time"
)

// Contribution immutable ledger record of money that moved or failed to move.
type Contribution struct {
	ID                    uint      `gorm:"primarykey" json:"id"`
	ContactID             uint      `gorm:"index;not null" json:"contact_id"`
	Amount                Money     `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency              string    `gorm:"type:varchar(16);not null" json:"currency"`
	Status                string    `gorm:"type:varchar(20);index;not null" json:"status"`
	ReceivedAt            time.Time `gorm:"index;not null" json:"received_at"`
	ExternalTransactionID string    `gorm:"type:varchar(191);index" json:"external_transaction_id"`
	// IdempotencyKey carries the external transaction id for completed records only,
	// so the unique index covers completed contributions and ignores audit rows.
	IdempotencyKey      *string   `gorm:"type:varchar(191);uniqueIndex" json:"-"`
	RecurringScheduleID *uint     `gorm:"index" json:"recurring_schedule_id,omitempty"`
	BillingPeriod       string    `gorm:"type:varchar(16);index" json:"billing_period,omitempty"`
	Campaign            string    `gorm:"type:varchar(64);index" json:"campaign,omitempty"`
	Source              string    `gorm:"type:varchar(32);not null" json:"source"`
	Note                string    `gorm:"type:text" json:"note,omitempty"`
	FailureReason       string    `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	CreatedAt           time.Time `gorm:"index" json:"created_at"`

	Contact *Contact `gorm:"foreignKey:ContactID" json:"contact,omitempty"`
}

// TableName table name
func (Contribution) TableName() string {
	return "contributions"
}
