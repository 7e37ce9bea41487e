package models

import "time"

// PendingRedirect wallet payment waiting for the processor notification.
type PendingRedirect struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	Token          string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"token"`
	Gateway        string    `gorm:"type:varchar(32);not null" json:"gateway"`
	ContactID      uint      `gorm:"index;not null" json:"contact_id"`
	Email          string    `gorm:"type:varchar(255);not null" json:"email"`
	DisplayName    string    `gorm:"type:varchar(255)" json:"display_name"`
	Amount         Money     `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency       string    `gorm:"type:varchar(16);not null" json:"currency"`
	Campaign       string    `gorm:"type:varchar(64)" json:"campaign,omitempty"`
	Note           string    `gorm:"type:text" json:"note,omitempty"`
	Recurring      bool      `gorm:"not null;default:false" json:"recurring"`
	IntervalUnit   string    `gorm:"type:varchar(16)" json:"interval_unit,omitempty"`
	IntervalCount  int       `gorm:"not null;default:0" json:"interval_count,omitempty"`
	ExternalRef    string    `gorm:"type:varchar(191);index" json:"external_ref"`
	RedirectURL    string    `gorm:"type:text" json:"redirect_url"`
	Status         string    `gorm:"type:varchar(20);index;not null" json:"status"`
	ContributionID *uint     `json:"contribution_id,omitempty"`
	ScheduleID     *uint     `json:"schedule_id,omitempty"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName table name
func (PendingRedirect) TableName() string {
	return "pending_redirects"
}
