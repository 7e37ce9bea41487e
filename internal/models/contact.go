package models

import "time"

// Contact donor identity keyed by email. Contacts are updated, never deleted.
type Contact struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Email       string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	DisplayName string    `gorm:"type:varchar(255)" json:"display_name"`
	Phone       string    `gorm:"type:varchar(64)" json:"phone"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName table name
func (Contact) TableName() string {
	return "contacts"
}
