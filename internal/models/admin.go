package models

import (
	"time"
)

// Admin operator account for the back-office API.
type Admin struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	Username     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	TokenVersion uint64     `gorm:"not null;default:0" json:"-"`
	IsSuper      bool       `gorm:"not null;default:false;index" json:"is_super"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
}

// TableName table name
func (Admin) TableName() string {
	return "admins"
}
