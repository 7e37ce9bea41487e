package models

import (
	"errors"
	"strings"

	"github.com/donation-core/internal/logger"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const defaultAdminUsername = "admin"

// EnsureDefaultAdmin creates the first operator account when none exists.
func EnsureDefaultAdmin(db *gorm.DB, username, password string) error {
	if db == nil {
		return errors.New("db is nil")
	}
	var count int64
	if err := db.Model(&Admin{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	username = strings.TrimSpace(username)
	if username == "" {
		username = defaultAdminUsername
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("default admin password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := Admin{
		Username:     username,
		PasswordHash: string(hash),
		IsSuper:      true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	logger.Warnw("default_admin_created", "username", username, "password_hidden", true)
	return nil
}
