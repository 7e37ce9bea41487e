package service

import (
	"fmt"
	"unicode"

	"github.com/donation-core/internal/config"
)

type passwordPolicyError struct {
	rule string
}

func (e passwordPolicyError) Error() string {
	return e.rule
}

func (e passwordPolicyError) Is(target error) bool {
	return target == ErrWeakPassword
}

func validatePassword(policy config.PasswordPolicyConfig, password string) error {
	if policy.MinLength > 0 && len([]rune(password)) < policy.MinLength {
		return passwordPolicyError{rule: fmt.Sprintf("password must be at least %d characters", policy.MinLength)}
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasNumber = true
		default:
			hasSpecial = true
		}
	}

	switch {
	case policy.RequireUpper && !hasUpper:
		return passwordPolicyError{rule: "password must contain an upper-case letter"}
	case policy.RequireLower && !hasLower:
		return passwordPolicyError{rule: "password must contain a lower-case letter"}
	case policy.RequireNumber && !hasNumber:
		return passwordPolicyError{rule: "password must contain a digit"}
	case policy.RequireSpecial && !hasSpecial:
		return passwordPolicyError{rule: "password must contain a symbol"}
	}
	return nil
}
