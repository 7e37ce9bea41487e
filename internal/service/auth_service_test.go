package service

import (
	"context"
	"errors"
	"testing"

	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/repository"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	db := setupServiceTestDB(t)
	cfg := &config.Config{
		JWT: config.JWTConfig{SecretKey: "test-secret", ExpireHours: 1},
		Security: config.SecurityConfig{
			PasswordPolicy: config.PasswordPolicyConfig{MinLength: 10, RequireNumber: true},
		},
	}
	return NewAuthService(cfg, repository.NewAdminRepository(db))
}

func TestCreateAdminEnforcesPolicy(t *testing.T) {
	svc := newTestAuthService(t)
	if _, err := svc.CreateAdmin("ops", "short", false); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("short password should be rejected, got %v", err)
	}
	if _, err := svc.CreateAdmin("ops", "longpassword", false); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("password without digit should be rejected, got %v", err)
	}
	if _, err := svc.CreateAdmin("ops", "longpassword1", false); err != nil {
		t.Fatalf("valid password rejected: %v", err)
	}
	if _, err := svc.CreateAdmin("ops", "longpassword1", false); !errors.Is(err, ErrAdminExists) {
		t.Fatalf("duplicate username should fail, got %v", err)
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	svc := newTestAuthService(t)
	if _, err := svc.CreateAdmin("finance", "ledgerpass42", false); err != nil {
		t.Fatalf("create admin failed: %v", err)
	}
	if _, _, _, err := svc.Login(context.Background(), "finance", "wrong-password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password should fail, got %v", err)
	}

	admin, token, _, err := svc.Login(context.Background(), "finance", "ledgerpass42")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if admin.LastLoginAt == nil {
		t.Fatalf("login time should be recorded")
	}
	claims, err := svc.ParseJWT(token)
	if err != nil || claims.AdminID != admin.ID {
		t.Fatalf("token should parse: %+v err=%v", claims, err)
	}
	if _, err := svc.ResolveAdmin(context.Background(), claims); err != nil {
		t.Fatalf("resolve admin failed: %v", err)
	}
	if _, err := svc.ParseJWT(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token should fail, got %v", err)
	}
}

func TestChangePasswordRevokesTokens(t *testing.T) {
	svc := newTestAuthService(t)
	if _, err := svc.CreateAdmin("ops", "firstpass123", true); err != nil {
		t.Fatalf("create admin failed: %v", err)
	}
	admin, token, _, err := svc.Login(context.Background(), "ops", "firstpass123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := svc.ChangePassword(context.Background(), admin.ID, "firstpass123", "secondpass456"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	claims, err := svc.ParseJWT(token)
	if err != nil {
		t.Fatalf("token signature is still valid: %v", err)
	}
	if _, err := svc.ResolveAdmin(context.Background(), claims); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("old token should be revoked, got %v", err)
	}
}
