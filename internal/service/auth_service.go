package service

import (
	"context"
	"strings"
	"time"

	"github.com/donation-core/internal/cache"
	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService operator authentication
type AuthService struct {
	cfg       *config.Config
	adminRepo repository.AdminRepository
	now       func() time.Time
}

// NewAuthService creates the operator auth service
func NewAuthService(cfg *config.Config, adminRepo repository.AdminRepository) *AuthService {
	return &AuthService{
		cfg:       cfg,
		adminRepo: adminRepo,
		now:       time.Now,
	}
}

// JWTClaims operator token claims
type JWTClaims struct {
	AdminID      uint   `json:"admin_id"`
	Username     string `json:"username"`
	TokenVersion uint64 `json:"token_version"`
	jwt.RegisteredClaims
}

// HashPassword bcrypt hash
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a password with its hash
func (s *AuthService) VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidatePassword applies the configured password policy
func (s *AuthService) ValidatePassword(password string) error {
	if s == nil || s.cfg == nil {
		return nil
	}
	return validatePassword(s.cfg.Security.PasswordPolicy, password)
}

// GenerateJWT signs an operator token
func (s *AuthService) GenerateJWT(admin *models.Admin) (string, time.Time, error) {
	now := s.now()
	hours := s.cfg.JWT.ExpireHours
	if hours <= 0 {
		hours = 12
	}
	expiresAt := now.Add(time.Duration(hours) * time.Hour)

	claims := JWTClaims{
		AdminID:      admin.ID,
		Username:     admin.Username,
		TokenVersion: admin.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWT.SecretKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// TokensEnabled reports whether a signing secret is configured.
func (s *AuthService) TokensEnabled() bool {
	return s != nil && s.cfg != nil && strings.TrimSpace(s.cfg.JWT.SecretKey) != ""
}

// ParseJWT validates an operator token
func (s *AuthService) ParseJWT(tokenString string) (*JWTClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWT.SecretKey), nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// ResolveAdmin loads the auth snapshot for verified claims, from Redis when
// possible. A token issued before the last password change is rejected.
func (s *AuthService) ResolveAdmin(ctx context.Context, claims *JWTClaims) (*cache.AdminAuthState, error) {
	if claims == nil || claims.AdminID == 0 {
		return nil, ErrInvalidToken
	}
	state, hit, err := cache.GetAdminAuthState(ctx, claims.AdminID)
	if err != nil {
		logger.Warnw("admin_auth_state_cache_read_failed", "admin_id", claims.AdminID, "error", err)
	}
	if !hit || state == nil {
		admin, err := s.adminRepo.GetByID(claims.AdminID)
		if err != nil {
			return nil, err
		}
		if admin == nil {
			return nil, ErrInvalidToken
		}
		state = cache.BuildAdminAuthState(admin)
		_ = cache.SetAdminAuthState(ctx, state)
	}
	if state.TokenVersion != claims.TokenVersion {
		return nil, ErrInvalidToken
	}
	return state, nil
}

// Login checks credentials and issues a token
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.Admin, string, time.Time, error) {
	admin, err := s.adminRepo.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if admin == nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	if err := s.VerifyPassword(admin.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.GenerateJWT(admin)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	now := s.now()
	admin.LastLoginAt = &now
	if err := s.adminRepo.TouchLogin(admin.ID, now); err != nil {
		return nil, "", time.Time{}, err
	}
	_ = cache.SetAdminAuthState(ctx, cache.BuildAdminAuthState(admin))
	return admin, token, expiresAt, nil
}

// CreateAdmin adds an operator account. Used by the bootstrap and the CLI.
func (s *AuthService) CreateAdmin(username, password string, isSuper bool) (*models.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, invalidRequest("username is required")
	}
	if err := s.ValidatePassword(password); err != nil {
		return nil, withReason(ErrWeakPassword, err.Error())
	}
	existing, err := s.adminRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAdminExists
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}
	admin := &models.Admin{Username: username, PasswordHash: hash, IsSuper: isSuper}
	if err := s.adminRepo.Create(admin); err != nil {
		return nil, err
	}
	logger.Infow("admin_created", "admin_id", admin.ID, "username", username, "is_super", isSuper)
	return admin, nil
}

// ChangePassword rotates an operator password and revokes issued tokens.
func (s *AuthService) ChangePassword(ctx context.Context, adminID uint, oldPassword, newPassword string) error {
	admin, err := s.adminRepo.GetByID(adminID)
	if err != nil {
		return err
	}
	if admin == nil {
		return ErrInvalidCredentials
	}
	if err := s.VerifyPassword(admin.PasswordHash, oldPassword); err != nil {
		return ErrInvalidCredentials
	}
	if err := s.ValidatePassword(newPassword); err != nil {
		return withReason(ErrWeakPassword, err.Error())
	}
	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}
	admin.PasswordHash = hash
	admin.TokenVersion++
	if err := s.adminRepo.Update(admin); err != nil {
		return err
	}
	_ = cache.SetAdminAuthState(ctx, cache.BuildAdminAuthState(admin))
	return nil
}
