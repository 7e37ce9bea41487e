package admin

import (
	"time"

	handlershared "github.com/donation-core/internal/http/handlers/shared"
	"github.com/donation-core/internal/http/response"

	"github.com/gin-gonic/gin"
)

// LoginRequest operator credentials
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse issued token
type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at"`
	Admin     interface{} `json:"admin"`
}

// Login issues an operator token
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "username and password are required", nil)
		return
	}

	admin, token, expiresAt, err := h.AuthService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		requestLog(c).Warnw("admin_login_failed", "username", req.Username, "client_ip", c.ClientIP())
		handlershared.RespondMapped(c, err, handlershared.AuthErrorRules, response.CodeInternal, "login failed")
		return
	}
	response.Success(c, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		Admin: gin.H{
			"id":       admin.ID,
			"username": admin.Username,
			"is_super": admin.IsSuper,
		},
	})
}

// ChangePasswordRequest password rotation
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword rotates the caller's password and revokes older tokens
func (h *Handler) ChangePassword(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "old_password and new_password are required", nil)
		return
	}
	if err := h.AuthService.ChangePassword(c.Request.Context(), adminID, req.OldPassword, req.NewPassword); err != nil {
		handlershared.RespondMapped(c, err, handlershared.AuthErrorRules, response.CodeInternal, "password change failed")
		return
	}
	response.SuccessWithMsg(c, "password changed", nil)
}

// GetMe returns the caller's roles
func (h *Handler) GetMe(c *gin.Context) {
	adminID, ok := getAdminID(c)
	if !ok {
		return
	}
	roles, err := h.AuthzService.GetAdminRoles(adminID)
	if err != nil {
		respondError(c, response.CodeInternal, "role lookup failed", err)
		return
	}
	isSuper := false
	if value, exists := c.Get(handlershared.ContextAdminIsSuper); exists {
		isSuper, _ = value.(bool)
	}
	response.Success(c, gin.H{
		"admin_id": adminID,
		"username": c.GetString(handlershared.ContextAdminName),
		"is_super": isSuper,
		"roles":    roles,
	})
}
