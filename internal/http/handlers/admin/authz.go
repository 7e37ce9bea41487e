package admin

import (
	handlershared "github.com/donation-core/internal/http/handlers/shared"
	"github.com/donation-core/internal/http/response"

	"github.com/gin-gonic/gin"
)

type setAdminRolesPayload struct {
	Roles []string `json:"roles"`
}

// ListRoles every operator role
func (h *Handler) ListRoles(c *gin.Context) {
	roles, err := h.AuthzService.ListRoles()
	if err != nil {
		respondError(c, response.CodeInternal, "role query failed", err)
		return
	}
	response.Success(c, roles)
}

// GetRolePolicies rules attached to one role
func (h *Handler) GetRolePolicies(c *gin.Context) {
	policies, err := h.AuthzService.GetRolePolicies(c.Param("role"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "invalid role", err)
		return
	}
	response.Success(c, policies)
}

// ListAdmins operator accounts with their roles
func (h *Handler) ListAdmins(c *gin.Context) {
	admins, err := h.AdminRepo.List()
	if err != nil {
		respondError(c, response.CodeInternal, "admin query failed", err)
		return
	}
	items := make([]gin.H, 0, len(admins))
	for _, admin := range admins {
		roles, err := h.AuthzService.GetAdminRoles(admin.ID)
		if err != nil {
			respondError(c, response.CodeInternal, "role lookup failed", err)
			return
		}
		items = append(items, gin.H{
			"id":            admin.ID,
			"username":      admin.Username,
			"is_super":      admin.IsSuper,
			"last_login_at": admin.LastLoginAt,
			"roles":         roles,
		})
	}
	response.Success(c, items)
}

// SetAdminRoles replaces an operator's roles
func (h *Handler) SetAdminRoles(c *gin.Context) {
	id, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		respondError(c, response.CodeBadRequest, "invalid admin id", nil)
		return
	}
	var payload setAdminRolesPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", nil)
		return
	}
	admin, err := h.AdminRepo.GetByID(id)
	if err != nil {
		respondError(c, response.CodeInternal, "admin lookup failed", err)
		return
	}
	if admin == nil {
		respondError(c, response.CodeNotFound, "admin not found", nil)
		return
	}
	if err := h.AuthzService.SetAdminRoles(id, payload.Roles); err != nil {
		respondError(c, response.CodeBadRequest, "role assignment failed", err)
		return
	}
	roles, err := h.AuthzService.GetAdminRoles(id)
	if err != nil {
		respondError(c, response.CodeInternal, "role lookup failed", err)
		return
	}
	callerID, _ := c.Get(handlershared.ContextAdminID)
	requestLog(c).Infow("admin_roles_updated", "admin_id", id, "roles", roles, "operator_id", callerID)
	response.Success(c, gin.H{"admin_id": id, "roles": roles})
}
