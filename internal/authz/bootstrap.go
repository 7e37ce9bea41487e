package authz

import (
	"errors"
	"fmt"
)

// RoleSeed describes a built-in operator role.
type RoleSeed struct {
	Role     string
	Inherits []string
	Policies []Policy
}

// BuiltinRoleSeeds is the role matrix installed on every start.
func BuiltinRoleSeeds() []RoleSeed {
	return []RoleSeed{
		{
			Role: "readonly_auditor",
			Policies: []Policy{
				{Object: "/admin/*", Action: "GET"},
			},
		},
		{
			Role:     "finance",
			Inherits: []string{"readonly_auditor"},
			Policies: []Policy{
				{Object: "/admin/contributions", Action: "GET"},
				{Object: "/admin/contacts/:id", Action: "GET"},
			},
		},
		{
			Role:     "billing_operator",
			Inherits: []string{"finance"},
			Policies: []Policy{
				{Object: "/admin/schedules", Action: "GET"},
				{Object: "/admin/schedules/:id", Action: "GET"},
				{Object: "/admin/schedules/:id/cancel", Action: "POST"},
				{Object: "/admin/schedules/:id/mandate", Action: "POST"},
				{Object: "/admin/billing/run", Action: "POST"},
			},
		},
	}
}

// BootstrapBuiltinRoles installs BuiltinRoleSeeds. It is idempotent.
func (s *Service) BootstrapBuiltinRoles() error {
	if err := s.ready(); err != nil {
		return err
	}

	for _, seed := range BuiltinRoleSeeds() {
		role, err := s.EnsureRole(seed.Role)
		if err != nil {
			return err
		}
		for _, parent := range seed.Inherits {
			parentRole, err := s.EnsureRole(parent)
			if err != nil {
				return err
			}
			if _, err := s.enforcer.AddNamedGroupingPolicy("g", role, parentRole); err != nil {
				return fmt.Errorf("link role %s to %s: %w", role, parentRole, err)
			}
		}
		for _, policy := range seed.Policies {
			action := NormalizeAction(policy.Action)
			if action == "" {
				return errors.New("builtin policy action is required")
			}
			if _, err := s.enforcer.AddPolicy(role, NormalizeObject(policy.Object), action); err != nil {
				return fmt.Errorf("add builtin policy: %w", err)
			}
		}
	}
	return nil
}
