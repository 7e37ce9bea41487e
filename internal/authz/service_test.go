package authz

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupAuthzServiceTest(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	svc, err := NewService(db)
	if err != nil {
		t.Fatalf("new authz service failed: %v", err)
	}
	return svc
}

func TestEnforceAdminWithRolePolicy(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.GrantRolePolicy("ops", "/admin/schedules/:id", "GET"); err != nil {
		t.Fatalf("grant role policy failed: %v", err)
	}
	if err := svc.SetAdminRoles(1, []string{"ops"}); err != nil {
		t.Fatalf("set admin roles failed: %v", err)
	}

	allow, err := svc.EnforceAdmin(1, "/api/v1/admin/schedules/42", "get")
	if err != nil {
		t.Fatalf("enforce allow failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected allow=true")
	}

	allow, err = svc.EnforceAdmin(1, "/api/v1/admin/schedules/42", "POST")
	if err != nil {
		t.Fatalf("enforce deny failed: %v", err)
	}
	if allow {
		t.Fatalf("expected allow=false")
	}
}

func TestSetAdminRolesOverride(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.GrantRolePolicy("ops", "/admin/schedules", "GET"); err != nil {
		t.Fatalf("grant ops policy failed: %v", err)
	}
	if err := svc.GrantRolePolicy("books", "/admin/contributions", "GET"); err != nil {
		t.Fatalf("grant books policy failed: %v", err)
	}

	if err := svc.SetAdminRoles(2, []string{"ops"}); err != nil {
		t.Fatalf("set first role failed: %v", err)
	}
	if err := svc.SetAdminRoles(2, []string{"books"}); err != nil {
		t.Fatalf("set second role failed: %v", err)
	}
	roles, err := svc.GetAdminRoles(2)
	if err != nil {
		t.Fatalf("get roles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "role:books" {
		t.Fatalf("roles want [role:books], got=%v", roles)
	}

	allow, err := svc.EnforceAdmin(2, "/admin/schedules", "GET")
	if err != nil {
		t.Fatalf("enforce old role failed: %v", err)
	}
	if allow {
		t.Fatalf("expected old role permission removed")
	}
	allow, err = svc.EnforceAdmin(2, "/admin/contributions", "GET")
	if err != nil {
		t.Fatalf("enforce new role failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected new role permission granted")
	}
}

func TestNormalizeObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "/api/v1/admin/schedules/:id", want: "/admin/schedules/:id"},
		{in: "/admin/schedules/:id", want: "/admin/schedules/:id"},
		{in: "admin/contributions", want: "/admin/contributions"},
		{in: "/api/v1", want: "/"},
		{in: "", want: "/"},
	}
	for _, item := range cases {
		if got := NormalizeObject(item.in); got != item.want {
			t.Fatalf("normalize object failed, in=%q want=%q got=%q", item.in, item.want, got)
		}
	}
}

func TestBootstrapBuiltinRoles(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap builtin roles failed: %v", err)
	}
	// second run must not fail on existing rows
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap builtin roles rerun failed: %v", err)
	}

	roles, err := svc.ListRoles()
	if err != nil {
		t.Fatalf("list roles failed: %v", err)
	}
	wantRoles := map[string]bool{
		"role:readonly_auditor": true,
		"role:finance":          true,
		"role:billing_operator": true,
	}
	for _, role := range roles {
		delete(wantRoles, role)
	}
	if len(wantRoles) != 0 {
		t.Fatalf("builtin roles missing: %v", wantRoles)
	}

	if err := svc.SetAdminRoles(3, []string{"finance"}); err != nil {
		t.Fatalf("set finance role failed: %v", err)
	}
	if allow, _ := svc.EnforceAdmin(3, "/api/v1/admin/contributions", "GET"); !allow {
		t.Fatalf("expected finance to read contributions")
	}
	if allow, _ := svc.EnforceAdmin(3, "/api/v1/admin/schedules/7/cancel", "POST"); allow {
		t.Fatalf("expected finance to be denied schedule cancel")
	}

	if err := svc.SetAdminRoles(4, []string{"billing_operator"}); err != nil {
		t.Fatalf("set billing role failed: %v", err)
	}
	if allow, _ := svc.EnforceAdmin(4, "/api/v1/admin/schedules/7/cancel", "POST"); !allow {
		t.Fatalf("expected billing operator to cancel schedules")
	}
	if allow, _ := svc.EnforceAdmin(4, "/api/v1/admin/billing/run", "POST"); !allow {
		t.Fatalf("expected billing operator to trigger cycle run")
	}
	if allow, _ := svc.EnforceAdmin(4, "/api/v1/admin/contacts/9", "GET"); !allow {
		t.Fatalf("expected inherited finance permission")
	}

	policies, err := svc.GetRolePolicies("billing_operator")
	if err != nil {
		t.Fatalf("get role policies failed: %v", err)
	}
	if len(policies) != 4 {
		t.Fatalf("billing operator policies want 4, got %d", len(policies))
	}
}
