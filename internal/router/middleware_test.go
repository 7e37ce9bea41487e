package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/donation-core/internal/authz"
	"github.com/donation-core/internal/config"
	handlershared "github.com/donation-core/internal/http/handlers/shared"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"
	"github.com/donation-core/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestResolveAllowedOrigin(t *testing.T) {
	got := resolveAllowedOrigin("https://example.com", []string{"*"}, false)
	if got != "*" {
		t.Fatalf("wildcard without credentials should return *, got %s", got)
	}

	got = resolveAllowedOrigin("https://example.com", []string{"*"}, true)
	if got != "https://example.com" {
		t.Fatalf("wildcard with credentials should echo origin, got %s", got)
	}

	got = resolveAllowedOrigin("https://a.example.com", []string{"https://a.example.com", "https://b.example.com"}, false)
	if got != "https://a.example.com" {
		t.Fatalf("allow-list should return matched origin, got %s", got)
	}

	got = resolveAllowedOrigin("https://x.example.com", []string{"https://a.example.com"}, false)
	if got != "" {
		t.Fatalf("unmatched origin should be empty, got %s", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": getRequestID(c)})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "req-123")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("response request id want req-123 got %s", w.Header().Get(requestIDHeader))
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	if resp["request_id"] != "req-123" {
		t.Fatalf("context request id want req-123 got %s", resp["request_id"])
	}

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w2, req2)
	generated := w2.Header().Get(requestIDHeader)
	if generated == "" {
		t.Fatalf("generated request id should not be empty")
	}
	if resp := strings.TrimSpace(generated); resp == "" {
		t.Fatalf("generated request id should not be blank")
	}
}

func TestJWTAuthMiddlewareMissingSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(JWTAuthMiddleware(nil))
	r.GET("/admin/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status want 200 got %d", w.Code)
	}
	var resp struct {
		StatusCode int `json:"status_code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	if resp.StatusCode != 401 {
		t.Fatalf("status_code want 401 got %d", resp.StatusCode)
	}
}

func openRouterTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func decodeStatusCode(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	var resp struct {
		StatusCode int `json:"status_code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v", err)
	}
	return resp.StatusCode
}

func TestJWTAuthMiddlewareAcceptsIssuedToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openRouterTestDB(t)
	cfg := &config.Config{JWT: config.JWTConfig{SecretKey: "router-test-secret-0123456789abcdef", ExpireHours: 1}}
	authService := service.NewAuthService(cfg, repository.NewAdminRepository(db))
	admin, err := authService.CreateAdmin("ops", "Router#Secret2026", false)
	if err != nil {
		t.Fatalf("create admin failed: %v", err)
	}
	token, _, err := authService.GenerateJWT(admin)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}

	r := gin.New()
	r.Use(JWTAuthMiddleware(authService))
	r.GET("/admin/ping", func(c *gin.Context) {
		id, _ := handlershared.GetContextUint(c, handlershared.ContextAdminID)
		c.JSON(http.StatusOK, gin.H{"status_code": 0, "admin_id": id})
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: 401},
		{name: "not bearer", header: "Basic abc", want: 401},
		{name: "garbage", header: "Bearer not-a-token", want: 401},
		{name: "valid", header: "Bearer " + token, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			if got := decodeStatusCode(t, w); got != tc.want {
				t.Fatalf("status_code want %d got %d", tc.want, got)
			}
		})
	}
}

func TestAdminRBACMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := openRouterTestDB(t)
	authzService, err := authz.NewService(db)
	if err != nil {
		t.Fatalf("new authz failed: %v", err)
	}
	if err := authzService.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap roles failed: %v", err)
	}
	if err := authzService.SetAdminRoles(7, []string{"finance"}); err != nil {
		t.Fatalf("set roles failed: %v", err)
	}

	newEngine := func(adminID uint, isSuper bool) *gin.Engine {
		r := gin.New()
		group := r.Group("/api/v1/admin", func(c *gin.Context) {
			c.Set(handlershared.ContextAdminID, adminID)
			c.Set(handlershared.ContextAdminIsSuper, isSuper)
			c.Next()
		}, AdminRBACMiddleware(authzService))
		ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status_code": 0}) }
		group.GET("/contributions", ok)
		group.POST("/billing/run", ok)
		return r
	}

	cases := []struct {
		name    string
		adminID uint
		isSuper bool
		method  string
		path    string
		want    int
	}{
		{name: "finance reads ledger", adminID: 7, method: http.MethodGet, path: "/api/v1/admin/contributions", want: 0},
		{name: "finance cannot run billing", adminID: 7, method: http.MethodPost, path: "/api/v1/admin/billing/run", want: 403},
		{name: "roleless operator", adminID: 8, method: http.MethodGet, path: "/api/v1/admin/contributions", want: 403},
		{name: "super bypasses", adminID: 9, isSuper: true, method: http.MethodPost, path: "/api/v1/admin/billing/run", want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newEngine(tc.adminID, tc.isSuper).ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			if got := decodeStatusCode(t, w); got != tc.want {
				t.Fatalf("status_code want %d got %d", tc.want, got)
			}
		})
	}
}
