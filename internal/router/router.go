package router

import (
	"sort"
	"strings"

	"github.com/donation-core/internal/authz"
	"github.com/donation-core/internal/cache"
	"github.com/donation-core/internal/config"
	adminhandlers "github.com/donation-core/internal/http/handlers/admin"
	publichandlers "github.com/donation-core/internal/http/handlers/public"
	"github.com/donation-core/internal/http/response"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter builds the HTTP surface: donation intake, processor
// notifications, and the operator API.
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisClient := cache.Client()
	donationRule := RateLimitRule{
		Prefix:        cache.BuildKey("rate:donation"),
		WindowSeconds: cfg.Security.DonationRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.DonationRateLimit.MaxRequests,
		Message:       "too many donation attempts, retry in %d seconds",
	}
	webhookRule := RateLimitRule{
		Prefix:        cache.BuildKey("rate:webhook"),
		WindowSeconds: cfg.Security.WebhookRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.WebhookRateLimit.MaxRequests,
	}
	adminLoginRule := RateLimitRule{
		Prefix:        cache.BuildKey("rate:admin_login"),
		WindowSeconds: cfg.Security.AdminLoginRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.AdminLoginRateLimit.MaxRequests,
		Message:       "too many login attempts, retry in %d seconds",
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		donations := apiV1.Group("/donations")
		{
			donations.POST("", RateLimitMiddleware(redisClient, donationRule, KeyByIPAndJSONField("email")), publicHandler.CreateDonation)
			donations.GET("/redirect/:token", publicHandler.GetRedirectStatus)
			donations.POST("/redirect/:token/capture", RateLimitMiddleware(redisClient, donationRule, KeyByIP), publicHandler.CaptureRedirect)
		}

		apiV1.POST("/webhooks/:gateway", RateLimitMiddleware(redisClient, webhookRule, KeyByParam("gateway")), publicHandler.HandleWebhook)

		admin := apiV1.Group("/admin")
		{
			admin.POST("/login", RateLimitMiddleware(redisClient, adminLoginRule, KeyByIPAndJSONField("username")), adminHandler.Login)

			// Any signed-in operator
			authenticated := admin.Group("")
			authenticated.Use(JWTAuthMiddleware(c.AuthService))
			authenticated.GET("/me", adminHandler.GetMe)
			authenticated.PUT("/password", adminHandler.ChangePassword)

			authorized := authenticated.Group("")
			authorized.Use(AdminRBACMiddleware(c.AuthzService))
			{
				// Ledger and donors
				authorized.GET("/contributions", adminHandler.ListContributions)
				authorized.GET("/contributions/:id", adminHandler.GetContribution)
				authorized.GET("/contacts/:id", adminHandler.GetContact)

				// Recurring schedules
				authorized.GET("/schedules", adminHandler.ListSchedules)
				authorized.GET("/schedules/:id", adminHandler.GetSchedule)
				authorized.POST("/schedules/:id/cancel", adminHandler.CancelSchedule)
				authorized.POST("/schedules/:id/mandate", adminHandler.EstablishSchedule)
				authorized.POST("/billing/run", adminHandler.RunBillingCycle)

				// Roles
				authorized.GET("/authz/roles", adminHandler.ListRoles)
				authorized.GET("/authz/roles/:role/policies", adminHandler.GetRolePolicies)
				authorized.GET("/authz/admins", adminHandler.ListAdmins)
				authorized.PUT("/authz/admins/:id/roles", adminHandler.SetAdminRoles)
				authorized.GET("/authz/permissions/catalog", func(ctx *gin.Context) {
					response.Success(ctx, buildAdminPermissionCatalog(r))
				})
			}
		}
	}

	r.GET("/health", func(ctx *gin.Context) {
		status := "ok"
		if sqlDB, err := c.DB.DB(); err != nil || sqlDB.PingContext(ctx.Request.Context()) != nil {
			status = "degraded"
		}
		ctx.JSON(200, gin.H{"status": status, "redis": cache.Enabled()})
	})

	return r
}

var rbacExemptPaths = map[string]struct{}{
	"/api/v1/admin/login":    {},
	"/api/v1/admin/me":       {},
	"/api/v1/admin/password": {},
}

type adminPermissionCatalogItem struct {
	Module     string `json:"module"`
	Method     string `json:"method"`
	Object     string `json:"object"`
	Permission string `json:"permission"`
}

func buildAdminPermissionCatalog(engine *gin.Engine) []adminPermissionCatalogItem {
	if engine == nil {
		return []adminPermissionCatalogItem{}
	}

	routes := engine.Routes()
	seen := make(map[string]struct{}, len(routes))
	items := make([]adminPermissionCatalogItem, 0, len(routes))

	for _, item := range routes {
		method := strings.ToUpper(strings.TrimSpace(item.Method))
		if method == "" || method == "OPTIONS" || method == "HEAD" {
			continue
		}
		if !strings.HasPrefix(item.Path, "/api/v1/admin/") {
			continue
		}
		if _, open := rbacExemptPaths[item.Path]; open {
			continue
		}
		object := authz.NormalizeObject(item.Path)
		permission := method + ":" + object
		if _, exists := seen[permission]; exists {
			continue
		}
		seen[permission] = struct{}{}
		items = append(items, adminPermissionCatalogItem{
			Module:     deriveAdminPermissionModule(object),
			Method:     method,
			Object:     object,
			Permission: permission,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Module == items[j].Module {
			if items[i].Object == items[j].Object {
				return items[i].Method < items[j].Method
			}
			return items[i].Object < items[j].Object
		}
		return items[i].Module < items[j].Module
	})

	return items
}

func deriveAdminPermissionModule(object string) string {
	normalized := strings.TrimPrefix(strings.TrimSpace(object), "/")
	if normalized == "" {
		return "system"
	}
	segments := strings.Split(normalized, "/")
	if len(segments) <= 1 {
		return segments[0]
	}
	if segments[0] != "admin" {
		return segments[0]
	}
	if segments[1] == "authz" {
		return "authz"
	}
	return segments[1]
}
