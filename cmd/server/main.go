package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/donation-core/internal/app"
	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiGreen = "\033[32m"
	ansiCyan  = "\033[36m"
)

func main() {
	var mode string
	flag.StringVar(&mode, "mode", app.ModeAll, "run mode: all (default), api, worker")
	flag.Parse()

	printStartupBanner(mode)

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	if cfg.Server.Mode == "release" {
		if isWeakSecret(cfg.JWT.SecretKey) {
			stdLog.Fatalf("jwt.secret is weak or still the default; configure a strong random secret in production")
		}
	} else if isWeakSecret(cfg.JWT.SecretKey) {
		stdLog.Printf("warning: jwt.secret is weak or still the default; change it before going to production")
	}

	db, err := app.OpenStore(cfg)
	if err != nil {
		stdLog.Fatalf("database init failed: %v", err)
	}

	defaultAdminUser := os.Getenv("DC_DEFAULT_ADMIN_USERNAME")
	defaultAdminPass := os.Getenv("DC_DEFAULT_ADMIN_PASSWORD")
	if cfg.Server.Mode == "release" && defaultAdminPass == "" {
		stdLog.Printf("warning: DC_DEFAULT_ADMIN_PASSWORD not set, skipping default operator bootstrap")
	} else if err := models.EnsureDefaultAdmin(db, defaultAdminUser, defaultAdminPass); err != nil {
		stdLog.Printf("warning: default operator bootstrap failed: %v", err)
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		DB:      db,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		stdLog.Fatalf("service exited with error: %v", err)
	}
}

func printStartupBanner(mode string) {
	fmt.Println(ansiCyan + ansiBold + "donation-core" + ansiReset + ansiDim + "  payments, ledger and recurring billing" + ansiReset)
	fmt.Println(ansiGreen + "mode: " + mode + ansiReset)
	fmt.Println(ansiDim + "--------------------------------------------------------------" + ansiReset)
}

func isWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}
	normalized := strings.ToLower(secret)
	if strings.Contains(normalized, "change-me") ||
		strings.Contains(normalized, "change-in-production") ||
		strings.Contains(normalized, "your-secret-key") {
		return true
	}
	return false
}
