package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/donation-core/internal/logger"

	"github.com/spf13/viper"
)

// Config application settings
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Queue        QueueConfig        `mapstructure:"queue"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Security     SecurityConfig     `mapstructure:"security"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Billing      BillingConfig      `mapstructure:"billing"`
	Notification NotificationConfig `mapstructure:"notification"`
}

// ServerConfig HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig log output settings
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions converts to logger options
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig connection pool settings
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig ledger store settings
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // sqlite / postgres
	DSN    string             `mapstructure:"dsn"`
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// JWTConfig operator token settings
type JWTConfig struct {
	SecretKey   string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// RedisConfig Redis settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig asynq settings
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig cross-origin settings
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig request rate limits and operator password policy
type SecurityConfig struct {
	DonationRateLimit   RateLimitConfig      `mapstructure:"donation_rate_limit"`
	WebhookRateLimit    RateLimitConfig      `mapstructure:"webhook_rate_limit"`
	AdminLoginRateLimit RateLimitConfig      `mapstructure:"admin_login_rate_limit"`
	PasswordPolicy      PasswordPolicyConfig `mapstructure:"password_policy"`
}

// PasswordPolicyConfig operator password rules
type PasswordPolicyConfig struct {
	MinLength      int  `mapstructure:"min_length"`
	RequireUpper   bool `mapstructure:"require_upper"`
	RequireLower   bool `mapstructure:"require_lower"`
	RequireNumber  bool `mapstructure:"require_number"`
	RequireSpecial bool `mapstructure:"require_special"`
}

// RateLimitConfig fixed window limit
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// PaymentConfig orchestrator and gateway settings
type PaymentConfig struct {
	Currency             string       `mapstructure:"currency"`
	MaxAmount            string       `mapstructure:"max_amount"`
	ChargeTimeoutSeconds int          `mapstructure:"charge_timeout_seconds"`
	RedirectTTLMinutes   int          `mapstructure:"redirect_ttl_minutes"`
	Enabled              []string     `mapstructure:"enabled"`
	Card                 CardConfig   `mapstructure:"card"`
	Wallet               WalletConfig `mapstructure:"wallet"`
}

// CardConfig card-charge processor settings
type CardConfig struct {
	SecretKey               string `mapstructure:"secret_key"`
	WebhookSecret           string `mapstructure:"webhook_secret"`
	APIBaseURL              string `mapstructure:"api_base_url"`
	WebhookToleranceSeconds int    `mapstructure:"webhook_tolerance_seconds"`
	StatementDescriptor     string `mapstructure:"statement_descriptor"`
}

// WalletConfig redirect/wallet processor settings
type WalletConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	BaseURL      string `mapstructure:"base_url"`
	ReturnURL    string `mapstructure:"return_url"`
	CancelURL    string `mapstructure:"cancel_url"`
	WebhookID    string `mapstructure:"webhook_id"`
	BrandName    string `mapstructure:"brand_name"`
	PlanID       string `mapstructure:"plan_id"`
}

// BillingConfig cycle runner settings
type BillingConfig struct {
	FailureThreshold     int     `mapstructure:"failure_threshold"`
	Workers              int     `mapstructure:"workers"`
	GatewayRatePerSecond float64 `mapstructure:"gateway_rate_per_second"`
	GatewayBurst         int     `mapstructure:"gateway_burst"`
	ClaimLeaseSeconds    int     `mapstructure:"claim_lease_seconds"`
	BatchSize            int     `mapstructure:"batch_size"`
	CycleCron            string  `mapstructure:"cycle_cron"`
}

// NotificationConfig completion signal delivery
type NotificationConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ChargeTimeout bounded wait for a synchronous gateway call
func (c PaymentConfig) ChargeTimeout() time.Duration {
	if c.ChargeTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.ChargeTimeoutSeconds) * time.Second
}

// RedirectTTL lifetime of a pending redirect payment
func (c PaymentConfig) RedirectTTL() time.Duration {
	if c.RedirectTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.RedirectTTLMinutes) * time.Minute
}

// GatewayEnabled reports whether a gateway selector is switched on.
func (c PaymentConfig) GatewayEnabled(name string) bool {
	if len(c.Enabled) == 0 {
		return true
	}
	for _, item := range c.Enabled {
		if strings.EqualFold(strings.TrimSpace(item), name) {
			return true
		}
	}
	return false
}

// ClaimLease how long a claimed schedule stays reserved for one runner
func (c BillingConfig) ClaimLease() time.Duration {
	if c.ClaimLeaseSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ClaimLeaseSeconds) * time.Second
}

// Load reads config.yml, environment overrides and defaults.
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./")
	viper.AddConfigPath("../")
	viper.AddConfigPath("./etc")

	setDefaults(viper.GetViper())

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // billing.workers -> BILLING_WORKERS

	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("config unmarshal failed: %w", err))
	}
	cfg.Payment.Currency = strings.ToUpper(strings.TrimSpace(cfg.Payment.Currency))
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "donation-core.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/donations.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expire_hours", 12)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "dc")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"X-Requested-With",
		"X-Request-ID",
		"Idempotency-Key",
	})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.donation_rate_limit.window_seconds", 60)
	v.SetDefault("security.donation_rate_limit.max_requests", 10)
	v.SetDefault("security.webhook_rate_limit.window_seconds", 60)
	v.SetDefault("security.webhook_rate_limit.max_requests", 600)
	v.SetDefault("security.admin_login_rate_limit.window_seconds", 300)
	v.SetDefault("security.admin_login_rate_limit.max_requests", 5)
	v.SetDefault("security.password_policy.min_length", 10)
	v.SetDefault("security.password_policy.require_upper", false)
	v.SetDefault("security.password_policy.require_lower", true)
	v.SetDefault("security.password_policy.require_number", true)
	v.SetDefault("security.password_policy.require_special", false)
	v.SetDefault("payment.currency", "USD")
	v.SetDefault("payment.max_amount", "100000")
	v.SetDefault("payment.charge_timeout_seconds", 20)
	v.SetDefault("payment.redirect_ttl_minutes", 1440)
	v.SetDefault("payment.enabled", []string{"card", "wallet"})
	v.SetDefault("payment.card.api_base_url", "https://api.stripe.com")
	v.SetDefault("payment.card.webhook_tolerance_seconds", 300)
	v.SetDefault("payment.wallet.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("billing.failure_threshold", 3)
	v.SetDefault("billing.workers", 4)
	v.SetDefault("billing.gateway_rate_per_second", 5)
	v.SetDefault("billing.gateway_burst", 5)
	v.SetDefault("billing.claim_lease_seconds", 300)
	v.SetDefault("billing.batch_size", 200)
	v.SetDefault("billing.cycle_cron", "")
	v.SetDefault("notification.endpoint", "")
	v.SetDefault("notification.timeout_seconds", 10)
}
