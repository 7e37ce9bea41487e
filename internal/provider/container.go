package provider

import (
	"errors"
	"fmt"

	"github.com/donation-core/internal/authz"
	"github.com/donation-core/internal/cache"
	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/gateway"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/payment/paypal"
	"github.com/donation-core/internal/payment/stripe"
	"github.com/donation-core/internal/queue"
	"github.com/donation-core/internal/repository"
	"github.com/donation-core/internal/service"

	"gorm.io/gorm"
)

// Container holds every component of one process. Components receive their
// collaborators here and never look them up on their own.
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	QueueClient *queue.Client
	Gateways    *gateway.Registry

	// Repositories
	AdminRepo        repository.AdminRepository
	ContactRepo      repository.ContactRepository
	ContributionRepo repository.ContributionRepository
	ScheduleRepo     repository.ScheduleRepository
	RedirectRepo     repository.PendingRedirectRepository
	ReceiptRepo      repository.EventReceiptRepository
	TxRunner         repository.TxRunner

	// Services
	AuthzService        *authz.Service
	AuthService         *service.AuthService
	ContactService      *service.ContactService
	LedgerService       *service.LedgerService
	NotificationService *service.NotificationService
	PaymentService      *service.PaymentService
	WebhookService      *service.WebhookService
	BillingService      *service.BillingService
}

// NewContainer wires the process. Redis and the queue are optional; a
// failure to reach them is logged and the process runs without them.
func NewContainer(cfg *config.Config, db *gorm.DB) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		DB:          db,
		QueueClient: queueClient,
	}
	c.initRepositories()
	if err := c.initGateways(); err != nil {
		return nil, err
	}
	if err := c.initServices(); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases the queue client and the Redis connection.
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			logger.Warnw("provider_close_queue_client_failed", "error", err)
		}
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}

func (c *Container) initRepositories() {
	db := c.DB
	c.AdminRepo = repository.NewAdminRepository(db)
	c.ContactRepo = repository.NewContactRepository(db)
	c.ContributionRepo = repository.NewContributionRepository(db)
	c.ScheduleRepo = repository.NewScheduleRepository(db)
	c.RedirectRepo = repository.NewPendingRedirectRepository(db)
	c.ReceiptRepo = repository.NewEventReceiptRepository(db)
	c.TxRunner = repository.NewTxRunner(db)
}

func (c *Container) initGateways() error {
	payCfg := c.Config.Payment
	var adapters []gateway.Adapter

	if payCfg.GatewayEnabled(constants.GatewayCard) && payCfg.Card.SecretKey != "" {
		card, err := gateway.NewCardAdapter(stripe.Config{
			SecretKey:               payCfg.Card.SecretKey,
			WebhookSecret:           payCfg.Card.WebhookSecret,
			APIBaseURL:              payCfg.Card.APIBaseURL,
			WebhookToleranceSeconds: payCfg.Card.WebhookToleranceSeconds,
			StatementDescriptor:     payCfg.Card.StatementDescriptor,
		})
		if err != nil {
			return fmt.Errorf("init card gateway: %w", err)
		}
		adapters = append(adapters, card)
	}

	if payCfg.GatewayEnabled(constants.GatewayWallet) && payCfg.Wallet.ClientID != "" {
		wallet, err := gateway.NewWalletAdapter(paypal.Config{
			ClientID:     payCfg.Wallet.ClientID,
			ClientSecret: payCfg.Wallet.ClientSecret,
			BaseURL:      payCfg.Wallet.BaseURL,
			ReturnURL:    payCfg.Wallet.ReturnURL,
			CancelURL:    payCfg.Wallet.CancelURL,
			WebhookID:    payCfg.Wallet.WebhookID,
			BrandName:    payCfg.Wallet.BrandName,
			PlanID:       payCfg.Wallet.PlanID,
		}, c.RedirectRepo, payCfg.RedirectTTL())
		if err != nil {
			return fmt.Errorf("init wallet gateway: %w", err)
		}
		adapters = append(adapters, wallet)
	}

	registry, err := gateway.NewRegistry(adapters...)
	if err != nil {
		return fmt.Errorf("init gateway registry: %w", err)
	}
	if len(adapters) == 0 {
		logger.Warnw("provider_no_gateway_configured")
	}
	c.Gateways = registry
	return nil
}

func (c *Container) initServices() error {
	authzService, err := authz.NewService(c.DB)
	if err != nil {
		return fmt.Errorf("init authz: %w", err)
	}
	if err := authzService.BootstrapBuiltinRoles(); err != nil {
		return fmt.Errorf("bootstrap builtin roles: %w", err)
	}
	c.AuthzService = authzService
	c.AuthService = service.NewAuthService(c.Config, c.AdminRepo)

	c.ContactService = service.NewContactService(c.ContactRepo)
	c.LedgerService = service.NewLedgerService(c.ContributionRepo)
	c.NotificationService = service.NewNotificationService(c.Config.Notification, c.QueueClient)
	c.PaymentService = service.NewPaymentService(
		c.Config.Payment,
		c.Gateways,
		c.ContactService,
		c.LedgerService,
		c.ScheduleRepo,
		c.RedirectRepo,
		c.TxRunner,
		c.NotificationService,
	)
	c.WebhookService = service.NewWebhookService(
		c.Gateways,
		c.ContactService,
		c.LedgerService,
		c.PaymentService,
		c.ScheduleRepo,
		c.RedirectRepo,
		c.ReceiptRepo,
		c.TxRunner,
		c.NotificationService,
		c.Config.Billing.FailureThreshold,
	)
	c.BillingService = service.NewBillingService(
		c.Config.Billing,
		c.ScheduleRepo,
		c.ContactService,
		c.LedgerService,
		c.PaymentService,
		c.TxRunner,
		c.NotificationService,
	)
	return nil
}
