package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/provider"
	"github.com/donation-core/internal/router"
	"github.com/donation-core/internal/worker"

	"gorm.io/gorm"
)

// OpenStore opens the configured database and migrates the schema.
func OpenStore(cfg *config.Config) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, cfg.Server.Mode == "debug")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// BuildRunner assembles the services for mode on top of a wired container.
func BuildRunner(container *provider.Container, mode string) (*Runner, error) {
	if container == nil || container.Config == nil {
		return nil, errors.New("container is nil")
	}
	cfg := container.Config

	var services []Service
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		services = append(services, NewHTTPService(cfg.Server.Host+":"+cfg.Server.Port, engine))
	}

	if mode == ModeAll || mode == ModeWorker {
		switch {
		case cfg.Queue.Enabled:
			workerService, err := worker.NewService(&cfg.Queue, cfg.Billing, worker.NewConsumer(container))
			if err != nil {
				return nil, err
			}
			services = append(services, workerService)
		case strings.TrimSpace(cfg.Billing.CycleCron) != "":
			// No queue: the cycle runs on an in-process cron instead.
			scheduler, err := worker.NewLocalScheduler(cfg.Billing.CycleCron, container.BillingService)
			if err != nil {
				return nil, err
			}
			services = append(services, scheduler)
		case mode == ModeWorker:
			return nil, errors.New("worker mode requires queue.enabled or billing.cycle_cron")
		}
	}

	if len(services) == 0 {
		return nil, fmt.Errorf("no services for mode %q", mode)
	}
	return NewRunner(services...), nil
}

// Run opens the store, wires the container and runs until a signal arrives
// or a service fails.
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	db := opts.DB
	if db == nil {
		var err error
		if db, err = OpenStore(opts.Config); err != nil {
			return err
		}
	}
	container, err := provider.NewContainer(opts.Config, db)
	if err != nil {
		return err
	}
	defer container.Close()

	runner, err := BuildRunner(container, opts.Mode)
	if err != nil {
		return err
	}

	opts.Logger.Infow("app_start",
		"addr", opts.Config.Server.Host+":"+opts.Config.Server.Port,
		"mode", opts.Mode,
		"gateways", container.Gateways.Names(),
	)
	return RunWithOptions(runner, opts)
}
