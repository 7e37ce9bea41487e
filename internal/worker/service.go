package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/queue"

	"github.com/hibiken/asynq"
)

// cycleUniqueWindow keeps cron ticks from stacking when a run is still queued.
const cycleUniqueWindow = 10 * time.Minute

// Service runs the asynq server and, when billing.cycle_cron is set, the
// scheduler that enqueues the billing cycle.
type Service struct {
	name      string
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	entryID   string
}

// NewService creates the worker service
func NewService(cfg *config.QueueConfig, billing config.BillingConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)

	svc := &Service{
		name:   "worker",
		server: server,
		mux:    mux,
	}

	spec := strings.TrimSpace(billing.CycleCron)
	if spec != "" {
		scheduler := asynq.NewScheduler(queue.BuildRedisOpt(cfg), &asynq.SchedulerOpts{
			Location: time.UTC,
		})
		entryID, err := scheduler.Register(spec, queue.NewBillingRunDueCycleTask(),
			asynq.Queue(queue.CriticalQueue),
			asynq.MaxRetry(0),
			asynq.Unique(cycleUniqueWindow),
		)
		if err != nil {
			return nil, fmt.Errorf("register billing cycle cron %q: %w", spec, err)
		}
		svc.scheduler = scheduler
		svc.entryID = entryID
	}
	return svc, nil
}

// Name service name
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start processes tasks until ctx is done
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if err := s.server.Start(s.mux); err != nil {
		return fmt.Errorf("start task server: %w", err)
	}
	if s.scheduler != nil {
		if err := s.scheduler.Start(); err != nil {
			return fmt.Errorf("start billing scheduler: %w", err)
		}
		logger.Infow("worker_billing_scheduler_started", "entry_id", s.entryID)
	}
	<-ctx.Done()
	return nil
}

// Stop shuts down the scheduler and the server
func (s *Service) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	_ = ctx
	if s.scheduler != nil {
		s.scheduler.Shutdown()
	}
	if s.server != nil {
		s.server.Shutdown()
	}
	return nil
}
