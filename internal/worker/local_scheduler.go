package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/donation-core/internal/logger"

	"github.com/robfig/cron/v3"
)

// LocalScheduler runs the billing cycle in-process on a cron schedule. It is
// used when the task queue is disabled; overlapping ticks are skipped.
type LocalScheduler struct {
	spec   string
	runner CycleRunner
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLocalScheduler validates spec and prepares the scheduler.
func NewLocalScheduler(spec string, runner CycleRunner) (*LocalScheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cycle cron is empty")
	}
	if runner == nil {
		return nil, errors.New("cycle runner is nil")
	}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	s := &LocalScheduler{spec: spec, runner: runner, cron: c}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("parse billing cycle cron %q: %w", spec, err)
	}
	return s, nil
}

// Name service name
func (s *LocalScheduler) Name() string {
	return "billing-scheduler"
}

// Start runs ticks until ctx is done
func (s *LocalScheduler) Start(ctx context.Context) error {
	s.cron.Start()
	logger.Infow("local_billing_scheduler_started", "cron", s.spec)
	<-ctx.Done()
	return nil
}

// Stop cancels a running cycle and waits for it to return
func (s *LocalScheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LocalScheduler) tick() {
	report, err := s.runner.RunDueCycle(s.ctx)
	if err != nil {
		logger.Errorw("local_billing_cycle_failed", "error", err)
		return
	}
	logger.Infow("local_billing_cycle_done",
		"locked", report.Locked,
		"due", report.Due,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"cancelled", report.Cancelled,
	)
}
