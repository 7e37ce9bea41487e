package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/donation-core/internal/cache"
	"github.com/donation-core/internal/config"
	"github.com/donation-core/internal/constants"
	"github.com/donation-core/internal/logger"
	"github.com/donation-core/internal/models"
	"github.com/donation-core/internal/repository"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	billingCycleLockKey = "billing:cycle"
	maxCycleBatches     = 100
)

// Attempt results reported per schedule.
const (
	AttemptCharged     = "charged"
	AttemptAlreadyPaid = "already_paid"
	AttemptFailed      = "failed"
	AttemptCancelled   = "cancelled"
	AttemptSkipped     = "skipped"
)

// CycleAttempt one schedule handled by a cycle run.
type CycleAttempt struct {
	ScheduleID     uint   `json:"schedule_id"`
	BillingPeriod  string `json:"billing_period,omitempty"`
	Result         string `json:"result"`
	ContributionID uint   `json:"contribution_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// CycleReport summary of one RunDueCycle call.
type CycleReport struct {
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Locked           bool           `json:"locked"`
	ExpiredRedirects int64          `json:"expired_redirects"`
	Due              int            `json:"due"`
	Claimed          int            `json:"claimed"`
	Succeeded        int            `json:"succeeded"`
	Failed           int            `json:"failed"`
	Cancelled        int            `json:"cancelled"`
	Skipped          int            `json:"skipped"`
	Attempts         []CycleAttempt `json:"attempts"`

	mu sync.Mutex
}

func (r *CycleReport) add(attempt CycleAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch attempt.Result {
	case AttemptCharged, AttemptAlreadyPaid:
		r.Claimed++
		r.Succeeded++
	case AttemptFailed:
		r.Claimed++
		r.Failed++
	case AttemptCancelled:
		r.Claimed++
		r.Failed++
		r.Cancelled++
	default:
		r.Skipped++
	}
	r.Attempts = append(r.Attempts, attempt)
}

// BillingService the recurring billing cycle runner. Concurrent runs are safe:
// each schedule is claimed with a compare-and-set before any charge, and each
// period is charged under a processor idempotency key.
type BillingService struct {
	cfg          config.BillingConfig
	scheduleRepo repository.ScheduleRepository
	contacts     *ContactService
	ledger       *LedgerService
	payments     *PaymentService
	txRunner     repository.TxRunner
	notifier     Notifier
	limiter      *rate.Limiter
	workers      int
	batchSize    int
	threshold    int
	now          func() time.Time
}

// NewBillingService creates the cycle runner
func NewBillingService(
	cfg config.BillingConfig,
	scheduleRepo repository.ScheduleRepository,
	contacts *ContactService,
	ledger *LedgerService,
	payments *PaymentService,
	txRunner repository.TxRunner,
	notifier Notifier,
) *BillingService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = constants.DefaultFailureThreshold
	}
	limit := rate.Inf
	burst := cfg.GatewayBurst
	if cfg.GatewayRatePerSecond > 0 {
		limit = rate.Limit(cfg.GatewayRatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	return &BillingService{
		cfg:          cfg,
		scheduleRepo: scheduleRepo,
		contacts:     contacts,
		ledger:       ledger,
		payments:     payments,
		txRunner:     txRunner,
		notifier:     notifier,
		limiter:      rate.NewLimiter(limit, burst),
		workers:      workers,
		batchSize:    batchSize,
		threshold:    threshold,
		now:          time.Now,
	}
}

// RunDueCycle charges every locally billed schedule whose due date has
// passed. Per-schedule failures are reported, never returned; an error means
// the due set itself could not be read.
func (s *BillingService) RunDueCycle(ctx context.Context) (*CycleReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	report := &CycleReport{StartedAt: s.now(), Attempts: []CycleAttempt{}}
	log := logger.SW("component", "billing_cycle")

	lock, err := cache.AcquireLock(ctx, billingCycleLockKey, s.cfg.ClaimLease())
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			report.Locked = true
			report.FinishedAt = s.now()
			log.Infow("billing_cycle_locked")
			return report, nil
		}
		// Redis trouble only costs the optimisation; claims keep runs safe.
		log.Warnw("billing_cycle_lock_failed", "error", err)
	}
	defer func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil {
			log.Warnw("billing_cycle_lock_release_failed", "error", releaseErr)
		}
	}()

	if s.payments != nil {
		if expired, err := s.payments.ExpireStaleRedirects(); err != nil {
			log.Warnw("billing_cycle_expire_redirects_failed", "error", err)
		} else {
			report.ExpiredRedirects = expired
		}
	}

	cutoff := report.StartedAt
	seen := make(map[uint]struct{})
	for batch := 0; batch < maxCycleBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		due, err := s.scheduleRepo.ListDue(cutoff, s.batchSize)
		if err != nil {
			log.Errorw("billing_cycle_list_due_failed", "error", err)
			return report, err
		}
		fresh := make([]models.RecurringSchedule, 0, len(due))
		for _, schedule := range due {
			if _, ok := seen[schedule.ID]; ok {
				continue
			}
			seen[schedule.ID] = struct{}{}
			fresh = append(fresh, schedule)
		}
		if len(fresh) == 0 {
			break
		}
		report.Due += len(fresh)

		group := errgroup.Group{}
		group.SetLimit(s.workers)
		for i := range fresh {
			schedule := fresh[i]
			group.Go(func() error {
				report.add(s.processSchedule(ctx, &schedule))
				return nil
			})
		}
		_ = group.Wait()
		if len(due) < s.batchSize {
			break
		}
	}

	report.FinishedAt = s.now()
	log.Infow("billing_cycle_finished",
		"due", report.Due,
		"claimed", report.Claimed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"cancelled", report.Cancelled,
		"skipped", report.Skipped,
		"expired_redirects", report.ExpiredRedirects,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

func (s *BillingService) processSchedule(ctx context.Context, schedule *models.RecurringSchedule) CycleAttempt {
	attempt := CycleAttempt{ScheduleID: schedule.ID, Result: AttemptSkipped}
	log := logger.SW("schedule_id", schedule.ID, "gateway", schedule.Gateway)

	now := s.now()
	leaseUntil := now.Add(s.cfg.ClaimLease())
	claimed, err := s.scheduleRepo.Claim(schedule.ID, schedule.Version, now, leaseUntil)
	if err != nil {
		log.Errorw("billing_claim_failed", "error", err)
		attempt.Reason = "claim failed"
		return attempt
	}
	if !claimed {
		attempt.Reason = "claimed by another runner"
		return attempt
	}
	schedule.Version++
	schedule.LeaseUntil = &leaseUntil
	period := periodKey(schedule.NextChargeAt)
	attempt.BillingPeriod = period
	log = log.With("billing_period", period)

	if schedule.Contact == nil && s.contacts != nil {
		if contact, err := s.contacts.Get(schedule.ContactID); err == nil {
			schedule.Contact = contact
		}
	}

	paid, err := s.ledger.HasCompletedForPeriod(schedule.ID, period)
	if err != nil {
		log.Errorw("billing_period_lookup_failed", "error", err)
		attempt.Reason = "period lookup failed"
		return attempt
	}
	if paid {
		// A webhook or an earlier interrupted run already recorded this period.
		if _, err := s.scheduleRepo.ApplyOutcome(schedule.ID, schedule.Version, successOutcome(schedule, s.now())); err != nil {
			log.Errorw("billing_apply_outcome_failed", "error", err)
		}
		attempt.Result = AttemptAlreadyPaid
		return attempt
	}

	if err := s.limiter.Wait(ctx); err != nil {
		attempt.Reason = "cycle cancelled"
		return attempt
	}

	result, chargeErr := s.payments.ChargeInstallment(ctx, schedule, period)
	if chargeErr == nil {
		return s.recordSuccess(ctx, schedule, period, result.TransactionID, result.ProcessedAt, attempt)
	}
	return s.recordFailure(ctx, schedule, period, chargeErr, attempt)
}

func (s *BillingService) recordSuccess(ctx context.Context, schedule *models.RecurringSchedule, period, transactionID string, processedAt time.Time, attempt CycleAttempt) CycleAttempt {
	log := logger.SW("schedule_id", schedule.ID, "billing_period", period)
	var (
		contributionID uint
		duplicate      bool
	)
	err := s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		scheduleID := schedule.ID
		contribution, dup, err := s.ledger.RecordCompleted(tx, LedgerEntry{
			ContactID:     schedule.ContactID,
			Amount:        schedule.Amount.Decimal,
			Currency:      schedule.Currency,
			TransactionID: transactionID,
			ScheduleID:    &scheduleID,
			BillingPeriod: period,
			Campaign:      schedule.Campaign,
			Gateway:       schedule.Gateway,
			Channel:       constants.SourceChannelCycle,
			ReceivedAt:    processedAt,
		})
		if err != nil {
			return err
		}
		contributionID = contribution.ID
		duplicate = dup
		ok, err := s.scheduleRepo.WithTx(tx).ApplyOutcome(schedule.ID, schedule.Version, successOutcome(schedule, s.now()))
		if err != nil {
			return err
		}
		if !ok {
			log.Warnw("billing_schedule_changed_during_charge")
		}
		return nil
	})
	if err != nil {
		// Money moved. Once the lease expires the period is retried under the
		// same processor idempotency key, or the notification folds it in.
		log.Errorw("payment_ledger_write_failed", "transaction_id", transactionID, "error", err)
		attempt.Result = AttemptCharged
		attempt.Reason = "ledger write failed"
		return attempt
	}
	attempt.Result = AttemptCharged
	attempt.ContributionID = contributionID
	if !duplicate && s.notifier != nil {
		s.notifier.ContributionCompleted(ctx, contributionID)
	}
	log.Infow("billing_installment_charged", "contribution_id", contributionID, "duplicate", duplicate)
	return attempt
}

func (s *BillingService) recordFailure(ctx context.Context, schedule *models.RecurringSchedule, period string, chargeErr error, attempt CycleAttempt) CycleAttempt {
	log := logger.SW("schedule_id", schedule.ID, "billing_period", period)
	reason := Reason(chargeErr)
	if reason == "" {
		reason = chargeErr.Error()
	}
	outcome, exhausted := failureOutcome(schedule, s.threshold, s.now(), true)

	var applied bool
	err := s.txRunner.Transaction(ctx, func(tx *gorm.DB) error {
		scheduleID := schedule.ID
		if _, err := s.ledger.RecordFailed(tx, LedgerEntry{
			ContactID:     schedule.ContactID,
			Amount:        schedule.Amount.Decimal,
			Currency:      schedule.Currency,
			ScheduleID:    &scheduleID,
			BillingPeriod: period,
			Campaign:      schedule.Campaign,
			Gateway:       schedule.Gateway,
			Channel:       constants.SourceChannelCycle,
			FailureReason: reason,
			ReceivedAt:    s.now(),
		}); err != nil {
			return err
		}
		ok, err := s.scheduleRepo.WithTx(tx).ApplyOutcome(schedule.ID, schedule.Version, outcome)
		applied = ok
		return err
	})
	attempt.Reason = reason
	if err != nil {
		log.Errorw("billing_failure_write_failed", "error", err)
		attempt.Result = AttemptFailed
		return attempt
	}
	if !applied {
		log.Warnw("billing_schedule_changed_during_charge")
		attempt.Result = AttemptFailed
		return attempt
	}

	log.Warnw("billing_installment_failed",
		"consecutive_failures", outcome.ConsecutiveFailures,
		"reason", reason,
	)
	if !exhausted {
		attempt.Result = AttemptFailed
		return attempt
	}

	applyOutcome(schedule, outcome)
	attempt.Result = AttemptCancelled
	attempt.Reason = ErrScheduleExhausted.Error() + ": " + reason
	log.Warnw("billing_schedule_cancelled", "reason", constants.CancelReasonRepeatedFailure)
	s.payments.stopProcessorBilling(ctx, schedule, constants.CancelReasonRepeatedFailure)
	if s.notifier != nil {
		s.notifier.ScheduleCancelled(ctx, schedule.ID, constants.CancelReasonRepeatedFailure)
	}
	return attempt
}
