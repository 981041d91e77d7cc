package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"certify-manager/internal/config"
	"certify-manager/internal/metrics"
	"certify-manager/internal/model"
)

// Renewer runs a batch renewal of managed sites
type Renewer interface {
	RenewAll(ctx context.Context, autoRenewalsOnly bool) (map[string]*model.CertificateRequestResult, error)
}

// Locker is a distributed lock so only one instance renews at a time
type Locker interface {
	IsReady() bool
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error
}

// RenewalScheduler runs automatic renewal of managed sites on a cron schedule
type RenewalScheduler struct {
	renewer       Renewer
	locker        Locker
	schedule      string
	timeout       time.Duration
	cronScheduler *cron.Cron
	entryID       cron.EntryID
	logger        zerolog.Logger

	mu       sync.Mutex
	running  bool
	inFlight atomic.Bool
}

// NewRenewalScheduler creates a new renewal scheduler. locker may be nil.
func NewRenewalScheduler(renewer Renewer, locker Locker, schedule string, logger zerolog.Logger) *RenewalScheduler {
	return &RenewalScheduler{
		renewer:       renewer,
		locker:        locker,
		schedule:      schedule,
		timeout:       config.ScheduledRenewalTimeout,
		cronScheduler: cron.New(),
		logger:        logger.With().Str("component", "renewal_scheduler").Logger(),
	}
}

// Start registers the schedule and starts the cron scheduler
func (s *RenewalScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	entryID, err := s.cronScheduler.AddFunc(s.schedule, s.runRenewal)
	if err != nil {
		return fmt.Errorf("invalid renewal schedule %q: %w", s.schedule, err)
	}
	s.entryID = entryID

	s.cronScheduler.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.cronScheduler.Entry(entryID).Next).
		Msg("auto renewal scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running renewal to finish
func (s *RenewalScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cronScheduler.Stop().Done()
	s.logger.Info().Msg("auto renewal scheduler stopped")
}

// NextRun returns the next scheduled run, or the zero time when stopped
func (s *RenewalScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}
	return s.cronScheduler.Entry(s.entryID).Next
}

// RunNow triggers an immediate renewal in the background
func (s *RenewalScheduler) RunNow() {
	go s.runRenewal()
}

func (s *RenewalScheduler) runRenewal() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.Run(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled renewal failed")
	}
}

// Run renews every auto-renewal site unless another run holds the lock.
// It reports whether the renewal ran.
func (s *RenewalScheduler) Run(ctx context.Context) (bool, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Info().Msg("renewal already running, skipping")
		return false, nil
	}
	defer s.inFlight.Store(false)

	if s.locker != nil && s.locker.IsReady() {
		lockValue := uuid.NewString()
		acquired, err := s.locker.AcquireLock(ctx, config.RenewalLockKey, lockValue, config.RenewalLockTTL)
		if err != nil {
			return false, fmt.Errorf("failed to acquire renewal lock: %w", err)
		}
		if !acquired {
			s.logger.Info().Msg("renewal lock held by another instance, skipping")
			return false, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), config.RenewalLockKey, lockValue); err != nil {
				s.logger.Warn().Err(err).Msg("failed to release renewal lock")
			}
		}()
	}

	s.logger.Info().Msg("starting scheduled renewal")
	metrics.ObserveRenewalRun("scheduled")

	results, err := s.renewer.RenewAll(ctx, true)
	if err != nil {
		return true, err
	}

	failed := 0
	for _, r := range results {
		if !r.IsSuccess {
			failed++
		}
	}
	s.logger.Info().Int("renewed", len(results)-failed).Int("failed", failed).Msg("scheduled renewal finished")
	return true, nil
}
