// Package scheduler runs the recurring ranking check. At most one check cycle
// executes at a time; timer firings and manual triggers that arrive while a
// cycle is running are dropped, not queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/metrics"
	"github.com/JakeFAU/serp-rank-tracker/internal/tracker"
)

// Scheduler owns the recurring timer, the reentrancy guard and the runtime
// status of ranking checks.
type Scheduler struct {
	store    tracker.RankingStore
	checker  tracker.KeywordChecker
	exporter tracker.SnapshotExporter
	clock    tracker.Clock
	logger   *zap.Logger

	mu          sync.Mutex
	running     bool
	interval    int
	startedAt   time.Time
	lastCheck   time.Time
	ticker      tracker.Ticker
	stopLoop    chan struct{}
	done        chan struct{}
	unsubscribe func()
	baseCtx     context.Context

	guardMu  sync.Mutex
	checking bool

	wg sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithExporter hands every persisted snapshot to exp.
func WithExporter(exp tracker.SnapshotExporter) Option {
	return func(s *Scheduler) {
		s.exporter = exp
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a stopped Scheduler.
func New(
	store tracker.RankingStore,
	checker tracker.KeywordChecker,
	clock tracker.Clock,
	opts ...Option,
) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("ranking store is required")
	}
	if checker == nil {
		return nil, fmt.Errorf("keyword checker is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	s := &Scheduler{
		store:   store,
		checker: checker,
		clock:   clock,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start reads the configured interval, arms the recurring timer and begins
// following settings changes. Calling Start on a running scheduler re-reads
// the settings and restarts with that interval.
//
// ctx bounds the scheduler's lifetime: when it is done the scheduler stops.
// Cycles already in flight are not cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load scheduler settings: %w", err)
	}
	if err := tracker.ValidateSettings(settings); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.armLocked(settings.IntervalMinutes)
		s.logger.Info("scheduler restarted", zap.Int("interval_minutes", settings.IntervalMinutes))
		return nil
	}

	s.running = true
	s.baseCtx = context.WithoutCancel(ctx)
	s.armLocked(settings.IntervalMinutes)

	updates, unsubscribe := s.store.SubscribeSettings()
	s.unsubscribe = unsubscribe
	s.wg.Add(1)
	go s.followSettings(updates)

	s.done = make(chan struct{})
	if ctx.Done() != nil {
		done := s.done
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case <-ctx.Done():
				s.Stop()
			case <-done:
			}
		}()
	}

	s.logger.Info("scheduler started",
		zap.Int("interval_minutes", settings.IntervalMinutes),
		zap.Time("first_check", s.startedAt.Add(minutes(settings.IntervalMinutes))),
	)
	return nil
}

// Restart re-arms the timer with a new interval and resets the next-check
// baseline to now.
func (s *Scheduler) Restart(intervalMinutes int) error {
	if err := tracker.ValidateSettings(tracker.SchedulerSettings{IntervalMinutes: intervalMinutes}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	previous := s.interval
	s.armLocked(intervalMinutes)
	s.logger.Info("scheduler restarted",
		zap.Int("previous_interval_minutes", previous),
		zap.Int("interval_minutes", intervalMinutes),
	)
	return nil
}

// Stop disarms the timer and stops following settings changes. It is
// idempotent and does not interrupt a cycle that is already running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.disarmLocked()
	s.running = false
	close(s.done)
	s.done = nil
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	metrics.SetSchedulerInterval(0)
	s.logger.Info("scheduler stopped")
}

// Wait blocks until background goroutines and in-flight timer cycles exit.
// Call it after Stop.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunImmediateCheck runs one check cycle synchronously, subject to the same
// reentrancy guard as timer firings. It returns ErrCheckInProgress when
// skipped and a *CycleError when the cycle as a whole failed. Cancelling ctx
// does not interrupt a cycle once it has started.
func (s *Scheduler) RunImmediateCheck(ctx context.Context) (CheckReport, error) {
	s.logger.Info("running immediate ranking check")
	return s.runCheck(context.WithoutCancel(ctx))
}

// Status reports the scheduler's runtime state.
func (s *Scheduler) Status() tracker.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := tracker.SchedulerStatus{
		IsRunning:       s.running,
		IntervalMinutes: s.interval,
	}
	if !s.lastCheck.IsZero() {
		last := s.lastCheck
		status.LastCheckTime = &last
	}
	if s.running {
		next := NextCheckTime(s.startedAt, minutes(s.interval), s.clock.Now())
		status.NextCheckTime = &next
	}
	return status
}

// NextCheckTime returns start + k*interval for the smallest k >= 1 that lands
// strictly after now.
func NextCheckTime(start time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return start
	}
	k := int64(1)
	if elapsed := now.Sub(start); elapsed >= 0 {
		k = int64(elapsed/interval) + 1
	}
	return start.Add(time.Duration(k) * interval)
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// armLocked replaces any active timer with one firing every intervalMinutes
// and resets the next-check baseline. s.mu must be held.
func (s *Scheduler) armLocked(intervalMinutes int) {
	s.disarmLocked()
	s.interval = intervalMinutes
	s.startedAt = s.clock.Now()
	s.ticker = s.clock.NewTicker(minutes(intervalMinutes))
	s.stopLoop = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.ticker, s.stopLoop)
	metrics.SetSchedulerInterval(intervalMinutes)
}

func (s *Scheduler) disarmLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.stopLoop != nil {
		close(s.stopLoop)
		s.stopLoop = nil
	}
}

func (s *Scheduler) loop(ticker tracker.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			// select picks randomly when a tick is buffered at Stop time.
			select {
			case <-stop:
				return
			default:
			}
			s.mu.Lock()
			ctx := s.baseCtx
			s.mu.Unlock()

			// Each firing runs on its own goroutine so an overlapping firing
			// reaches the guard and is dropped instead of waiting in the ticker.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if _, err := s.runCheck(ctx); err != nil && !errors.Is(err, ErrCheckInProgress) {
					s.logger.Error("scheduled ranking check failed", zap.Error(err))
				}
			}()
		}
	}
}

func (s *Scheduler) followSettings(updates <-chan tracker.SchedulerSettings) {
	defer s.wg.Done()
	for settings := range updates {
		s.mu.Lock()
		changed := s.running && settings.IntervalMinutes != s.interval
		s.mu.Unlock()
		if !changed {
			continue
		}
		if err := s.Restart(settings.IntervalMinutes); err != nil && !errors.Is(err, ErrNotRunning) {
			s.logger.Error("restart after settings change failed",
				zap.Int("interval_minutes", settings.IntervalMinutes),
				zap.Error(err),
			)
		}
	}
}
