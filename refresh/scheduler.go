package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nstoddard17/chainreact-core/backoff"
	"github.com/nstoddard17/chainreact-core/circuitbreaker"
	"github.com/nstoddard17/chainreact-core/cron"
	"github.com/nstoddard17/chainreact-core/internal/nilcheck"
	"github.com/nstoddard17/chainreact-core/log"
	"github.com/nstoddard17/chainreact-core/retry"
)

// ErrStoreRequired is returned when a Scheduler is constructed without a
// credential store.
var ErrStoreRequired = errors.New("refresh: credential store is required")

// ErrNoRefresher is returned when a record's provider has no registered
// refresher. It is terminal for the record within a run.
var ErrNoRefresher = errors.New("refresh: no refresher registered for provider")

const (
	defaultRecoveryWindow = 7 * 24 * time.Hour
	defaultBatchSize      = 10
	defaultBatchPause     = time.Second
	defaultInterval       = 15 * time.Minute
	defaultMaxRunErrors   = 25
)

// Config tunes scheduler behavior.
type Config struct {
	// RecoveryWindow bounds how long a degraded record keeps being retried,
	// measured from when it disconnected.
	RecoveryWindow time.Duration
	// BatchSize is the number of records refreshed between pauses.
	BatchSize int
	// BatchPause is the delay between batches, respecting downstream rate
	// limits.
	BatchPause time.Duration
	// Retry governs per-record refresh attempts. A rejected call from an
	// open breaker is terminal for the record within this run.
	Retry retry.Policy
	// Interval is the delay between scheduled runs when no cron expression
	// is set.
	Interval time.Duration
	// CronExpr optionally schedules runs with a 5-field cron expression
	// instead of a fixed interval.
	CronExpr string
	// MaxRunErrors caps the per-run error list; overflow is counted.
	MaxRunErrors int
}

// DefaultConfig returns the baseline scheduler configuration.
func DefaultConfig() Config {
	return Config{
		RecoveryWindow: defaultRecoveryWindow,
		BatchSize:      defaultBatchSize,
		BatchPause:     defaultBatchPause,
		Retry:          retry.DefaultPolicy(),
		Interval:       defaultInterval,
		MaxRunErrors:   defaultMaxRunErrors,
	}
}

func (cfg *Config) normalize() {
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = defaultRecoveryWindow
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	if cfg.BatchPause < 0 {
		cfg.BatchPause = defaultBatchPause
	}

	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	if cfg.MaxRunErrors <= 0 {
		cfg.MaxRunErrors = defaultMaxRunErrors
	}

	if nilcheck.Interface(cfg.Retry.Classifier) {
		cfg.Retry.Classifier = retry.ClassifierFunc(isTerminalRefreshError)
	}
}

// isTerminalRefreshError stops retrying when the provider's breaker has
// opened; hammering it again within the same run defeats the breaker.
func isTerminalRefreshError(err error) bool {
	var openErr *circuitbreaker.CircuitOpenError

	return errors.As(err, &openErr)
}

type schedulerMetrics struct {
	runs      metric.Int64Counter
	processed metric.Int64Counter
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
	skipped   metric.Int64Counter
}

// Scheduler scans credentials needing attention and refreshes them through
// per-provider refreshers guarded by circuit breakers. At most one run is
// in flight at a time.
type Scheduler struct {
	store    CredentialStore
	logger   log.Logger
	cfg      Config
	breakers *circuitbreaker.Registry

	now   func() time.Time
	pause func(ctx context.Context, delay time.Duration) error

	mu         sync.RWMutex
	refreshers map[string]Refresher

	runMu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}

	metrics schedulerMetrics
}

// Option customizes a Scheduler at construction.
type Option func(*Scheduler)

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBreakerRegistry shares a breaker registry with the rest of the
// process instead of owning a private one.
func WithBreakerRegistry(registry *circuitbreaker.Registry) Option {
	return func(s *Scheduler) {
		if registry != nil {
			s.breakers = registry
		}
	}
}

// WithMeterProvider enables refresh metrics on the given provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(s *Scheduler) {
		if nilcheck.Interface(provider) {
			return
		}

		meter := provider.Meter("chainreact.refresh")

		if counter, err := meter.Int64Counter("refresh.runs"); err == nil {
			s.metrics.runs = counter
		}

		if counter, err := meter.Int64Counter("refresh.records_processed"); err == nil {
			s.metrics.processed = counter
		}

		if counter, err := meter.Int64Counter("refresh.records_succeeded"); err == nil {
			s.metrics.succeeded = counter
		}

		if counter, err := meter.Int64Counter("refresh.records_failed"); err == nil {
			s.metrics.failed = counter
		}

		if counter, err := meter.Int64Counter("refresh.records_skipped"); err == nil {
			s.metrics.skipped = counter
		}
	}
}

// New creates a Scheduler around the given store.
func New(store CredentialStore, logger log.Logger, cfg Config, opts ...Option) (*Scheduler, error) {
	if nilcheck.Interface(store) {
		return nil, ErrStoreRequired
	}

	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	cfg.normalize()

	scheduler := &Scheduler{
		store:      store,
		logger:     logger,
		cfg:        cfg,
		breakers:   circuitbreaker.NewRegistry(logger),
		now:        time.Now,
		pause:      backoff.WaitContext,
		refreshers: make(map[string]Refresher),
		stop:       make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}

	return scheduler, nil
}

// RegisterRefresher binds a provider name to its refresher. Registration
// happens at startup, before the first run.
func (s *Scheduler) RegisterRefresher(provider string, refresher Refresher) error {
	if provider == "" {
		return errors.New("refresh: empty provider name")
	}

	if nilcheck.Interface(refresher) {
		return fmt.Errorf("refresh: nil refresher for provider %s", provider)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshers[provider]; exists {
		return fmt.Errorf("refresh: refresher already registered for provider %s", provider)
	}

	s.refreshers[provider] = refresher

	return nil
}

// RunOnce performs a single scheduler pass and returns its JobRun. Record
// failures are accumulated in the run; only an unreachable store marks the
// run critical and halts it.
func (s *Scheduler) RunOnce(ctx context.Context) *JobRun {
	if ctx == nil {
		ctx = context.Background()
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	run := &JobRun{ID: uuid.NewString(), StartedAt: s.now()}
	defer s.complete(ctx, run)

	records, err := s.store.ListNeedingAttention(ctx)
	if err != nil {
		run.CriticalFailure = true
		run.addError(s.cfg.MaxRunErrors, "listing credentials: %v", err)

		s.logger.Log(ctx, log.LevelError, "credential store unreachable, aborting run",
			log.String("run_id", run.ID), log.Err(err))

		return run
	}

	eligible := s.filterEligible(ctx, run, records)

	for start := 0; start < len(eligible); start += s.cfg.BatchSize {
		if start > 0 {
			if err := s.pause(ctx, s.cfg.BatchPause); err != nil {
				run.addError(s.cfg.MaxRunErrors, "run interrupted between batches: %v", err)

				return run
			}
		}

		end := min(start+s.cfg.BatchSize, len(eligible))

		for _, record := range eligible[start:end] {
			s.processRecord(ctx, run, record)
		}
	}

	return run
}

// filterEligible applies the recovery-window and refresh-capability rules
// and deduplicates by record ID. Degraded records without a refresh token
// cannot recover automatically and are parked as needsReauthorization.
func (s *Scheduler) filterEligible(ctx context.Context, run *JobRun, records []CredentialRecord) []CredentialRecord {
	seen := make(map[string]struct{}, len(records))
	eligible := make([]CredentialRecord, 0, len(records))
	now := s.now()

	for _, record := range records {
		if _, dup := seen[record.ID]; dup {
			continue
		}

		seen[record.ID] = struct{}{}

		if record.Degraded() {
			if !record.HasRefreshToken {
				run.Skipped++

				if record.Status != StatusNeedsReauthorization {
					record.Status = StatusNeedsReauthorization
					s.persist(ctx, run, record)
				}

				continue
			}

			anchor := record.DisconnectedAt
			if anchor.IsZero() && record.Status == StatusExpired {
				anchor = record.ExpiresAt
			}

			if anchor.IsZero() {
				// A degraded record with no usable timestamp would never
				// age out; start its recovery window at first sight.
				record.DisconnectedAt = now
				s.persist(ctx, run, record)
			} else if now.Sub(anchor) > s.cfg.RecoveryWindow {
				run.Skipped++

				s.logger.Log(ctx, log.LevelDebug, "credential outside recovery window, skipping",
					log.String("credential_id", record.ID), log.String("provider", record.Provider))

				continue
			}
		}

		eligible = append(eligible, record)
	}

	return eligible
}

func (s *Scheduler) processRecord(ctx context.Context, run *JobRun, record CredentialRecord) {
	run.TotalProcessed++

	outcome, err := s.refreshRecord(ctx, record)
	if err != nil {
		run.Failed++
		run.addError(s.cfg.MaxRunErrors, "%s/%s: %v", record.Provider, record.ID, err)

		record.ConsecutiveFailures++
		if record.Status == StatusConnected {
			record.Status = StatusDisconnected
			record.DisconnectedAt = s.now()
		}

		s.logger.Log(ctx, log.LevelWarn, "credential refresh failed",
			log.String("credential_id", record.ID), log.String("provider", record.Provider),
			log.Int("consecutive_failures", record.ConsecutiveFailures), log.Err(err))
	} else {
		run.Succeeded++

		record.ConsecutiveFailures = 0
		record.Status = StatusConnected
		record.LastRefreshAt = s.now()
		record.DisconnectedAt = time.Time{}

		if outcome != nil {
			if outcome.Secrets != nil {
				record.Secrets = outcome.Secrets
			}

			if !outcome.ExpiresAt.IsZero() {
				record.ExpiresAt = outcome.ExpiresAt
			}
		}
	}

	s.persist(ctx, run, record)
}

// refreshRecord attempts one record's refresh under the retry policy, each
// attempt routed through the provider's circuit breaker.
func (s *Scheduler) refreshRecord(ctx context.Context, record CredentialRecord) (*RefreshOutcome, error) {
	s.mu.RLock()
	refresher, ok := s.refreshers[record.Provider]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRefresher, record.Provider)
	}

	var outcome *RefreshOutcome

	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		out, err := s.breakers.Execute(ctx, record.Provider, func(ctx context.Context) (any, error) {
			return refresher.Refresh(ctx, record)
		})
		if err != nil {
			return err
		}

		outcome, _ = out.(*RefreshOutcome)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

// persist writes the record back through the store port. A store error here
// is recorded but never aborts the run.
func (s *Scheduler) persist(ctx context.Context, run *JobRun, record CredentialRecord) {
	if err := s.store.UpdateStatus(ctx, record); err != nil {
		run.addError(s.cfg.MaxRunErrors, "persisting %s/%s: %v", record.Provider, record.ID, err)

		s.logger.Log(ctx, log.LevelWarn, "credential status update failed",
			log.String("credential_id", record.ID), log.Err(err))
	}
}

func (s *Scheduler) complete(ctx context.Context, run *JobRun) {
	run.CompletedAt = s.now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt)

	s.logger.Log(ctx, log.LevelInfo, "credential refresh run completed",
		log.String("run_id", run.ID),
		log.Int("processed", run.TotalProcessed),
		log.Int("succeeded", run.Succeeded),
		log.Int("failed", run.Failed),
		log.Int("skipped", run.Skipped),
		log.Bool("critical_failure", run.CriticalFailure),
		log.Duration("duration", run.Duration))

	s.recordRunMetrics(ctx, run)
}

func (s *Scheduler) recordRunMetrics(ctx context.Context, run *JobRun) {
	attrs := metric.WithAttributes(attribute.Bool("critical_failure", run.CriticalFailure))

	if s.metrics.runs != nil {
		s.metrics.runs.Add(ctx, 1, attrs)
	}

	if s.metrics.processed != nil {
		s.metrics.processed.Add(ctx, int64(run.TotalProcessed))
	}

	if s.metrics.succeeded != nil {
		s.metrics.succeeded.Add(ctx, int64(run.Succeeded))
	}

	if s.metrics.failed != nil {
		s.metrics.failed.Add(ctx, int64(run.Failed))
	}

	if s.metrics.skipped != nil {
		s.metrics.skipped.Add(ctx, int64(run.Skipped))
	}
}

// Run executes scheduler passes on the configured interval or cron
// schedule until the context is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var schedule cron.Schedule

	if s.cfg.CronExpr != "" {
		parsed, err := cron.Parse(s.cfg.CronExpr)
		if err != nil {
			return fmt.Errorf("parsing refresh schedule: %w", err)
		}

		schedule = parsed
	}

	for {
		wait, err := s.nextWait(schedule)
		if err != nil {
			return err
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		s.RunOnce(ctx)
	}
}

func (s *Scheduler) nextWait(schedule cron.Schedule) (time.Duration, error) {
	if schedule == nil {
		return s.cfg.Interval, nil
	}

	now := s.now()

	next, err := schedule.Next(now)
	if err != nil {
		return 0, err
	}

	return next.Sub(now), nil
}

// Stop ends the Run loop. Safe to call more than once; an in-flight run
// finishes before the loop exits.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}
