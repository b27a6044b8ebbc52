package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/paysync/internal/reconciliation"
	"github.com/angelmondragon/paysync/pkg/db/models"
	"github.com/angelmondragon/paysync/pkg/enums"
	"github.com/angelmondragon/paysync/pkg/logger"
	"github.com/angelmondragon/paysync/pkg/metrics"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultBatchSize   = 50
	DefaultConcurrency = 10
	DefaultMaxRetries  = 5
	DefaultTimeout     = 30 * time.Minute
	DefaultBackoffCap  = 5 * time.Minute
)

var (
	// ErrAlreadyRunning is returned by Start on a running scheduler.
	ErrAlreadyRunning = errors.New("polling scheduler already running")
	// ErrNotRunning is returned by Stop on a stopped scheduler.
	ErrNotRunning = errors.New("polling scheduler not running")
)

// Reconciler pulls the current gateway status for a transaction and applies it.
type Reconciler interface {
	ReconcileFromGateway(ctx context.Context, transactionID uuid.UUID, source string) (*reconciliation.Outcome, error)
}

type transactionReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
}

// Config tunes the scheduler. Zero values fall back to the package defaults.
type Config struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	MaxRetries  int
	Timeout     time.Duration
	BackoffCap  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	return c
}

// SchedulerParams configure the polling scheduler.
type SchedulerParams struct {
	Logger       *logger.Logger
	Records      Repository
	Transactions transactionReader
	Reconciler   Reconciler
	Lock         Lock
	Metrics      *metrics.PollingMetrics
	Config       Config
	Now          func() time.Time
}

// Status is the operational snapshot exposed to operators.
type Status struct {
	Running       bool       `json:"running"`
	Interval      string     `json:"interval"`
	BatchSize     int        `json:"batchSize"`
	Concurrency   int        `json:"concurrency"`
	MaxRetries    int        `json:"maxRetries"`
	Timeout       string     `json:"timeout"`
	BackoffCap    string     `json:"backoffCap"`
	LastTickAt    *time.Time `json:"lastTickAt,omitempty"`
	ActiveRecords *int64     `json:"activeRecords,omitempty"`
}

// TickSummary reports what one tick did.
type TickSummary struct {
	Selected    int
	Succeeded   int
	Failed      int
	Deactivated int
	Skipped     bool
	Duration    time.Duration
}

// Scheduler periodically pulls gateway status for transactions under active polling.
// It is an owned resource: Start and Stop bind it to the lifetime of the hosting process.
type Scheduler struct {
	logg       *logger.Logger
	records    Repository
	txns       transactionReader
	reconciler Reconciler
	lock       Lock
	metrics    *metrics.PollingMetrics
	cfg        Config
	now        func() time.Time

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	lastTickAt *time.Time
}

// NewScheduler builds a polling scheduler.
func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("polling repository required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	lock := params.Lock
	if lock == nil {
		lock = noopLock{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		logg:       params.Logger,
		records:    params.Records,
		txns:       params.Transactions,
		reconciler: params.Reconciler,
		lock:       lock,
		metrics:    params.Metrics,
		cfg:        params.Config.withDefaults(),
		now:        now,
	}, nil
}

// Start launches the tick loop in the background. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.loop(runCtx)
	}()

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"interval":    s.cfg.Interval.String(),
		"batch_size":  s.cfg.BatchSize,
		"max_retries": s.cfg.MaxRetries,
		"timeout":     s.cfg.Timeout.String(),
	}), "polling scheduler started")
	return nil
}

// Stop halts the loop and waits for the in-flight tick, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return ErrNotRunning
	}

	cancel()
	select {
	case <-done:
		s.logg.Info(ctx, "polling scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for polling tick: %w", ctx.Err())
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Status returns the scheduler configuration and runtime state.
func (s *Scheduler) Status(ctx context.Context) Status {
	s.mu.Lock()
	status := Status{
		Running:     s.cancel != nil,
		Interval:    s.cfg.Interval.String(),
		BatchSize:   s.cfg.BatchSize,
		Concurrency: s.cfg.Concurrency,
		MaxRetries:  s.cfg.MaxRetries,
		Timeout:     s.cfg.Timeout.String(),
		BackoffCap:  s.cfg.BackoffCap.String(),
		LastTickAt:  s.lastTickAt,
	}
	s.mu.Unlock()

	count, err := s.records.CountActive(ctx)
	if err != nil {
		s.logg.Error(ctx, "failed to count active polling records", err)
		return status
	}
	status.ActiveRecords = &count
	return status
}

// ForcePoll reconciles one transaction against the gateway right away. Scheduling
// fields of its polling record are left alone.
func (s *Scheduler) ForcePoll(ctx context.Context, transactionID uuid.UUID) (*reconciliation.Outcome, error) {
	ctx = s.logg.WithField(s.logg.WithTransactionID(ctx, transactionID.String()), "event", "polling.force")
	outcome, err := s.reconciler.ReconcileFromGateway(ctx, transactionID, metrics.SourceManual)
	if err != nil {
		s.logg.Error(ctx, "forced poll failed", err)
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "status", string(outcome.Current)), "forced poll complete")
	return outcome, nil
}

func (s *Scheduler) loop(ctx context.Context) {
	s.runTick(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	// a started tick runs to completion; Stop waits for it
	if _, err := s.Tick(context.WithoutCancel(ctx)); err != nil {
		s.logg.Error(ctx, "polling tick failed", err)
	}
}

// Tick selects due records and polls them with bounded concurrency. A failing record
// never aborts the others; only lock or selection errors are returned.
func (s *Scheduler) Tick(ctx context.Context) (TickSummary, error) {
	ctx = s.logg.WithField(ctx, "event", "polling.tick")
	start := time.Now()

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return TickSummary{}, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.IncSkippedTick()
		s.logg.Debug(ctx, "another scheduler replica holds the tick lock; skipping")
		return TickSummary{Skipped: true}, nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release tick lock", relErr)
		}
	}()

	records, err := s.records.ListDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return TickSummary{}, fmt.Errorf("list due polling records: %w", err)
	}

	results := make([]recordResult, len(records))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, record := range records {
		g.Go(func() error {
			results[i] = s.processSafely(ctx, record)
			return nil
		})
	}
	_ = g.Wait()

	summary := TickSummary{Selected: len(records)}
	var errs error
	for i, result := range results {
		switch result.outcome {
		case metrics.PollOutcomeSucceeded:
			summary.Succeeded++
		case metrics.PollOutcomeDeactivated:
			summary.Deactivated++
		default:
			summary.Failed++
		}
		if result.err != nil {
			errs = multierr.Append(errs, fmt.Errorf("transaction %s: %w", records[i].TransactionID, result.err))
		}
	}
	summary.Duration = time.Since(start)

	tickedAt := s.now()
	s.mu.Lock()
	s.lastTickAt = &tickedAt
	s.mu.Unlock()
	s.metrics.ObserveTick(summary.Duration, summary.Selected)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"selected":    summary.Selected,
		"succeeded":   summary.Succeeded,
		"failed":      summary.Failed,
		"deactivated": summary.Deactivated,
		"duration_ms": summary.Duration.Milliseconds(),
	})
	if errs != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "errors", errs.Error()), "polling tick complete with errors")
	} else if summary.Selected > 0 {
		s.logg.Info(logCtx, "polling tick complete")
	}
	return summary, nil
}

type recordResult struct {
	outcome string
	err     error
}

func (s *Scheduler) processSafely(ctx context.Context, record models.PollingRecord) (result recordResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while polling: %v", r)
			s.logg.Error(s.logg.WithTransactionID(ctx, record.TransactionID.String()), "polling record panicked", err)
			s.metrics.IncOutcome(metrics.PollOutcomeFailed)
			result = recordResult{outcome: metrics.PollOutcomeFailed, err: err}
		}
	}()
	result = s.processRecord(ctx, record)
	s.metrics.IncOutcome(result.outcome)
	return result
}

func (s *Scheduler) processRecord(ctx context.Context, record models.PollingRecord) recordResult {
	ctx = s.logg.WithTransactionID(ctx, record.TransactionID.String())
	now := s.now()

	txn, err := s.txns.FindByID(ctx, record.TransactionID)
	if err != nil {
		return s.recordFailure(ctx, record, now, fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		return s.deactivate(ctx, record, enums.PollStopReasonTransactionNotFound, now, nil, nil)
	}
	if txn.Status.IsTerminal() {
		return s.deactivate(ctx, record, enums.PollStopReasonCompleted(txn.Status), now, nil, nil)
	}
	if now.Sub(txn.CreatedAt) > s.cfg.Timeout {
		return s.deactivate(ctx, record, enums.PollStopReasonTimeout, now, nil, nil)
	}

	outcome, err := s.reconciler.ReconcileFromGateway(ctx, txn.ID, metrics.SourcePoll)
	if err != nil {
		return s.recordFailure(ctx, record, now, err)
	}
	if outcome.Current.IsTerminal() {
		return s.deactivate(ctx, record, enums.PollStopReasonCompleted(outcome.Current), now, nil, nil)
	}

	if err := s.records.MarkSuccess(ctx, record.ID, now, now.Add(s.intervalFor(record))); err != nil {
		s.logg.Error(ctx, "failed to reschedule polling record", err)
		return recordResult{outcome: metrics.PollOutcomeFailed, err: err}
	}
	return recordResult{outcome: metrics.PollOutcomeSucceeded}
}

func (s *Scheduler) recordFailure(ctx context.Context, record models.PollingRecord, now time.Time, cause error) recordResult {
	retry := record.RetryCount + 1
	maxRetries := record.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.cfg.MaxRetries
	}
	msg := cause.Error()
	ctx = s.logg.WithFields(ctx, map[string]any{
		"retry_count": retry,
		"max_retries": maxRetries,
	})

	if retry > maxRetries {
		return s.deactivate(ctx, record, enums.PollStopReasonMaxRetries, now, &msg, cause)
	}

	delay := NextRetryDelay(s.intervalFor(record), retry, s.cfg.BackoffCap)
	if err := s.records.MarkFailure(ctx, record.ID, retry, now, now.Add(delay), msg); err != nil {
		s.logg.Error(ctx, "failed to record polling failure", err)
		return recordResult{outcome: metrics.PollOutcomeFailed, err: multierr.Append(cause, err)}
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"error":       msg,
		"retry_in_ms": delay.Milliseconds(),
	}), "gateway poll failed; retry scheduled")
	return recordResult{outcome: metrics.PollOutcomeFailed, err: cause}
}

func (s *Scheduler) deactivate(ctx context.Context, record models.PollingRecord, reason string, now time.Time, lastError *string, cause error) recordResult {
	ctx = s.logg.WithField(ctx, "stop_reason", reason)
	if _, err := s.records.Deactivate(ctx, record.TransactionID, reason, now, lastError); err != nil {
		s.logg.Error(ctx, "failed to deactivate polling record", err)
		return recordResult{outcome: metrics.PollOutcomeFailed, err: multierr.Append(cause, err)}
	}
	s.metrics.IncDeactivation(reason)
	s.logg.Info(ctx, "polling stopped")
	return recordResult{outcome: metrics.PollOutcomeDeactivated, err: cause}
}

func (s *Scheduler) intervalFor(record models.PollingRecord) time.Duration {
	if interval := record.PollInterval(); interval > 0 {
		return interval
	}
	return s.cfg.Interval
}
