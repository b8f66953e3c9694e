package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fleetwatch/internal/cache"
	"fleetwatch/internal/clock"
	"fleetwatch/internal/config"
	"fleetwatch/internal/domain"
	"fleetwatch/internal/engine"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/store"
)

const (
	sweepAutoClose = "auto_close"
	sweepRuleEval  = "rule_eval"
)

// SweepStats reports one completed sweep run.
// Params: scanned batch size plus per-alert batch outcome counters.
// Returns: accounting recorded even when the batch was empty.
type SweepStats struct {
	Sweep     string             `json:"sweep"`
	Scanned   int                `json:"scanned"`
	Result    engine.BatchResult `json:"result"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
}

// Scheduler runs the periodic auto-close and rule-evaluation sweeps.
// Params: alert store, engine, view cache, invalidation bus, clock, config.
// Returns: long-lived background runner started once per service.
type Scheduler struct {
	alerts      store.AlertStore
	engine      *engine.Engine
	views       *cache.ViewCache
	invalidator cache.Invalidator
	logger      *slog.Logger
	clock       clock.Clock
	cfg         config.SweepConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a stopped scheduler.
// Params: collaborators; nil views/invalidator disable cache invalidation.
// Returns: scheduler ready for Start or manual sweep calls.
func New(
	alerts store.AlertStore,
	eng *engine.Engine,
	views *cache.ViewCache,
	invalidator cache.Invalidator,
	logger *slog.Logger,
	clk clock.Clock,
	cfg config.SweepConfig,
) *Scheduler {
	if invalidator == nil {
		invalidator = cache.NoopInvalidator{}
	}
	return &Scheduler{
		alerts:      alerts,
		engine:      eng,
		views:       views,
		invalidator: invalidator,
		logger:      logger,
		clock:       clk,
		cfg:         cfg,
	}
}

// Start launches both sweep tickers until Stop or context cancellation.
// Params: parent context bounding the background goroutines.
// Returns: none; sweep errors are logged, never fatal to the loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.loop(runCtx, time.Duration(s.cfg.AutoCloseIntervalSec)*time.Second, s.RunAutoCloseSweep)
	go s.loop(runCtx, time.Duration(s.cfg.RuleEvalIntervalSec)*time.Second, s.RunRuleEvaluationSweep)
	s.logger.Info("scheduler started",
		"auto_close_interval_sec", s.cfg.AutoCloseIntervalSec,
		"rule_eval_interval_sec", s.cfg.RuleEvalIntervalSec,
		"batch_size", s.cfg.BatchSize)
}

// Stop cancels the sweep loops and waits for in-flight runs to finish.
// Params: none.
// Returns: none.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context) (SweepStats, error)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("sweep run failed", "error", err.Error())
			}
		}
	}
}

// RunAutoCloseSweep closes aged/eligible OPEN and ESCALATED alerts.
// Params: context for store operations.
// Returns: run stats, or the batch-fetch error; per-alert failures are
// absorbed into the stats instead. Manual calls and scheduled ticks
// share this exact path.
func (s *Scheduler) RunAutoCloseSweep(ctx context.Context) (SweepStats, error) {
	return s.runSweep(ctx, sweepAutoClose, store.AlertQuery{
		Statuses:    []domain.AlertStatus{domain.AlertStatusOpen, domain.AlertStatusEscalated},
		Limit:       s.cfg.BatchSize,
		OldestFirst: true,
	}, domain.ActorAutoCloseJob, nil)
}

// RunRuleEvaluationSweep re-evaluates OPEN alerts against current rules.
// Params: context for store operations.
// Returns: run stats, or the rule-reload/batch-fetch error. The rule
// index is refreshed first; a failed reload aborts the whole run so no
// batch is evaluated against stale rules.
func (s *Scheduler) RunRuleEvaluationSweep(ctx context.Context) (SweepStats, error) {
	return s.runSweep(ctx, sweepRuleEval, store.AlertQuery{
		Statuses:    []domain.AlertStatus{domain.AlertStatusOpen},
		Limit:       s.cfg.BatchSize,
		OldestFirst: true,
	}, domain.ActorRuleEngine, s.engine.ReloadRules)
}

func (s *Scheduler) runSweep(
	ctx context.Context,
	sweep string,
	query store.AlertQuery,
	actor domain.HistoryActor,
	before func(context.Context) error,
) (SweepStats, error) {
	stats := SweepStats{Sweep: sweep, StartedAt: s.clock.Now()}

	if before != nil {
		if err := before(ctx); err != nil {
			s.recordRun(sweep, stats, "error")
			return stats, err
		}
	}

	batch, err := s.alerts.FindActive(ctx, query)
	if err != nil {
		s.recordRun(sweep, stats, "error")
		return stats, fmt.Errorf("fetch %s batch: %w", sweep, err)
	}
	stats.Scanned = len(batch)
	metrics.SweepBatchSize.WithLabelValues(sweep).Observe(float64(len(batch)))

	if len(batch) > 0 {
		stats.Result = s.engine.ProcessBatch(ctx, batch, actor)
	}
	// Invalidation is signaled after every run, transitions or not.
	s.invalidateViews()

	stats.Duration = s.clock.Now().Sub(stats.StartedAt)
	s.recordRun(sweep, stats, "ok")
	s.logger.Info("sweep completed",
		"sweep", sweep,
		"scanned", stats.Scanned,
		"processed", stats.Result.Processed,
		"escalated", stats.Result.Escalated,
		"auto_closed", stats.Result.AutoClosed,
		"errors", stats.Result.Errors)
	return stats, nil
}

// invalidateViews drops cached dashboard/list views after transitions.
func (s *Scheduler) invalidateViews() {
	for _, prefix := range []string{cache.PrefixDashboard, cache.PrefixAlertList} {
		if s.views != nil {
			s.views.InvalidateByPrefix(prefix)
		}
		if err := s.invalidator.Publish(prefix); err != nil {
			s.logger.Warn("cache invalidation publish failed", "prefix", prefix, "error", err.Error())
		}
	}
}

func (s *Scheduler) recordRun(sweep string, stats SweepStats, result string) {
	metrics.SweepRunsTotal.WithLabelValues(sweep, result).Inc()
	metrics.SweepLastRunTimestamp.WithLabelValues(sweep).Set(float64(stats.StartedAt.Unix()))
}
