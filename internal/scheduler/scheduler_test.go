package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"fleetwatch/internal/cache"
	"fleetwatch/internal/clock"
	"fleetwatch/internal/config"
	"fleetwatch/internal/domain"
	"fleetwatch/internal/engine"
	"fleetwatch/internal/store"
)

type fixture struct {
	alerts  *store.MemoryAlertStore
	rules   *store.MemoryRuleStore
	history *store.MemoryHistoryLog
	views   *cache.ViewCache
	clock   *clock.ManualClock
	engine  *engine.Engine
	sched   *Scheduler
}

func newFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	clk := clock.NewManualClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	alerts := store.NewMemoryAlertStore(clk.Now)
	rules := store.NewMemoryRuleStore()
	history := store.NewMemoryHistoryLog()
	views := cache.NewViewCache(time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(alerts, rules, history, cache.NewRuleCache(time.Minute), nil, logger, clk, engine.SelectionLastWriteWins)
	sched := New(alerts, eng, views, nil, logger, clk, config.SweepConfig{
		AutoCloseIntervalSec: 300,
		RuleEvalIntervalSec:  120,
		BatchSize:            batchSize,
	})
	return &fixture{alerts: alerts, rules: rules, history: history, views: views, clock: clk, engine: eng, sched: sched}
}

func (f *fixture) saveAgeRule(t *testing.T, afterMins int) {
	t.Helper()
	rule := domain.Rule{ID: "rule-age", SourceType: domain.SourceMaintenance, Enabled: true, Priority: 1, AutoCloseAfterMins: afterMins}
	if err := f.rules.Save(context.Background(), rule); err != nil {
		t.Fatalf("save rule: %v", err)
	}
}

func (f *fixture) seedOpenAlerts(t *testing.T, n int, age time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		alert := domain.Alert{
			ID:         fmt.Sprintf("a%d", i),
			SourceType: domain.SourceMaintenance,
			Status:     domain.AlertStatusOpen,
			DriverID:   "D1",
			Timestamp:  f.clock.Now().Add(-age),
		}
		if err := f.alerts.Save(context.Background(), alert); err != nil {
			t.Fatalf("save alert: %v", err)
		}
	}
}

func TestAutoCloseSweepClosesAgedAlerts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.saveAgeRule(t, 30)
	f.seedOpenAlerts(t, 3, time.Hour)
	f.views.Set("dashboard/summary", "stale")

	stats, err := f.sched.RunAutoCloseSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Scanned != 3 || stats.Result.Processed != 3 || stats.Result.AutoClosed != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	for i := 0; i < 3; i++ {
		alert, err := f.alerts.Get(context.Background(), fmt.Sprintf("a%d", i))
		if err != nil {
			t.Fatalf("get alert: %v", err)
		}
		if alert.Status != domain.AlertStatusAutoClosed {
			t.Fatalf("expected a%d AUTO_CLOSED, got %s", i, alert.Status)
		}
		entries := f.history.Entries(alert.ID)
		if len(entries) != 1 || entries[0].Actor != domain.ActorAutoCloseJob {
			t.Fatalf("expected one AUTO_CLOSE_JOB entry, got %+v", entries)
		}
	}

	if _, ok := f.views.Get("dashboard/summary"); ok {
		t.Fatalf("expected dashboard view invalidated after transitions")
	}
}

func TestAutoCloseSweepRespectsBatchCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	f.saveAgeRule(t, 30)
	f.seedOpenAlerts(t, 5, time.Hour)

	stats, err := f.sched.RunAutoCloseSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Scanned != 2 || stats.Result.AutoClosed != 2 {
		t.Fatalf("expected capped batch of 2, got %+v", stats)
	}

	// Remaining alerts drain on subsequent runs.
	stats, err = f.sched.RunAutoCloseSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Scanned != 2 {
		t.Fatalf("expected second capped batch, got %+v", stats)
	}
}

func TestAutoCloseSweepEmptyBatchStillAccounts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.saveAgeRule(t, 30)

	stats, err := f.sched.RunAutoCloseSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Scanned != 0 || stats.Result.Processed != 0 {
		t.Fatalf("expected empty run accounting, got %+v", stats)
	}
	if stats.StartedAt.IsZero() {
		t.Fatalf("expected run timestamp recorded for empty batch")
	}
}

func TestSweepInvalidatesViewsEvenWhenEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.views.Set("dashboard/summary", "stale")
	f.views.Set("alerts/open||D1|0|true", "stale")

	if _, err := f.sched.RunAutoCloseSweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if _, ok := f.views.Get("dashboard/summary"); ok {
		t.Fatalf("expected dashboard view invalidated on an empty run")
	}
	if _, ok := f.views.Get("alerts/open||D1|0|true"); ok {
		t.Fatalf("expected alert-list view invalidated on an empty run")
	}
}

func TestRuleEvaluationSweepPicksUpRuleEdits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.seedOpenAlerts(t, 2, time.Hour)

	// First run with no rules: nothing transitions.
	stats, err := f.sched.RunRuleEvaluationSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Result.AutoClosed != 0 {
		t.Fatalf("expected no transitions without rules, got %+v", stats)
	}

	// A rule saved afterwards reaches the next run via cache invalidation.
	f.saveAgeRule(t, 30)
	if err := f.engine.InvalidateRules(context.Background()); err != nil {
		t.Fatalf("invalidate rules: %v", err)
	}
	stats, err = f.sched.RunRuleEvaluationSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Result.AutoClosed != 2 {
		t.Fatalf("expected reload to pick up new rule, got %+v", stats)
	}
	for i := 0; i < 2; i++ {
		entries := f.history.Entries(fmt.Sprintf("a%d", i))
		if len(entries) != 1 || entries[0].Actor != domain.ActorRuleEngine {
			t.Fatalf("expected RULE_ENGINE attribution, got %+v", entries)
		}
	}
}

func TestRuleEvaluationSweepSkipsEscalatedAlerts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	f.saveAgeRule(t, 30)
	escalated := domain.Alert{
		ID:         "esc",
		SourceType: domain.SourceMaintenance,
		Status:     domain.AlertStatusEscalated,
		DriverID:   "D1",
		Timestamp:  f.clock.Now().Add(-time.Hour),
	}
	if err := f.alerts.Save(context.Background(), escalated); err != nil {
		t.Fatalf("save alert: %v", err)
	}

	stats, err := f.sched.RunRuleEvaluationSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Scanned != 0 {
		t.Fatalf("expected rule-eval sweep to scan OPEN only, got %+v", stats)
	}

	// The auto-close sweep does cover ESCALATED alerts.
	stats, err = f.sched.RunAutoCloseSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if stats.Result.AutoClosed != 1 {
		t.Fatalf("expected escalated alert auto-closed, got %+v", stats)
	}
}

type failingAlertStore struct {
	*store.MemoryAlertStore
}

func (s *failingAlertStore) FindActive(context.Context, store.AlertQuery) ([]domain.Alert, error) {
	return nil, errors.New("backend unavailable")
}

func TestSweepBoundaryCatchesStoreErrors(t *testing.T) {
	t.Parallel()

	clk := clock.NewManualClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	alerts := &failingAlertStore{MemoryAlertStore: store.NewMemoryAlertStore(clk.Now)}
	rules := store.NewMemoryRuleStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(alerts, rules, store.NewMemoryHistoryLog(), cache.NewRuleCache(time.Minute), nil, logger, clk, engine.SelectionLastWriteWins)
	sched := New(alerts, eng, nil, nil, logger, clk, config.SweepConfig{AutoCloseIntervalSec: 300, RuleEvalIntervalSec: 120, BatchSize: 100})

	if _, err := sched.RunAutoCloseSweep(context.Background()); err == nil {
		t.Fatalf("expected batch-fetch error surfaced to the run boundary")
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100)
	ctx := context.Background()
	f.sched.Start(ctx)
	f.sched.Start(ctx)
	f.sched.Stop()
	f.sched.Stop()
}
