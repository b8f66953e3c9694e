package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"fleetwatch/internal/cache"
	"fleetwatch/internal/clock"
	"fleetwatch/internal/domain"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/notifyqueue"
	"fleetwatch/internal/store"
)

// SelectionPolicy decides which rule is retained per source type when
// several enabled rules target the same type.
// Params: last-write-wins/highest-priority policy constants.
// Returns: rule index build behavior.
type SelectionPolicy string

const (
	// SelectionLastWriteWins inserts rules in priority-descending load
	// order with later insertions overwriting earlier ones, so the
	// lowest-priority same-type rule is the one retained. This mirrors
	// the long-standing production behavior and is the default.
	SelectionLastWriteWins SelectionPolicy = "last-write-wins"
	// SelectionHighestPriority retains the highest-priority rule per type.
	SelectionHighestPriority SelectionPolicy = "highest-priority"
)

// Evaluation is one rule evaluation result for a single alert.
// Params: independent escalate/auto-close decisions and latest reason.
// Returns: deterministic evaluation output; both flags may be true at
// once, and the auto-close reason overwrites the escalation reason.
type Evaluation struct {
	ShouldEscalate  bool
	ShouldAutoClose bool
	Reason          string
	MatchedRule     *domain.Rule
}

// BatchResult accumulates per-alert outcomes of one batch evaluation.
// Params: processed/escalated/auto-closed/error counters.
// Returns: batch accounting returned even on partial failure.
type BatchResult struct {
	Processed  int
	Escalated  int
	AutoClosed int
	Errors     int
}

// ruleIndex is one immutable snapshot of active rules by source type.
// Params: source-type map built under the active selection policy.
// Returns: swap-replaced snapshot; readers see old or new, never partial.
type ruleIndex struct {
	bySource map[domain.SourceType]domain.Rule
	loadedAt time.Time
}

// Engine evaluates alerts against active rules and applies transitions.
// Params: stores, rule cache, notify producer, logger, clock, and policy.
// Returns: long-lived evaluation service constructed once at startup.
type Engine struct {
	alerts   store.AlertStore
	rules    store.RuleStore
	history  store.HistoryLog
	ruleCache *cache.RuleCache
	producer notifyqueue.Producer
	logger   *slog.Logger
	clock    clock.Clock
	policy   SelectionPolicy
	index    atomic.Pointer[ruleIndex]
}

// New constructs rule engine with an empty (lazily loaded) rule index.
// Params: collaborator stores, rule cache, producer, logger, clock, policy.
// Returns: initialized engine instance.
func New(
	alerts store.AlertStore,
	rules store.RuleStore,
	history store.HistoryLog,
	ruleCache *cache.RuleCache,
	producer notifyqueue.Producer,
	logger *slog.Logger,
	clk clock.Clock,
	policy SelectionPolicy,
) *Engine {
	if producer == nil {
		producer = notifyqueue.NoopProducer{}
	}
	if policy == "" {
		policy = SelectionLastWriteWins
	}
	return &Engine{
		alerts:    alerts,
		rules:     rules,
		history:   history,
		ruleCache: ruleCache,
		producer:  producer,
		logger:    logger,
		clock:     clk,
		policy:    policy,
	}
}

// ReloadRules rebuilds the in-memory rule index from cache or store.
// Params: context for store operations.
// Returns: load error, fatal to this call and propagated to the caller.
func (e *Engine) ReloadRules(ctx context.Context) error {
	rules, err := e.loadEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}
	e.index.Store(e.buildIndex(rules))
	metrics.RuleReloadsTotal.Inc()
	e.logger.Debug("rule index reloaded", "rules", len(rules), "policy", string(e.policy))
	return nil
}

// InvalidateRules drops the cached rule set and rebuilds the index.
// Params: context for store operations.
// Returns: reload error.
func (e *Engine) InvalidateRules(ctx context.Context) error {
	if e.ruleCache != nil {
		e.ruleCache.Invalidate()
	}
	return e.ReloadRules(ctx)
}

// loadEnabledRules reads enabled rules through the rule cache when warm.
// Params: context for store operations.
// Returns: priority-descending rule list or store error.
func (e *Engine) loadEnabledRules(ctx context.Context) ([]domain.Rule, error) {
	if e.ruleCache != nil {
		if cached, ok := e.ruleCache.Get(); ok {
			return cached, nil
		}
	}
	rules, err := e.rules.FindEnabled(ctx, "")
	if err != nil {
		return nil, err
	}
	if e.ruleCache != nil {
		e.ruleCache.Set(rules)
	}
	return rules, nil
}

// buildIndex maps the ordered rule list to one rule per source type.
// Params: enabled rules in priority-descending order.
// Returns: immutable index snapshot under the active selection policy.
func (e *Engine) buildIndex(rules []domain.Rule) *ruleIndex {
	bySource := make(map[domain.SourceType]domain.Rule, len(rules))
	for _, rule := range rules {
		if e.policy == SelectionHighestPriority {
			if _, exists := bySource[rule.SourceType]; exists {
				continue
			}
		}
		bySource[rule.SourceType] = rule
	}
	return &ruleIndex{bySource: bySource, loadedAt: e.clock.Now()}
}

// activeIndex returns the current index, loading rules on first use.
// Params: context for the lazy initial load.
// Returns: index snapshot or rule-load error.
func (e *Engine) activeIndex(ctx context.Context) (*ruleIndex, error) {
	if idx := e.index.Load(); idx != nil {
		return idx, nil
	}
	if err := e.ReloadRules(ctx); err != nil {
		return nil, err
	}
	return e.index.Load(), nil
}

// Evaluate decides whether one alert should escalate and/or auto-close.
// Params: context and alert snapshot.
// Returns: evaluation decision or rule-load/count-query error.
func (e *Engine) Evaluate(ctx context.Context, alert domain.Alert) (Evaluation, error) {
	idx, err := e.activeIndex(ctx)
	if err != nil {
		return Evaluation{}, err
	}

	rule, ok := idx.bySource[alert.SourceType]
	if !ok || !rule.Enabled {
		return Evaluation{}, nil
	}

	now := e.clock.Now()
	evaluation := Evaluation{MatchedRule: &rule}

	if rule.HasEscalationCondition() {
		count, err := e.alerts.CountActive(ctx, alert.SourceType, alert.DriverID, rule.EscalateWindow())
		if err != nil {
			return Evaluation{}, fmt.Errorf("count active alerts: %w", err)
		}
		if count >= rule.EscalateCount {
			evaluation.ShouldEscalate = true
			evaluation.Reason = fmt.Sprintf("%d %s alerts detected within %d minutes", count, alert.SourceType, rule.EscalateWindowMins)
		}
	}

	if rule.AutoCloseCondition != "" && len(alert.Metadata) > 0 {
		if EvaluateCloseCondition(rule.AutoCloseCondition, &alert, now) {
			evaluation.ShouldAutoClose = true
			evaluation.Reason = fmt.Sprintf("close condition %q satisfied", rule.AutoCloseCondition)
		}
	}

	if rule.AutoCloseAfterMins > 0 {
		age := now.Sub(alert.Timestamp)
		if age >= rule.AutoCloseAge() {
			evaluation.ShouldAutoClose = true
			evaluation.Reason = fmt.Sprintf("alert age %d minutes reached auto-close threshold %d minutes", int(age.Minutes()), rule.AutoCloseAfterMins)
		}
	}

	return evaluation, nil
}

// ProcessAlert evaluates and applies transitions for one alert.
// Params: context, mutable alert pointer, and history actor attribution.
// Returns: whether the alert was modified, the evaluation, and error.
func (e *Engine) ProcessAlert(ctx context.Context, alert *domain.Alert, actor domain.HistoryActor) (bool, Evaluation, error) {
	evaluation, err := e.Evaluate(ctx, *alert)
	if err != nil {
		return false, Evaluation{}, err
	}
	escalated, autoClosed, err := e.apply(ctx, alert, evaluation, actor)
	if err != nil {
		return false, evaluation, err
	}
	return escalated || autoClosed, evaluation, nil
}

// apply applies decided transitions, records history, and persists.
// Params: context, mutable alert, evaluation decision, and actor.
// Returns: which transitions fired and persistence error. Escalation is
// attempted first; auto-close may fire immediately over it in the same
// call, producing two history entries.
func (e *Engine) apply(ctx context.Context, alert *domain.Alert, evaluation Evaluation, actor domain.HistoryActor) (bool, bool, error) {
	now := e.clock.Now()
	entries := make([]domain.HistoryEntry, 0, 2)

	escalated := false
	if evaluation.ShouldEscalate && alert.Status == domain.AlertStatusOpen {
		from := alert.Status
		if alert.Escalate(evaluation.Reason, now) {
			escalated = true
			entries = append(entries, e.historyEntry(alert, from, evaluation, actor, now))
		}
	}

	autoClosed := false
	if evaluation.ShouldAutoClose && (alert.Status == domain.AlertStatusOpen || alert.Status == domain.AlertStatusEscalated) {
		from := alert.Status
		if alert.AutoClose(evaluation.Reason, now) {
			autoClosed = true
			entries = append(entries, e.historyEntry(alert, from, evaluation, actor, now))
		}
	}

	if !escalated && !autoClosed {
		return false, false, nil
	}

	// History precedes Save so no reader observes a status without its entry.
	for _, entry := range entries {
		if err := e.history.Append(ctx, entry); err != nil {
			return false, false, fmt.Errorf("append history for alert %q: %w", alert.ID, err)
		}
	}
	if err := e.alerts.Save(ctx, *alert); err != nil {
		return false, false, fmt.Errorf("save alert %q: %w", alert.ID, err)
	}

	for _, entry := range entries {
		metrics.TransitionsTotal.WithLabelValues(string(entry.ToStatus), string(actor)).Inc()
	}
	if escalated {
		e.handoffNotification(ctx, *alert, evaluation, notifyqueue.TriggerEscalate, now)
	}
	if autoClosed {
		e.handoffNotification(ctx, *alert, evaluation, notifyqueue.TriggerAutoClose, now)
	}
	return escalated, autoClosed, nil
}

// historyEntry builds one transition audit record.
// Params: transitioned alert, prior status, evaluation, actor, and time.
// Returns: entry carrying the matched rule id in metadata.
func (e *Engine) historyEntry(alert *domain.Alert, from domain.AlertStatus, evaluation Evaluation, actor domain.HistoryActor, now time.Time) domain.HistoryEntry {
	prior := from
	entry := domain.HistoryEntry{
		ID:         newEntryID(),
		AlertID:    alert.ID,
		AlertRef:   alert.ID,
		FromStatus: &prior,
		ToStatus:   alert.Status,
		Reason:     evaluation.Reason,
		Actor:      actor,
		CreatedAt:  now,
	}
	if evaluation.MatchedRule != nil {
		entry.Metadata = map[string]any{"rule_id": evaluation.MatchedRule.ID}
	}
	return entry
}

// handoffNotification enqueues one job for the external notifier.
// Params: transitioned alert, evaluation, trigger, and transition time.
// Returns: failures are logged and counted, never propagated; the
// lifecycle transition already committed.
func (e *Engine) handoffNotification(ctx context.Context, alert domain.Alert, evaluation Evaluation, trigger string, now time.Time) {
	rule := evaluation.MatchedRule
	if rule == nil {
		return
	}
	if trigger == notifyqueue.TriggerEscalate && !rule.NotifyOnEscalate {
		return
	}
	if trigger == notifyqueue.TriggerAutoClose && !rule.NotifyOnAutoClose {
		return
	}

	job := notifyqueue.Job{
		ID:         notifyqueue.BuildJobID(trigger, alert.ID, alert.Status, now),
		Trigger:    trigger,
		AlertID:    alert.ID,
		RuleID:     rule.ID,
		SourceType: alert.SourceType,
		Severity:   alert.Severity,
		Status:     alert.Status,
		DriverID:   alert.DriverID,
		Reason:     evaluation.Reason,
		CreatedAt:  now,
	}
	if trigger == notifyqueue.TriggerEscalate {
		job.TargetSeverity = rule.EscalateSeverity
		if job.TargetSeverity == "" {
			job.TargetSeverity = domain.SeverityCritical
		}
	}
	if err := e.producer.Enqueue(ctx, job); err != nil {
		metrics.NotifyJobsTotal.WithLabelValues(trigger, "failed").Inc()
		e.logger.Error("notify handoff failed", "alert_id", alert.ID, "trigger", trigger, "error", err.Error())
		return
	}
	metrics.NotifyJobsTotal.WithLabelValues(trigger, "queued").Inc()
}

// ProcessBatch evaluates and applies each alert independently.
// Params: context, alert batch in store-delivered order, and actor.
// Returns: accumulated counts; per-alert failures are logged and
// counted, never aborting the batch.
func (e *Engine) ProcessBatch(ctx context.Context, alerts []domain.Alert, actor domain.HistoryActor) BatchResult {
	var result BatchResult
	for i := range alerts {
		evaluation, err := e.Evaluate(ctx, alerts[i])
		if err != nil {
			result.Errors++
			metrics.BatchOutcomesTotal.WithLabelValues("error").Inc()
			e.logger.Error("alert evaluation failed", "alert_id", alerts[i].ID, "error", err.Error())
			continue
		}
		escalated, autoClosed, err := e.apply(ctx, &alerts[i], evaluation, actor)
		if err != nil {
			result.Errors++
			metrics.BatchOutcomesTotal.WithLabelValues("error").Inc()
			e.logger.Error("alert transition failed", "alert_id", alerts[i].ID, "error", err.Error())
			continue
		}
		result.Processed++
		metrics.BatchOutcomesTotal.WithLabelValues("processed").Inc()
		if escalated {
			result.Escalated++
			metrics.BatchOutcomesTotal.WithLabelValues("escalated").Inc()
		}
		if autoClosed {
			result.AutoClosed++
			metrics.BatchOutcomesTotal.WithLabelValues("auto_closed").Inc()
		}
	}
	return result
}
