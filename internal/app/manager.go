package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fleetwatch/internal/cache"
	"fleetwatch/internal/clock"
	"fleetwatch/internal/config"
	"fleetwatch/internal/domain"
	"fleetwatch/internal/engine"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/store"
)

const (
	creationReason   = "alert created"
	defaultSeverity  = domain.SeverityWarning
	dashboardViewKey = cache.PrefixDashboard + "summary"
)

// Manager coordinates alert creation, manual operations, and rule edits.
// Params: runtime config, stores, engine, view cache, bus, logger, clock.
// Returns: alert sink for ingest interfaces and operator entrypoints.
type Manager struct {
	cfg         config.Config
	logger      *slog.Logger
	alerts      store.AlertStore
	rules       store.RuleStore
	history     store.HistoryLog
	engine      *engine.Engine
	views       *cache.ViewCache
	invalidator cache.Invalidator
	clock       clock.Clock
}

// NewManager creates manager over shared runtime collaborators.
// Params: config, logger, stores, engine, view cache, bus, and clock.
// Returns: initialized manager; nil invalidator disables bus publishing.
func NewManager(
	cfg config.Config,
	logger *slog.Logger,
	alerts store.AlertStore,
	rules store.RuleStore,
	history store.HistoryLog,
	eng *engine.Engine,
	views *cache.ViewCache,
	invalidator cache.Invalidator,
	clk clock.Clock,
) *Manager {
	if invalidator == nil {
		invalidator = cache.NoopInvalidator{}
	}
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		alerts:      alerts,
		rules:       rules,
		history:     history,
		engine:      eng,
		views:       views,
		invalidator: invalidator,
		clock:       clk,
	}
}

// CreateAlert persists one inbound alert and runs immediate evaluation.
// Params: context and validated creation request.
// Returns: created (possibly already transitioned) alert or persistence
// error. Evaluation failures after a committed creation are logged, not
// propagated, so transport retries cannot duplicate the alert.
func (m *Manager) CreateAlert(ctx context.Context, request domain.AlertRequest) (domain.Alert, error) {
	now := m.clock.Now()
	timestamp := request.EventTime()
	if timestamp.IsZero() {
		timestamp = now
	}
	severity := request.Severity
	if severity == "" {
		severity = defaultSeverity
	}
	expiresAt := now.Add(time.Duration(m.cfg.Service.AlertExpiryDays) * 24 * time.Hour)

	alert := domain.Alert{
		ID:         uuid.NewString(),
		SourceType: request.SourceType,
		Severity:   severity,
		Status:     domain.AlertStatusOpen,
		DriverID:   request.DriverID,
		VehicleID:  request.VehicleID,
		Timestamp:  timestamp,
		ExpiresAt:  &expiresAt,
		Metadata:   request.Metadata,
	}

	entry := domain.HistoryEntry{
		ID:        uuid.NewString(),
		AlertID:   alert.ID,
		AlertRef:  alert.ID,
		ToStatus:  domain.AlertStatusOpen,
		Reason:    creationReason,
		Actor:     domain.ActorSystem,
		CreatedAt: now,
	}
	if err := m.history.Append(ctx, entry); err != nil {
		return domain.Alert{}, fmt.Errorf("append creation history: %w", err)
	}
	if err := m.alerts.Save(ctx, alert); err != nil {
		return domain.Alert{}, fmt.Errorf("save alert %q: %w", alert.ID, err)
	}
	metrics.TransitionsTotal.WithLabelValues(string(domain.AlertStatusOpen), string(domain.ActorSystem)).Inc()

	if _, _, err := m.engine.ProcessAlert(ctx, &alert, domain.ActorRuleEngine); err != nil {
		m.logger.Warn("immediate evaluation failed", "alert_id", alert.ID, "error", err.Error())
	}

	m.invalidateViews()
	m.logger.Info("alert created",
		"alert_id", alert.ID,
		"source_type", string(alert.SourceType),
		"driver_id", alert.DriverID,
		"status", string(alert.Status))
	return alert, nil
}

// ResolveAlert applies a manual resolution on behalf of an operator.
// Params: context, alert id, acting user id, and free-text notes.
// Returns: resolved alert, ErrNotFound for unknown ids, or store error.
// Resolution deliberately applies regardless of current status.
func (m *Manager) ResolveAlert(ctx context.Context, alertID, userID, notes string) (domain.Alert, error) {
	alert, err := m.alerts.Get(ctx, alertID)
	if err != nil {
		return domain.Alert{}, err
	}

	now := m.clock.Now()
	from := alert.Status
	alert.Resolve(userID, notes, now)

	entry := domain.HistoryEntry{
		ID:         uuid.NewString(),
		AlertID:    alert.ID,
		AlertRef:   alert.ID,
		FromStatus: &from,
		ToStatus:   domain.AlertStatusResolved,
		Reason:     notes,
		Actor:      domain.ActorUser,
		UserID:     userID,
		CreatedAt:  now,
	}
	if err := m.history.Append(ctx, entry); err != nil {
		return domain.Alert{}, fmt.Errorf("append resolve history: %w", err)
	}
	if err := m.alerts.Save(ctx, alert); err != nil {
		return domain.Alert{}, fmt.Errorf("save alert %q: %w", alert.ID, err)
	}
	metrics.TransitionsTotal.WithLabelValues(string(domain.AlertStatusResolved), string(domain.ActorUser)).Inc()

	m.invalidateViews()
	m.logger.Info("alert resolved", "alert_id", alert.ID, "user_id", userID, "from_status", string(from))
	return alert, nil
}

// GetAlert reads one alert by id.
// Params: context and alert id.
// Returns: alert snapshot or ErrNotFound.
func (m *Manager) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	return m.alerts.Get(ctx, alertID)
}

// ListActiveAlerts reads active alerts through the view cache.
// Params: context and store query.
// Returns: expiry-filtered ordered alerts or store error.
func (m *Manager) ListActiveAlerts(ctx context.Context, query store.AlertQuery) ([]domain.Alert, error) {
	key := listViewKey(query)
	if m.views != nil {
		if cached, ok := m.views.Get(key); ok {
			if alerts, ok := cached.([]domain.Alert); ok {
				return alerts, nil
			}
		}
	}
	alerts, err := m.alerts.FindActive(ctx, query)
	if err != nil {
		return nil, err
	}
	if m.views != nil {
		m.views.Set(key, alerts)
	}
	return alerts, nil
}

// DashboardSummary provides counts of active alerts for dashboards.
// Params: context for store operations.
// Returns: per-status and per-source counts, cached until invalidation.
type DashboardSummary struct {
	Open      int                       `json:"open"`
	Escalated int                       `json:"escalated"`
	BySource  map[domain.SourceType]int `json:"by_source"`
}

// Summary computes or serves the cached dashboard summary.
// Params: context for store operations.
// Returns: summary of active alerts or store error.
func (m *Manager) Summary(ctx context.Context) (DashboardSummary, error) {
	if m.views != nil {
		if cached, ok := m.views.Get(dashboardViewKey); ok {
			if summary, ok := cached.(DashboardSummary); ok {
				return summary, nil
			}
		}
	}

	alerts, err := m.alerts.FindActive(ctx, store.AlertQuery{
		Statuses: []domain.AlertStatus{domain.AlertStatusOpen, domain.AlertStatusEscalated},
	})
	if err != nil {
		return DashboardSummary{}, err
	}
	summary := DashboardSummary{BySource: make(map[domain.SourceType]int)}
	for _, alert := range alerts {
		switch alert.Status {
		case domain.AlertStatusOpen:
			summary.Open++
		case domain.AlertStatusEscalated:
			summary.Escalated++
		}
		summary.BySource[alert.SourceType]++
	}
	if m.views != nil {
		m.views.Set(dashboardViewKey, summary)
	}
	return summary, nil
}

// UpsertRule creates or updates one rule and refreshes the rule index.
// Params: context and rule payload; a missing id creates a new rule.
// Returns: stored rule, or validation, store, or reload error.
func (m *Manager) UpsertRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		return domain.Rule{}, err
	}
	now := m.clock.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	if err := m.rules.Save(ctx, rule); err != nil {
		return domain.Rule{}, fmt.Errorf("save rule %q: %w", rule.ID, err)
	}
	if err := m.engine.InvalidateRules(ctx); err != nil {
		return domain.Rule{}, err
	}
	m.publishInvalidation(cache.PrefixRules)
	m.logger.Info("rule upserted", "rule_id", rule.ID, "source_type", string(rule.SourceType), "enabled", rule.Enabled)
	return rule, nil
}

// DeleteRule removes one rule and refreshes the rule index.
// Params: context and rule id; deleting an absent rule is a no-op.
// Returns: store or reload error.
func (m *Manager) DeleteRule(ctx context.Context, ruleID string) error {
	if err := m.rules.Delete(ctx, ruleID); err != nil {
		return err
	}
	if err := m.engine.InvalidateRules(ctx); err != nil {
		return err
	}
	m.publishInvalidation(cache.PrefixRules)
	m.logger.Info("rule deleted", "rule_id", ruleID)
	return nil
}

func (m *Manager) invalidateViews() {
	for _, prefix := range []string{cache.PrefixDashboard, cache.PrefixAlertList} {
		if m.views != nil {
			m.views.InvalidateByPrefix(prefix)
		}
		m.publishInvalidation(prefix)
	}
}

func (m *Manager) publishInvalidation(prefix string) {
	if err := m.invalidator.Publish(prefix); err != nil {
		m.logger.Warn("cache invalidation publish failed", "prefix", prefix, "error", err.Error())
	}
}

// listViewKey derives a stable cache key for one list query.
// Params: store query.
// Returns: prefixed key so list invalidation covers all variants.
func listViewKey(query store.AlertQuery) string {
	statuses := ""
	for _, status := range query.Statuses {
		statuses += string(status) + ","
	}
	return fmt.Sprintf("%s%s|%s|%s|%d|%t",
		cache.PrefixAlertList, statuses, query.SourceType, query.DriverID, query.Limit, query.OldestFirst)
}
