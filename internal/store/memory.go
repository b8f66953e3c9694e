package store

import (
	"context"
	"sync"
	"time"

	"fleetwatch/internal/domain"
)

// MemoryAlertStore keeps alerts in process memory for single-instance mode.
// Params: in-memory map and injected now function.
// Returns: alert store implementation without external dependencies.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	now    func() time.Time
	alerts map[string]domain.Alert
}

// NewMemoryAlertStore creates in-memory alert store.
// Params: now function (defaults to time.Now when nil).
// Returns: initialized in-memory store.
func NewMemoryAlertStore(now func() time.Time) *MemoryAlertStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryAlertStore{
		now:    now,
		alerts: make(map[string]domain.Alert),
	}
}

// Get returns one alert by id.
// Params: alert id key.
// Returns: stored alert or ErrNotFound.
func (s *MemoryAlertStore) Get(_ context.Context, alertID string) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, ErrNotFound
	}
	return cloneAlert(alert), nil
}

// Save writes alert record unconditionally.
// Params: alert payload keyed by its id.
// Returns: nil (in-memory update).
func (s *MemoryAlertStore) Save(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

// FindActive returns alerts matching query, expiry-filtered and ordered.
// Params: query filters, ordering, and limit.
// Returns: matching alerts sorted by creation timestamp.
func (s *MemoryAlertStore) FindActive(_ context.Context, query AlertQuery) ([]domain.Alert, error) {
	now := s.now()
	s.mu.RLock()
	matched := make([]domain.Alert, 0)
	for _, alert := range s.alerts {
		if query.Matches(alert, now) {
			matched = append(matched, cloneAlert(alert))
		}
	}
	s.mu.RUnlock()

	sortAlertsByTimestamp(matched, query.OldestFirst)
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// CountActive counts open/escalated alerts for driver within lookback window.
// Params: source type, driver id, and window duration ending now.
// Returns: count of matching unexpired alerts.
func (s *MemoryAlertStore) CountActive(ctx context.Context, sourceType domain.SourceType, driverID string, window time.Duration) (int, error) {
	now := s.now()
	alerts, err := s.FindActive(ctx, AlertQuery{
		Statuses:   []domain.AlertStatus{domain.AlertStatusOpen, domain.AlertStatusEscalated},
		SourceType: sourceType,
		DriverID:   driverID,
		Since:      now.Add(-window),
		Until:      now,
	})
	if err != nil {
		return 0, err
	}
	return len(alerts), nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryAlertStore) Close() error {
	return nil
}

// MemoryRuleStore keeps rule definitions in process memory.
// Params: in-memory map guarded by RWMutex.
// Returns: rule store implementation without external dependencies.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]domain.Rule
}

// NewMemoryRuleStore creates in-memory rule store.
// Params: none.
// Returns: initialized in-memory store.
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]domain.Rule)}
}

// Get returns one rule by id.
// Params: rule id key.
// Returns: stored rule or ErrNotFound.
func (s *MemoryRuleStore) Get(_ context.Context, ruleID string) (domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return domain.Rule{}, ErrNotFound
	}
	return rule, nil
}

// Save writes rule definition unconditionally.
// Params: rule payload keyed by its id.
// Returns: nil (in-memory update).
func (s *MemoryRuleStore) Save(_ context.Context, rule domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes rule definition by id.
// Params: rule id key.
// Returns: nil (missing key is not an error).
func (s *MemoryRuleStore) Delete(_ context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, ruleID)
	return nil
}

// FindEnabled returns enabled rules ordered by priority descending.
// Params: optional source type filter (empty matches all).
// Returns: matching rules in priority order, id-tiebroken for determinism.
func (s *MemoryRuleStore) FindEnabled(_ context.Context, sourceType domain.SourceType) ([]domain.Rule, error) {
	s.mu.RLock()
	matched := make([]domain.Rule, 0)
	for _, rule := range s.rules {
		if !rule.Enabled {
			continue
		}
		if sourceType != "" && rule.SourceType != sourceType {
			continue
		}
		matched = append(matched, rule)
	}
	s.mu.RUnlock()

	sortRulesByPriority(matched)
	return matched, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryRuleStore) Close() error {
	return nil
}

// MemoryHistoryLog keeps audit entries in an append-only slice.
// Params: guarded entries slice.
// Returns: history sink implementation for single mode and tests.
type MemoryHistoryLog struct {
	mu      sync.RWMutex
	entries []domain.HistoryEntry
}

// NewMemoryHistoryLog creates in-memory history log.
// Params: none.
// Returns: initialized history log.
func NewMemoryHistoryLog() *MemoryHistoryLog {
	return &MemoryHistoryLog{entries: make([]domain.HistoryEntry, 0)}
}

// Append records one transition entry.
// Params: history entry payload.
// Returns: nil (in-memory append).
func (l *MemoryHistoryLog) Append(_ context.Context, entry domain.HistoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns recorded entries for one alert in append order.
// Params: alert id filter (empty matches all).
// Returns: copied entries slice.
func (l *MemoryHistoryLog) Entries(alertID string) []domain.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.HistoryEntry, 0)
	for _, entry := range l.entries {
		if alertID == "" || entry.AlertID == alertID {
			out = append(out, entry)
		}
	}
	return out
}

// Close releases history log resources.
// Params: none.
// Returns: nil.
func (l *MemoryHistoryLog) Close() error {
	return nil
}

// cloneAlert duplicates alert with detached metadata map.
// Params: source alert value.
// Returns: independent alert copy.
func cloneAlert(alert domain.Alert) domain.Alert {
	out := alert
	if len(alert.Metadata) > 0 {
		meta := make(map[string]any, len(alert.Metadata))
		for key, value := range alert.Metadata {
			meta[key] = value
		}
		out.Metadata = meta
	}
	return out
}
