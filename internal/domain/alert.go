package domain

import (
	"time"
)

// AlertStatus is persisted alert lifecycle status.
// Params: open/escalated/auto-closed/resolved status constants.
// Returns: status transitions for engine and history log.
type AlertStatus string

const (
	// AlertStatusOpen indicates newly created alert awaiting evaluation.
	AlertStatusOpen AlertStatus = "OPEN"
	// AlertStatusEscalated indicates alert raised to critical attention by rule.
	AlertStatusEscalated AlertStatus = "ESCALATED"
	// AlertStatusAutoClosed indicates alert closed by engine condition or age.
	AlertStatusAutoClosed AlertStatus = "AUTO_CLOSED"
	// AlertStatusResolved indicates alert closed by operator action.
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// Active reports whether status participates in rule evaluation.
// Params: none.
// Returns: true for OPEN and ESCALATED.
func (s AlertStatus) Active() bool {
	return s == AlertStatusOpen || s == AlertStatusEscalated
}

// Terminal reports whether status ends engine-driven lifecycle.
// Params: none.
// Returns: true for AUTO_CLOSED and RESOLVED.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusAutoClosed || s == AlertStatusResolved
}

// Severity is alert importance level.
// Params: info/warning/critical severity constants.
// Returns: severity used for escalation side effects.
type Severity string

const (
	// SeverityInfo marks informational alerts.
	SeverityInfo Severity = "INFO"
	// SeverityWarning marks alerts requiring attention.
	SeverityWarning Severity = "WARNING"
	// SeverityCritical marks escalated/urgent alerts.
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether severity is one of known levels.
// Params: none.
// Returns: true for recognized severity constant.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// SourceType identifies originating fleet-monitoring module.
// Params: fixed source category constants.
// Returns: rule lookup key for evaluation.
type SourceType string

const (
	// SourceOverspeed marks speeding events from telemetry.
	SourceOverspeed SourceType = "overspeed"
	// SourceCompliance marks expired/expiring document events.
	SourceCompliance SourceType = "compliance"
	// SourceNegativeFeedback marks low passenger feedback events.
	SourceNegativeFeedback SourceType = "negative_feedback"
	// SourceMaintenance marks vehicle maintenance events.
	SourceMaintenance SourceType = "maintenance"
	// SourceOther marks uncategorized monitoring events.
	SourceOther SourceType = "other"
)

// Valid reports whether source type is one of known categories.
// Params: none.
// Returns: true for recognized source constant.
func (s SourceType) Valid() bool {
	switch s {
	case SourceOverspeed, SourceCompliance, SourceNegativeFeedback, SourceMaintenance, SourceOther:
		return true
	default:
		return false
	}
}

const defaultEscalationNote = "escalated by repeat-occurrence rule"

// Alert is the central monitored-event record with embedded lifecycle.
// Params: identity, classification, lifecycle timestamps, and metadata.
// Returns: persisted alert entity mutated only via transition methods.
type Alert struct {
	ID              string         `json:"alert_id"`
	SourceType      SourceType     `json:"source_type"`
	Severity        Severity       `json:"severity"`
	Status          AlertStatus    `json:"status"`
	DriverID        string         `json:"driver_id,omitempty"`
	VehicleID       string         `json:"vehicle_id,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	EscalatedAt     *time.Time     `json:"escalated_at,omitempty"`
	AutoClosedAt    *time.Time     `json:"auto_closed_at,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	ExpiresAt       *time.Time     `json:"expires_at,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ClosureReason   string         `json:"closure_reason,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
}

// Escalate transitions alert from OPEN to ESCALATED.
// Params: transition reason and current time.
// Returns: true when transition applied, false no-op otherwise.
func (a *Alert) Escalate(reason string, now time.Time) bool {
	if a.Status != AlertStatusOpen {
		return false
	}
	if reason == "" {
		reason = defaultEscalationNote
	}
	a.Status = AlertStatusEscalated
	a.Severity = SeverityCritical
	escalatedAt := now
	a.EscalatedAt = &escalatedAt
	a.ResolutionNotes = reason
	return true
}

// AutoClose transitions alert from OPEN/ESCALATED to AUTO_CLOSED.
// Params: closure reason and current time.
// Returns: true when transition applied, false no-op otherwise.
func (a *Alert) AutoClose(reason string, now time.Time) bool {
	if a.Status != AlertStatusOpen && a.Status != AlertStatusEscalated {
		return false
	}
	a.Status = AlertStatusAutoClosed
	autoClosedAt := now
	a.AutoClosedAt = &autoClosedAt
	a.ClosureReason = reason
	return true
}

// Resolve transitions alert to RESOLVED by operator action.
// Params: resolving actor id, resolution notes, and current time.
// Returns: always true; unlike Escalate/AutoClose this transition has
// no current-status guard and applies even over terminal statuses.
func (a *Alert) Resolve(actorID, notes string, now time.Time) bool {
	a.Status = AlertStatusResolved
	resolvedAt := now
	a.ResolvedAt = &resolvedAt
	a.ResolvedBy = actorID
	a.ResolutionNotes = notes
	return true
}

// Expired reports whether alert passed its expiry horizon.
// Params: current time.
// Returns: true when expiry is set and in the past.
func (a *Alert) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// MetaBool reads one boolean metadata value.
// Params: metadata key.
// Returns: value and true when key holds a boolean.
func (a *Alert) MetaBool(key string) (bool, bool) {
	if a.Metadata == nil {
		return false, false
	}
	value, ok := a.Metadata[key].(bool)
	return value, ok
}

// MetaFloat reads one numeric metadata value.
// Params: metadata key.
// Returns: value and true when key holds a number.
func (a *Alert) MetaFloat(key string) (float64, bool) {
	if a.Metadata == nil {
		return 0, false
	}
	switch value := a.Metadata[key].(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	default:
		return 0, false
	}
}

// MetaTime reads one timestamp metadata value.
// Params: metadata key.
// Returns: parsed time and true when key holds a time or date string.
func (a *Alert) MetaTime(key string) (time.Time, bool) {
	if a.Metadata == nil {
		return time.Time{}, false
	}
	switch value := a.Metadata[key].(type) {
	case time.Time:
		return value, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, value); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse("2006-01-02", value); err == nil {
			return parsed, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
