package store

import (
	"context"
	"errors"
	"time"

	"fleetwatch/internal/domain"
)

var (
	// ErrNotFound indicates absent alert/rule record.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates concurrent modification of the same record.
	ErrConflict = errors.New("revision conflict")
)

// AlertQuery filters active alert lookups.
// Params: status set, optional classification filters, time bounds, and paging.
// Returns: query object for FindActive.
type AlertQuery struct {
	Statuses   []domain.AlertStatus
	SourceType domain.SourceType
	DriverID   string
	Since      time.Time
	Until      time.Time
	Limit      int
	OldestFirst bool
}

// Matches reports whether alert satisfies query filters.
// Params: candidate alert and current time for expiry exclusion.
// Returns: true when alert passes all filters and is unexpired.
func (q AlertQuery) Matches(alert domain.Alert, now time.Time) bool {
	if alert.Expired(now) {
		return false
	}
	if len(q.Statuses) > 0 {
		matched := false
		for _, status := range q.Statuses {
			if alert.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if q.SourceType != "" && alert.SourceType != q.SourceType {
		return false
	}
	if q.DriverID != "" && alert.DriverID != q.DriverID {
		return false
	}
	if !q.Since.IsZero() && alert.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && alert.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// AlertStore provides alert persistence operations.
// Params: get/save plus filtered queries excluding expired records.
// Returns: backend persistence behavior for alerts.
type AlertStore interface {
	Get(ctx context.Context, alertID string) (domain.Alert, error)
	Save(ctx context.Context, alert domain.Alert) error
	FindActive(ctx context.Context, query AlertQuery) ([]domain.Alert, error)
	CountActive(ctx context.Context, sourceType domain.SourceType, driverID string, window time.Duration) (int, error)
	Close() error
}

// RuleStore provides rule persistence operations.
// Params: CRUD plus enabled-rule retrieval ordered by priority descending.
// Returns: backend persistence behavior for rules.
type RuleStore interface {
	Get(ctx context.Context, ruleID string) (domain.Rule, error)
	Save(ctx context.Context, rule domain.Rule) error
	Delete(ctx context.Context, ruleID string) error
	FindEnabled(ctx context.Context, sourceType domain.SourceType) ([]domain.Rule, error)
	Close() error
}

// HistoryLog appends immutable status-transition audit records.
// Params: one entry per transition, written before status visibility.
// Returns: append-only audit sink behavior.
type HistoryLog interface {
	Append(ctx context.Context, entry domain.HistoryEntry) error
	Close() error
}
