package notifyqueue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"fleetwatch/internal/domain"
)

// Triggers identifying why a notification job was enqueued.
const (
	// TriggerEscalate marks jobs produced by an escalation transition.
	TriggerEscalate = "escalate"
	// TriggerAutoClose marks jobs produced by an auto-close transition.
	TriggerAutoClose = "auto_close"
)

// Job is one notification handoff task for the external notifier.
// Params: alert identity, transition context, and the rule that fired.
// Returns: queue unit consumed by the downstream delivery service.
type Job struct {
	ID         string             `json:"id"`
	Trigger    string             `json:"trigger"`
	AlertID    string             `json:"alert_id"`
	RuleID     string             `json:"rule_id"`
	SourceType domain.SourceType  `json:"source_type"`
	Severity   domain.Severity    `json:"severity"`
	// TargetSeverity is the rule's requested delivery severity on
	// escalation; the notifier renders with it, the alert itself is
	// always raised to CRITICAL.
	TargetSeverity domain.Severity    `json:"target_severity,omitempty"`
	Status         domain.AlertStatus `json:"status"`
	DriverID       string             `json:"driver_id,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// BuildJobID creates deterministic id for one notification job.
// Params: trigger, alert id, target status, and transition time.
// Returns: stable SHA1-based id used for queue-side dedupe.
func BuildJobID(trigger, alertID string, status domain.AlertStatus, at time.Time) string {
	raw := fmt.Sprintf("%s|%s|%s|%d", trigger, alertID, status, at.UnixNano())
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Producer enqueues notification handoff jobs.
// Params: context and queue job payload.
// Returns: enqueue error.
type Producer interface {
	Enqueue(ctx context.Context, job Job) error
	Close() error
}

// NoopProducer discards jobs in single-instance mode without a notifier.
// Params: none.
// Returns: producer that drops every job.
type NoopProducer struct{}

// Enqueue discards one job.
// Params: context and job payload.
// Returns: nil.
func (NoopProducer) Enqueue(context.Context, Job) error {
	return nil
}

// Close releases no resources.
// Params: none.
// Returns: nil.
func (NoopProducer) Close() error {
	return nil
}
