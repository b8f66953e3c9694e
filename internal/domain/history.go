package domain

import "time"

// HistoryActor identifies trigger behind one status transition.
// Params: system/user/engine/job actor constants.
// Returns: attribution recorded on every history entry.
type HistoryActor string

const (
	// ActorSystem marks transitions from the alert-creation boundary.
	ActorSystem HistoryActor = "SYSTEM"
	// ActorUser marks manual operator actions.
	ActorUser HistoryActor = "USER"
	// ActorRuleEngine marks evaluation-driven transitions.
	ActorRuleEngine HistoryActor = "RULE_ENGINE"
	// ActorAutoCloseJob marks transitions taken by the auto-close sweep.
	ActorAutoCloseJob HistoryActor = "AUTO_CLOSE_JOB"
)

// HistoryEntry is one immutable audit record of a status transition.
// Params: alert identity, prior/new status, reason, and trigger actor.
// Returns: append-only entry; never mutated or deleted.
type HistoryEntry struct {
	ID         string         `json:"entry_id"`
	AlertID    string         `json:"alert_id"`
	AlertRef   string         `json:"alert_ref"`
	FromStatus *AlertStatus   `json:"from_status,omitempty"`
	ToStatus   AlertStatus    `json:"to_status"`
	Reason     string         `json:"reason,omitempty"`
	Actor      HistoryActor   `json:"actor"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
