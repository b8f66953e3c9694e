package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Close-condition predicate names recognized by the rule engine.
const (
	// CloseConditionDocumentValid closes compliance alerts once documents are valid.
	CloseConditionDocumentValid = "document_valid"
	// CloseConditionSpeedNormalized closes overspeed alerts once speed is within limit.
	CloseConditionSpeedNormalized = "speed_normalized"
	// CloseConditionFeedbackImproved closes feedback alerts once rating recovers.
	CloseConditionFeedbackImproved = "feedback_improved"
)

// Rule is operator-owned evaluation configuration for one source type.
// Params: identity, conditions, and escalation/auto-close actions.
// Returns: read-only rule definition consumed by the engine.
type Rule struct {
	ID                 string     `json:"rule_id"`
	Name               string     `json:"name"`
	SourceType         SourceType `json:"source_type"`
	Enabled            bool       `json:"enabled"`
	Priority           int        `json:"priority"`
	EscalateCount      int        `json:"escalate_if_count,omitempty"`
	EscalateWindowMins int        `json:"window_mins,omitempty"`
	AutoCloseCondition string     `json:"auto_close_if,omitempty"`
	AutoCloseAfterMins int        `json:"auto_close_after_mins,omitempty"`
	EscalateSeverity   Severity   `json:"escalate_severity,omitempty"`
	NotifyOnEscalate   bool       `json:"notify_on_escalate"`
	NotifyOnAutoClose  bool       `json:"notify_on_auto_close"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasEscalationCondition reports whether count-in-window check applies.
// Params: none.
// Returns: true when both count threshold and window are set.
func (r Rule) HasEscalationCondition() bool {
	return r.EscalateCount > 0 && r.EscalateWindowMins > 0
}

// EscalateWindow converts window minutes into duration.
// Params: none.
// Returns: configured lookback window.
func (r Rule) EscalateWindow() time.Duration {
	return time.Duration(r.EscalateWindowMins) * time.Minute
}

// AutoCloseAge converts age threshold minutes into duration.
// Params: none.
// Returns: configured auto-close age threshold.
func (r Rule) AutoCloseAge() time.Duration {
	return time.Duration(r.AutoCloseAfterMins) * time.Minute
}

// Validate validates rule definition against the contract.
// Params: rule fields from operator input.
// Returns: validation error when definition is inconsistent.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("rule_id is required")
	}
	if !r.SourceType.Valid() {
		return fmt.Errorf("unsupported source_type %q", r.SourceType)
	}
	if r.Priority < 0 {
		return errors.New("priority must be >=0")
	}
	if r.EscalateCount < 0 || r.EscalateWindowMins < 0 || r.AutoCloseAfterMins < 0 {
		return errors.New("rule thresholds must be >=0")
	}
	if (r.EscalateCount > 0) != (r.EscalateWindowMins > 0) {
		return errors.New("escalate_if_count and window_mins must be set together")
	}
	if r.EscalateSeverity != "" && !r.EscalateSeverity.Valid() {
		return fmt.Errorf("unsupported escalate_severity %q", r.EscalateSeverity)
	}
	return nil
}
