package engine

import (
	"time"

	"fleetwatch/internal/domain"
)

// EvaluateCloseCondition evaluates one named close predicate over alert
// metadata. Unknown names fall back to a boolean metadata lookup under
// the same name; absent keys evaluate to false, never an error.
// Params: predicate name, alert carrying metadata, and current time.
// Returns: true when the close condition is satisfied.
func EvaluateCloseCondition(name string, alert *domain.Alert, now time.Time) bool {
	switch name {
	case domain.CloseConditionDocumentValid:
		if valid, ok := alert.MetaBool("documentValid"); ok && valid {
			return true
		}
		if expiry, ok := alert.MetaTime("expiryDate"); ok {
			return expiry.After(now)
		}
		return false
	case domain.CloseConditionSpeedNormalized:
		speed, okSpeed := alert.MetaFloat("speed")
		limit, okLimit := alert.MetaFloat("speedLimit")
		return okSpeed && okLimit && speed <= limit
	case domain.CloseConditionFeedbackImproved:
		rating, ok := alert.MetaFloat("feedbackRating")
		return ok && rating >= 3
	default:
		flag, ok := alert.MetaBool(name)
		return ok && flag
	}
}
