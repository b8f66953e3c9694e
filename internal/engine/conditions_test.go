package engine

import (
	"testing"
	"time"

	"fleetwatch/internal/domain"
)

func TestCloseConditionDocumentValid(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		metadata map[string]any
		want     bool
	}{
		{"flag true", map[string]any{"documentValid": true}, true},
		{"flag false", map[string]any{"documentValid": false}, false},
		{"future expiry", map[string]any{"expiryDate": "2027-01-01"}, true},
		{"past expiry", map[string]any{"expiryDate": "2025-01-01"}, false},
		{"future expiry rfc3339", map[string]any{"expiryDate": "2026-03-14T13:00:00Z"}, true},
		{"no metadata", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alert := domain.Alert{Metadata: tc.metadata}
			got := EvaluateCloseCondition(domain.CloseConditionDocumentValid, &alert, now)
			if got != tc.want {
				t.Fatalf("document_valid(%v) = %v, want %v", tc.metadata, got, tc.want)
			}
		})
	}
}

func TestCloseConditionSpeedNormalized(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cases := []struct {
		name     string
		metadata map[string]any
		want     bool
	}{
		{"below limit", map[string]any{"speed": 55.0, "speedLimit": 60.0}, true},
		{"at limit", map[string]any{"speed": 60.0, "speedLimit": 60.0}, true},
		{"above limit", map[string]any{"speed": 70.0, "speedLimit": 60.0}, false},
		{"integer values", map[string]any{"speed": 50, "speedLimit": 60}, true},
		{"missing limit", map[string]any{"speed": 10.0}, false},
		{"missing speed", map[string]any{"speedLimit": 60.0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alert := domain.Alert{Metadata: tc.metadata}
			got := EvaluateCloseCondition(domain.CloseConditionSpeedNormalized, &alert, now)
			if got != tc.want {
				t.Fatalf("speed_normalized(%v) = %v, want %v", tc.metadata, got, tc.want)
			}
		})
	}
}

func TestCloseConditionFeedbackImproved(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cases := []struct {
		name     string
		metadata map[string]any
		want     bool
	}{
		{"improved", map[string]any{"feedbackRating": 4.0}, true},
		{"at threshold", map[string]any{"feedbackRating": 3.0}, true},
		{"below threshold", map[string]any{"feedbackRating": 2.0}, false},
		{"missing rating", map[string]any{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alert := domain.Alert{Metadata: tc.metadata}
			got := EvaluateCloseCondition(domain.CloseConditionFeedbackImproved, &alert, now)
			if got != tc.want {
				t.Fatalf("feedback_improved(%v) = %v, want %v", tc.metadata, got, tc.want)
			}
		})
	}
}

func TestCloseConditionUnknownFallsBackToBoolKey(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alert := domain.Alert{Metadata: map[string]any{"custom_flag": true}}
	if !EvaluateCloseCondition("custom_flag", &alert, now) {
		t.Fatalf("expected unknown condition to read a same-named boolean key")
	}
	if EvaluateCloseCondition("other_flag", &alert, now) {
		t.Fatalf("expected absent key to evaluate false")
	}
}
