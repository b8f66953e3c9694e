package domain

import (
	"testing"
	"time"
)

func TestEscalateOnlyFromOpen(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alert := Alert{ID: "a1", Status: AlertStatusOpen, Severity: SeverityWarning, Timestamp: now}

	if !alert.Escalate("3 overspeed alerts detected within 60 minutes", now) {
		t.Fatalf("expected escalation from OPEN")
	}
	if alert.Status != AlertStatusEscalated {
		t.Fatalf("expected ESCALATED status, got %s", alert.Status)
	}
	if alert.Severity != SeverityCritical {
		t.Fatalf("expected severity forced to CRITICAL, got %s", alert.Severity)
	}
	if alert.EscalatedAt == nil || !alert.EscalatedAt.Equal(now) {
		t.Fatalf("expected escalation timestamp set to now, got %v", alert.EscalatedAt)
	}

	if alert.Escalate("again", now.Add(time.Minute)) {
		t.Fatalf("expected no-op escalation from ESCALATED")
	}
	if alert.ResolutionNotes != "3 overspeed alerts detected within 60 minutes" {
		t.Fatalf("expected notes unchanged by no-op, got %q", alert.ResolutionNotes)
	}
}

func TestEscalateDefaultNote(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alert := Alert{ID: "a1", Status: AlertStatusOpen}
	if !alert.Escalate("", now) {
		t.Fatalf("expected escalation applied")
	}
	if alert.ResolutionNotes == "" {
		t.Fatalf("expected default escalation note")
	}
}

func TestAutoCloseFromOpenAndEscalated(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	open := Alert{ID: "a1", Status: AlertStatusOpen}
	if !open.AutoClose("close condition satisfied", now) {
		t.Fatalf("expected auto-close from OPEN")
	}
	if open.Status != AlertStatusAutoClosed || open.AutoClosedAt == nil {
		t.Fatalf("expected AUTO_CLOSED with timestamp, got %+v", open)
	}
	if open.ClosureReason != "close condition satisfied" {
		t.Fatalf("expected closure reason recorded, got %q", open.ClosureReason)
	}

	escalated := Alert{ID: "a2", Status: AlertStatusEscalated}
	if !escalated.AutoClose("aged out", now) {
		t.Fatalf("expected auto-close from ESCALATED")
	}

	if open.AutoClose("again", now.Add(time.Minute)) {
		t.Fatalf("expected no-op auto-close from AUTO_CLOSED")
	}
	resolved := Alert{ID: "a3", Status: AlertStatusResolved}
	if resolved.AutoClose("late", now) {
		t.Fatalf("expected no-op auto-close from RESOLVED")
	}
}

func TestResolveIgnoresTerminalGuard(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alert := Alert{ID: "a1", Status: AlertStatusAutoClosed}

	if !alert.Resolve("op-7", "confirmed fixed", now) {
		t.Fatalf("expected unconditional resolve")
	}
	if alert.Status != AlertStatusResolved {
		t.Fatalf("expected RESOLVED, got %s", alert.Status)
	}
	if alert.ResolvedBy != "op-7" || alert.ResolutionNotes != "confirmed fixed" {
		t.Fatalf("expected actor/notes recorded, got %+v", alert)
	}

	// Re-resolving an already RESOLVED alert is also applied unconditionally.
	later := now.Add(time.Hour)
	if !alert.Resolve("op-9", "double check", later) {
		t.Fatalf("expected resolve over RESOLVED")
	}
	if !alert.ResolvedAt.Equal(later) {
		t.Fatalf("expected resolve timestamp updated, got %v", alert.ResolvedAt)
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	if !AlertStatusOpen.Active() || !AlertStatusEscalated.Active() {
		t.Fatalf("expected OPEN and ESCALATED active")
	}
	if AlertStatusAutoClosed.Active() || AlertStatusResolved.Active() {
		t.Fatalf("expected terminal statuses inactive")
	}
	if !AlertStatusAutoClosed.Terminal() || !AlertStatusResolved.Terminal() {
		t.Fatalf("expected AUTO_CLOSED and RESOLVED terminal")
	}
	if AlertStatusOpen.Terminal() || AlertStatusEscalated.Terminal() {
		t.Fatalf("expected open statuses non-terminal")
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	alert := Alert{ID: "a1"}
	if alert.Expired(now) {
		t.Fatalf("expected no expiry when unset")
	}
	past := now.Add(-time.Minute)
	alert.ExpiresAt = &past
	if !alert.Expired(now) {
		t.Fatalf("expected expired when horizon passed")
	}
	future := now.Add(time.Minute)
	alert.ExpiresAt = &future
	if alert.Expired(now) {
		t.Fatalf("expected not expired when horizon in the future")
	}
}

func TestMetadataAccessors(t *testing.T) {
	t.Parallel()

	alert := Alert{Metadata: map[string]any{
		"documentValid":  true,
		"speed":          82.5,
		"eventCount":     3,
		"expiryDate":     "2031-06-01",
		"inspectionDate": "2031-06-01T10:00:00Z",
		"driverName":     "D. Smith",
	}}

	if value, ok := alert.MetaBool("documentValid"); !ok || !value {
		t.Fatalf("expected documentValid true, got %v %v", value, ok)
	}
	if _, ok := alert.MetaBool("driverName"); ok {
		t.Fatalf("expected non-bool key rejected")
	}
	if value, ok := alert.MetaFloat("speed"); !ok || value != 82.5 {
		t.Fatalf("expected speed 82.5, got %v %v", value, ok)
	}
	if value, ok := alert.MetaFloat("eventCount"); !ok || value != 3 {
		t.Fatalf("expected int metadata readable as float, got %v %v", value, ok)
	}
	if _, ok := alert.MetaTime("expiryDate"); !ok {
		t.Fatalf("expected date-only expiry parsed")
	}
	if _, ok := alert.MetaTime("inspectionDate"); !ok {
		t.Fatalf("expected RFC3339 timestamp parsed")
	}
	if _, ok := alert.MetaTime("driverName"); ok {
		t.Fatalf("expected non-time string rejected")
	}
}

func TestDecodeAlertRequest(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"dt": 1764400000000, "source_type": "overspeed", "severity": "WARNING", "driver_id": "D1", "vehicle_id": "V9", "metadata": {"speed": 92, "speedLimit": 60}}`)
	request, err := DecodeAlertRequest(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if request.SourceType != SourceOverspeed || request.DriverID != "D1" {
		t.Fatalf("unexpected request %+v", request)
	}
	if request.EventTime().IsZero() {
		t.Fatalf("expected event time from dt")
	}

	cases := []string{
		`{"dt": 1, "source_type": "unknown", "driver_id": "D1"}`,
		`{"dt": 1, "source_type": "overspeed", "driver_id": ""}`,
		`{"dt": 1, "source_type": "overspeed", "severity": "URGENT", "driver_id": "D1"}`,
		`{"dt": -5, "source_type": "overspeed", "driver_id": "D1"}`,
	}
	for _, invalid := range cases {
		if _, err := DecodeAlertRequest([]byte(invalid)); err == nil {
			t.Fatalf("expected validation error for %s", invalid)
		}
	}
}
