package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetwatch/internal/domain"
)

func TestMemoryAlertStoreFindActiveFiltersAndOrders(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewMemoryAlertStore(func() time.Time { return now })
	ctx := context.Background()

	expired := now.Add(-time.Minute)
	alerts := []domain.Alert{
		{ID: "a1", SourceType: domain.SourceOverspeed, Status: domain.AlertStatusOpen, DriverID: "D1", Timestamp: now.Add(-30 * time.Minute)},
		{ID: "a2", SourceType: domain.SourceOverspeed, Status: domain.AlertStatusEscalated, DriverID: "D1", Timestamp: now.Add(-10 * time.Minute)},
		{ID: "a3", SourceType: domain.SourceCompliance, Status: domain.AlertStatusOpen, DriverID: "D2", Timestamp: now.Add(-5 * time.Minute)},
		{ID: "a4", SourceType: domain.SourceOverspeed, Status: domain.AlertStatusAutoClosed, DriverID: "D1", Timestamp: now.Add(-2 * time.Minute)},
		{ID: "a5", SourceType: domain.SourceOverspeed, Status: domain.AlertStatusOpen, DriverID: "D1", Timestamp: now.Add(-90 * time.Minute), ExpiresAt: &expired},
	}
	for _, alert := range alerts {
		if err := s.Save(ctx, alert); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	found, err := s.FindActive(ctx, AlertQuery{
		Statuses:    []domain.AlertStatus{domain.AlertStatusOpen, domain.AlertStatusEscalated},
		SourceType:  domain.SourceOverspeed,
		DriverID:    "D1",
		OldestFirst: true,
	})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 alerts (terminal and expired excluded), got %d", len(found))
	}
	if found[0].ID != "a1" || found[1].ID != "a2" {
		t.Fatalf("expected oldest-first ordering a1,a2, got %s,%s", found[0].ID, found[1].ID)
	}

	limited, err := s.FindActive(ctx, AlertQuery{
		Statuses: []domain.AlertStatus{domain.AlertStatusOpen, domain.AlertStatusEscalated},
		Limit:    1,
	})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit applied, got %d", len(limited))
	}
}

func TestMemoryAlertStoreCountActiveWindow(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := NewMemoryAlertStore(func() time.Time { return now })
	ctx := context.Background()

	inWindow := []time.Duration{-5 * time.Minute, -20 * time.Minute, -59 * time.Minute}
	for i, offset := range inWindow {
		alert := domain.Alert{
			ID:         string(rune('a'+i)) + "-in",
			SourceType: domain.SourceOverspeed,
			Status:     domain.AlertStatusOpen,
			DriverID:   "D1",
			Timestamp:  now.Add(offset),
		}
		if err := s.Save(ctx, alert); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}
	outOfWindow := domain.Alert{ID: "old", SourceType: domain.SourceOverspeed, Status: domain.AlertStatusOpen, DriverID: "D1", Timestamp: now.Add(-2 * time.Hour)}
	otherDriver := domain.Alert{ID: "other", SourceType: domain.SourceOverspeed, Status: domain.AlertStatusOpen, DriverID: "D2", Timestamp: now.Add(-time.Minute)}
	closed := domain.Alert{ID: "closed", SourceType: domain.SourceOverspeed, Status: domain.AlertStatusAutoClosed, DriverID: "D1", Timestamp: now.Add(-time.Minute)}
	for _, alert := range []domain.Alert{outOfWindow, otherDriver, closed} {
		if err := s.Save(ctx, alert); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	count, err := s.CountActive(ctx, domain.SourceOverspeed, "D1", time.Hour)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 in-window open alerts, got %d", count)
	}
}

func TestMemoryAlertStoreGetNotFound(t *testing.T) {
	t.Parallel()

	s := NewMemoryAlertStore(nil)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRuleStoreFindEnabledPriorityDescending(t *testing.T) {
	t.Parallel()

	s := NewMemoryRuleStore()
	ctx := context.Background()

	rules := []domain.Rule{
		{ID: "r-low", SourceType: domain.SourceOverspeed, Enabled: true, Priority: 5},
		{ID: "r-high", SourceType: domain.SourceOverspeed, Enabled: true, Priority: 10},
		{ID: "r-off", SourceType: domain.SourceOverspeed, Enabled: false, Priority: 50},
		{ID: "r-docs", SourceType: domain.SourceCompliance, Enabled: true, Priority: 7},
	}
	for _, rule := range rules {
		if err := s.Save(ctx, rule); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	all, err := s.FindEnabled(ctx, "")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 enabled rules, got %d", len(all))
	}
	if all[0].ID != "r-high" || all[1].ID != "r-docs" || all[2].ID != "r-low" {
		t.Fatalf("expected priority-descending order, got %+v", all)
	}

	bySource, err := s.FindEnabled(ctx, domain.SourceCompliance)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(bySource) != 1 || bySource[0].ID != "r-docs" {
		t.Fatalf("expected source-filtered result, got %+v", bySource)
	}

	if err := s.Delete(ctx, "r-high"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "r-high"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryHistoryLogAppendOnly(t *testing.T) {
	t.Parallel()

	l := NewMemoryHistoryLog()
	ctx := context.Background()

	from := domain.AlertStatusOpen
	entries := []domain.HistoryEntry{
		{ID: "h1", AlertID: "a1", ToStatus: domain.AlertStatusOpen, Actor: domain.ActorSystem},
		{ID: "h2", AlertID: "a1", FromStatus: &from, ToStatus: domain.AlertStatusEscalated, Actor: domain.ActorRuleEngine},
		{ID: "h3", AlertID: "a2", ToStatus: domain.AlertStatusOpen, Actor: domain.ActorSystem},
	}
	for _, entry := range entries {
		if err := l.Append(ctx, entry); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	byAlert := l.Entries("a1")
	if len(byAlert) != 2 {
		t.Fatalf("expected 2 entries for a1, got %d", len(byAlert))
	}
	if byAlert[0].ID != "h1" || byAlert[1].ID != "h2" {
		t.Fatalf("expected append order preserved, got %+v", byAlert)
	}
	if byAlert[0].FromStatus != nil {
		t.Fatalf("expected nil prior status on creation entry")
	}
	if len(l.Entries("")) != 3 {
		t.Fatalf("expected 3 total entries")
	}
}
