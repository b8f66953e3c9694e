package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetwatch/internal/config"
	"fleetwatch/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSBackend persists alerts and rules in JetStream KV buckets and
// appends history entries to an append-only JetStream stream.
// Params: NATS connection, JetStream context, and bucket handles.
// Returns: shared backend for KV-backed store implementations.
type NATSBackend struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	alertKV  nats.KeyValue
	ruleKV   nats.KeyValue
	settings config.NATSStoreConfig
	now      func() time.Time
}

// NewNATSBackend connects NATS and opens/creates the KV buckets.
// Params: store settings from config and now function for expiry filtering.
// Returns: initialized backend or setup error.
func NewNATSBackend(settings config.NATSStoreConfig, now func() time.Time) (*NATSBackend, error) {
	if now == nil {
		now = time.Now
	}
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	alertKV, err := openBucket(js, settings.AlertBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	ruleKV, err := openBucket(js, settings.RuleBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}

	if settings.AllowCreateBuckets {
		if err := ensureHistoryStream(js, settings); err != nil {
			nc.Close()
			return nil, err
		}
	}

	return &NATSBackend{
		nc:       nc,
		js:       js,
		alertKV:  alertKV,
		ruleKV:   ruleKV,
		settings: settings,
		now:      now,
	}, nil
}

// Alerts returns alert store view over the backend.
// Params: none.
// Returns: KV-backed alert store.
func (b *NATSBackend) Alerts() AlertStore {
	return &natsAlertStore{backend: b}
}

// Rules returns rule store view over the backend.
// Params: none.
// Returns: KV-backed rule store.
func (b *NATSBackend) Rules() RuleStore {
	return &natsRuleStore{backend: b}
}

// History returns history log view over the backend.
// Params: none.
// Returns: stream-backed append-only history sink.
func (b *NATSBackend) History() HistoryLog {
	return &natsHistoryLog{backend: b}
}

// Close closes shared NATS connection.
// Params: none.
// Returns: nil after connection close.
func (b *NATSBackend) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	b.nc.Close()
	return nil
}

// openBucket opens one KV bucket, creating it when allowed.
// Params: JetStream context, bucket name, and create permission.
// Returns: KV handle or setup error.
func openBucket(js nats.JetStreamContext, bucket string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// ensureHistoryStream creates append-only history stream when missing.
// Params: JetStream context and store settings.
// Returns: setup error.
func ensureHistoryStream(js nats.JetStreamContext, settings config.NATSStoreConfig) error {
	_, err := js.StreamInfo(settings.HistoryStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("history stream info %q: %w", settings.HistoryStream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      settings.HistoryStream,
		Subjects:  []string{settings.HistorySubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create history stream %q: %w", settings.HistoryStream, err)
	}
	return nil
}

// natsAlertStore implements AlertStore over one KV bucket.
// Params: shared backend handle.
// Returns: alert persistence over JetStream KV.
type natsAlertStore struct {
	backend *NATSBackend
}

// Get returns one alert by id.
// Params: context and alert id key.
// Returns: decoded alert or ErrNotFound.
func (s *natsAlertStore) Get(_ context.Context, alertID string) (domain.Alert, error) {
	entry, err := s.backend.alertKV.Get(alertID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Alert{}, ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("get alert %q: %w", alertID, err)
	}
	var alert domain.Alert
	if err := json.Unmarshal(entry.Value(), &alert); err != nil {
		return domain.Alert{}, fmt.Errorf("decode alert %q: %w", alertID, err)
	}
	return alert, nil
}

// Save writes alert record unconditionally.
// Params: context and alert payload.
// Returns: encode or KV put error.
func (s *natsAlertStore) Save(_ context.Context, alert domain.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert %q: %w", alert.ID, err)
	}
	if _, err := s.backend.alertKV.Put(alert.ID, payload); err != nil {
		return fmt.Errorf("put alert %q: %w", alert.ID, err)
	}
	return nil
}

// FindActive scans bucket keys and filters alerts by query.
// Params: context and alert query.
// Returns: matching alerts ordered by creation timestamp.
func (s *natsAlertStore) FindActive(ctx context.Context, query AlertQuery) ([]domain.Alert, error) {
	keys, err := s.backend.alertKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []domain.Alert{}, nil
		}
		return nil, fmt.Errorf("list alert keys: %w", err)
	}

	now := s.backend.now()
	matched := make([]domain.Alert, 0)
	for _, key := range keys {
		alert, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if query.Matches(alert, now) {
			matched = append(matched, alert)
		}
	}

	sortAlertsByTimestamp(matched, query.OldestFirst)
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// CountActive counts open/escalated alerts for driver within window.
// Params: context, source type, driver id, and window duration ending now.
// Returns: count of matching unexpired alerts.
func (s *natsAlertStore) CountActive(ctx context.Context, sourceType domain.SourceType, driverID string, window time.Duration) (int, error) {
	now := s.backend.now()
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

// Close is a no-op; the shared backend owns the connection.
// Params: none.
// Returns: nil.
func (s *natsAlertStore) Close() error {
	return nil
}

// natsRuleStore implements RuleStore over one KV bucket.
// Params: shared backend handle.
// Returns: rule persistence over JetStream KV.
type natsRuleStore struct {
	backend *NATSBackend
}

// Get returns one rule by id.
// Params: context and rule id key.
// Returns: decoded rule or ErrNotFound.
func (s *natsRuleStore) Get(_ context.Context, ruleID string) (domain.Rule, error) {
	entry, err := s.backend.ruleKV.Get(ruleID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Rule{}, ErrNotFound
		}
		return domain.Rule{}, fmt.Errorf("get rule %q: %w", ruleID, err)
	}
	var rule domain.Rule
	if err := json.Unmarshal(entry.Value(), &rule); err != nil {
		return domain.Rule{}, fmt.Errorf("decode rule %q: %w", ruleID, err)
	}
	return rule, nil
}

// Save writes rule definition unconditionally.
// Params: context and rule payload.
// Returns: encode or KV put error.
func (s *natsRuleStore) Save(_ context.Context, rule domain.Rule) error {
	payload, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule %q: %w", rule.ID, err)
	}
	if _, err := s.backend.ruleKV.Put(rule.ID, payload); err != nil {
		return fmt.Errorf("put rule %q: %w", rule.ID, err)
	}
	return nil
}

// Delete removes one rule definition.
// Params: context and rule id key.
// Returns: KV delete error (missing key is not an error).
func (s *natsRuleStore) Delete(_ context.Context, ruleID string) error {
	if err := s.backend.ruleKV.Delete(ruleID); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete rule %q: %w", ruleID, err)
	}
	return nil
}

// FindEnabled scans bucket and returns enabled rules priority-descending.
// Params: context and optional source type filter.
// Returns: matching rules in priority order.
func (s *natsRuleStore) FindEnabled(ctx context.Context, sourceType domain.SourceType) ([]domain.Rule, error) {
	keys, err := s.backend.ruleKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return []domain.Rule{}, nil
		}
		return nil, fmt.Errorf("list rule keys: %w", err)
	}

	matched := make([]domain.Rule, 0)
	for _, key := range keys {
		rule, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !rule.Enabled {
			continue
		}
		if sourceType != "" && rule.SourceType != sourceType {
			continue
		}
		matched = append(matched, rule)
	}

	sortRulesByPriority(matched)
	return matched, nil
}

// Close is a no-op; the shared backend owns the connection.
// Params: none.
// Returns: nil.
func (s *natsRuleStore) Close() error {
	return nil
}

// natsHistoryLog appends transition entries to the history stream.
// Params: shared backend handle.
// Returns: append-only history sink over JetStream.
type natsHistoryLog struct {
	backend *NATSBackend
}

// Append publishes one history entry to the per-alert subject.
// Params: context and history entry payload.
// Returns: publish error.
func (l *natsHistoryLog) Append(ctx context.Context, entry domain.HistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry %q: %w", entry.ID, err)
	}
	subject := l.backend.settings.HistorySubjectPrefix + "." + entry.AlertID
	msg := nats.NewMsg(subject)
	msg.Data = payload
	if strings.TrimSpace(entry.ID) != "" {
		msg.Header.Set("Nats-Msg-Id", strings.TrimSpace(entry.ID))
	}
	if _, err := l.backend.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish history entry %q: %w", entry.ID, err)
	}
	return nil
}

// Close is a no-op; the shared backend owns the connection.
// Params: none.
// Returns: nil.
func (l *natsHistoryLog) Close() error {
	return nil
}
