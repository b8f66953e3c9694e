package cache

import (
	"fmt"
	"log/slog"
	"strings"

	"fleetwatch/internal/config"

	"github.com/nats-io/nats.go"
)

// Invalidator publishes cache invalidation signals.
// Params: key prefix to drop everywhere.
// Returns: publish error.
type Invalidator interface {
	Publish(prefix string) error
}

// NoopInvalidator discards invalidation signals in single-instance mode.
// Params: none.
// Returns: no-op invalidator.
type NoopInvalidator struct{}

// Publish discards one invalidation signal.
// Params: key prefix.
// Returns: nil.
func (NoopInvalidator) Publish(string) error {
	return nil
}

// NATSBus broadcasts invalidation prefixes over one NATS subject so
// peer processes drop their cached views/rules too.
// Params: NATS connection, subject, and inbound subscription.
// Returns: cross-process invalidation signaling.
type NATSBus struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *slog.Logger
}

// NewNATSBus connects the bus and subscribes to invalidation signals.
// Params: bus config, callback invoked per received prefix, and logger.
// Returns: started bus or setup error.
func NewNATSBus(cfg config.CacheBusConfig, onInvalidate func(prefix string), logger *slog.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect cache bus: %w", err)
	}

	bus := &NATSBus{nc: nc, subject: cfg.Subject, logger: logger}
	sub, err := nc.Subscribe(cfg.Subject, func(message *nats.Msg) {
		prefix := strings.TrimSpace(string(message.Data))
		if prefix == "" {
			return
		}
		onInvalidate(prefix)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe cache bus %q: %w", cfg.Subject, err)
	}
	bus.sub = sub
	return bus, nil
}

// Publish broadcasts one invalidation prefix.
// Params: key prefix.
// Returns: publish error.
func (b *NATSBus) Publish(prefix string) error {
	if err := b.nc.Publish(b.subject, []byte(prefix)); err != nil {
		return fmt.Errorf("publish cache invalidation %q: %w", prefix, err)
	}
	return nil
}

// Close drains subscription and closes connection.
// Params: none.
// Returns: drain error.
func (b *NATSBus) Close() error {
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			b.nc.Close()
			return err
		}
	}
	b.nc.Close()
	return nil
}
