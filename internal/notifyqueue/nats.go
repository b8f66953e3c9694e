package notifyqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetwatch/internal/config"

	"github.com/nats-io/nats.go"
)

const notifyStreamMaxAge = 24 * time.Hour

// NATSProducer publishes notification jobs into a JetStream work queue.
// Params: NATS connection and publish subject settings.
// Returns: queue producer implementation.
type NATSProducer struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATSProducer creates JetStream producer for the notify queue.
// Params: queue config from notify_queue section.
// Returns: initialized producer or setup error.
func NewNATSProducer(cfg config.NotifyQueueConfig) (*NATSProducer, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect notify queue: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for notify queue: %w", err)
	}
	if err := ensureNotifyStream(js, cfg); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSProducer{nc: nc, js: js, subject: cfg.Subject}, nil
}

// ensureNotifyStream creates the notify work-queue stream when missing.
// Params: JetStream context and queue config.
// Returns: setup error.
func ensureNotifyStream(js nats.JetStreamContext, cfg config.NotifyQueueConfig) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("notify stream info %q: %w", cfg.Stream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
		MaxAge:   notifyStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create notify stream %q: %w", cfg.Stream, err)
	}
	return nil
}

// Enqueue publishes one notification job into the queue stream.
// Params: context and queue job payload.
// Returns: publish error.
func (p *NATSProducer) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal notify job: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = body
	if strings.TrimSpace(job.ID) != "" {
		msg.Header.Set("Nats-Msg-Id", strings.TrimSpace(job.ID))
	}
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish notify job: %w", err)
	}
	return nil
}

// Close closes producer NATS connection.
// Params: none.
// Returns: nil after connection close.
func (p *NATSProducer) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}
