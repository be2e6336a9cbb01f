// Package audit writes gate decisions and session transitions to the log and,
// when Kafka is configured, to the audit topic.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"profilegate/internal/platform/kafka/producer"
	"profilegate/internal/platform/middleware"
)

// Producer is the subset of the Kafka producer used for audit records.
type Producer interface {
	ProduceAsync(msg *producer.Message) error
}

// Publisher emits audit events without blocking the caller.
type Publisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	now      func() time.Time
}

// NewPublisher builds a publisher. A nil producer logs events only.
func NewPublisher(p Producer, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{producer: p, topic: topic, logger: logger, now: time.Now}
}

// Emit records event. Failures are logged, never returned: auditing must not
// change a gate decision.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetRequestID(ctx)
	}

	p.logger.InfoContext(ctx, string(event.Action),
		"log_type", "audit",
		"path", event.Path,
		"target", event.Target,
		"rule", event.Rule,
		"user_id", event.UserID,
		"device_id", event.DeviceID,
		"request_id", event.RequestID,
	)

	if p.producer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode audit event", "error", err)
		return
	}
	msg := &producer.Message{
		Topic:   p.topic,
		Key:     []byte(event.DeviceID),
		Value:   payload,
		Headers: map[string]string{"action": string(event.Action)},
	}
	if err := p.producer.ProduceAsync(msg); err != nil {
		p.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
	}
}
