package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// NotificationPublisher publishes approval workflow events to NATS JetStream
// for consumption by the notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: approval_approved, approval_rejected, approval_cancelled,
//              approval_transferred, workflow_approved, workflow_rejected
//
// All publish operations are non-fatal. Errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	js  nats.JetStreamContext
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	TenantID     string                 `json:"tenant_id"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	ProcessType  string                 `json:"process_type,omitempty"`
	ProcessID    string                 `json:"process_id,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given JetStream
// context. A nil context disables publishing.
func NewNotificationPublisher(js nats.JetStreamContext, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{js: js, log: log}
}

// PublishApprovalEvent publishes one approval workflow event.
// Subject: notifications.approvals.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType string, row *repository.Approval, actorID string, recipients []string, payload map[string]interface{}) {
	if p.js == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		TenantID:     row.TenantID,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "approval",
		ResourceID:   row.ID,
		ProcessType:  string(row.ProcessType),
		ProcessID:    row.ProcessID,
		Severity:     "info",
		Category:     "approval_workflow",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("approval_id", row.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("approval_id", row.ID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
