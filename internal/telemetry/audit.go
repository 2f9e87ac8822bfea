package telemetry

import (
	"context"
	"log"
	"time"
)

// Domain event names published by the gateway.
const (
	EventMemoryPublished = "memory.published"
	EventQuestionCreated = "question.created"
	EventFamilyCreated   = "family.created"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Emitter publishes audit records and domain events.
type Emitter struct {
	publisher   Publisher
	service     string
	environment string
}

type Envelope struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	EventName     string  `json:"event_name,omitempty"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RequestID     string  `json:"request_id"`
	UserID        *string `json:"user_id,omitempty"`
	Payload       any     `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func NewEmitter(publisher Publisher, service, environment string) *Emitter {
	return &Emitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
	}
}

// Audit publishes an audit_log record on audit.<service>.
func (e *Emitter) Audit(ctx context.Context, level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}
	log.Printf("audit emit: level=%s request_id=%s user_id=%v text=%q", level, requestID, deref(userID), text)
	e.publish(ctx, "audit."+e.service, e.envelope("audit_log", "", requestID, userID, AuditPayload{Level: level, Text: text}))
}

// Domain publishes a domain event on domain.<name>. Delivery is best-effort.
func (e *Emitter) Domain(ctx context.Context, name, requestID string, userID *string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}
	e.publish(ctx, "domain."+name, e.envelope("domain_event", name, requestID, userID, payload))
}

func (e *Emitter) envelope(eventType, name, requestID string, userID *string, payload any) Envelope {
	return Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		EventName:     name,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}
}

func (e *Emitter) publish(ctx context.Context, routingKey string, envelope Envelope) {
	if err := e.publisher.Publish(ctx, routingKey, envelope); err != nil {
		log.Printf("event publish failed: routing_key=%s: %v", routingKey, err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
