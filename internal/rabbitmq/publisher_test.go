package rabbitmq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"memorylane/internal/observability"
	"memorylane/internal/telemetry"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("", "memorylane.events")

	require.Equal(t, "noop", PublisherMode(p))
	require.Equal(t, "empty amqp url", PublisherNoopReason(p))
	require.NoError(t, p.Publish(context.Background(), "domain.family.created", telemetry.Envelope{}))
	require.NoError(t, p.Close())
}

func TestDescribe(t *testing.T) {
	name, requestID := describe(telemetry.Envelope{EventType: "domain_event", EventName: "memory.published", RequestID: "r1"})
	require.Equal(t, "domain_event.memory.published", name)
	require.Equal(t, "r1", requestID)

	name, _ = describe(&telemetry.Envelope{EventType: "audit_log"})
	require.Equal(t, "audit_log", name)

	name, _ = describe(observability.EventEnvelope{EventType: "ws_events", EventName: "ws_connect"})
	require.Equal(t, "ws_events.ws_connect", name)

	name, _ = describe("raw")
	require.Empty(t, name)
}
