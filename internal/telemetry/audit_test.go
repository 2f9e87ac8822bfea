package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"

	"memorylane/internal/mocks"
)

func TestAuditEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	uid := "u1"
	pub.On("Publish", mock.Anything, "audit.gateway", mock.MatchedBy(func(env Envelope) bool {
		payload, ok := env.Payload.(AuditPayload)
		return ok && env.EventType == "audit_log" && env.RequestID == "r1" && *env.UserID == uid &&
			payload.Level == "INFO" && payload.Text == "hello"
	})).Return(nil).Once()

	NewEmitter(pub, "gateway", "test").Audit(context.Background(), "INFO", "hello", "r1", &uid)

	pub.AssertExpectations(t)
}

func TestDomainEventPublishFailureIsSwallowed(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "domain."+EventFamilyCreated, mock.Anything).Return(errors.New("broker down")).Once()

	NewEmitter(pub, "gateway", "test").Domain(context.Background(), EventFamilyCreated, "r1", nil, map[string]string{"familyId": "f1"})

	pub.AssertExpectations(t)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var e *Emitter
	e.Audit(context.Background(), "INFO", "x", "r", nil)
	e.Domain(context.Background(), EventMemoryPublished, "r", nil, nil)
}
