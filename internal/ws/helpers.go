package ws

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"memorylane/internal/models"
	"memorylane/internal/observability"
)

var ErrForbidden = errors.New("not authorized for view")

func newConnID() string {
	return uuid.NewString()
}

// familyLister is the part of the document repository used for access checks.
type familyLister interface {
	FamiliesOf(ctx context.Context, uid string) ([]string, error)
}

// authorize checks that uid may watch the view: user-scoped kinds only for
// themselves, family-scoped kinds only for families uid belongs to.
func authorize(ctx context.Context, families familyLister, uid string, kind models.Kind, filter string) error {
	switch kind {
	case models.KindProfile, models.KindFamilies, models.KindDrafts:
		if filter != uid {
			return ErrForbidden
		}
		return nil
	case models.KindMemories, models.KindQuestions, models.KindDocuments:
		ids, err := families.FamiliesOf(ctx, uid)
		if err != nil {
			return err
		}
		if !slices.Contains(ids, filter) {
			return ErrForbidden
		}
		return nil
	}
	return ErrForbidden
}

func bearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

func publishWSEvent(ctx context.Context, info ConnInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events."+string(info.Kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        info.Kind,
				"filter":      info.Filter,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationMillis(info),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}

func durationMillis(info ConnInfo) int64 {
	if info.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(info.ConnectedAt).Milliseconds()
}
