package ws

import (
	"time"

	"memorylane/internal/models"
)

type ConnInfo struct {
	ConnID      string
	UserID      string
	Kind        models.Kind
	Filter      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
