package backend

import (
	"encoding/json"

	"memorylane/internal/models"
)

// Frame is one message pushed on a subscription websocket. Each frame carries
// the full, ordered view; a frame with Error set carries no records.
type Frame struct {
	Kind    models.Kind       `json:"kind"`
	Filter  string            `json:"filter"`
	Records []json.RawMessage `json:"records"`
	Error   string            `json:"error,omitempty"`
}
