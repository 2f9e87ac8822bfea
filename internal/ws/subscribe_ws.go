package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"memorylane/internal/auth"
	"memorylane/internal/models"
	"memorylane/internal/observability"
)

// SubscribeHandler serves live views over websockets.
type SubscribeHandler struct {
	hub       *Hub
	families  familyLister
	validator auth.Validator
}

// NewSubscribeHandler constructs a SubscribeHandler.
func NewSubscribeHandler(hub *Hub, families familyLister, validator auth.Validator) *SubscribeHandler {
	return &SubscribeHandler{hub: hub, families: families, validator: validator}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades GET /ws/:kind?filter=... and streams full snapshots of the
// view until the client goes away.
func (h *SubscribeHandler) Handle(c *gin.Context) {
	kind := models.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
		return
	}
	filter := c.Query("filter")
	if filter == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing filter"})
		return
	}

	ctx, span := otel.Tracer("memorylane/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearer(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	id, err := h.validator.Validate(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if err := authorize(ctx, h.families, id.UID, kind, filter); err != nil {
		if errors.Is(err, ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for view"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "access check failed"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	caller := observability.CallerFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      id.UID,
		Kind:        kind,
		Filter:      filter,
		DeviceID:    caller.DeviceID,
		IP:          caller.IP,
		RequestID:   caller.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	// the connection outlives the request
	connCtx := context.WithoutCancel(ctx)

	observability.IncWSActive(string(kind))
	observability.IncWSEvent(string(kind), "ws_connect")
	publishWSEvent(connCtx, info, "ws_connect", "")
	h.hub.Join(connCtx, conn, info)

	go func() {
		var closeReason string
		defer func() {
			if h.hub.RemoveClient(kind, filter, conn) {
				observability.DecWSActive(string(kind))
			}
			observability.IncWSEvent(string(kind), "ws_disconnect")
			publishWSEvent(connCtx, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent(string(kind), "ws_error")
					publishWSEvent(connCtx, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}
