package handlers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/primeestate/room-selection-backend/internal/services"
)

// EventsHandler streams room change events to clients over SSE
type EventsHandler struct {
	hub               *services.BroadcastService
	heartbeatInterval time.Duration
	logger            *logrus.Logger
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(hub *services.BroadcastService, heartbeatInterval time.Duration, logger *logrus.Logger) *EventsHandler {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	return &EventsHandler{
		hub:               hub,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}
}

// Stream subscribes the client to room change events. Delivery is
// best-effort: a client that falls behind loses events and must re-fetch
// the snapshot, which every event's version field lets it detect.
// GET /api/v1/events
func (h *EventsHandler) Stream(c *gin.Context) {
	id, events := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)

	h.logger.WithField("subscriber", id).Debug("Event stream opened")

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("change", event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().Unix())
			return true
		}
	})

	h.logger.WithField("subscriber", id).Debug("Event stream closed")
}
