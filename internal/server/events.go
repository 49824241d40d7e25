package server

import (
	"io"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/events"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const eventHeartbeat = "heartbeat"

type eventPayload struct {
	LocalIDs  []string          `json:"local_ids,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// handleEventStream relays dispatcher events as server-sent events. An optional comma
// separated kinds query narrows the stream.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	var kinds []events.Kind
	for _, raw := range strings.Split(c.Query("kinds"), ",") {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			kinds = append(kinds, events.Kind(trimmed))
		}
	}

	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx, kinds...)
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(eventHeartbeat, eventPayload{Timestamp: h.clock().UTC()})
	c.Writer.Flush()

	h.logger.Debug("event stream opened", zap.Int("kinds", len(kinds)))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Kind), eventPayload{
				LocalIDs:  event.LocalIDs,
				Attrs:     event.Attrs,
				Timestamp: event.Timestamp,
			})
			return true
		case now := <-heartbeat.C:
			c.SSEvent(eventHeartbeat, eventPayload{Timestamp: now.UTC()})
			return true
		}
	})
	h.logger.Debug("event stream closed")
}
