package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/terminal-bench/mariscope/internal/services/notification"
	"go.uber.org/zap"
)

const streamHeartbeat = 15 * time.Second

// ActivityHandler serves the activity feed
type ActivityHandler struct {
	feed   *notification.Service
	logger *zap.Logger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(feed *notification.Service, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{feed: feed, logger: logger}
}

// Recent returns the latest activities, newest first
func (h *ActivityHandler) Recent(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	activities, err := h.feed.Recent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, activities)
}

// Stream sends new activities as server-sent events until the client goes
// away. A "ready" event marks the subscription as live.
func (h *ActivityHandler) Stream(c *gin.Context) {
	activities, cancel := h.feed.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"status": "subscribed"})
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		case a, ok := <-activities:
			if !ok {
				return false
			}
			c.SSEvent(a.Type, a)
			return true
		}
	})
}
