package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamHeartbeatInterval = 15 * time.Second

// handleBookmarkStream serves the per-owner change feed as server-sent
// events. EventSource clients cannot set headers, so the token travels
// in the access_token query parameter.
func (h *httpHandler) handleBookmarkStream(c *gin.Context) {
	token := c.Query("access_token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ownerID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("stream token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, ownerID)
	defer cleanup()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			payload, err := json.Marshal(message.Event)
			if err != nil {
				h.logger.Error("failed to encode change event", zap.Error(err), zap.String("owner_id", ownerID))
				continue
			}
			writeStreamEvent(c, StreamEventBookmarkChange, payload)
			flusher.Flush()
		case <-heartbeat.C:
			writeStreamEvent(c, streamEventHeartbeat, []byte(`{}`))
			flusher.Flush()
		}
	}
}

func writeStreamEvent(c *gin.Context, eventName string, payload []byte) {
	c.Writer.WriteString("event: " + eventName + "\n") //nolint:errcheck
	c.Writer.WriteString("data: ")                     //nolint:errcheck
	c.Writer.Write(payload)                            //nolint:errcheck
	c.Writer.WriteString("\n\n")                       //nolint:errcheck
}
