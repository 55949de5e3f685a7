package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventMessage   = "message"
	streamEventHeartbeat = "heartbeat"
)

// handleMessageStream serves the caller's direct message stream over SSE.
// The stream carries pushed copies only; persisted history stays behind the
// thread endpoint, so a dropped frame is recoverable by pulling.
func (h *httpHandler) handleMessageStream(c *gin.Context) {
	userID := c.Param("userID")
	caller := h.callerID(c)
	if userID != caller {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	handle := h.hub.Open(caller)
	defer h.hub.Close(caller, handle)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := writeStreamFrame(c.Writer, streamEventHeartbeat, []byte("{}")); err != nil {
				return
			}
			flusher.Flush()
		case message := <-handle.Stream():
			data, err := json.Marshal(messageToPayload(message))
			if err != nil {
				h.logger.Error("stream payload encode failed", zap.Error(err))
				continue
			}
			if err := writeStreamFrame(c.Writer, streamEventMessage, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeStreamFrame(w http.ResponseWriter, event string, data []byte) error {
	if _, err := w.Write([]byte("event: " + event + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
