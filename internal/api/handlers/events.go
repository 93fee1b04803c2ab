package handlers

import (
	"io"

	"asistente-coples/internal/server/sse"

	"github.com/gin-gonic/gin"
)

// StreamEvents subscribes the caller to the live event stream. Analysis
// lifecycle events and camera preview frames are pushed as SSE messages
// until the client disconnects.
func (h *APIHandler) StreamEvents(c *gin.Context) {
	client := make(sse.Client, 10)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case message, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("message", string(message))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
