package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// heartbeatInterval keeps idle proxies from closing the stream.
const heartbeatInterval = 15 * time.Second

// handleEvents streams the running batch's loop events as server-sent
// events. The stream replays what is buffered, follows the run and ends
// with a "done" event carrying the summary. With no run in progress it
// sends "idle" and closes.
func (s *Server) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	runID, running := s.opts.Runner.Status()
	writeSSE(c.Writer, "connected", gin.H{"run_id": runID, "running": running})
	c.Writer.Flush()
	if !running {
		writeSSE(c.Writer, "idle", gin.H{"last_run": s.opts.Runner.Last()})
		c.Writer.Flush()
		return
	}

	cursor := 0
	drain := func() {
		events, next := s.opts.Runner.EventsSince(cursor)
		for _, ev := range events {
			if ev.RunID != runID {
				continue
			}
			writeSSE(c.Writer, "agent", ev)
		}
		cursor = next
		c.Writer.Flush()
	}
	drain()

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.opts.PollInterval)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", gin.H{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			current, still := s.opts.Runner.Status()
			if still && current == runID {
				drain()
				continue
			}
			// The run ended between polls; flush its tail before closing.
			drain()
			writeSSE(c.Writer, "done", gin.H{"run_id": runID, "summary": s.opts.Runner.Last()})
			c.Writer.Flush()
			return
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
