package realtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v3"
)

// StreamSSE subscribes the caller to partitionID and streams events as
// server-sent events until the client goes away or the hub closes the subscription.
func StreamSSE(c fiber.Ctx, hub *Hub, partitionID uint, sessionID string, heartbeat time.Duration) error {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := hub.Subscribe(partitionID, sessionID)

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		ready := map[string]any{"sessionId": sessionID, "partitionId": partitionID}
		if err := writeSSE(w, "ready", ready); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case evt, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := writeSSE(w, evt.Type, evt); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}

// writeSSE writes one event frame and flushes it
func writeSSE(w *bufio.Writer, eventType string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, body); err != nil {
		return err
	}
	return w.Flush()
}
