package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// streamWriteTimeout bounds a single event write so one stalled client
// cannot hold its connection's event loop forever.
const streamWriteTimeout = 5 * time.Second

// Stream handles GET /api/v1/stream: a server-push websocket carrying
// one JSON RunEvent per terminal run summary. Slow subscribers miss
// events instead of applying backpressure to the engine.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake response goes out: a client that
	// triggers a cycle right after connecting must see its summary.
	events, unsubscribe := h.engine.Events().Subscribe()
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()))

		return
	}
	defer conn.CloseNow()

	// CloseRead keeps the read side pumped for control frames and
	// cancels the context when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	h.logger.Info("stream subscriber connected", slog.String("remote_ip", r.RemoteAddr))
	defer h.logger.Info("stream subscriber disconnected", slog.String("remote_ip", r.RemoteAddr))

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")

			return

		case summary, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "engine shutting down")

				return
			}

			if writeErr := writeEvent(ctx, conn, EventFromSummary(&summary)); writeErr != nil {
				return
			}
		}
	}
}

// writeEvent writes one event with a bounded deadline.
func writeEvent(ctx context.Context, conn *websocket.Conn, ev RunEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()

	return wsjson.Write(writeCtx, conn, ev)
}
