package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single websocket write so one dead client cannot
// wedge its serving goroutine.
const writeTimeout = 5 * time.Second

// Handler serves a [Feed] over a websocket, one JSON-encoded [Update] per
// text message. Mount it at the engine's status endpoint (conventionally
// /ws/status).
type Handler struct {
	feed *Feed
}

// NewHandler creates a websocket handler for feed.
func NewHandler(feed *Feed) *Handler {
	return &Handler{feed: feed}
}

var _ http.Handler = (*Handler)(nil)

// ServeHTTP implements [http.Handler]. The connection is write-only from the
// server's point of view; it ends when the client disconnects or the feed
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("status: websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed handler exited")

	// CloseRead watches for the client going away and cancels the context.
	ctx := conn.CloseRead(r.Context())

	updates, cancel := h.feed.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case u, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "feed closed")
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				slog.Warn("status: marshal update", "error", err)
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancelWrite()
			if err != nil {
				slog.Debug("status: subscriber write failed", "error", err)
				return
			}
		}
	}
}
