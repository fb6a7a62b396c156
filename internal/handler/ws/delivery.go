// Package ws is the WebSocket observer firehose: a client upgrades a
// connection and receives every system-message notification buffered for
// one actor (hot-swap acks, link/monitor exits, remote node-down) as it is
// observed, instead of polling internal/handler/http's messages endpoint.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/runtime"
)

// Handler upgrades and pumps actor notifications to WebSocket clients.
type Handler struct {
	logger   *slog.Logger
	rt       *runtime.Runtime
	upgrader websocket.Upgrader
	poll     time.Duration
}

// NewHandler constructs a Handler bound to rt. CheckOrigin is permissive
// here and must be tightened by a reverse proxy or a wrapping middleware
// before exposure beyond a trusted network.
func NewHandler(logger *slog.Logger, rt *runtime.Runtime) *Handler {
	return &Handler{
		logger: logger,
		rt:     rt,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		poll: 200 * time.Millisecond,
	}
}

func pidFromPath(r *http.Request) (pid.PID, bool) {
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 32)
	if err != nil {
		return pid.Zero, false
	}
	gen, err := strconv.ParseUint(chi.URLParam(r, "gen"), 10, 32)
	if err != nil {
		return pid.Zero, false
	}
	return pid.PID{Index: uint32(idx), Gen: uint32(gen)}, true
}

// ServeHTTP upgrades the request and streams target's observed system
// messages until the connection drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, ok := pidFromPath(r)
	if !ok {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	h.logger.Info("ws observer opened", slog.String("pid", target.String()))

	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			msgs, err := h.rt.GetMessages(r.Context(), target)
			if err != nil {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, err.Error()))
				return
			}
			for _, m := range msgs {
				body, err := json.Marshal(m)
				if err != nil {
					h.logger.Error("ws marshal failed", slog.Any("err", err))
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
					h.logger.Warn("ws send failed", slog.Any("err", err))
					return
				}
			}
		}
	}
}
