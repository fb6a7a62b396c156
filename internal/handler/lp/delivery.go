// Package lp is the long-polling counterpart to internal/handler/ws: a
// single request blocks until an actor has at least one observed system
// message or a timeout elapses, for callers that prefer request/response
// semantics over holding a WebSocket open.
package lp

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/actorcore/internal/actor/mailbox"
	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/runtime"
)

const (
	pollInterval = 200 * time.Millisecond
	pollTimeout  = 30 * time.Second
)

// Handler serves the long-poll endpoint.
type Handler struct {
	rt *runtime.Runtime
}

// NewHandler constructs a Handler bound to rt.
func NewHandler(rt *runtime.Runtime) *Handler {
	return &Handler{rt: rt}
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

// Poll holds the connection until target has buffered a notification or
// pollTimeout elapses, returning 204 on timeout per the standard
// long-polling convention.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	target, ok := pidFromPath(r)
	if !ok {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}

	deadline := time.NewTimer(pollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var msgs []mailbox.SystemMessage
	for {
		batch, err := h.rt.GetMessages(r.Context(), target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if len(batch) > 0 {
			msgs = batch
			break
		}
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			w.WriteHeader(http.StatusNoContent)
			return
		case <-ticker.C:
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(msgs)
}
