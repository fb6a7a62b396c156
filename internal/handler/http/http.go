// Package http exposes a chi-routed introspection and control surface over
// the runtime facade: a thin chi handler wrapping the runtime, constructed
// with plain dependency injection and no generated code.
package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/actorcore/internal/actor/pid"
	"github.com/webitel/actorcore/internal/runtime"
)

// Handler serves the HTTP introspection/control endpoints.
type Handler struct {
	rt *runtime.Runtime
}

// NewHandler constructs a Handler bound to rt.
func NewHandler(rt *runtime.Runtime) *Handler {
	return &Handler{rt: rt}
}

// Routes mounts every endpoint onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/stats", h.Stats)
	r.Get("/actors", h.ListActors)
	r.Get("/actors/{index}/{gen}/messages", h.ActorMessages)
	r.Post("/actors/{index}/{gen}/stop", h.StopActor)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Stats reports actor count, ready-queue depth, and known peers.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rt.Stats())
}

// ListActors enumerates every live actor on this node.
func (h *Handler) ListActors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rt.ListActors())
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

// ActorMessages drains the notification buffer for one actor.
func (h *Handler) ActorMessages(w http.ResponseWriter, r *http.Request) {
	p, ok := pidFromPath(r)
	if !ok {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	msgs, err := h.rt.GetMessages(r.Context(), p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// StopActor issues a self-directed Exit for one actor.
func (h *Handler) StopActor(w http.ResponseWriter, r *http.Request) {
	p, ok := pidFromPath(r)
	if !ok {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "http_stop"
	}
	if err := h.rt.StopActor(r.Context(), p, reason); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
