package api

import (
	"context"
	"log/slog"
	"net/http"
)

// Canceller raises the cancel flag of a session.
type Canceller interface {
	Cancel(ctx context.Context, sessionID string) error
}

// SessionHandler handles cancellation and status of sessions.
type SessionHandler struct {
	signal Canceller
	runs   *Runs
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(signal Canceller, runs *Runs) *SessionHandler {
	return &SessionHandler{signal: signal, runs: runs}
}

// HandleCancel flags a session. Unknown sessions are flagged too: the run
// may live in another process sharing the state store.
func (h *SessionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	if err := h.signal.Cancel(r.Context(), id); err != nil {
		slog.Error("API: cancel failed", "session", id, "error", err)
		http.Error(w, "failed to cancel session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": id,
		"cancelled":  true,
	})
}

// HandleStatus reports a session started by this process.
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := h.runs.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
