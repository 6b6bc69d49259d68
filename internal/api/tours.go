package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"walktour/pkg/model"
	"walktour/pkg/pipeline"
	"walktour/pkg/tourdoc"
)

// Runner executes one generation session.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// DocumentReader exposes persisted tour documents.
type DocumentReader interface {
	Get(ctx context.Context, tourID string) (*model.TourDocument, error)
	List(ctx context.Context, limit int) ([]tourdoc.Summary, error)
}

// GenerateRequest starts or resumes generation of a tour.
type GenerateRequest struct {
	SessionID string     `json:"session_id,omitempty"` // Generated when empty
	Language  string     `json:"language,omitempty"`
	Voice     string     `json:"voice,omitempty"`
	Tour      model.Tour `json:"tour"`
}

// GenerateResponse acknowledges a started session.
type GenerateResponse struct {
	SessionID string `json:"session_id"`
	TourID    string `json:"tour_id"`
	State     string `json:"state"`
}

// TourHandler starts generation runs and serves their documents.
type TourHandler struct {
	base     context.Context
	runner   Runner
	docs     DocumentReader
	runs     *Runs
	language string
	voice    string
}

// NewTourHandler creates a TourHandler. Runs are bound to base, not to the
// request that started them.
func NewTourHandler(base context.Context, runner Runner, docs DocumentReader, runs *Runs, language, voice string) *TourHandler {
	return &TourHandler{
		base:     base,
		runner:   runner,
		docs:     docs,
		runs:     runs,
		language: language,
		voice:    voice,
	}
}

// HandleGenerate accepts a tour and runs the pipeline in the background.
func (h *TourHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	tourID := r.PathValue("id")

	var req GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Tour.ID == "" {
		req.Tour.ID = tourID
	}
	if req.Tour.ID != tourID {
		http.Error(w, "tour id does not match path", http.StatusBadRequest)
		return
	}
	if len(req.Tour.Stops) == 0 {
		http.Error(w, "tour has no stops", http.StatusBadRequest)
		return
	}

	session := model.Session{
		SessionID: strings.TrimSpace(req.SessionID),
		TourID:    tourID,
		Language:  req.Language,
		Voice:     req.Voice,
	}
	if session.SessionID == "" {
		session.SessionID = uuid.NewString()
	}
	if session.Language == "" {
		session.Language = h.language
	}
	if session.Voice == "" {
		session.Voice = h.voice
	}

	if err := h.runs.start(session.SessionID, tourID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	tour := req.Tour
	go func() {
		res, err := h.runner.Run(h.base, pipeline.Request{Session: session, Tour: &tour})
		if err != nil {
			slog.Warn("API: generation failed", "session", session.SessionID, "tour", tourID, "error", err)
		}
		h.runs.finish(session.SessionID, res, err)
	}()

	writeJSON(w, http.StatusAccepted, GenerateResponse{
		SessionID: session.SessionID,
		TourID:    tourID,
		State:     RunRunning,
	})
}

// HandleGet returns the persisted document of a tour.
func (h *TourHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, tourdoc.ErrNotFound) {
		http.Error(w, "tour not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("API: document lookup failed", "tour", r.PathValue("id"), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// HandleList returns recent documents; ?limit=N bounds the listing.
func (h *TourHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.docs.List(r.Context(), limit)
	if err != nil {
		slog.Error("API: document listing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []tourdoc.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("API: failed to write response", "error", err)
	}
}
