package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"walktour/pkg/geo"
	"walktour/pkg/model"
	"walktour/pkg/suggest"
)

// SuggestionStore looks up and stores cached suggestion sets.
type SuggestionStore interface {
	Lookup(ctx context.Context, f suggest.Fingerprint) (suggest.Set, bool)
	Store(ctx context.Context, f suggest.Fingerprint, set suggest.Set) error
}

// SuggestionHandler exposes the suggestion cache.
type SuggestionHandler struct {
	cache SuggestionStore
}

// NewSuggestionHandler creates a SuggestionHandler.
func NewSuggestionHandler(c SuggestionStore) *SuggestionHandler {
	return &SuggestionHandler{cache: c}
}

// SuggestionQuery identifies a suggestion request.
type SuggestionQuery struct {
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Duration      int     `json:"duration"`
	Language      string  `json:"language"`
	Customization string  `json:"customization,omitempty"`
}

func (q SuggestionQuery) fingerprint() suggest.Fingerprint {
	return suggest.NewFingerprint(q.Duration, q.Language, geo.Point{Lat: q.Lat, Lon: q.Lon}, q.Customization)
}

// HandleLookup serves GET /api/suggestions?lat=&lon=&duration=&language=[&customization=].
func (h *SuggestionHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	dur, err3 := strconv.Atoi(q.Get("duration"))
	if err1 != nil || err2 != nil || err3 != nil || q.Get("language") == "" {
		http.Error(w, "lat, lon, duration and language are required", http.StatusBadRequest)
		return
	}

	query := SuggestionQuery{Lat: lat, Lon: lon, Duration: dur, Language: q.Get("language"), Customization: q.Get("customization")}
	set, ok := h.cache.Lookup(r.Context(), query.fingerprint())
	if !ok {
		http.Error(w, "no cached suggestions", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// StoreRequest stores a generated suggestion set.
type StoreRequest struct {
	SuggestionQuery
	Tours []model.Tour `json:"tours"`
}

// HandleStore serves PUT /api/suggestions.
func (h *SuggestionHandler) HandleStore(w http.ResponseWriter, r *http.Request) {
	var req StoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Language == "" || len(req.Tours) == 0 {
		http.Error(w, "language and tours are required", http.StatusBadRequest)
		return
	}
	f := req.fingerprint()
	if err := h.cache.Store(r.Context(), f, suggest.Set{Tours: req.Tours, GeneratedAt: time.Now().UTC()}); err != nil {
		http.Error(w, "failed to store suggestions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"duration": f.Duration,
		"language": f.Language,
		"variant":  f.Variant(),
	})
}
