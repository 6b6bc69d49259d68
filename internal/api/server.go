package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"walktour/pkg/logging"
	"walktour/pkg/version"
)

// Media serves stored audio under a URL path prefix.
type Media struct {
	Prefix string // e.g. "/audio"
	Root   string
}

// NewServer creates and configures the HTTP server.
// shutdown is invoked asynchronously by POST /api/shutdown.
func NewServer(addr string, tours *TourHandler, sessions *SessionHandler, stats *StatsHandler, sugg *SuggestionHandler, media *Media, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)

	// 2. Tour documents
	mux.HandleFunc("GET /api/tours", tours.HandleList)
	mux.HandleFunc("GET /api/tours/{id}", tours.HandleGet)
	mux.HandleFunc("POST /api/tours/{id}/generate", tours.HandleGenerate)

	// 3. Sessions
	mux.HandleFunc("POST /api/sessions/{id}/cancel", sessions.HandleCancel)
	mux.HandleFunc("GET /api/sessions/{id}", sessions.HandleStatus)

	// 4. Stats
	mux.Handle("GET /api/stats", stats)

	// 5. Suggestions
	if sugg != nil {
		mux.HandleFunc("GET /api/suggestions", sugg.HandleLookup)
		mux.HandleFunc("PUT /api/suggestions", sugg.HandleStore)
	}

	// 6. Audio blobs
	if media != nil && media.Root != "" {
		prefix := "/" + strings.Trim(media.Prefix, "/")
		mux.Handle("GET "+prefix+"/", http.StripPrefix(prefix, http.FileServer(http.Dir(media.Root))))
	}

	// 7. Shutdown Endpoint
	if shutdown != nil {
		mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("Shutting down...")); err != nil {
				slog.Error("Failed to write shutdown response", "error", err)
			}
			// Let the response flush first
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}

	return &http.Server{
		Addr:         addr,
		Handler:      accessLog(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.RequestLogger.Info("HTTP",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(start).Round(time.Microsecond))
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Current())
}
