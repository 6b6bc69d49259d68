package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"walktour/pkg/geocache"
	"walktour/pkg/logging"
	"walktour/pkg/tracker"
)

// CacheStatter reports geospatial cache contents.
type CacheStatter interface {
	Stats(ctx context.Context) (geocache.Stats, error)
}

// StatsHandler reports provider counters, cache contents and runtime usage.
type StatsHandler struct {
	tracker  *tracker.Tracker
	cache    CacheStatter
	fallback map[string]string // concern -> "primary -> fallback"

	mu      sync.Mutex
	maxHeap uint64
	maxGor  int
	started time.Time
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(t *tracker.Tracker, c CacheStatter, fallback map[string]string) *StatsHandler {
	return &StatsHandler{
		tracker:  t,
		cache:    c,
		fallback: fallback,
		started:  time.Now(),
	}
}

type ProviderStatsDTO struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APISuccess  int64 `json:"api_success"`
	APIFailures int64 `json:"api_errors"`
	Retries     int64 `json:"retries"`
	Fallbacks   int64 `json:"fallbacks"`
	HitRate     int64 `json:"hit_rate"`
}

type RuntimeStats struct {
	HeapMB        uint64 `json:"heap_mb"`
	HeapMaxMB     uint64 `json:"heap_max_mb"`
	Heap          string `json:"heap"`
	Goroutines    int    `json:"goroutines"`
	GoroutinesMax int    `json:"goroutines_max"`
	Uptime        string `json:"uptime"`
}

type StatsResponse struct {
	Runtime   RuntimeStats                `json:"runtime"`
	Cache     *geocache.Stats             `json:"cache,omitempty"`
	Providers map[string]ProviderStatsDTO `json:"providers"`
	Fallback  map[string]string           `json:"fallback"`
	RecentLog []string                    `json:"recent_log"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Providers: make(map[string]ProviderStatsDTO),
		Fallback:  h.fallback,
		RecentLog: logging.GlobalLogCapture.Recent(5),
	}

	// 1. Runtime
	h.mu.Lock()
	resp.Runtime = h.gatherRuntime()
	h.mu.Unlock()

	// 2. Cache
	if h.cache != nil {
		st, err := h.cache.Stats(r.Context())
		if err != nil {
			slog.Warn("API: cache stats unavailable", "error", err)
		} else {
			resp.Cache = &st
		}
	}

	// 3. Providers
	if h.tracker != nil {
		for provider, stats := range h.tracker.Snapshot() {
			totalCache := stats.CacheHits + stats.CacheMisses
			hitRate := int64(0)
			if totalCache > 0 {
				hitRate = (stats.CacheHits * 100) / totalCache
			}
			resp.Providers[provider] = ProviderStatsDTO{
				CacheHits:   stats.CacheHits,
				CacheMisses: stats.CacheMisses,
				APISuccess:  stats.APISuccess,
				APIFailures: stats.APIFailures,
				Retries:     stats.Retries,
				Fallbacks:   stats.Fallbacks,
				HitRate:     hitRate,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *StatsHandler) gatherRuntime() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	gor := runtime.NumGoroutine()

	if m.HeapAlloc > h.maxHeap {
		h.maxHeap = m.HeapAlloc
	}
	if gor > h.maxGor {
		h.maxGor = gor
	}
	return RuntimeStats{
		HeapMB:        bToMb(m.HeapAlloc),
		HeapMaxMB:     bToMb(h.maxHeap),
		Heap:          humanize.Bytes(m.HeapAlloc),
		Goroutines:    gor,
		GoroutinesMax: h.maxGor,
		Uptime:        time.Since(h.started).Round(time.Second).String(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
