package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"walktour/pkg/areactx"
	"walktour/pkg/blob"
	"walktour/pkg/cache"
	"walktour/pkg/cancel"
	"walktour/pkg/config"
	"walktour/pkg/db"
	"walktour/pkg/db/maintenance"
	"walktour/pkg/geocache"
	"walktour/pkg/geocode"
	"walktour/pkg/llm/failover"
	"walktour/pkg/logging"
	"walktour/pkg/pipeline"
	"walktour/pkg/prompts"
	"walktour/pkg/request"
	"walktour/pkg/retry"
	"walktour/pkg/store"
	"walktour/pkg/suggest"
	"walktour/pkg/tourdoc"
	"walktour/pkg/tracker"
	"walktour/pkg/tts"
	"walktour/pkg/version"
	"walktour/pkg/wikipedia"
	"walktour/pkg/worker"
)

// app holds the shared components of every command.
type app struct {
	cfg       *config.Config
	configDir string
	settings  *config.UnifiedProvider
	db        *db.DB
	st        *store.SQLiteStore
	tracker   *tracker.Tracker
	geo       *geocache.Cache
	docs      *tourdoc.Store
	signal    *cancel.Signal
	ckpts     *pipeline.Checkpoints
	suggest   *suggest.Cache

	// Set by withPipeline
	blobs        *blob.FileStore
	llm          *failover.Provider
	tts          *tts.Failover
	backends     backendSet
	orchestrator *pipeline.Orchestrator

	cleanup []func()
}

// openApp loads config, logging and storage. Generation backends are wired
// separately because cancel and prune never need them.
func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	closeLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	a := &app{cfg: cfg, configDir: filepath.Dir(configPath), cleanup: []func(){closeLogs}}

	slog.Info("walktour started", "version", version.Current().String(), "config", configPath)

	d, err := db.Init(cfg.DB.Path)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = d
	a.cleanup = append(a.cleanup, func() { d.Close() })

	a.st = store.NewSQLiteStore(d)
	a.settings = config.NewProvider(cfg, a.st)
	a.tracker = tracker.New()
	a.geo = geocache.New(d,
		geocache.WithResolution(cfg.Cache.H3Resolution),
		geocache.WithMaxCells(cfg.Cache.MaxQueryCells),
		geocache.WithSettleDelay(cfg.Cache.IndexSettle.Std()))
	if err := a.geo.EnsureIndex(ctx); err != nil {
		slog.Warn("GeoCache: index unavailable, queries fall back to scans", "error", err)
	}
	a.docs = tourdoc.New(d)
	a.signal = cancel.New(a.st, a.settings.CancelPoll(ctx))
	a.ckpts = pipeline.NewCheckpoints(a.st)
	a.suggest = suggest.New(a.geo, cfg.Cache.SuggestionTTL.Std(), a.settings.SuggestRadius(ctx))
	return a, nil
}

// withPipeline wires the generation backends, workers and orchestrator.
func (a *app) withPipeline(ctx context.Context) error {
	cfg := a.cfg

	rc := request.New(cache.NewMemory(256, a.st), a.tracker, request.Options{
		Timeout:   cfg.Request.Timeout.Std(),
		Retries:   cfg.Request.Retries,
		RateLimit: cfg.Request.RateLimit,
		BaseDelay: cfg.Request.Backoff.BaseDelay.Std(),
		MaxDelay:  cfg.Request.Backoff.MaxDelay.Std(),
	})
	invoke := retry.Config{
		MaxRetries: a.settings.MaxRetries(ctx),
		BaseDelay:  a.settings.RetryBaseDelay(ctx),
		Tracker:    a.tracker,
	}

	set, err := newBackends(cfg, rc)
	if err != nil {
		return err
	}
	a.backends = set

	if a.llm, err = failover.New(set.llmPrimary, set.llmFallback, invoke); err != nil {
		return fmt.Errorf("failed to initialize LLM failover: %w", err)
	}
	if a.tts, err = tts.NewFailover(set.ttsPrimary, set.ttsFallback, invoke); err != nil {
		return fmt.Errorf("failed to initialize TTS failover: %w", err)
	}

	if a.blobs, err = blob.NewFileStore(cfg.Blob.Root, cfg.Blob.BaseURL); err != nil {
		return err
	}

	pm, err := prompts.NewManager(filepath.Join(a.configDir, "prompts"))
	if err != nil {
		return fmt.Errorf("failed to initialize prompt manager: %w", err)
	}

	geocoder := geocode.NewChain(geocode.NewNominatim(cfg.Geocode, rc), geocode.LoadOffline(cfg.Geocode))
	areaOpts := areactx.Options{
		SummaryTTL:  cfg.Cache.SummaryTTL.Std(),
		Concurrency: a.settings.MaxConcurrency(ctx),
	}
	if cfg.Geocode.Wikipedia {
		areaOpts.Reference = wikipedia.NewClient(rc)
	}
	preloader, err := areactx.New(a.geo, geocoder, a.llm, pm, areaOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize context preloader: %w", err)
	}

	scripts := worker.NewScriptWorker(a.llm, pm, a.docs, a.signal, worker.ScriptOptions{
		IntroWords: cfg.Pipeline.ScriptWordsIntro,
		StopWords:  cfg.Pipeline.ScriptWordsStop,
	})
	audio := worker.NewAudioWorker(a.tts, a.blobs, a.docs, a.signal, a.settings.AudioByteLimit(ctx))

	a.orchestrator, err = pipeline.New(pipeline.Deps{
		Docs:        a.docs,
		Context:     preloader,
		Scripts:     scripts,
		Audio:       audio,
		Cancel:      a.signal,
		Checkpoints: a.ckpts,
	}, pipeline.Config{MaxConcurrency: a.settings.MaxConcurrency(ctx)})
	return err
}

// maintain runs one maintenance pass with the configured TTLs.
func (a *app) maintain(ctx context.Context) maintenance.Report {
	return maintenance.Run(ctx, a.st, a.db, a.geo, maintenance.Options{
		PlacesFile:    a.cfg.Cache.PlacesFile,
		PlaceTTL:      a.cfg.Cache.PlaceTTL.Std(),
		CheckpointTTL: a.cfg.Cache.CheckpointTTL.Std(),
	})
}

// maintainEvery repeats maintenance, then each extra hook, until ctx is done.
func (a *app) maintainEvery(ctx context.Context, every time.Duration, extra ...func()) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.maintain(ctx)
			for _, fn := range extra {
				fn()
			}
		}
	}
}

// mediaPrefix is the URL path the blob base URL publishes under.
func (a *app) mediaPrefix() string {
	u, err := url.Parse(a.cfg.Blob.BaseURL)
	if err != nil || u.Path == "" {
		return "/audio"
	}
	return u.Path
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}
