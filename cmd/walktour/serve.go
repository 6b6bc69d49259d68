package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"walktour/internal/api"
	"walktour/pkg/probe"
)

func newServeCmd(configPath *string) *cobra.Command {
	var skipProbes bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath, skipProbes)
		},
	}
	cmd.Flags().BoolVar(&skipProbes, "skip-probes", false, "start without checking the backends")
	return cmd
}

func serve(ctx context.Context, configPath string, skipProbes bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.withPipeline(ctx); err != nil {
		return err
	}
	if !skipProbes {
		if err := probe.AnalyzeResults(probe.Run(ctx, a.backends.probes())); err != nil {
			return fmt.Errorf("startup checks failed: %w", err)
		}
	}

	runs := api.NewRuns(api.DefaultRunRetention)
	a.maintain(ctx)
	go a.maintainEvery(ctx, a.cfg.Cache.PruneInterval.Std(), func() {
		if n := runs.Prune(); n > 0 {
			slog.Debug("Forgot finished runs", "count", n)
		}
	})

	srv := api.NewServer(a.cfg.Server.Address,
		api.NewTourHandler(ctx, a.orchestrator, a.docs, runs, a.cfg.Pipeline.DefaultLanguage, a.settings.DefaultVoice(ctx)),
		api.NewSessionHandler(a.signal, runs),
		api.NewStatsHandler(a.tracker, a.geo, a.backends.describe()),
		api.NewSuggestionHandler(a.suggest),
		&api.Media{Prefix: a.mediaPrefix(), Root: a.blobs.Root()},
		cancel)

	err = runServerLifecycle(ctx, srv)
	// In-flight runs see the cancelled context and mark their documents failed
	cancel()
	runs.Wait()
	return err
}

func runServerLifecycle(ctx context.Context, srv *http.Server) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
