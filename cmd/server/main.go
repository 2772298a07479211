// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomtom215/recserve/internal/api"
	"github.com/tomtom215/recserve/internal/cache"
	"github.com/tomtom215/recserve/internal/catalog"
	"github.com/tomtom215/recserve/internal/config"
	"github.com/tomtom215/recserve/internal/database"
	"github.com/tomtom215/recserve/internal/embedding"
	"github.com/tomtom215/recserve/internal/logging"
	"github.com/tomtom215/recserve/internal/metrics"
	"github.com/tomtom215/recserve/internal/recommend"
	"github.com/tomtom215/recserve/internal/supervisor"
	"github.com/tomtom215/recserve/internal/supervisor/services"
	"github.com/tomtom215/recserve/internal/vector"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Caller:     cfg.Logging.Caller,
		Timestamp:  true,
		Output:     os.Stderr,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer func() {
		if err := logging.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
		}
	}()

	logging.Info().
		Str("model", cfg.Model.Name).
		Str("model_version", cfg.Model.Version).
		Str("region", cfg.Model.Region).
		Str("embedding_provider", cfg.Embedding.Provider).
		Msg("Starting recserve")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		logging.Error().Err(err).Msg("Server failed")
		cancel()
		_ = logging.Close()
		os.Exit(1)
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) error {
	// === DATA ===

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	cat, err := catalog.Load(ctx, db, cfg.Data.Dir, catalog.LoadOptions{
		FileName:       cfg.Data.ItemsFile,
		SyntheticItems: cfg.Data.SyntheticItems,
	})
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	// === EMBEDDINGS AND ENGINE ===

	store, err := cache.NewVectorStore(ctx, cache.StoreOptions{
		Backend:       cfg.Cache.Backend,
		Dir:           cfg.Cache.Dir,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		TTL:           cfg.Cache.TTL,
		MaxEntries:    cfg.Cache.MaxEntries,
	})
	if err != nil {
		return fmt.Errorf("open embedding cache: %w", err)
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logging.Warn().Err(err).Msg("Failed to close embedding cache")
			}
		}()
		logging.Info().Str("backend", cfg.Cache.Backend).Msg("Embedding cache enabled")
	}

	provider, err := embedding.NewProviderFromConfig(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("create embedding provider: %w", err)
	}

	engine, err := recommend.NewEngine(ctx, provider, cat, recommend.Options{
		Index: loadPrebuiltIndex(cfg.Index.Path),
	}, logging.WithComponent("recommend"))
	if err != nil {
		return fmt.Errorf("build recommendation engine: %w", err)
	}

	// === METRICS ===

	agg := metrics.NewAggregator(metrics.Labels{
		ModelVersion: cfg.Model.Version,
		Region:       cfg.Model.Region,
	}, engine)
	agg.InitFeatureGauges(cfg.Metrics.FeatureLagSeconds)

	var (
		gatherer  prometheus.Gatherer = prometheus.DefaultGatherer
		mpWriter  *metrics.MultiprocWriter
		slogger   = logging.NewSlogLogger()
		serverLog = logging.WithComponent("http")
	)
	if dir := cfg.Metrics.MultiprocDir; dir != "" {
		mpWriter, err = metrics.NewMultiprocWriter(dir, prometheus.DefaultGatherer, cfg.Metrics.FlushInterval, logging.WithComponent("metrics"))
		if err != nil {
			return err
		}
		gatherer = metrics.NewMultiprocGatherer(dir, mpWriter)
		logging.Info().Str("dir", dir).Msg("Multi-process metrics enabled")
	}

	// === EVENTS ===

	feedback, err := initEvents(cfg, db)
	if err != nil {
		return err
	}
	defer feedback.Close()

	// === HTTP ===

	handler := api.NewHandler(engine, agg, feedback.FeedbackPublisher())
	router := api.NewRouter(handler,
		api.NewChiMiddleware(api.ChiMiddlewareConfigFromServer(&cfg.Server)),
		api.MetricsHandler(gatherer))

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// === SUPERVISOR TREE ===

	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout + treeConfig.ShutdownTimeout
	tree, err := supervisor.NewSupervisorTree(slogger, treeConfig)
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if mpWriter != nil {
		tree.AddDataService(mpWriter)
		logging.Info().Str("service", mpWriter.String()).Msg("Metrics exporter added to supervisor tree")
	}
	if feedback.recorder != nil {
		tree.AddMessagingService(feedback.recorder)
		logging.Info().Str("service", feedback.recorder.String()).Msg("Feedback recorder added to supervisor tree")
	}
	tree.AddAPIService(services.NewHTTPServerService(server, addr, cfg.Server.ShutdownTimeout, serverLog))
	logging.Info().Str("addr", addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("supervisor tree: %w", err)
		}
		cancel()
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	stats := engine.Stats()
	logging.Info().
		Int64("requests", stats.Requests).
		Int64("errors", stats.Errors).
		Msg("Recommendation engine stopped")
	return runErr
}

// loadPrebuiltIndex reads the index written by `recjobs build-index`. A
// missing or unreadable file yields nil and the engine embeds the catalog
// itself.
func loadPrebuiltIndex(path string) *vector.Index {
	if path == "" {
		return nil
	}
	ix, err := vector.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info().Str("path", path).Msg("No prebuilt vector index, building in memory")
		} else {
			logging.Warn().Err(err).Str("path", path).Msg("Ignoring unreadable vector index")
		}
		return nil
	}
	return ix
}
