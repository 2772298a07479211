// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

// Package main is the offline job runner of recserve.
//
// Usage:
//
//	recjobs [flags] <job>...
//
// Jobs run in the order given and the run stops at the first failure:
//
//	features      items/interactions CSV -> Parquet, user and item aggregates
//	ltr-dataset   ranking/train.parquet and ranking/valid.parquet
//	train-ranker  LightGBM LambdaRank model and run record
//	build-index   vector index over the catalog
//	train-als     implicit ALS factors as .npy files
//	all           every job above in pipeline order
//
// Configuration is shared with the server (config.yaml, .env, environment).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/recserve/internal/cache"
	"github.com/tomtom215/recserve/internal/config"
	"github.com/tomtom215/recserve/internal/database"
	"github.com/tomtom215/recserve/internal/embedding"
	"github.com/tomtom215/recserve/internal/jobs"
	"github.com/tomtom215/recserve/internal/logging"
)

var pipeline = []string{"features", "ltr-dataset", "train-ranker", "build-index", "train-als"}

func main() {
	fs := flag.NewFlagSet("recjobs", flag.ExitOnError)
	includeEvents := fs.Bool("include-events", false, "fold recorded feedback events into the interactions (features)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: recjobs [flags] <job>...\n\nJobs: %v, all\n\nFlags:\n", pipeline)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	names, err := expandJobs(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		os.Exit(2)
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, names, *includeEvents)
	stop()
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

// expandJobs validates job names and expands "all".
func expandJobs(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.New("no job given")
	}
	var out []string
	for _, a := range args {
		if a == "all" {
			out = append(out, pipeline...)
			continue
		}
		known := false
		for _, p := range pipeline {
			known = known || p == a
		}
		if !known {
			return nil, fmt.Errorf("unknown job %q", a)
		}
		out = append(out, a)
	}
	return out, nil
}

func run(ctx context.Context, cfg *config.Config, names []string, includeEvents bool) error {
	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to open database")
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	runner := jobs.NewRunner(db, cfg, logging.WithComponent("jobs"))
	for _, name := range names {
		start := time.Now()
		logging.Info().Str("job", name).Msg("Job started")

		if err := runJob(ctx, cfg, runner, name, includeEvents); err != nil {
			logging.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(start)).Msg("Job failed")
			return err
		}
		logging.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("Job finished")
	}
	return nil
}

func runJob(ctx context.Context, cfg *config.Config, runner *jobs.Runner, name string, includeEvents bool) error {
	var err error
	switch name {
	case "features":
		_, err = runner.Features(ctx, jobs.FeaturesOptions{IncludeEvents: includeEvents})
	case "ltr-dataset":
		_, err = runner.LTRDataset(ctx)
	case "train-ranker":
		_, err = runner.TrainRanker(ctx)
	case "build-index":
		err = buildIndex(ctx, cfg, runner)
	case "train-als":
		_, err = runner.TrainALS(ctx)
	default:
		err = fmt.Errorf("unknown job %q", name)
	}
	return err
}

func buildIndex(ctx context.Context, cfg *config.Config, runner *jobs.Runner) error {
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
	}

	provider, err := embedding.NewProviderFromConfig(ctx, cfg, store)
	if err != nil {
		return err
	}
	_, err = runner.BuildIndex(ctx, provider)
	return err
}
