package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/streamstats/internal/aggregator"
	"github.com/snarg/streamstats/internal/api"
	"github.com/snarg/streamstats/internal/config"
	"github.com/snarg/streamstats/internal/database"
	"github.com/snarg/streamstats/internal/metrics"
	"github.com/snarg/streamstats/internal/sessions"
	"github.com/snarg/streamstats/internal/snapshot"
)

var version = "dev"

func main() {
	startTime := time.Now()

	envFile := flag.String("env-file", "", "path to .env file (default: .env)")
	httpAddr := flag.String("http-addr", "", "listen address (overrides STREAM_HTTP_ADDR)")
	logLevel := flag.String("log-level", "", "log level (overrides STREAM_LOG_LEVEL)")
	flag.Parse()

	// Config
	cfg, err := config.Load(config.Overrides{
		EnvFile:  *envFile,
		HTTPAddr: *httpAddr,
		LogLevel: *logLevel,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("streamstats starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL(), dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	prometheus.MustRegister(metrics.NewCollector(db.Pool))

	// Engine
	manager := sessions.NewManager(sessions.Options{
		DeltaBufferSize: cfg.DeltaBufferSize,
		Log:             log,
	})
	agg := aggregator.New(aggregator.Options{
		Manager:  manager,
		Store:    db,
		Interval: cfg.AggregationInterval(),
		Log:      log,
	})
	snap := snapshot.New(snapshot.Options{
		Manager:  manager,
		Store:    db,
		Interval: cfg.SessionSyncInterval(),
		Log:      log,
	})

	// HTTP server binds before recovery so load balancers can probe it;
	// the webhook and health endpoints answer 503 until the live table
	// is restored.
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, manager, db, version, startTime, httpLog)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	restored, err := snap.Recover(ctx, cfg.StaleSessionMaxAge)
	if err != nil {
		log.Fatal().Err(err).Msg("session recovery failed")
	}
	srv.SetReady()

	// Background loops
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		agg.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		snap.Run(ctx)
	}()
	if cfg.StatsRetention > 0 {
		pruner := aggregator.NewPruner(aggregator.PrunerOptions{
			Store:     db,
			Retention: cfg.StatsRetention,
			Log:       log,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruner.Run(ctx)
		}()
	}

	log.Info().
		Int("restored_sessions", restored).
		Str("addr", cfg.HTTPAddr).
		Msg("streamstats ready")

	// Wait for shutdown signal or server failure
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
		log.Error().Msg("http server stopped unexpectedly")
	}

	// Stop intake first: no new requests, bounded wait for in-flight ones.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	// Background loops exit on the canceled signal context.
	stop()
	wg.Wait()

	// Flush the partial minute and mirror the live table one last time, so
	// a restart resumes from the freshest possible snapshot.
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelFlush()
	agg.FinalFlush(flushCtx)
	if err := snap.SyncOnce(flushCtx); err != nil {
		log.Error().Err(err).Msg("final session sync failed")
	}

	log.Info().Msg("streamstats stopped")
}
