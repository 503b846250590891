package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/streamstats/internal/config"
	"github.com/snarg/streamstats/internal/database"
	"github.com/snarg/streamstats/internal/metrics"
	"github.com/snarg/streamstats/internal/sessions"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger

	// ready flips to true once startup recovery has finished. Until
	// then the webhook and health endpoints answer 503 so load
	// balancers keep traffic away from a half-restored instance.
	ready atomic.Bool
}

func NewServer(cfg *config.Config, manager *sessions.Manager, db *database.DB, version string, startTime time.Time, log zerolog.Logger) *Server {
	s := &Server{log: log}

	r := chi.NewRouter()

	// Logger must come first: RequestID and Recoverer write through the
	// request logger it installs. Recoverer sits inside the metrics
	// wrapper so recovered 500s show up in the request counters.
	r.Use(Logger(log))
	r.Use(RequestID)
	r.Use(metrics.InstrumentHandler)
	r.Use(Recoverer)
	r.Use(CORS)

	webhook := NewWebhookHandler(manager, &s.ready, log)
	r.Post("/api/webhook", webhook.ServeHTTP)

	health := NewHealthHandler(db, &s.ready, version, startTime)
	r.Get("/health", health.ServeHTTP)

	active := NewActiveStatsHandler(manager)
	r.Get("/stats/active", active.ServeHTTP)

	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// SetReady opens the intake. Call after the live table has been
// restored from the last snapshot.
func (s *Server) SetReady() {
	s.ready.Store(true)
	s.log.Info().Msg("intake ready, accepting webhooks")
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
