package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/snarg/streamstats/internal/classifier"
	"github.com/snarg/streamstats/internal/database"
	"github.com/snarg/streamstats/internal/metrics"
	"github.com/snarg/streamstats/internal/sessions"
)

// DefaultInterval is the snapshot cadence when Options does not set one.
const DefaultInterval = 30 * time.Second

// Store persists and reloads the live-session mirror.
type Store interface {
	SyncActiveSessions(ctx context.Context, rows []database.SessionRow) error
	LoadActiveSessions(ctx context.Context) ([]database.SessionRow, error)
}

// Snapshotter mirrors the in-memory live-session table to the store on a
// fixed cadence so a restarted process can rebuild its state, and performs
// that rebuild at startup.
type Snapshotter struct {
	manager  *sessions.Manager
	store    Store
	interval time.Duration
	clock    clockwork.Clock
	log      zerolog.Logger
}

// Options configures a Snapshotter. Zero values fall back to defaults.
type Options struct {
	Manager  *sessions.Manager
	Store    Store
	Interval time.Duration
	Clock    clockwork.Clock
	Log      zerolog.Logger
}

func New(opts Options) *Snapshotter {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Snapshotter{
		manager:  opts.Manager,
		store:    opts.Store,
		interval: interval,
		clock:    clock,
		log:      opts.Log.With().Str("component", "snapshot").Logger(),
	}
}

// Run mirrors the live table every interval until ctx is canceled. A failed
// sync is logged and retried on the next tick; the in-memory table stays
// authoritative throughout.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", s.interval).Msg("session snapshotter started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("session snapshotter stopped")
			return
		case <-ticker.Chan():
			if err := s.SyncOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("session sync failed")
			}
		}
	}
}

// SyncOnce writes the current live sessions and prunes departed ids. Every
// surviving row gets a fresh last_seen_at.
func (s *Snapshotter) SyncOnce(ctx context.Context) error {
	live := s.manager.Snapshot()
	seenAt := s.clock.Now().UTC()

	rows := make([]database.SessionRow, len(live))
	for i, sess := range live {
		rows[i] = sessionToRow(sess, seenAt)
	}
	if err := s.store.SyncActiveSessions(ctx, rows); err != nil {
		metrics.SessionSyncsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.SessionSyncsTotal.WithLabelValues("ok").Inc()
	s.log.Debug().Int("sessions", len(rows)).Msg("live sessions synced")
	return nil
}

// Recover loads the persisted snapshot into the manager. It must run before
// intake is enabled. With maxAge > 0, sessions whose opened_at lies beyond
// the horizon are discarded as leftovers of a long outage. Returns how many
// sessions were restored.
func (s *Snapshotter) Recover(ctx context.Context, maxAge time.Duration) (int, error) {
	rows, err := s.store.LoadActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active sessions: %w", err)
	}

	var cutoff time.Time
	if maxAge > 0 {
		cutoff = s.clock.Now().UTC().Add(-maxAge)
	}

	restored := make([]sessions.Session, 0, len(rows))
	var discarded int
	for _, row := range rows {
		if !cutoff.IsZero() && row.OpenedAt.Before(cutoff) {
			discarded++
			continue
		}
		restored = append(restored, rowToSession(row))
	}

	if err := s.manager.Restore(restored); err != nil {
		return 0, err
	}
	if discarded > 0 {
		s.log.Info().
			Int("discarded", discarded).
			Dur("max_age", maxAge).
			Msg("stale snapshot sessions discarded")
	}
	s.log.Info().Int("sessions", len(restored)).Msg("live sessions recovered")
	return len(restored), nil
}

func sessionToRow(sess sessions.Session, seenAt time.Time) database.SessionRow {
	return database.SessionRow{
		ID:             sess.ID,
		Server:         sess.Server,
		Channel:        sess.Channel,
		Country:        sess.Country,
		Protocol:       sess.Proto,
		UserAgent:      sess.UserAgent,
		UserAgentClass: string(sess.UAClass),
		UserID:         sess.UserID,
		IP:             sess.IP,
		OpenedAt:       sess.OpenedAt,
		LastSeenAt:     seenAt,
		Bytes:          sess.Bytes,
	}
}

func rowToSession(row database.SessionRow) sessions.Session {
	return sessions.Session{
		ID:         row.ID,
		Server:     row.Server,
		Channel:    row.Channel,
		Country:    row.Country,
		Proto:      row.Protocol,
		UserAgent:  row.UserAgent,
		UAClass:    classifier.Class(row.UserAgentClass),
		UserID:     row.UserID,
		IP:         row.IP,
		OpenedAt:   row.OpenedAt,
		LastSeenAt: row.LastSeenAt,
		Bytes:      row.Bytes,
	}
}
