package aggregator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/snarg/streamstats/internal/database"
	"github.com/snarg/streamstats/internal/metrics"
	"github.com/snarg/streamstats/internal/sessions"
)

// Defaults for transient-failure retries.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = time.Second
)

// Store is the slice of the database the aggregator writes through.
type Store interface {
	UpsertStats(ctx context.Context, table database.StatsTable, rows []database.StatsRow) error
}

// Aggregator condenses each finished minute bucket plus its drained deltas
// into one row per dimension value and upserts them.
type Aggregator struct {
	manager  *sessions.Manager
	store    Store
	interval time.Duration
	attempts int
	backoff  time.Duration
	clock    clockwork.Clock
	log      zerolog.Logger

	last time.Time // most recent boundary already flushed
}

// Options configures an Aggregator. Zero values fall back to defaults.
type Options struct {
	Manager *sessions.Manager
	Store   Store
	// Interval is the aggregation cadence, normally one minute.
	Interval time.Duration
	// RetryAttempts bounds upsert tries per dimension table.
	RetryAttempts int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
	Clock        clockwork.Clock
	Log          zerolog.Logger
}

func New(opts Options) *Aggregator {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Aggregator{
		manager:  opts.Manager,
		store:    opts.Store,
		interval: interval,
		attempts: attempts,
		backoff:  backoff,
		clock:    clock,
		log:      opts.Log.With().Str("component", "aggregator").Logger(),
	}
}

// Run fires on every wall-clock boundary until ctx is canceled. Each pass
// realigns to the wall clock, so timer drift never accumulates and
// boundaries missed while stalled are flushed in order on the next firing.
func (a *Aggregator) Run(ctx context.Context) {
	a.last = a.clock.Now().UTC().Truncate(a.interval)
	a.log.Info().Dur("interval", a.interval).Msg("aggregator started")

	for {
		now := a.clock.Now().UTC()
		next := now.Truncate(a.interval).Add(a.interval)
		timer := a.clock.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			a.log.Info().Msg("aggregator stopped")
			return
		case <-timer.Chan():
		}

		a.catchUp(ctx)
	}
}

// catchUp flushes every boundary elapsed since the last flush. The first
// missed boundary carries all buffered deltas; later ones see freshly seeded
// buckets and emit standing-concurrency rows only.
func (a *Aggregator) catchUp(ctx context.Context) {
	now := a.clock.Now().UTC()
	if a.last.IsZero() {
		a.last = now.Truncate(a.interval)
		return
	}
	boundary := now.Truncate(a.interval)
	for b := a.last.Add(a.interval); !b.After(boundary); b = b.Add(a.interval) {
		a.flushMinute(ctx, b.Add(-a.interval))
		a.last = b
	}
}

// FinalFlush drains outstanding boundaries plus the in-progress partial
// minute. Called once during shutdown, after intake has stopped and Run has
// returned.
func (a *Aggregator) FinalFlush(ctx context.Context) {
	a.catchUp(ctx)
	a.flushMinute(ctx, a.clock.Now().UTC().Truncate(a.interval))
}

// flushMinute rotates the manager and persists one minute's rows. A table
// that fails permanently is logged and skipped; the minute is never retried
// later, the next boundary proceeds regardless.
func (a *Aggregator) flushMinute(ctx context.Context, minute time.Time) {
	start := a.clock.Now()

	bucket, deltas, dropped := a.manager.Rotate()
	if dropped > 0 {
		metrics.DeltasDroppedTotal.Add(float64(dropped))
		a.log.Warn().
			Int("dropped", dropped).
			Time("minute", minute).
			Msg("delta buffer overflowed, oldest deltas were lost")
	}

	var rowCount, failedTables int
	for _, tr := range buildRows(minute, bucket, deltas, a.interval) {
		if len(tr.rows) == 0 {
			continue
		}
		if err := a.upsertWithRetry(ctx, tr.table, tr.rows); err != nil {
			failedTables++
			a.log.Error().Err(err).
				Str("table", tr.table.Name).
				Time("minute", minute).
				Msg("stats write failed permanently, rows dropped")
			continue
		}
		rowCount += len(tr.rows)
	}

	result := "ok"
	if failedTables > 0 {
		result = "error"
	}
	metrics.AggregationFlushesTotal.WithLabelValues(result).Inc()

	a.log.Info().
		Time("minute", minute).
		Int("rows", rowCount).
		Int("deltas", len(deltas)).
		Int("live", a.manager.Len()).
		Dur("elapsed", a.clock.Since(start)).
		Msg("minute aggregated")
}

// upsertWithRetry writes one dimension table, retrying transient failures
// with doubling backoff. The row set is identical across attempts, so a
// retry after a half-applied batch converges to the same stored values.
func (a *Aggregator) upsertWithRetry(ctx context.Context, table database.StatsTable, rows []database.StatsRow) error {
	delay := a.backoff
	for attempt := 1; ; attempt++ {
		err := a.store.UpsertStats(ctx, table, rows)
		if err == nil {
			return nil
		}
		if attempt >= a.attempts {
			return err
		}

		metrics.StoreRetriesTotal.Inc()
		a.log.Warn().Err(err).
			Str("table", table.Name).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("stats upsert failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.clock.After(delay):
		}
		delay *= 2
	}
}
