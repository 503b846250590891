package aggregator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultPruneInterval is how often the pruner re-checks the retention
// horizon when Options does not set one.
const DefaultPruneInterval = 1 * time.Hour

// PruneStore deletes aggregate rows older than a cutoff across every
// dimension table, returning how many rows went away.
type PruneStore interface {
	PurgeStatsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner enforces the stats retention window. The aggregator owns all writes
// to the dimension tables, so the deletes live here too rather than in a
// separate maintenance process.
type Pruner struct {
	store     PruneStore
	retention time.Duration
	interval  time.Duration
	clock     clockwork.Clock
	log       zerolog.Logger
}

// PrunerOptions configures a Pruner. Retention must be positive; callers
// with retention disabled should not construct a Pruner at all.
type PrunerOptions struct {
	Store     PruneStore
	Retention time.Duration
	Interval  time.Duration
	Clock     clockwork.Clock
	Log       zerolog.Logger
}

func NewPruner(opts PrunerOptions) *Pruner {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pruner{
		store:     opts.Store,
		retention: opts.Retention,
		interval:  interval,
		clock:     clock,
		log:       opts.Log.With().Str("component", "pruner").Logger(),
	}
}

// Run prunes once immediately, clearing any backlog from downtime, then on
// every interval tick until ctx is canceled.
func (p *Pruner) Run(ctx context.Context) {
	p.log.Info().
		Dur("retention", p.retention).
		Dur("interval", p.interval).
		Msg("stats pruner started")
	p.prune(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("stats pruner stopped")
			return
		case <-ticker.Chan():
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := p.clock.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PurgeStatsBefore(ctx, cutoff)
	if err != nil {
		p.log.Error().Err(err).Msg("stats prune failed")
		return
	}
	if deleted > 0 {
		p.log.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("old stats pruned")
	}
}
