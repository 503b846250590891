package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/snarg/streamstats/internal/classifier"
	"github.com/snarg/streamstats/internal/event"
	"github.com/snarg/streamstats/internal/metrics"
)

// DefaultDeltaBufferSize caps the per-minute delta buffer when Options does
// not say otherwise.
const DefaultDeltaBufferSize = 100000

// ErrAlreadyRestored is returned when Restore is called a second time.
var ErrAlreadyRestored = errors.New("live session table already restored")

// IngestResult reports how the manager applied one event.
type IngestResult int

const (
	// Accepted means the event mutated the live table and minute counters.
	Accepted IngestResult = iota
	// RejectedDuplicateOpen means a play_started arrived for an id already live.
	RejectedDuplicateOpen
	// RejectedUnknownClose means a play_closed arrived for an id not live.
	RejectedUnknownClose
	// FlaggedMalformedTime means the event was applied with watch time clamped
	// to zero because closed_at preceded opened_at.
	FlaggedMalformedTime
	// FlaggedStale means the event was applied to the current minute although
	// its own timestamp predates the previous minute boundary.
	FlaggedStale

	rejectedUnknownType
)

// Applied reports whether the event mutated state. Flagged events count as
// applied; rejections do not.
func (r IngestResult) Applied() bool {
	return r == Accepted || r == FlaggedMalformedTime || r == FlaggedStale
}

func (r IngestResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectedDuplicateOpen:
		return "duplicate_open"
	case RejectedUnknownClose:
		return "unknown_close"
	case FlaggedMalformedTime:
		return "malformed_time"
	case FlaggedStale:
		return "stale"
	case rejectedUnknownType:
		return "unknown_type"
	}
	return "unknown"
}

// Manager owns the live-session table, the per-dimension live counts, the
// current minute bucket, and the delta buffer. One mutex covers all four so
// ingest, rotation, snapshots, and restore observe them as a unit.
type Manager struct {
	clock clockwork.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	live     map[string]*Session
	counts   [NumDimensions]map[string]int
	bucket   *Bucket
	deltas   *deltaRing
	restored bool
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	// DeltaBufferSize caps the per-minute delta buffer; when full the oldest
	// delta is dropped.
	DeltaBufferSize int
	Clock           clockwork.Clock
	Log             zerolog.Logger
}

func NewManager(opts Options) *Manager {
	size := opts.DeltaBufferSize
	if size <= 0 {
		size = DefaultDeltaBufferSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Manager{
		clock:  clock,
		log:    opts.Log.With().Str("component", "sessions").Logger(),
		live:   make(map[string]*Session),
		bucket: newBucket(),
		deltas: newDeltaRing(size),
	}
	for d := range m.counts {
		m.counts[d] = make(map[string]int)
	}
	return m
}

// Ingest applies one validated event. The whole update is atomic with
// respect to Rotate, Snapshot, and Restore.
func (m *Manager) Ingest(ev *event.Event) IngestResult {
	now := m.clock.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	var res IngestResult
	switch ev.Event {
	case event.TypePlayStarted:
		res = m.open(ev, now)
	case event.TypePlayClosed:
		res = m.close(ev, now)
	default:
		// Schema validation upstream only admits the two known types.
		res = rejectedUnknownType
	}

	metrics.WebhookEventsTotal.WithLabelValues(ev.Event).Inc()
	if res != Accepted {
		metrics.EventRejectionsTotal.WithLabelValues(res.String()).Inc()
		m.log.Debug().
			Str("kind", res.String()).
			Str("session_id", ev.ID).
			Str("event", ev.Event).
			Msg("event rejected")
	}
	metrics.LiveSessions.Set(float64(len(m.live)))
	return res
}

func (m *Manager) open(ev *event.Event, now time.Time) IngestResult {
	if _, ok := m.live[ev.ID]; ok {
		return RejectedDuplicateOpen
	}

	res := Accepted
	if isStale(ev.Time, now) {
		res = FlaggedStale
	}

	openedAt := ev.OpenedTime()
	sess := &Session{
		ID:         ev.ID,
		Server:     ev.Server,
		Channel:    ev.Media,
		Country:    ev.Country,
		Proto:      ev.Proto,
		UserAgent:  ev.UserAgent,
		UAClass:    classifier.Classify(ev.UserAgent),
		UserID:     ev.UserID,
		IP:         ev.IP,
		OpenedAt:   openedAt,
		LastSeenAt: openedAt,
		Bytes:      ev.Bytes,
	}
	if sess.UserID == "" {
		// Anonymous viewers count once per session.
		sess.UserID = sess.ID
	}
	if sess.Proto == "" {
		sess.Proto = "unknown"
	}

	m.live[sess.ID] = sess
	keys := dimensionKeys(sess)
	for d := Dimension(0); d < NumDimensions; d++ {
		n := m.counts[d][keys[d]] + 1
		m.counts[d][keys[d]] = n
		m.bucket.observe(d, keys[d], n)
		m.bucket.addUser(d, keys[d], sess.UserID)
	}

	m.deltas.push(Delta{
		Kind:    DeltaOpened,
		Server:  sess.Server,
		Channel: sess.Channel,
		Country: sess.Country,
		Proto:   sess.Proto,
		UAClass: string(sess.UAClass),
		UserID:  sess.UserID,
		At:      ev.Time,
	})
	return res
}

func (m *Manager) close(ev *event.Event, now time.Time) IngestResult {
	sess, ok := m.live[ev.ID]
	if !ok {
		return RejectedUnknownClose
	}

	res := Accepted
	if isStale(ev.Time, now) {
		res = FlaggedStale
	}

	watch := ev.ClosedTime().Sub(sess.OpenedAt)
	if watch < 0 {
		watch = 0
		res = FlaggedMalformedTime
	}
	byteDelta := ev.Bytes - sess.Bytes
	if byteDelta < 0 {
		byteDelta = 0
	}

	delete(m.live, ev.ID)
	keys := dimensionKeys(sess)
	for d := Dimension(0); d < NumDimensions; d++ {
		if n := m.counts[d][keys[d]]; n > 1 {
			m.counts[d][keys[d]] = n - 1
		} else {
			delete(m.counts[d], keys[d])
		}
		// Closes contribute to distinct viewers too, so a session spanning
		// minute boundaries is counted in its closing minute as well.
		m.bucket.addUser(d, keys[d], sess.UserID)
	}

	m.deltas.push(Delta{
		Kind:      DeltaClosed,
		Server:    sess.Server,
		Channel:   sess.Channel,
		Country:   sess.Country,
		Proto:     sess.Proto,
		UAClass:   string(sess.UAClass),
		UserID:    sess.UserID,
		Bytes:     byteDelta,
		WatchTime: watch,
		At:        ev.Time,
	})
	return res
}

// isStale reports whether an event's own timestamp predates the previous
// minute boundary. Stale events are still applied to the current minute.
func isStale(at, now time.Time) bool {
	if at.IsZero() {
		return false
	}
	return at.Before(now.Truncate(time.Minute).Add(-time.Minute))
}

// Rotate atomically swaps in a fresh minute bucket seeded with the standing
// live counts and returns the finished bucket, its deltas in arrival order,
// and how many deltas were dropped on overflow. The returned bucket is
// immutable from here on.
func (m *Manager) Rotate() (*Bucket, []Delta, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	finished := m.bucket
	m.bucket = newBucketSeeded(m.counts)
	deltas, dropped := m.deltas.drain()
	return finished, deltas, dropped
}

// Snapshot returns a copy of every live session.
func (m *Manager) Snapshot() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0, len(m.live))
	for _, s := range m.live {
		out = append(out, *s)
	}
	return out
}

// Restore rehydrates the live table from a persisted snapshot. It succeeds
// at most once and must run before intake is enabled. Restored sessions seed
// live counts and peaks but emit no deltas and no distinct-viewer entries.
func (m *Manager) Restore(sessions []Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.restored {
		return ErrAlreadyRestored
	}
	m.restored = true

	for i := range sessions {
		s := sessions[i]
		if _, ok := m.live[s.ID]; ok {
			continue
		}
		m.live[s.ID] = &s
		keys := dimensionKeys(&s)
		for d := Dimension(0); d < NumDimensions; d++ {
			n := m.counts[d][keys[d]] + 1
			m.counts[d][keys[d]] = n
			m.bucket.observe(d, keys[d], n)
		}
	}
	metrics.LiveSessions.Set(float64(len(m.live)))
	m.log.Info().Int("sessions", len(m.live)).Msg("live table restored")
	return nil
}

// Len returns the current live-session count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// ActiveStats returns the current live-session counts by dimension.
func (m *Manager) ActiveStats() ActiveStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ActiveStats{
		Total:            len(m.live),
		ByServer:         copyCounts(m.counts[DimServer]),
		ByChannel:        copyCounts(m.counts[DimChannel]),
		ByCountry:        copyCounts(m.counts[DimCountry]),
		ByProtocol:       copyCounts(m.counts[DimProtocol]),
		ByUserAgentClass: copyCounts(m.counts[DimUserAgentClass]),
	}
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
