package snapshot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/snarg/streamstats/internal/database"
	"github.com/snarg/streamstats/internal/event"
	"github.com/snarg/streamstats/internal/sessions"
)

var anchor = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// memStore keeps the active_sessions mirror in a map, mimicking the
// two-phase sync: upsert survivors, prune the rest.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]database.SessionRow
	loadErr error
	syncErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]database.SessionRow)}
}

func (m *memStore) SyncActiveSessions(ctx context.Context, rows []database.SessionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncErr != nil {
		return m.syncErr
	}
	next := make(map[string]database.SessionRow, len(rows))
	for _, r := range rows {
		next[r.ID] = r
	}
	m.rows = next
	return nil
}

func (m *memStore) LoadActiveSessions(ctx context.Context) ([]database.SessionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]database.SessionRow, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) seed(row database.SessionRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.ID] = row
}

func (m *memStore) get(id string) (database.SessionRow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	return r, ok
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func newTestSnapshotter(t *testing.T, store Store, clock clockwork.Clock) (*Snapshotter, *sessions.Manager) {
	t.Helper()
	manager := sessions.NewManager(sessions.Options{Clock: clock, Log: zerolog.Nop()})
	snap := New(Options{
		Manager: manager,
		Store:   store,
		Clock:   clock,
		Log:     zerolog.Nop(),
	})
	return snap, manager
}

func openEvent(id string, at time.Time) *event.Event {
	return &event.Event{
		Time:      at,
		Event:     event.TypePlayStarted,
		ID:        id,
		Server:    "edge-1",
		Media:     "news",
		UserID:    "u-" + id,
		IP:        "198.51.100.7",
		Country:   "DE",
		Proto:     "hls",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
		OpenedAt:  at.UnixMilli(),
		Bytes:     2048,
	}
}

func TestSyncOnceMirrorsLiveTable(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	snap, manager := newTestSnapshotter(t, store, clock)

	manager.Ingest(openEvent("a", clock.Now()))
	manager.Ingest(openEvent("b", clock.Now()))

	clock.Advance(30 * time.Second)
	if err := snap.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}

	if store.count() != 2 {
		t.Fatalf("stored %d rows, want 2", store.count())
	}
	row, _ := store.get("a")
	if row.Server != "edge-1" || row.Channel != "news" || row.Protocol != "hls" {
		t.Errorf("row fields = %+v", row)
	}
	if row.UserAgentClass != "desktop" {
		t.Errorf("row class = %q, want desktop", row.UserAgentClass)
	}
	if !row.LastSeenAt.Equal(anchor.Add(30 * time.Second)) {
		t.Errorf("last_seen_at = %v, want sync time", row.LastSeenAt)
	}
	if !row.OpenedAt.Equal(anchor) {
		t.Errorf("opened_at = %v, want %v", row.OpenedAt, anchor)
	}
}

func TestSyncOncePrunesClosedSessions(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	snap, manager := newTestSnapshotter(t, store, clock)
	ctx := context.Background()

	opened := clock.Now()
	manager.Ingest(openEvent("a", opened))
	manager.Ingest(openEvent("b", opened))
	manager.Ingest(openEvent("c", opened))
	if err := snap.SyncOnce(ctx); err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}

	closeEv := openEvent("c", opened.Add(time.Minute))
	closeEv.Event = event.TypePlayClosed
	closeEv.OpenedAt = opened.UnixMilli()
	closeEv.ClosedAt = opened.Add(time.Minute).UnixMilli()
	closeEv.Reason = "client_disconnect"
	manager.Ingest(closeEv)

	if err := snap.SyncOnce(ctx); err != nil {
		t.Fatalf("second SyncOnce() error = %v", err)
	}
	if store.count() != 2 {
		t.Fatalf("stored %d rows after close, want 2", store.count())
	}
	if _, ok := store.get("c"); ok {
		t.Error("closed session still present in mirror")
	}
}

func TestSyncOnceEmptyTableClearsMirror(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	store.seed(database.SessionRow{ID: "stale", OpenedAt: anchor})
	snap, _ := newTestSnapshotter(t, store, clock)

	if err := snap.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if store.count() != 0 {
		t.Errorf("mirror holds %d rows, want 0", store.count())
	}
}

func TestRecoverRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	snap, manager := newTestSnapshotter(t, store, clock)
	ctx := context.Background()

	manager.Ingest(openEvent("a", clock.Now()))
	manager.Ingest(openEvent("b", clock.Now()))
	if err := snap.SyncOnce(ctx); err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	before := manager.Snapshot()

	// Fresh process: new manager, same store.
	snap2, manager2 := newTestSnapshotter(t, store, clock)
	n, err := snap2.Recover(ctx, 0)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Recover() = %d, want 2", n)
	}
	after := manager2.Snapshot()

	sort.Slice(before, func(i, j int) bool { return before[i].ID < before[j].ID })
	sort.Slice(after, func(i, j int) bool { return after[i].ID < after[j].ID })
	for i := range before {
		b, a := before[i], after[i]
		// last_seen_at is refreshed by the sync; everything else survives.
		a.LastSeenAt = b.LastSeenAt
		if a != b {
			t.Errorf("session %s mutated across restart:\nbefore %+v\nafter  %+v", b.ID, b, a)
		}
	}

	stats := manager2.ActiveStats()
	if stats.Total != 2 || stats.ByServer["edge-1"] != 2 {
		t.Errorf("restored stats = %+v", stats)
	}
}

func TestRecoverHonorsMaxAge(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	store.seed(database.SessionRow{ID: "old", OpenedAt: anchor.Add(-2 * time.Hour)})
	store.seed(database.SessionRow{ID: "fresh", OpenedAt: anchor.Add(-10 * time.Minute)})
	snap, manager := newTestSnapshotter(t, store, clock)

	n, err := snap.Recover(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Recover() = %d, want 1", n)
	}
	if manager.Len() != 1 {
		t.Errorf("Len() = %d, want 1", manager.Len())
	}
}

func TestRecoverZeroMaxAgeKeepsEverything(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	store.seed(database.SessionRow{ID: "ancient", OpenedAt: anchor.Add(-30 * 24 * time.Hour)})
	snap, manager := newTestSnapshotter(t, store, clock)

	n, err := snap.Recover(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 1 || manager.Len() != 1 {
		t.Errorf("Recover() = %d, Len() = %d, want 1/1", n, manager.Len())
	}
}

func TestRecoverPropagatesLoadError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	store.loadErr = errors.New("connection refused")
	snap, _ := newTestSnapshotter(t, store, clock)

	if _, err := snap.Recover(context.Background(), 0); err == nil {
		t.Fatal("Recover() expected error, got nil")
	}
}

func TestRecoverOnlyOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	snap, _ := newTestSnapshotter(t, store, clock)
	ctx := context.Background()

	if _, err := snap.Recover(ctx, 0); err != nil {
		t.Fatalf("first Recover() error = %v", err)
	}
	if _, err := snap.Recover(ctx, 0); !errors.Is(err, sessions.ErrAlreadyRestored) {
		t.Errorf("second Recover() error = %v, want ErrAlreadyRestored", err)
	}
}

func TestSyncOnceReportsStoreError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	store.syncErr = errors.New("deadlock detected")
	snap, manager := newTestSnapshotter(t, store, clock)
	manager.Ingest(openEvent("a", clock.Now()))

	if err := snap.SyncOnce(context.Background()); err == nil {
		t.Fatal("SyncOnce() expected error, got nil")
	}
	// The live table is untouched by persistence failures.
	if manager.Len() != 1 {
		t.Errorf("Len() = %d, want 1", manager.Len())
	}
}

func TestRunSyncsOnTicks(t *testing.T) {
	clock := clockwork.NewFakeClockAt(anchor)
	store := newMemStore()
	manager := sessions.NewManager(sessions.Options{Clock: clock, Log: zerolog.Nop()})
	snap := New(Options{
		Manager:  manager,
		Store:    store,
		Interval: 30 * time.Second,
		Clock:    clock,
		Log:      zerolog.Nop(),
	})
	manager.Ingest(openEvent("a", clock.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		snap.Run(ctx)
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	clock.Advance(30 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.count() == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if store.count() != 1 {
		t.Fatalf("mirror holds %d rows after tick, want 1", store.count())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
