package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/snarg/streamstats/internal/event"
	"github.com/snarg/streamstats/internal/sessions"
)

func liveOpen(id, server, channel string, at time.Time) *event.Event {
	return &event.Event{
		Time:      at,
		Event:     event.TypePlayStarted,
		ID:        id,
		Server:    server,
		Media:     channel,
		UserID:    "u-" + id,
		Country:   "AU",
		Proto:     "hls",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
		OpenedAt:  at.UnixMilli(),
	}
}

func getActiveStats(t *testing.T, h *ActiveStatsHandler) (*httptest.ResponseRecorder, sessions.ActiveStats) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/stats/active", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats sessions.ActiveStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, rec.Body.String())
	}
	return rec, stats
}

func TestActiveStatsEmpty(t *testing.T) {
	manager := sessions.NewManager(sessions.Options{Log: zerolog.Nop()})
	h := NewActiveStatsHandler(manager)

	rec, stats := getActiveStats(t, h)
	if stats.Total != 0 {
		t.Errorf("total = %d, want 0", stats.Total)
	}
	// Empty breakdowns serialize as {} rather than null.
	for _, key := range []string{"by_server", "by_channel", "by_country", "by_protocol", "by_user_agent_class"} {
		if !strings.Contains(rec.Body.String(), `"`+key+`":{}`) {
			t.Errorf("body missing empty %s map:\n%s", key, rec.Body.String())
		}
	}
}

func TestActiveStatsBreakdowns(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC))
	manager := sessions.NewManager(sessions.Options{Clock: clock, Log: zerolog.Nop()})
	h := NewActiveStatsHandler(manager)

	now := clock.Now()
	manager.Ingest(liveOpen("s1", "edge-1", "sports-hd", now))
	manager.Ingest(liveOpen("s2", "edge-1", "news", now))
	manager.Ingest(liveOpen("s3", "edge-2", "sports-hd", now))

	_, stats := getActiveStats(t, h)
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByServer["edge-1"] != 2 || stats.ByServer["edge-2"] != 1 {
		t.Errorf("by_server = %v, want edge-1:2 edge-2:1", stats.ByServer)
	}
	if stats.ByChannel["sports-hd"] != 2 || stats.ByChannel["news"] != 1 {
		t.Errorf("by_channel = %v, want sports-hd:2 news:1", stats.ByChannel)
	}
	if stats.ByCountry["AU"] != 3 {
		t.Errorf("by_country = %v, want AU:3", stats.ByCountry)
	}
	if stats.ByProtocol["hls"] != 3 {
		t.Errorf("by_protocol = %v, want hls:3", stats.ByProtocol)
	}
	if stats.ByUserAgentClass["desktop"] != 3 {
		t.Errorf("by_user_agent_class = %v, want desktop:3", stats.ByUserAgentClass)
	}

	// A close drops the counts; zeroed keys disappear entirely.
	closed := liveOpen("s2", "edge-1", "news", now.Add(30*time.Second))
	closed.Event = event.TypePlayClosed
	closed.ClosedAt = now.Add(30 * time.Second).UnixMilli()
	closed.Reason = "closed"
	manager.Ingest(closed)

	_, stats = getActiveStats(t, h)
	if stats.Total != 2 {
		t.Errorf("total after close = %d, want 2", stats.Total)
	}
	if _, ok := stats.ByChannel["news"]; ok {
		t.Errorf("by_channel still has news after last viewer left: %v", stats.ByChannel)
	}
	if stats.ByServer["edge-1"] != 1 {
		t.Errorf("by_server[edge-1] = %d, want 1", stats.ByServer["edge-1"])
	}
}
