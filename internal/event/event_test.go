package event

import (
	"testing"
	"time"
)

func validStarted() Event {
	return Event{
		Time:      time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC),
		Event:     TypePlayStarted,
		ID:        "sess-1",
		Server:    "edge-1",
		Media:     "sports-hd",
		UserID:    "u1",
		IP:        "203.0.113.10",
		Country:   "AU",
		Proto:     "hls",
		Bytes:     0,
		UserAgent: "Lavf53.32.100",
		OpenedAt:  1772359205000,
	}
}

func validClosed() Event {
	ev := validStarted()
	ev.Event = TypePlayClosed
	ev.Bytes = 1000000
	ev.ClosedAt = ev.OpenedAt + 125000
	ev.Reason = "client_disconnect"
	return ev
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{"valid_started", func(e *Event) {}, false},
		{"valid_closed", func(e *Event) { *e = validClosed() }, false},
		{"missing_time", func(e *Event) { e.Time = time.Time{} }, true},
		{"unknown_event_type", func(e *Event) { e.Event = "play_paused" }, true},
		{"missing_id", func(e *Event) { e.ID = "" }, true},
		{"missing_server", func(e *Event) { e.Server = "" }, true},
		{"missing_media", func(e *Event) { e.Media = "" }, true},
		{"empty_user_id_ok", func(e *Event) { e.UserID = "" }, false},
		{"empty_country_ok", func(e *Event) { e.Country = "" }, false},
		{"one_letter_country", func(e *Event) { e.Country = "A" }, true},
		{"three_letter_country", func(e *Event) { e.Country = "AUS" }, true},
		{"empty_proto_ok", func(e *Event) { e.Proto = "" }, false},
		{"negative_bytes", func(e *Event) { e.Bytes = -1 }, true},
		{"missing_opened_at", func(e *Event) { e.OpenedAt = 0 }, true},
		{"closed_missing_closed_at", func(e *Event) {
			*e = validClosed()
			e.ClosedAt = 0
		}, true},
		{"closed_missing_reason", func(e *Event) {
			*e = validClosed()
			e.Reason = ""
		}, true},
		{"started_ignores_closed_fields", func(e *Event) {
			e.ClosedAt = 0
			e.Reason = ""
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validStarted()
			tt.mutate(&ev)
			err := ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseBatchSingleObject(t *testing.T) {
	body := []byte(`{
		"time": "2026-03-01T10:00:05Z",
		"event": "play_started",
		"id": "sess-1",
		"server": "edge-1",
		"media": "sports-hd",
		"user_id": "u1",
		"ip": "203.0.113.10",
		"country": "AU",
		"proto": "hls",
		"bytes": 0,
		"user_agent": "Lavf53.32.100",
		"opened_at": 1772359205000,
		"pid": 4242,
		"token": "ignored-extra-field"
	}`)
	events, err := ParseBatch(body)
	if err != nil {
		t.Fatalf("ParseBatch() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("ParseBatch() returned %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Event != TypePlayStarted {
		t.Errorf("event = %q, want %q", ev.Event, TypePlayStarted)
	}
	if ev.ID != "sess-1" || ev.Server != "edge-1" || ev.Media != "sports-hd" {
		t.Errorf("identity fields not decoded: %+v", ev)
	}
	want := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	if !ev.Time.Equal(want) {
		t.Errorf("time = %v, want %v", ev.Time, want)
	}
	if err := ev.Validate(); err != nil {
		t.Errorf("decoded event failed validation: %v", err)
	}
}

func TestParseBatchArray(t *testing.T) {
	body := []byte(`[
		{"time": "2026-03-01T10:00:05Z", "event": "play_started", "id": "a",
		 "server": "edge-1", "media": "m1", "opened_at": 1772359205000},
		{"time": "2026-03-01T10:00:06Z", "event": "play_started", "id": "b",
		 "server": "edge-1", "media": "m2", "opened_at": 1772359206000}
	]`)
	events, err := ParseBatch(body)
	if err != nil {
		t.Fatalf("ParseBatch() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ParseBatch() returned %d events, want 2", len(events))
	}
	if events[0].ID != "a" || events[1].ID != "b" {
		t.Errorf("batch order not preserved: %q, %q", events[0].ID, events[1].ID)
	}
}

func TestParseBatchErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "  \n\t"},
		{"bad_json", `{"event": `},
		{"bad_array", `[{"event": "play_started"}`},
		{"scalar", `42`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseBatch([]byte(tt.body)); err == nil {
				t.Errorf("ParseBatch(%q) expected error, got nil", tt.body)
			}
		})
	}
}

func TestMillisecondConversion(t *testing.T) {
	ev := validClosed()
	opened := ev.OpenedTime()
	closed := ev.ClosedTime()
	if got := closed.Sub(opened); got != 125*time.Second {
		t.Errorf("closed-opened = %v, want 125s", got)
	}
	if opened.Location() != time.UTC {
		t.Errorf("OpenedTime location = %v, want UTC", opened.Location())
	}
}
