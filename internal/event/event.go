package event

import (
	"bytes"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

// Lifecycle event types posted by origin servers.
const (
	TypePlayStarted = "play_started"
	TypePlayClosed  = "play_closed"
)

// Event is one session lifecycle notification delivered to the webhook.
// Unknown payload fields are ignored at decode time.
type Event struct {
	Time      time.Time `json:"time" validate:"required"`
	Event     string    `json:"event" validate:"required,oneof=play_started play_closed"`
	ID        string    `json:"id" validate:"required"`
	Server    string    `json:"server" validate:"required"`
	Media     string    `json:"media" validate:"required"`
	UserID    string    `json:"user_id"`
	IP        string    `json:"ip"`
	Country   string    `json:"country" validate:"omitempty,len=2"`
	Proto     string    `json:"proto"`
	Bytes     int64     `json:"bytes" validate:"min=0"`
	UserAgent string    `json:"user_agent"`
	OpenedAt  int64     `json:"opened_at" validate:"gt=0"`

	// Present on play_closed only.
	ClosedAt int64  `json:"closed_at,omitempty" validate:"required_if=Event play_closed,omitempty,gt=0"`
	Reason   string `json:"reason,omitempty" validate:"required_if=Event play_closed"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the event against the webhook schema.
func (e *Event) Validate() error {
	return validate.Struct(e)
}

// OpenedTime converts the opened_at Unix-millisecond stamp to UTC.
func (e *Event) OpenedTime() time.Time {
	return time.UnixMilli(e.OpenedAt).UTC()
}

// ClosedTime converts the closed_at Unix-millisecond stamp to UTC.
func (e *Event) ClosedTime() time.Time {
	return time.UnixMilli(e.ClosedAt).UTC()
}

// ErrEmptyBody is returned by ParseBatch for a blank request body.
var ErrEmptyBody = errors.New("empty body")

// ParseBatch decodes a webhook body holding either a JSON array of events or
// a single event object, which is normalized to a one-element batch.
func ParseBatch(body []byte) ([]Event, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, ErrEmptyBody
	}
	if trimmed[0] == '[' {
		var events []Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, err
	}
	return []Event{ev}, nil
}
