package sessions

import (
	"time"

	"github.com/snarg/streamstats/internal/classifier"
)

// Session is one viewer-channel engagement in the live table. Bytes holds
// the cumulative transfer reported at open time; the final count arrives
// with the close event.
type Session struct {
	ID         string
	Server     string
	Channel    string
	Country    string
	Proto      string
	UserAgent  string
	UAClass    classifier.Class
	UserID     string
	IP         string
	OpenedAt   time.Time
	LastSeenAt time.Time
	Bytes      int64
}

// ActiveStats is the live-session breakdown served by the introspection
// endpoint. Maps are never nil.
type ActiveStats struct {
	Total            int            `json:"total"`
	ByServer         map[string]int `json:"by_server"`
	ByChannel        map[string]int `json:"by_channel"`
	ByCountry        map[string]int `json:"by_country"`
	ByProtocol       map[string]int `json:"by_protocol"`
	ByUserAgentClass map[string]int `json:"by_user_agent_class"`
}
