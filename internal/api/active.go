package api

import (
	"net/http"

	"github.com/snarg/streamstats/internal/sessions"
)

// ActiveStatsHandler serves the live-session counters straight from the
// in-memory session table. It stays available during recovery and
// between snapshots; the numbers reflect whatever is loaded so far.
type ActiveStatsHandler struct {
	manager *sessions.Manager
}

func NewActiveStatsHandler(manager *sessions.Manager) *ActiveStatsHandler {
	return &ActiveStatsHandler{manager: manager}
}

func (h *ActiveStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.manager.ActiveStats())
}
