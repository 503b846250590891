package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/snarg/streamstats/internal/event"
	"github.com/snarg/streamstats/internal/sessions"
)

// maxWebhookBody caps a single webhook request. Panel batches stay far
// below this even when a panel replays a backlog after an outage.
const maxWebhookBody = 10 << 20

// WebhookResponse is the body returned for an accepted webhook request.
// Rejected counts events the session table refused (duplicate opens,
// closes for unknown sessions); the request itself still succeeds.
type WebhookResponse struct {
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Rejected  int    `json:"rejected"`
}

type WebhookHandler struct {
	manager *sessions.Manager
	ready   *atomic.Bool
	log     zerolog.Logger
}

func NewWebhookHandler(manager *sessions.Manager, ready *atomic.Bool, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		manager: manager,
		ready:   ready,
		log:     log.With().Str("handler", "webhook").Logger(),
	}
}

// ServeHTTP handles POST /api/webhook. The body is a single event object
// or an array of them. The whole batch is validated before any event is
// applied: one malformed event fails the request and leaves the live
// table untouched.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		WriteError(w, http.StatusServiceUnavailable, "recovering")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "unreadable body: "+err.Error())
		return
	}

	events, err := event.ParseBatch(body)
	if err != nil {
		h.log.Debug().Err(err).Msg("webhook body rejected")
		if errors.Is(err, event.ErrEmptyBody) {
			WriteError(w, http.StatusBadRequest, "empty body")
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	for i := range events {
		if err := events[i].Validate(); err != nil {
			h.log.Debug().Err(err).Int("index", i).Msg("webhook event failed validation")
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
			return
		}
	}

	processed, rejected := 0, 0
	for i := range events {
		if h.manager.Ingest(&events[i]).Applied() {
			processed++
		} else {
			rejected++
		}
	}

	WriteJSON(w, http.StatusOK, WebhookResponse{
		Status:    "ok",
		Processed: processed,
		Rejected:  rejected,
	})
}
