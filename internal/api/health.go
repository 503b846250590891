package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/snarg/streamstats/internal/database"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

type HealthHandler struct {
	db        *database.DB
	ready     *atomic.Bool
	version   string
	startTime time.Time
}

func NewHealthHandler(db *database.DB, ready *atomic.Bool, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		ready:     ready,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.startTime).Seconds())

	// Startup recovery still running: report 503 so orchestrators hold
	// traffic until the live table is restored.
	if !h.ready.Load() {
		WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:        "recovering",
			Version:       h.version,
			UptimeSeconds: uptime,
		})
		return
	}

	checks := make(map[string]string)
	status := "ok"
	httpStatus := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: uptime,
		Checks:        checks,
	})
}
