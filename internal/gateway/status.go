package gateway

import (
	"net/http"
	"time"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime    int64           `json:"uptime_seconds"`
	ProcessID string          `json:"process_id"`
	Dimension int             `json:"dimension"`
	Degraded  int             `json:"degraded_records"`
	Metrics   MetricsSnapshot `json:"metrics"`
}

// statusDegradedLimit caps the degraded-record count reported by /status.
const statusDegradedLimit = 1000

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Uptime:    int64(time.Since(g.startedAt).Seconds()),
			ProcessID: g.store.ProcessID(),
			Dimension: g.store.Dimension(),
			Metrics:   g.metrics.Snapshot(),
		}
		if ids, err := g.store.Degraded(r.Context(), statusDegradedLimit); err == nil {
			resp.Degraded = len(ids)
		} else {
			g.logger.Warn("gateway: degraded count unavailable", "error", err)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
