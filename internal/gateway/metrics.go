package gateway

import (
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5/middleware"
)

// Metrics tracks gateway-level counters using atomic operations for lock-free concurrency.
type Metrics struct {
	requests     atomic.Int64
	clientErrors atomic.Int64
	serverErrors atomic.Int64
	streams      atomic.Int64
	dropped      atomic.Int64
}

// middleware counts every request by response class.
func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		m.requests.Add(1)
		switch status := ww.Status(); {
		case status >= 500:
			m.serverErrors.Add(1)
		case status >= 400:
			m.clientErrors.Add(1)
		}
	})
}

func (m *Metrics) streamOpened()  { m.streams.Add(1) }
func (m *Metrics) streamClosed()  { m.streams.Add(-1) }
func (m *Metrics) streamDropped() { m.dropped.Add(1) }

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:       m.requests.Load(),
		ClientErrors:   m.clientErrors.Load(),
		ServerErrors:   m.serverErrors.Load(),
		Streams:        m.streams.Load(),
		DroppedStreams: m.dropped.Load(),
	}
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Requests       int64 `json:"requests"`
	ClientErrors   int64 `json:"client_errors"`
	ServerErrors   int64 `json:"server_errors"`
	Streams        int64 `json:"streams"`
	DroppedStreams int64 `json:"dropped_streams"`
}
