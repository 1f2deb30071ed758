package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/memstore/internal/memory"
)

// eventWriteTimeout bounds a single websocket write.
const eventWriteTimeout = 5 * time.Second

// handleEvents upgrades GET /ws/events?kind= to a websocket and streams
// change events as JSON text frames. Without kind every event is sent.
// Clients only receive; anything they send is discarded.
func (g *Gateway) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := memory.Kind(r.URL.Query().Get("kind"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("gateway: websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()

		g.streamWG.Add(1)
		defer g.streamWG.Done()

		// CloseRead handles control frames and ends ctx when the client goes away.
		ctx := conn.CloseRead(r.Context())
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(g.streams, cancel)
		defer stop()

		queue := make(chan memory.Event, g.config.StreamBuffer)
		overflow := make(chan struct{})
		var overflowed bool
		sub := g.store.Subscribe(kind, func(ev memory.Event) {
			select {
			case queue <- ev:
			default:
				// Handlers run on the store's single dispatch goroutine.
				if !overflowed {
					overflowed = true
					close(overflow)
				}
			}
		})
		defer g.store.Unsubscribe(sub)
		g.metrics.streamOpened()
		defer g.metrics.streamClosed()

		g.logger.Debug("gateway: event stream opened", "kind", string(kind), "remote_addr", r.RemoteAddr)
		for {
			select {
			case <-ctx.Done():
				if g.streams.Err() != nil {
					_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				}
				return
			case <-overflow:
				g.metrics.streamDropped()
				g.logger.Warn("gateway: event stream too slow, disconnecting", "remote_addr", r.RemoteAddr)
				_ = conn.Close(websocket.StatusPolicyViolation, "event stream overflow")
				return
			case ev := <-queue:
				if err := g.writeEvent(ctx, conn, ev); err != nil {
					g.logger.Debug("gateway: event write failed", "error", err)
					return
				}
			}
		}
	}
}

func (g *Gateway) writeEvent(ctx context.Context, conn *websocket.Conn, ev memory.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
