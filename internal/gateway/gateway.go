// Package gateway exposes the memory store over HTTP: a JSON API for
// records and search, a websocket change stream, health, status and
// Prometheus metrics. It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flemzord/memstore/internal/core"
	"github.com/flemzord/memstore/internal/memory"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// MetricsServiceName is the optional service holding the Prometheus
// registry served on /metrics.
const MetricsServiceName = "metrics.registry"

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the HTTP gateway module. It consumes the store registered
// under memory.ServiceName.
type Gateway struct {
	config   Config
	logger   *slog.Logger
	store    *memory.Store
	gatherer prometheus.Gatherer
	metrics  *Metrics
	limiter  *rate.Limiter
	server   *http.Server
	addr     net.Addr

	startedAt time.Time

	// streams is cancelled on Stop to end websocket streams, which
	// http.Server.Shutdown does not track.
	streams      context.Context
	closeStreams context.CancelFunc
	streamWG     sync.WaitGroup
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return fmt.Errorf("gateway: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	store, err := core.Service[*memory.Store](ctx, memory.ServiceName)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	g.init(store, ctx.Logger)
	if reg, err := core.Service[*prometheus.Registry](ctx, MetricsServiceName); err == nil {
		g.gatherer = reg
	}
	return nil
}

// init wires the gateway to store. It is shared by Provision and tests.
func (g *Gateway) init(store *memory.Store, logger *slog.Logger) {
	g.config.defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g.logger = logger
	g.store = store
	g.gatherer = prometheus.DefaultGatherer
	g.metrics = &Metrics{}
	if g.config.Auth.AttemptsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(g.config.Auth.AttemptsPerSecond), g.config.Auth.AttemptBurst)
	}
	g.streams, g.closeStreams = context.WithCancel(context.Background())
	g.startedAt = time.Now()
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	return g.config.validate()
}

// Start implements core.Starter. It listens on the configured address and
// serves in the background.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}
	g.addr = ln.Addr()

	go func() {
		g.logger.Info("gateway listening", "addr", g.addr.String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	g.closeStreams()
	err := g.server.Shutdown(shutdownCtx)
	g.streamWG.Wait()
	return err
}

// Addr returns the address the gateway listens on once started.
func (g *Gateway) Addr() net.Addr {
	return g.addr
}
