package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/memstore/internal/core"
	"github.com/flemzord/memstore/internal/memory"
	"github.com/flemzord/memstore/internal/telemetry"
	"github.com/flemzord/memstore/modules/broker/redis"
	"github.com/flemzord/memstore/modules/embedder/openai"
	"github.com/flemzord/memstore/modules/memory/sqlite"
	"github.com/flemzord/memstore/modules/vector/chromem"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// storeModule puts the store in the App lifecycle so it starts after the
// providers it depends on and closes before them.
type storeModule struct {
	store *memory.Store
}

func (m *storeModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: memory.ServiceName}
}

func (m *storeModule) Start() error {
	return m.store.Start(context.Background())
}

func (m *storeModule) Stop(context.Context) error {
	return m.store.Close()
}

// buildStore assembles the store from the services registered by the
// provider modules. Only the adapter is required.
func buildStore(appCtx *core.AppContext, cfg memory.Config, logger *slog.Logger, reg prometheus.Registerer) (*memory.Store, error) {
	adapter, err := core.Service[memory.Adapter](appCtx, sqlite.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("app: storage: %w", err)
	}

	opts := []memory.Option{memory.WithLogger(logger), memory.WithRegisterer(reg)}

	embedder, ok, err := optionalService[memory.Embedder](appCtx, openai.ServiceName)
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, memory.WithEmbedder(embedder))
	}

	index, ok, err := optionalService[memory.VectorIndex](appCtx, chromem.ServiceName)
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, memory.WithVectorIndex(index))
	}

	broker, ok, err := optionalService[memory.Broker](appCtx, redis.ServiceName)
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, memory.WithBroker(broker))
	}

	tp, ok, err := optionalService[trace.TracerProvider](appCtx, telemetry.ServiceName)
	if err != nil {
		return nil, err
	}
	if ok {
		opts = append(opts, memory.WithTracerProvider(tp))
	}

	store, err := memory.New(cfg, adapter, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: building store: %w", err)
	}
	logger.Info("memory store built",
		"dimension", store.Dimension(),
		"embedder", embedder != nil,
		"vector_index", index != nil,
		"broker", broker != nil,
	)
	return store, nil
}

// optionalService returns the service registered under name. A missing
// service is not an error; one of the wrong type is.
func optionalService[T any](appCtx *core.AppContext, name string) (T, bool, error) {
	var zero T
	if _, ok := appCtx.GetService(name); !ok {
		return zero, false, nil
	}
	svc, err := core.Service[T](appCtx, name)
	if err != nil {
		return zero, false, fmt.Errorf("app: %w", err)
	}
	return svc, true, nil
}
