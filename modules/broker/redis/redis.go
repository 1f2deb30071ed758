// Package redis provides the cross-process change broker for the memory
// store on Redis pub/sub. It registers a memory.Broker under the
// "memory.broker" service.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/memstore/internal/core"
)

// ServiceName is the service under which the broker is registered.
const ServiceName = "memory.broker"

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module connects to Redis and exposes a Broker.
type Module struct {
	config Config
	client *goredis.Client
	broker *Broker
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "broker.redis",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("redis: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	if err := m.config.validate(); err != nil {
		return err
	}
	m.logger = ctx.Logger

	opts, err := goredis.ParseURL(m.config.URL)
	if err != nil {
		return fmt.Errorf("redis: parse url: %w", err)
	}
	opts.DialTimeout = m.config.DialTimeout
	opts.ReadTimeout = m.config.ReadTimeout
	opts.WriteTimeout = m.config.WriteTimeout

	m.client = goredis.NewClient(opts)
	m.broker = NewBroker(m.client, m.logger)
	ctx.RegisterService(ServiceName, m.broker)

	m.logger.Info("redis broker provisioned", "addr", opts.Addr, "db", opts.DB)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.DialTimeout)
	defer cancel()
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.client == nil {
		return nil
	}
	m.logger.Info("redis broker stopping")
	return m.client.Close()
}

// Broker returns the provisioned broker.
func (m *Module) Broker() *Broker {
	return m.broker
}
