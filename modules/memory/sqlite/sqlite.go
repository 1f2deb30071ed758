// Package sqlite implements the persistent storage module for the memory
// store. It uses modernc.org/sqlite (pure Go, no CGO) in WAL mode and
// registers a memory.Adapter under the "memory.adapter" service.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/flemzord/memstore/internal/core"
	"gopkg.in/yaml.v3"
)

// ServiceName is the service under which the adapter is registered.
const ServiceName = "memory.adapter"

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module provides the SQLite-backed memory adapter.
type Module struct {
	config  Config
	adapter *Adapter
	logger  *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "memory.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	adapter, err := Open(context.Background(), m.config)
	if err != nil {
		return err
	}
	m.adapter = adapter
	m.config.defaults()

	ctx.RegisterService(ServiceName, adapter)

	m.logger.Info("sqlite memory module provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
		"max_open_conns", m.config.MaxOpenConns,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.adapter == nil {
		return errors.New("sqlite: module not provisioned")
	}
	if err := m.adapter.Ping(context.Background()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.adapter == nil {
		return nil
	}
	m.logger.Info("sqlite memory module stopping")
	return m.adapter.Close()
}

// Adapter returns the provisioned adapter.
func (m *Module) Adapter() *Adapter {
	return m.adapter
}
