// Package chromem provides an embedded vector index for semantic memory
// search, backed by chromem-go. It registers a memory.VectorIndex under the
// "memory.index" service.
package chromem

import (
	"fmt"
	"log/slog"

	chromem "github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/memstore/internal/core"
)

// ServiceName is the service under which the index is registered.
const ServiceName = "memory.index"

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
)

// Config holds the chromem index configuration.
type Config struct {
	// Path persists the index to a directory. Empty keeps it in memory;
	// the store repopulates it from change events either way.
	Path string `yaml:"path"`

	// Compress gzips persisted documents.
	Compress bool `yaml:"compress"`
}

// Module provides the chromem vector index.
type Module struct {
	config Config
	index  *Index
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "vector.chromem",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("chromem: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	db := chromem.NewDB()
	if m.config.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(m.config.Path, m.config.Compress)
		if err != nil {
			return fmt.Errorf("chromem: open %s: %w", m.config.Path, err)
		}
	}
	m.index = NewIndex(db, m.logger)
	ctx.RegisterService(ServiceName, m.index)

	m.logger.Info("chromem vector index provisioned", "persistent", m.config.Path != "")
	return nil
}

// Index returns the provisioned index.
func (m *Module) Index() *Index {
	return m.index
}
