package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flemzord/memstore/internal/core"
	"github.com/flemzord/memstore/internal/memory"
	"gopkg.in/yaml.v3"
)

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the cron module configuration.
type Config struct {
	BackfillSchedule string `yaml:"backfill_schedule"`
	BackfillBatch    int    `yaml:"backfill_batch"`

	// BackfillOnStart runs one backfill pass as soon as the module starts.
	BackfillOnStart bool `yaml:"backfill_on_start"`
}

// Module schedules the memory maintenance jobs. It consumes the store
// registered under memory.ServiceName.
type Module struct {
	config    Config
	scheduler *Scheduler
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "cron.scheduler",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("cron: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	store, err := core.Service[*memory.Store](ctx, memory.ServiceName)
	if err != nil {
		return fmt.Errorf("cron: %w", err)
	}

	m.scheduler = NewScheduler(m.logger)
	return m.scheduler.RegisterJob(&EmbeddingBackfillJob{
		Store:        store,
		Logger:       m.logger,
		BatchSize:    m.config.BackfillBatch,
		ScheduleExpr: m.config.BackfillSchedule,
	})
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.BackfillBatch < 0 {
		return fmt.Errorf("cron: backfill_batch must be non-negative, got %d", m.config.BackfillBatch)
	}
	if m.config.BackfillSchedule != "" {
		if err := ValidateSchedule(m.config.BackfillSchedule); err != nil {
			return fmt.Errorf("backfill_schedule: %w", err)
		}
	}
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	if err := m.scheduler.Start(); err != nil {
		return err
	}
	if m.config.BackfillOnStart {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.scheduler.Trigger(ctx, (&EmbeddingBackfillJob{}).Name())
		}()
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return m.scheduler.Stop(ctx)
}

// Scheduler returns the module's scheduler.
func (m *Module) Scheduler() *Scheduler {
	return m.scheduler
}
