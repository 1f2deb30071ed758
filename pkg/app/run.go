// Package app provides the entry points shared by the memstore commands:
// the long-running service, the MCP stdio server and configuration checks.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/memstore/internal/config"
	"github.com/flemzord/memstore/internal/core"
	"github.com/flemzord/memstore/internal/cron"
	"github.com/flemzord/memstore/internal/gateway"
	"github.com/flemzord/memstore/internal/memory"
	"github.com/flemzord/memstore/internal/redact"
	"github.com/flemzord/memstore/internal/telemetry"
	"github.com/flemzord/memstore/modules/broker/redis"
	"github.com/flemzord/memstore/modules/embedder/openai"
	"github.com/flemzord/memstore/modules/memory/sqlite"
	"github.com/flemzord/memstore/modules/vector/chromem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RunParams configures the application.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version is injected at build time via ldflags.
	Version string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel overrides the configured log level when non-empty.
	LogLevel string
}

// Runtime is a fully wired application: every configured module is loaded
// and the store is built, but nothing is started yet.
type Runtime struct {
	App        *core.App
	Store      *memory.Store
	Logger     *slog.Logger
	ConfigPath string

	// Modules lists the loaded module IDs in load order.
	Modules []string
}

// Registry returns the registry of every module compiled into memstore.
func Registry() *core.Registry {
	return core.NewRegistry(
		&telemetry.Module{},
		&sqlite.Module{},
		&openai.Embedder{},
		&chromem.Module{},
		&redis.Module{},
		&cron.Module{},
		&gateway.Gateway{},
	)
}

// Run builds the application, starts every module and blocks until a
// shutdown signal is received.
func Run(params RunParams) error {
	rt, err := Build(params)
	if err != nil {
		return err
	}
	rt.Logger.Info("memstore starting",
		"version", params.Version,
		"config", rt.ConfigPath,
		"process_id", rt.Store.ProcessID(),
	)
	return rt.App.Run()
}

// Check builds the application without starting it and releases every
// resource again. It returns the modules that would be loaded.
func Check(params RunParams) ([]string, error) {
	rt, err := Build(params)
	if err != nil {
		return nil, err
	}
	rt.App.Stop()
	// Never started, so Stop skipped it.
	if err := rt.Store.Close(); err != nil {
		return nil, err
	}
	return rt.Modules, nil
}

// Build loads and validates the configuration, then loads modules in two
// stages. Providers (storage, embedder, index, broker, telemetry) come
// first; the store is built from the services they registered and
// appended to the lifecycle; consumers (scheduler, gateway) come last so
// they can discover the store.
func Build(params RunParams) (*Runtime, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	reg := Registry()
	if err := config.Validate(cfg, reg); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg, params.LogLevel)
	if err != nil {
		return nil, err
	}

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("app: creating data dir: %w", err)
	}

	appCtx := core.NewAppContext(logger, dataDir, reg).WithModuleConfigs(cfg.Modules)

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appCtx.RegisterService(gateway.MetricsServiceName, metricsReg)

	application := core.NewApp(appCtx)
	providers, consumers := config.Resolve(cfg)
	if err := application.LoadModules(providers); err != nil {
		return nil, err
	}

	store, err := buildStore(appCtx, cfg.Memory, logger, metricsReg)
	if err != nil {
		application.Stop()
		return nil, err
	}
	appCtx.RegisterService(memory.ServiceName, store)
	application.AppendModule(memory.ServiceName, &storeModule{store: store})

	if err := application.LoadModules(consumers); err != nil {
		return nil, err
	}

	modules := append(append([]string{}, providers...), memory.ServiceName)
	return &Runtime{
		App:        application,
		Store:      store,
		Logger:     logger,
		ConfigPath: cfgPath,
		Modules:    append(modules, consumers...),
	}, nil
}

// newLogger builds the process logger. Secret values found in module
// configuration are scrubbed from every line. Output goes to stderr so
// stdout stays free for the MCP transport.
func newLogger(cfg *config.Config, override string) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if override != "" {
		if err := level.UnmarshalText([]byte(override)); err != nil {
			return nil, fmt.Errorf("app: log level %q: %w", override, err)
		}
	}

	redactor := redact.New()
	for _, node := range cfg.Modules {
		redactor.CollectSecrets(&node)
	}

	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(redact.NewHandler(inner, redactor)), nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/memstore/memstore.yaml, then
// ~/.config/memstore/memstore.yaml, then ./memstore.yaml.
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "memstore", "memstore.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "memstore", "memstore.yaml"))
	}
	candidates = append(candidates, "memstore.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("app: no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns $XDG_DATA_HOME/memstore, or
// ~/.local/share/memstore when the variable is unset.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "memstore")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "memstore")
}
