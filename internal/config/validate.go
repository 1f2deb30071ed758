package config

import (
	"errors"
	"fmt"

	"github.com/flemzord/memstore/internal/core"
)

// Validate checks the structural validity of a Config against the modules
// known to reg. It verifies the version field, the log level, the memory
// settings, and that exactly one storage module is configured.
func Validate(cfg *Config, reg *core.Registry) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if _, err := cfg.Level(); err != nil {
		errs = append(errs, err)
	}

	if err := cfg.Memory.WithDefaults().Validate(); err != nil {
		errs = append(errs, err)
	}

	storage := 0
	for id := range cfg.Modules {
		if _, ok := reg.Get(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
			continue
		}
		if core.ModuleID(id).Namespace() == "memory" {
			storage++
		}
	}
	switch {
	case storage == 0:
		errs = append(errs, errors.New("config: a storage module (memory.*) must be configured"))
	case storage > 1:
		errs = append(errs, fmt.Errorf("config: %d storage modules configured, want exactly one", storage))
	}

	return errors.Join(errs...)
}
