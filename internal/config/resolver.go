package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/memstore/internal/core"
)

// stages orders module namespaces. Modules providing the store's
// dependencies come before the store is built; consumers come after.
var stages = map[string]int{
	"telemetry": 0,
	"memory":    1,
	"embedder":  2,
	"vector":    3,
	"broker":    4,
	"cron":      10,
	"gateway":   11,
}

// consumerStage is the first stage that needs the built store.
const consumerStage = 10

func stage(id string) int {
	if s, ok := stages[core.ModuleID(id).Namespace()]; ok {
		return s
	}
	return consumerStage + 100
}

// Resolve returns the configured module IDs split into providers, loaded
// before the store is built, and consumers, loaded after. Each list is in
// a deterministic order.
func Resolve(cfg *Config) (providers, consumers []string) {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(stage(a), stage(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	for _, id := range ids {
		if stage(id) < consumerStage {
			providers = append(providers, id)
		} else {
			consumers = append(consumers, id)
		}
	}
	return providers, consumers
}
