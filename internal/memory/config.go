package memory

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds the store settings. The zero value is usable after
// WithDefaults.
type Config struct {
	// ProcessID tags outgoing events. Empty means hostname-pid-random.
	ProcessID  string           `yaml:"process_id"`
	Topic      string           `yaml:"topic"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	FuzzyCache FuzzyCacheConfig `yaml:"fuzzy_cache"`
	Partition  PartitionConfig  `yaml:"partition"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	c.Embedding.defaults()
	c.Retrieval.defaults()
	c.FuzzyCache.defaults()
	c.Partition.defaults()
	return c
}

// Validate checks c after defaults are applied.
func (c Config) Validate() error {
	var errs []error
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("memory: embedding.dimension must be positive, got %d", c.Embedding.Dimension))
	}
	if c.Retrieval.Threshold <= 0 || c.Retrieval.Threshold > 1 {
		errs = append(errs, fmt.Errorf("memory: retrieval.threshold must be in (0,1], got %v", c.Retrieval.Threshold))
	}
	if c.Retrieval.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("memory: retrieval.default_limit must be positive, got %d", c.Retrieval.DefaultLimit))
	}
	for i, k := range c.Partition.GlobalKinds {
		if strings.TrimSpace(string(k)) == "" {
			errs = append(errs, fmt.Errorf("memory: partition.global_kinds[%d] is empty", i))
		}
	}
	for i, cl := range c.Partition.PrivilegedClasses {
		if strings.TrimSpace(cl) == "" {
			errs = append(errs, fmt.Errorf("memory: partition.privileged_classes[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}
