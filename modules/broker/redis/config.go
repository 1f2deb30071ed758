package redis

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultURL          = "redis://localhost:6379/0"
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Config holds the Redis broker module configuration.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string `yaml:"url"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = defaultURL
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("redis: dial_timeout must be non-negative, got %s", c.DialTimeout))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("redis: read_timeout must be non-negative, got %s", c.ReadTimeout))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("redis: write_timeout must be non-negative, got %s", c.WriteTimeout))
	}
	if c.URL == "" {
		errs = append(errs, errors.New("redis: url is required"))
	}
	return errors.Join(errs...)
}
