// Package openai implements the embedder.openai module, turning record text
// into vectors through the OpenAI embeddings API.
package openai

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/flemzord/memstore/internal/core"
	"github.com/flemzord/memstore/internal/memory"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// ServiceName is the service under which the embedder is registered.
const ServiceName = "memory.embedder"

// Compile-time interface guards.
var (
	_ memory.Embedder   = (*Embedder)(nil)
	_ core.Module       = (*Embedder)(nil)
	_ core.Configurable = (*Embedder)(nil)
	_ core.Provisioner  = (*Embedder)(nil)
	_ core.Validator    = (*Embedder)(nil)
)

// Embedder implements memory.Embedder on the OpenAI embeddings API.
type Embedder struct {
	config  Config
	logger  *slog.Logger
	client  *http.Client
	limiter *rate.Limiter
}

// ModuleInfo implements core.Module.
func (e *Embedder) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "embedder.openai",
		New: func() core.Module { return &Embedder{} },
	}
}

// Configure implements core.Configurable.
func (e *Embedder) Configure(node *yaml.Node) error {
	if err := node.Decode(&e.config); err != nil {
		return err
	}
	e.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (e *Embedder) Provision(ctx *core.AppContext) error {
	e.config.defaults()
	e.logger = ctx.Logger
	e.client = &http.Client{
		Timeout: e.config.parsedTimeout(),
	}
	if e.config.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(e.config.RequestsPerSecond), e.config.Burst)
	}

	ctx.RegisterService(ServiceName, e)

	e.logger.Info("openai embedder provisioned",
		"model", e.config.Model,
		"dimensions", e.config.Dimensions,
		"rate_limited", e.limiter != nil,
	)
	return nil
}

// Validate implements core.Validator.
func (e *Embedder) Validate() error {
	if e.config.APIKey == "" {
		return errors.New("embedder.openai: api_key is required")
	}
	if e.config.Dimensions < 0 {
		return errors.New("embedder.openai: dimensions must be non-negative")
	}
	if e.config.RequestsPerSecond < 0 {
		return errors.New("embedder.openai: requests_per_second must be non-negative")
	}
	return e.config.validateTimeout()
}

// Model returns the configured model identifier.
func (e *Embedder) Model() string {
	return e.config.Model
}
