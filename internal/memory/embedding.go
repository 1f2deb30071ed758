package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// Default embedding settings.
const (
	DefaultDimension      = 1536
	DefaultEmbeddingModel = "text-embedding-3-small"
	defaultCacheSize      = 10_000
)

// EmbeddingConfig controls vector generation.
type EmbeddingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dimension int    `yaml:"dimension"`
	Model     string `yaml:"model"`
	// CacheSize bounds the number of cached text embeddings. Negative
	// disables the cache.
	CacheSize int64 `yaml:"cache_size"`
}

func (c *EmbeddingConfig) defaults() {
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
	if c.Model == "" {
		c.Model = DefaultEmbeddingModel
	}
	if c.CacheSize == 0 {
		c.CacheSize = defaultCacheSize
	}
}

// Normalizer attaches embeddings of a fixed dimension to records. Provider
// failures never escape it: the record gets a zero vector and a fallback
// annotation instead.
type Normalizer struct {
	cfg      EmbeddingConfig
	embedder Embedder
	cache    *ristretto.Cache
	group    singleflight.Group
	logger   *slog.Logger
	metrics  *Metrics
}

// NewNormalizer builds a Normalizer. Generation is disabled when embedder
// is nil, whatever cfg says.
func NewNormalizer(cfg EmbeddingConfig, embedder Embedder, logger *slog.Logger, metrics *Metrics) (*Normalizer, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	n := &Normalizer{cfg: cfg, embedder: embedder, logger: logger, metrics: metrics}
	if cfg.Enabled && embedder == nil {
		logger.Warn("memory: embeddings enabled without a provider, using zero vectors")
	}
	if cfg.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: cfg.CacheSize * 10,
			MaxCost:     cfg.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("memory: embedding cache: %w", err)
		}
		n.cache = cache
	}
	return n, nil
}

// Dimension returns D.
func (n *Normalizer) Dimension() int { return n.cfg.Dimension }

// Enabled reports whether a provider will be called.
func (n *Normalizer) Enabled() bool { return n.cfg.Enabled && n.embedder != nil }

// Normalize pads or truncates vec to D.
func (n *Normalizer) Normalize(vec []float32) []float32 {
	return FitDimension(vec, n.cfg.Dimension)
}

// Attach sets rec.Embedding to a vector of length D and returns rec.
func (n *Normalizer) Attach(ctx context.Context, rec *Record) *Record {
	d := n.cfg.Dimension
	if !n.Enabled() {
		rec.Embedding = ZeroVector(d)
		return rec
	}
	if rec.Embedding != nil {
		if len(rec.Embedding) != d {
			n.logger.Warn("memory: discarding embedding of wrong dimension",
				"id", rec.ID, "got", len(rec.Embedding), "want", d)
			rec.Embedding = ZeroVector(d)
		}
		return rec
	}
	text := strings.TrimSpace(rec.Text())
	if text == "" {
		rec.Embedding = ZeroVector(d)
		return rec
	}

	vec, err := n.embed(ctx, text)
	if err == nil && len(vec) != d {
		err = fmt.Errorf("provider returned dimension %d, want %d", len(vec), d)
	}
	if err != nil {
		n.degrade(rec, err)
		return rec
	}
	rec.Embedding = vec
	if rec.Payload != nil {
		rec.Payload.Unannotate(AnnotationEmbeddingFallback)
		rec.Payload.Unannotate(AnnotationEmbeddingFallbackReason)
	}
	return rec
}

func (n *Normalizer) degrade(rec *Record, cause error) {
	rec.Embedding = ZeroVector(n.cfg.Dimension)
	if rec.Payload != nil {
		rec.Payload.Annotate(AnnotationEmbeddingFallback, true)
		rec.Payload.Annotate(AnnotationEmbeddingFallbackReason, cause.Error())
	}
	degraded := &EmbeddingDegradedError{RecordID: rec.ID, Reason: cause.Error()}
	n.logger.Warn("memory: embedding fallback", "kind", rec.Kind, "error", degraded)
	n.metrics.fallback()
}

// EmbedQuery embeds search text and normalizes the result to D. It returns
// a zero vector when generation is disabled.
func (n *Normalizer) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if !n.Enabled() || text == "" {
		return ZeroVector(n.cfg.Dimension), nil
	}
	vec, err := n.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingDegraded, err)
	}
	return n.Normalize(vec), nil
}

// embed calls the provider, sharing one call among concurrent requests for
// the same text.
func (n *Normalizer) embed(ctx context.Context, text string) ([]float32, error) {
	key := n.cfg.Model + "\x00" + text
	if n.cache != nil {
		if v, ok := n.cache.Get(key); ok {
			return slices.Clone(v.([]float32)), nil
		}
	}
	v, err, _ := n.group.Do(key, func() (any, error) {
		vec, err := n.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if n.cache != nil && len(vec) == n.cfg.Dimension {
			n.cache.Set(key, slices.Clone(vec), 1)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]float32)), nil
}

// Close releases the embedding cache.
func (n *Normalizer) Close() {
	if n.cache != nil {
		n.cache.Close()
	}
}
