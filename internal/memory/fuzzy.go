package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	gocache "github.com/patrickmn/go-cache"
)

// Fuzzy cache defaults.
const (
	DefaultFuzzyTextLength = 250
	defaultFuzzyThreshold  = 0.9
	defaultFuzzyTTL        = 10 * time.Minute
	// similarityCeiling bounds the inputs of the edit-distance scorer.
	similarityCeiling = 1024
)

var errInputTooLong = errors.New("memory: similarity input too long")

// FuzzyCacheConfig controls the approximate-match search cache.
type FuzzyCacheConfig struct {
	Disabled      bool          `yaml:"disabled"`
	MaxTextLength int           `yaml:"max_text_length"`
	Threshold     float64       `yaml:"threshold"`
	TTL           time.Duration `yaml:"ttl"`
}

func (c *FuzzyCacheConfig) defaults() {
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = DefaultFuzzyTextLength
	}
	if c.MaxTextLength > similarityCeiling {
		c.MaxTextLength = similarityCeiling
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = defaultFuzzyThreshold
	}
	if c.TTL <= 0 {
		c.TTL = defaultFuzzyTTL
	}
}

// FuzzyScope identifies the search parameters a cached result was produced
// under. Entries only serve lookups with an equal scope.
type FuzzyScope struct {
	Partition string
	Limit     int
	Threshold float32
}

func (s FuzzyScope) prefix() string {
	return s.Partition + "\x00" + strconv.Itoa(s.Limit) + "\x00" +
		strconv.FormatFloat(float64(s.Threshold), 'g', -1, 32) + "\x00"
}

type fuzzyEntry struct {
	scope   FuzzyScope
	text    string
	records []*Record
}

// FuzzyCache remembers search results per room and serves them for
// near-identical query text. It is an optimization only: every failure is
// a miss.
type FuzzyCache struct {
	cfg    FuzzyCacheConfig
	items  *gocache.Cache
	logger *slog.Logger
}

// NewFuzzyCache returns a cache configured by cfg.
func NewFuzzyCache(cfg FuzzyCacheConfig, logger *slog.Logger) *FuzzyCache {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FuzzyCache{
		cfg:    cfg,
		items:  gocache.New(cfg.TTL, 2*cfg.TTL),
		logger: logger,
	}
}

// Truncate cuts text to the configured number of runes.
func (c *FuzzyCache) Truncate(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) > c.cfg.MaxTextLength {
		return string(r[:c.cfg.MaxTextLength])
	}
	return text
}

func cacheKey(scope FuzzyScope, text string) string {
	return scope.prefix() + text
}

// Lookup returns cached records for text under scope, or false on a miss.
func (c *FuzzyCache) Lookup(scope FuzzyScope, text string) (recs []*Record, ok bool) {
	if c == nil || c.cfg.Disabled {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("memory: fuzzy cache lookup failed", "panic", r)
			recs, ok = nil, false
		}
	}()

	text = c.Truncate(text)
	if text == "" {
		return nil, false
	}
	if v, found := c.items.Get(cacheKey(scope, text)); found {
		return cloneRecords(v.(*fuzzyEntry).records), true
	}

	var best *fuzzyEntry
	bestScore := c.cfg.Threshold
	for _, item := range c.items.Items() {
		e, isEntry := item.Object.(*fuzzyEntry)
		if !isEntry || e.scope != scope {
			continue
		}
		score, err := similarity(text, e.text, similarityCeiling)
		if err != nil {
			c.logger.Debug("memory: fuzzy cache score skipped", "error", err)
			continue
		}
		if score >= bestScore {
			best, bestScore = e, score
		}
	}
	if best == nil {
		return nil, false
	}
	return cloneRecords(best.records), true
}

// Store caches recs as the result for text under scope.
func (c *FuzzyCache) Store(scope FuzzyScope, text string, recs []*Record) {
	if c == nil || c.cfg.Disabled {
		return
	}
	text = c.Truncate(text)
	if text == "" {
		return
	}
	c.items.SetDefault(cacheKey(scope, text), &fuzzyEntry{
		scope:   scope,
		text:    text,
		records: cloneRecords(recs),
	})
}

// Purge drops every entry of partition, whatever its limit and threshold.
func (c *FuzzyCache) Purge(partition string) {
	if c == nil {
		return
	}
	prefix := partition + "\x00"
	for k := range c.items.Items() {
		if strings.HasPrefix(k, prefix) {
			c.items.Delete(k)
		}
	}
}

// Len returns the number of unexpired entries.
func (c *FuzzyCache) Len() int { return c.items.ItemCount() }

// similarity scores a and b in [0,1] by normalized edit distance.
func similarity(a, b string, ceiling int) (float64, error) {
	la, lb := len([]rune(a)), len([]rune(b))
	if la > ceiling || lb > ceiling {
		return 0, fmt.Errorf("%w: %d/%d runes, ceiling %d", errInputTooLong, la, lb, ceiling)
	}
	longest := max(la, lb)
	if longest == 0 {
		return 1, nil
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest), nil
}

func cloneRecords(recs []*Record) []*Record {
	out := make([]*Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}
