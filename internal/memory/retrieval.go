package memory

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
)

// Retrieval defaults.
const (
	DefaultSearchLimit      = 10
	defaultThreshold        = 0.75
	defaultFallbackMinFetch = 30
	defaultFallbackBuffer   = 5
)

// RetrievalConfig controls search.
type RetrievalConfig struct {
	DefaultLimit     int     `yaml:"default_limit"`
	Threshold        float32 `yaml:"threshold"`
	FallbackMinFetch int     `yaml:"fallback_min_fetch"`
	// FallbackBuffer is kept on top of the limit. Negative means none.
	FallbackBuffer int `yaml:"fallback_buffer"`
}

func (c *RetrievalConfig) defaults() {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultSearchLimit
	}
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.FallbackMinFetch <= 0 {
		c.FallbackMinFetch = defaultFallbackMinFetch
	}
	if c.FallbackBuffer == 0 {
		c.FallbackBuffer = defaultFallbackBuffer
	}
}

// RetrievalEngine runs semantic search and the lexical fallback.
type RetrievalEngine struct {
	cfg    RetrievalConfig
	index  VectorIndex
	logger *slog.Logger
}

// NewRetrievalEngine returns an engine. index may be nil, in which case
// semantic search uses the adapter.
func NewRetrievalEngine(cfg RetrievalConfig, index VectorIndex, logger *slog.Logger) *RetrievalEngine {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RetrievalEngine{cfg: cfg, index: index, logger: logger}
}

// SearchSemantic returns records of partition similar to vec, best first.
func (e *RetrievalEngine) SearchSemantic(ctx context.Context, conn Conn, vec []float32, partition string, threshold float32, limit int) ([]*Record, error) {
	if e.index == nil {
		recs, err := conn.SearchVector(ctx, partition, vec, threshold, limit)
		return recs, Transient("vector search", err)
	}

	ids, err := e.index.Query(ctx, partition, vec, threshold, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := conn.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index lags a delete.
			continue
		}
		if err != nil {
			return nil, Transient("vector search", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// SearchFallback returns the most recent useful records of partition:
// fetch extra, sort newest first, drop noise, keep limit plus buffer. The
// newest user-authored record always survives, even when a filter or the
// truncation would have dropped it.
func (e *RetrievalEngine) SearchFallback(ctx context.Context, conn Conn, partition string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	fetch := max(e.cfg.FallbackMinFetch, 2*limit)
	recs, err := conn.GetByPartition(ctx, partition, fetch, "")
	if err != nil {
		return nil, Transient("fallback search", err)
	}
	return selectRecent(recs, limit+max(e.cfg.FallbackBuffer, 0)), nil
}

// selectRecent applies the fallback ordering, filtering and truncation to
// recs.
func selectRecent(recs []*Record, window int) []*Record {
	slices.SortStableFunc(recs, newestFirst)

	var newest *Record
	for _, r := range recs {
		if userAuthored(r) {
			newest = r
			break
		}
	}

	kept := make([]*Record, 0, min(len(recs), window))
	for _, r := range recs {
		if isNoise(r) {
			continue
		}
		kept = append(kept, r)
		if len(kept) == window {
			break
		}
	}

	if newest != nil && !slices.ContainsFunc(kept, func(r *Record) bool { return r.ID == newest.ID }) {
		kept = slices.Insert(kept, 0, newest)
		if len(kept) > window {
			kept = kept[:window]
		}
	}
	return kept
}

func userAuthored(r *Record) bool {
	m, ok := r.Payload.(*Message)
	return ok && m.UserAuthored()
}

// isNoise reports records excluded from lexical retrieval.
func isNoise(r *Record) bool {
	switch r.Kind {
	case KindSystem, KindError:
		return true
	}
	if m, ok := r.Payload.(*Message); ok && m.Role == RoleSystem {
		return true
	}
	return strings.TrimSpace(r.Text()) == ""
}
