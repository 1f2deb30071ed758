package memory

import (
	"context"
	"log/slog"
	"time"
)

type loggedCallKey struct{}

// enterCall marks ctx for the duration of one adapter call. It reports
// false when an outer call already holds the mark, so nested calls made
// with the same context are not logged twice.
func enterCall(ctx context.Context) (context.Context, bool) {
	if ctx.Value(loggedCallKey{}) != nil {
		return ctx, false
	}
	return context.WithValue(ctx, loggedCallKey{}, true), true
}

// WithLogging decorates a with per-call debug logging.
func WithLogging(a Adapter, logger *slog.Logger) Adapter {
	if logger == nil {
		return a
	}
	return &loggingAdapter{Adapter: a, logger: logger}
}

type loggingAdapter struct {
	Adapter
	logger *slog.Logger
}

func (a *loggingAdapter) Acquire(ctx context.Context) (Conn, error) {
	conn, err := a.Adapter.Acquire(ctx)
	if err != nil {
		a.logger.Warn("memory: acquire connection", "error", err)
		return nil, err
	}
	return &loggingConn{conn: conn, logger: a.logger}, nil
}

type loggingConn struct {
	conn   Conn
	logger *slog.Logger
}

var _ Conn = (*loggingConn)(nil)

func (c *loggingConn) done(ctx context.Context, top bool, op string, start time.Time, err error, attrs ...any) {
	if !top {
		return
	}
	attrs = append(attrs, "op", op, "duration", time.Since(start))
	if err != nil {
		c.logger.WarnContext(ctx, "memory: adapter call failed", append(attrs, "error", err)...)
		return
	}
	c.logger.DebugContext(ctx, "memory: adapter call", attrs...)
}

func (c *loggingConn) Exec(ctx context.Context, stmt string) error {
	ctx, top := enterCall(ctx)
	start := time.Now()
	err := c.conn.Exec(ctx, stmt)
	c.done(ctx, top, "exec", start, err, "stmt", stmt)
	return err
}

func (c *loggingConn) Insert(ctx context.Context, rec *Record, uniqueKey string) error {
	ctx, top := enterCall(ctx)
	start := time.Now()
	err := c.conn.Insert(ctx, rec, uniqueKey)
	c.done(ctx, top, "insert", start, err, "id", rec.ID, "kind", rec.Kind)
	return err
}

func (c *loggingConn) GetByID(ctx context.Context, id string) (*Record, error) {
	ctx, top := enterCall(ctx)
	start := time.Now()
	rec, err := c.conn.GetByID(ctx, id)
	c.done(ctx, top, "get", start, err, "id", id)
	return rec, err
}

func (c *loggingConn) UpdateIfVersion(ctx context.Context, rec *Record, uniqueKey string, expected int) (bool, error) {
	ctx, top := enterCall(ctx)
	start := time.Now()
	ok, err := c.conn.UpdateIfVersion(ctx, rec, uniqueKey, expected)
	c.done(ctx, top, "update", start, err, "id", rec.ID, "expected", expected, "applied", ok)
	return ok, err
}

func (c *loggingConn) Delete(ctx context.Context, id string) (bool, error) {
	ctx, top := enterCall(ctx)
	start := time.Now()
	ok, err := c.conn.Delete(ctx, id)
	c.done(ctx, top, "delete", start, err, "id", id, "deleted", ok)
	return ok, err
}

func (c *loggingConn) FindUnique(ctx context.Context, key string) (string, bool, error) {
	ctx, top := enterCall(ctx)
	start := time.Now()
	id, ok, err := c.conn.FindUnique(ctx, key)
	c.done(ctx, top, "find_unique", start, err, "key", key, "found", ok)
	return id, ok, err
}

func (c *loggingConn) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	ctx, top := enterCall(ctx)
	start := time.Now()
	err := c.conn.AppendHistory(ctx, entry)
	c.done(ctx, top, "append_history", start, err, "id", entry.RecordID, "version", entry.Version)
	return err
}

func (c *loggingConn) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	ctx, top := enterCall(ctx)
	start := time.Now()
	h, err := c.conn.History(ctx, id)
	c.done(ctx, top, "history", start, err, "id", id, "entries", len(h))
	return h, err
}

func (c *loggingConn) GetByPartition(ctx context.Context, partition string, limit int, cursor string) ([]*Record, error) {
	ctx, top := enterCall(ctx)
	start := time.Now()
	recs, err := c.conn.GetByPartition(ctx, partition, limit, cursor)
	c.done(ctx, top, "list", start, err, "partition", partition, "limit", limit, "rows", len(recs))
	return recs, err
}

func (c *loggingConn) SearchVector(ctx context.Context, partition string, vec []float32, threshold float32, limit int) ([]*Record, error) {
	ctx, top := enterCall(ctx)
	start := time.Now()
	recs, err := c.conn.SearchVector(ctx, partition, vec, threshold, limit)
	c.done(ctx, top, "search_vector", start, err, "partition", partition, "rows", len(recs))
	return recs, err
}

func (c *loggingConn) ListDegraded(ctx context.Context, limit int) ([]string, error) {
	ctx, top := enterCall(ctx)
	start := time.Now()
	ids, err := c.conn.ListDegraded(ctx, limit)
	c.done(ctx, top, "list_degraded", start, err, "rows", len(ids))
	return ids, err
}

func (c *loggingConn) Release() { c.conn.Release() }
