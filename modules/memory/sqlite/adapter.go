package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/memstore/internal/memory"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Adapter is a memory.Adapter backed by a SQLite database file. Each
// Acquire pins one pooled connection; transactions are opened with
// BEGIN IMMEDIATE so concurrent writers queue on the busy timeout instead
// of failing at commit.
type Adapter struct {
	db   *sql.DB
	path string
}

var _ memory.Adapter = (*Adapter)(nil)

// Open opens (creating if needed) the database described by cfg and
// migrates its schema.
func Open(ctx context.Context, cfg Config) (*Adapter, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Adapter{db: db, path: cfg.Path}, nil
}

// dsn carries the pragmas in the connection string so that every pooled
// connection gets them, not just the first one.
func dsn(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout))
	if cfg.walEnabled() {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Path returns the database file path.
func (a *Adapter) Path() string { return a.path }

// Acquire pins a pooled connection until Release.
func (a *Adapter) Acquire(ctx context.Context) (memory.Conn, error) {
	c, err := a.db.Conn(ctx)
	if err != nil {
		return nil, memory.Transient("acquire", err)
	}
	return &conn{c: c}, nil
}

// Ping checks that the database is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return memory.Transient("ping", err)
	}
	return nil
}

// Close closes the pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

type conn struct {
	c      *sql.Conn
	inTx   bool
	closed bool
}

var _ memory.Conn = (*conn)(nil)

const recordColumns = `id, kind, partition_id, owner_id, agent_id, payload, embedding, version, created_at, updated_at`

func (c *conn) Exec(ctx context.Context, stmt string) error {
	fields := strings.Fields(strings.ToUpper(stmt))
	if len(fields) == 0 {
		return errors.New("sqlite: empty statement")
	}
	query := stmt
	if len(fields) == 1 && fields[0] == "BEGIN" {
		query = "BEGIN IMMEDIATE"
	}
	if _, err := c.c.ExecContext(ctx, query); err != nil {
		return memory.Transient("exec", err)
	}
	switch {
	case fields[0] == "BEGIN":
		c.inTx = true
	case fields[0] == "COMMIT" || fields[0] == "END":
		c.inTx = false
	case fields[0] == "ROLLBACK" && len(fields) == 1:
		c.inTx = false
	}
	return nil
}

func (c *conn) Insert(ctx context.Context, rec *memory.Record, uniqueKey string) error {
	payload, err := memory.EncodePayload(rec.Payload)
	if err != nil {
		return err
	}
	_, err = c.c.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`, embedding_degraded, unique_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.Partition, rec.OwnerID, rec.AgentID, string(payload),
		encodeVector(rec.Embedding), rec.Version, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
		rec.Degraded(), nullable(uniqueKey),
	)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return memory.Transient("insert", err)
	}
	if strings.Contains(err.Error(), "records.id") {
		return &memory.ConflictError{Kind: rec.Kind, Key: "id=" + rec.ID, ExistingID: rec.ID}
	}
	return c.conflict(ctx, rec.Kind, uniqueKey)
}

// conflict builds a ConflictError naming the record that holds key.
func (c *conn) conflict(ctx context.Context, kind memory.Kind, key string) error {
	existing, _, err := c.FindUnique(ctx, key)
	if err != nil {
		return err
	}
	return &memory.ConflictError{Kind: kind, Key: key, ExistingID: existing}
}

func (c *conn) GetByID(ctx context.Context, id string) (*memory.Record, error) {
	row := c.c.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &memory.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, memory.Transient("get", err)
	}
	return rec, nil
}

func (c *conn) UpdateIfVersion(ctx context.Context, rec *memory.Record, uniqueKey string, expected int) (bool, error) {
	payload, err := memory.EncodePayload(rec.Payload)
	if err != nil {
		return false, err
	}
	res, err := c.c.ExecContext(ctx,
		`UPDATE records
		 SET kind = ?, partition_id = ?, owner_id = ?, agent_id = ?, payload = ?,
		     embedding = ?, embedding_degraded = ?, unique_key = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(rec.Kind), rec.Partition, rec.OwnerID, rec.AgentID, string(payload),
		encodeVector(rec.Embedding), rec.Degraded(), nullable(uniqueKey), rec.Version, rec.UpdatedAt.UnixNano(),
		rec.ID, expected,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, c.conflict(ctx, rec.Kind, uniqueKey)
		}
		return false, memory.Transient("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, memory.Transient("update", err)
	}
	return n == 1, nil
}

func (c *conn) Delete(ctx context.Context, id string) (bool, error) {
	res, err := c.c.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return false, memory.Transient("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, memory.Transient("delete", err)
	}
	if n == 0 {
		return false, nil
	}
	if _, err := c.c.ExecContext(ctx, `DELETE FROM record_history WHERE record_id = ?`, id); err != nil {
		return false, memory.Transient("delete history", err)
	}
	return true, nil
}

func (c *conn) FindUnique(ctx context.Context, key string) (string, bool, error) {
	var id string
	err := c.c.QueryRowContext(ctx, `SELECT id FROM records WHERE unique_key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, memory.Transient("find unique", err)
	}
	return id, true, nil
}

func (c *conn) AppendHistory(ctx context.Context, entry memory.HistoryEntry) error {
	_, err := c.c.ExecContext(ctx,
		`INSERT INTO record_history (record_id, version, kind, payload, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RecordID, entry.Version, string(entry.Kind), string(entry.Snapshot), entry.Reason,
		entry.CreatedAt.UnixNano(),
	)
	if err != nil {
		return memory.Transient("append history", err)
	}
	return nil
}

func (c *conn) History(ctx context.Context, id string) ([]memory.HistoryEntry, error) {
	rows, err := c.c.QueryContext(ctx,
		`SELECT record_id, version, kind, payload, reason, created_at
		 FROM record_history WHERE record_id = ? ORDER BY version`, id)
	if err != nil {
		return nil, memory.Transient("history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []memory.HistoryEntry
	for rows.Next() {
		var (
			e       memory.HistoryEntry
			kind    string
			payload string
			created int64
		)
		if err := rows.Scan(&e.RecordID, &e.Version, &kind, &payload, &e.Reason, &created); err != nil {
			return nil, memory.Transient("history", err)
		}
		e.Kind = memory.Kind(kind)
		e.Snapshot = []byte(payload)
		e.CreatedAt = time.Unix(0, created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, memory.Transient("history", err)
	}
	return out, nil
}

func (c *conn) GetByPartition(ctx context.Context, partition string, limit int, cursor string) ([]*memory.Record, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	if cursor == "" {
		return c.queryRecords(ctx, "list",
			`SELECT `+recordColumns+` FROM records WHERE partition_id = ?
			 ORDER BY created_at DESC, id DESC LIMIT ?`, partition, limit)
	}

	var created int64
	err := c.c.QueryRowContext(ctx, `SELECT created_at FROM records WHERE id = ?`, cursor).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &memory.ValidationError{Field: "cursor", Reason: fmt.Sprintf("unknown cursor %q", cursor)}
	}
	if err != nil {
		return nil, memory.Transient("list", err)
	}
	return c.queryRecords(ctx, "list",
		`SELECT `+recordColumns+` FROM records
		 WHERE partition_id = ? AND (created_at < ? OR (created_at = ? AND id < ?))
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		partition, created, created, cursor, limit)
}

// SearchVector scores every non-zero embedding in the partition. The
// driver has no vector extension, so similarity is computed in Go.
func (c *conn) SearchVector(ctx context.Context, partition string, vec []float32, threshold float32, limit int) ([]*memory.Record, error) {
	recs, err := c.queryRecords(ctx, "search",
		`SELECT `+recordColumns+` FROM records
		 WHERE partition_id = ? AND embedding_degraded = 0
		 ORDER BY created_at DESC, id DESC`, partition)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec   *memory.Record
		score float32
	}
	var hits []scored
	for _, r := range recs {
		if memory.IsZeroVector(r.Embedding) {
			continue
		}
		if s := memory.CosineSimilarity(vec, r.Embedding); s >= threshold {
			hits = append(hits, scored{rec: r, score: s})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return cmp.Compare(b.score, a.score) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*memory.Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}

func (c *conn) ListDegraded(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.c.QueryContext(ctx,
		`SELECT id FROM records WHERE embedding_degraded = 1 ORDER BY rowid LIMIT ?`, limit)
	if err != nil {
		return nil, memory.Transient("list degraded", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, memory.Transient("list degraded", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, memory.Transient("list degraded", err)
	}
	return ids, nil
}

// Release rolls back a transaction left open by the caller and returns the
// connection to the pool.
func (c *conn) Release() {
	if c.closed {
		return
	}
	c.closed = true
	if c.inTx {
		_, _ = c.c.ExecContext(context.Background(), "ROLLBACK")
		c.inTx = false
	}
	_ = c.c.Close()
}

func (c *conn) queryRecords(ctx context.Context, op, query string, args ...any) ([]*memory.Record, error) {
	rows, err := c.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, memory.Transient(op, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, memory.Transient(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, memory.Transient(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*memory.Record, error) {
	var (
		rec              memory.Record
		kind             string
		payload          string
		embedding        []byte
		created, updated int64
	)
	if err := s.Scan(&rec.ID, &kind, &rec.Partition, &rec.OwnerID, &rec.AgentID, &payload,
		&embedding, &rec.Version, &created, &updated); err != nil {
		return nil, err
	}
	rec.Kind = memory.Kind(kind)
	p, err := memory.DecodePayload(rec.Kind, []byte(payload))
	if err != nil {
		return nil, err
	}
	rec.Payload = p
	rec.Embedding = decodeVector(embedding)
	rec.CreatedAt = time.Unix(0, created)
	rec.UpdatedAt = time.Unix(0, updated)
	return &rec, nil
}

// encodeVector packs vec as little-endian float32s.
func encodeVector(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if buf == nil {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation matches SQLITE_CONSTRAINT_UNIQUE and
// SQLITE_CONSTRAINT_PRIMARYKEY by message; the driver's error codes live
// in a package we otherwise do not import.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
