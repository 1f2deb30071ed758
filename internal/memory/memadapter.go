package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MemAdapter is an in-process Adapter. Transactions are serialized: BEGIN
// blocks until no other connection holds a transaction. Savepoints are
// snapshots of the whole state. Reads outside a transaction see
// uncommitted writes of the active one.
type MemAdapter struct {
	txMu sync.Mutex

	mu    sync.RWMutex
	state memState
	seq   int64
}

type memState struct {
	records map[string]*memRow
	unique  map[string]string // key -> id
	history map[string][]HistoryEntry
}

type memRow struct {
	rec *Record
	key string
	seq int64
}

// NewMemAdapter returns an empty in-memory adapter.
func NewMemAdapter() *MemAdapter {
	return &MemAdapter{state: memState{
		records: make(map[string]*memRow),
		unique:  make(map[string]string),
		history: make(map[string][]HistoryEntry),
	}}
}

var _ Adapter = (*MemAdapter)(nil)

// Acquire returns a new connection.
func (a *MemAdapter) Acquire(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("acquire", err)
	}
	return &memConn{a: a}, nil
}

// Ping always succeeds.
func (a *MemAdapter) Ping(context.Context) error { return nil }

// Close is a no-op.
func (a *MemAdapter) Close() error { return nil }

// Len returns the number of live records.
func (a *MemAdapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.state.records)
}

func (s memState) clone() memState {
	c := memState{
		records: maps.Clone(s.records),
		unique:  maps.Clone(s.unique),
		history: make(map[string][]HistoryEntry, len(s.history)),
	}
	for id, h := range s.history {
		c.history[id] = slices.Clone(h)
	}
	return c
}

type savepoint struct {
	name  string
	state memState
}

type memConn struct {
	a      *MemAdapter
	inTx   bool
	stack  []savepoint // stack[0] is the BEGIN snapshot
	closed bool
}

func (c *memConn) Exec(ctx context.Context, stmt string) error {
	if err := ctx.Err(); err != nil {
		return Transient("exec", err)
	}
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(stmt)))
	if len(fields) == 0 {
		return fmt.Errorf("memadapter: empty statement")
	}
	switch {
	case fields[0] == "BEGIN":
		if c.inTx {
			return fmt.Errorf("memadapter: cannot start a transaction within a transaction")
		}
		c.a.txMu.Lock()
		c.inTx = true
		c.stack = []savepoint{{state: c.snapshot()}}
		return nil
	case fields[0] == "COMMIT" || fields[0] == "END":
		if !c.inTx {
			return fmt.Errorf("memadapter: cannot commit - no transaction is active")
		}
		c.endTx()
		return nil
	case fields[0] == "ROLLBACK" && len(fields) == 1:
		if !c.inTx {
			return fmt.Errorf("memadapter: cannot rollback - no transaction is active")
		}
		c.restore(c.stack[0].state)
		c.endTx()
		return nil
	case fields[0] == "SAVEPOINT" && len(fields) == 2:
		if !c.inTx {
			return fmt.Errorf("memadapter: savepoint outside transaction")
		}
		c.stack = append(c.stack, savepoint{name: fields[1], state: c.snapshot()})
		return nil
	case fields[0] == "RELEASE":
		i, err := c.find(fields[len(fields)-1])
		if err != nil {
			return err
		}
		c.stack = c.stack[:i]
		return nil
	case fields[0] == "ROLLBACK" && len(fields) >= 3:
		i, err := c.find(fields[len(fields)-1])
		if err != nil {
			return err
		}
		c.restore(c.stack[i].state.clone())
		c.stack = c.stack[:i+1]
		return nil
	default:
		return fmt.Errorf("memadapter: unsupported statement %q", stmt)
	}
}

func (c *memConn) find(name string) (int, error) {
	for i := len(c.stack) - 1; i >= 1; i-- {
		if c.stack[i].name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("memadapter: no such savepoint: %s", strings.ToLower(name))
}

func (c *memConn) snapshot() memState {
	c.a.mu.RLock()
	defer c.a.mu.RUnlock()
	return c.a.state.clone()
}

func (c *memConn) restore(s memState) {
	c.a.mu.Lock()
	c.a.state = s
	c.a.mu.Unlock()
}

func (c *memConn) endTx() {
	c.inTx = false
	c.stack = nil
	c.a.txMu.Unlock()
}

func (c *memConn) Insert(ctx context.Context, rec *Record, uniqueKey string) error {
	if err := ctx.Err(); err != nil {
		return Transient("insert", err)
	}
	a := c.a
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.state.records[rec.ID]; ok {
		return &ConflictError{Kind: rec.Kind, Key: "id=" + rec.ID, ExistingID: rec.ID}
	}
	if uniqueKey != "" {
		if id, ok := a.state.unique[uniqueKey]; ok {
			return &ConflictError{Kind: rec.Kind, Key: uniqueKey, ExistingID: id}
		}
		a.state.unique[uniqueKey] = rec.ID
	}
	a.seq++
	a.state.records[rec.ID] = &memRow{rec: rec.Clone(), key: uniqueKey, seq: a.seq}
	return nil
}

func (c *memConn) GetByID(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("get", err)
	}
	c.a.mu.RLock()
	defer c.a.mu.RUnlock()
	row, ok := c.a.state.records[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return row.rec.Clone(), nil
}

func (c *memConn) UpdateIfVersion(ctx context.Context, rec *Record, uniqueKey string, expected int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, Transient("update", err)
	}
	a := c.a
	a.mu.Lock()
	defer a.mu.Unlock()

	row, ok := a.state.records[rec.ID]
	if !ok || row.rec.Version != expected {
		return false, nil
	}
	if uniqueKey != row.key {
		if uniqueKey != "" {
			if id, taken := a.state.unique[uniqueKey]; taken && id != rec.ID {
				return false, &ConflictError{Kind: rec.Kind, Key: uniqueKey, ExistingID: id}
			}
			a.state.unique[uniqueKey] = rec.ID
		}
		if row.key != "" {
			delete(a.state.unique, row.key)
		}
	}
	a.state.records[rec.ID] = &memRow{rec: rec.Clone(), key: uniqueKey, seq: row.seq}
	return true, nil
}

func (c *memConn) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, Transient("delete", err)
	}
	a := c.a
	a.mu.Lock()
	defer a.mu.Unlock()

	row, ok := a.state.records[id]
	if !ok {
		return false, nil
	}
	if row.key != "" {
		delete(a.state.unique, row.key)
	}
	delete(a.state.records, id)
	delete(a.state.history, id)
	return true, nil
}

func (c *memConn) FindUnique(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, Transient("find unique", err)
	}
	c.a.mu.RLock()
	defer c.a.mu.RUnlock()
	id, ok := c.a.state.unique[key]
	return id, ok, nil
}

func (c *memConn) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return Transient("append history", err)
	}
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	entry.Snapshot = slices.Clone(entry.Snapshot)
	c.a.state.history[entry.RecordID] = append(c.a.state.history[entry.RecordID], entry)
	return nil
}

func (c *memConn) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("history", err)
	}
	c.a.mu.RLock()
	defer c.a.mu.RUnlock()
	return slices.Clone(c.a.state.history[id]), nil
}

// newestFirst orders rows by creation time, then id, descending.
func newestFirst(a, b *Record) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func (c *memConn) partitionRows(partition string) []*Record {
	var out []*Record
	for _, row := range c.a.state.records {
		if row.rec.Partition == partition {
			out = append(out, row.rec)
		}
	}
	slices.SortFunc(out, newestFirst)
	return out
}

func (c *memConn) GetByPartition(ctx context.Context, partition string, limit int, cursor string) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("list", err)
	}
	c.a.mu.RLock()
	defer c.a.mu.RUnlock()

	rows := c.partitionRows(partition)
	if cursor != "" {
		cur, ok := c.a.state.records[cursor]
		if !ok {
			return nil, invalid("cursor", "unknown cursor %q", cursor)
		}
		i, _ := slices.BinarySearchFunc(rows, cur.rec, newestFirst)
		if i < len(rows) && rows[i].ID == cursor {
			i++
		}
		rows = rows[i:]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out, nil
}

func (c *memConn) SearchVector(ctx context.Context, partition string, vec []float32, threshold float32, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("search", err)
	}
	c.a.mu.RLock()
	defer c.a.mu.RUnlock()

	type scored struct {
		rec   *Record
		score float32
	}
	var hits []scored
	for _, r := range c.partitionRows(partition) {
		if IsZeroVector(r.Embedding) {
			continue
		}
		if s := CosineSimilarity(vec, r.Embedding); s >= threshold {
			hits = append(hits, scored{rec: r, score: s})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return cmp.Compare(b.score, a.score) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec.Clone()
	}
	return out, nil
}

func (c *memConn) ListDegraded(ctx context.Context, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("list degraded", err)
	}
	c.a.mu.RLock()
	defer c.a.mu.RUnlock()

	var rows []*memRow
	for _, row := range c.a.state.records {
		if row.rec.Degraded() {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b *memRow) int { return cmp.Compare(a.seq, b.seq) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.rec.ID
	}
	return ids, nil
}

// Release rolls back a transaction left open by the caller.
func (c *memConn) Release() {
	if c.closed {
		return
	}
	c.closed = true
	if c.inTx {
		c.restore(c.stack[0].state)
		c.endTx()
	}
}
