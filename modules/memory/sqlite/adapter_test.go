package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/memstore/internal/memory"
	"github.com/flemzord/memstore/internal/memory/memorytest"
)

func openTestAdapter(t *testing.T, path string) *Adapter {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "memory.db")
	}
	a, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func newTestStore(t *testing.T, a memory.Adapter, cfg memory.Config, opts ...memory.Option) *memory.Store {
	t.Helper()
	s, err := memory.New(cfg, a, opts...)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func acquire(t *testing.T, a *Adapter) memory.Conn {
	t.Helper()
	c, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: unexpected error: %v", err)
	}
	t.Cleanup(c.Release)
	return c
}

func testRecord(id, partition, text string, created time.Time) *memory.Record {
	return &memory.Record{
		ID:        id,
		Kind:      memory.KindMessage,
		Partition: partition,
		AgentID:   "a1",
		Payload:   &memory.Message{Role: memory.RoleUser, Text: text},
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestAdapter_WalletLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, openTestAdapter(t, ""), memory.Config{})

	id, err := s.Create(ctx, &memory.Record{AgentID: "u1", Payload: &memory.WalletRegistration{Address: "addr1"}})
	if err != nil {
		t.Fatalf("Create: unexpected error: %v", err)
	}

	_, err = s.Create(ctx, &memory.Record{AgentID: "u1", Payload: &memory.WalletRegistration{Address: "addr1"}})
	var conflict *memory.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second Create: error = %v, want ConflictError", err)
	}
	if conflict.ExistingID != id {
		t.Errorf("ExistingID = %q, want %q", conflict.ExistingID, id)
	}

	ok, err := s.Update(ctx, id, memory.Patch{"status": "confirmed"}, 1)
	if err != nil || !ok {
		t.Fatalf("Update: ok = %v, err = %v", ok, err)
	}
	ok, err = s.Update(ctx, id, memory.Patch{"status": "revoked"}, 1)
	if err != nil {
		t.Fatalf("stale Update: unexpected error: %v", err)
	}
	if ok {
		t.Fatal("stale Update: ok = true, want false")
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: unexpected error: %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("Version = %d, want 2", rec.Version)
	}
	if got := rec.Payload.(*memory.WalletRegistration).Status; got != "confirmed" {
		t.Errorf("Status = %q, want %q", got, "confirmed")
	}

	history, err := s.History(ctx, id)
	if err != nil {
		t.Fatalf("History: unexpected error: %v", err)
	}
	if len(history) != 1 || history[0].Version != 1 {
		t.Fatalf("History = %+v, want one entry at version 1", history)
	}

	if err := s.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: unexpected error: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("Get after Remove: error = %v, want ErrNotFound", err)
	}
	if history, _ := s.History(ctx, id); len(history) != 0 {
		t.Errorf("History after Remove = %+v, want empty", history)
	}

	// The key is free again once the holder is gone.
	if _, err := s.Create(ctx, &memory.Record{AgentID: "u1", Payload: &memory.WalletRegistration{Address: "addr1"}}); err != nil {
		t.Fatalf("Create after Remove: unexpected error: %v", err)
	}
}

func TestAdapter_ConcurrentCreateSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t, openTestAdapter(t, ""), memory.Config{})

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, &memory.Record{
				AgentID:   "u1",
				CreatedAt: time.Unix(int64(i+1), 0),
				Payload:   &memory.WalletRegistration{Address: "addr1"},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, memory.ErrConflict):
				conflicts++
			default:
				t.Errorf("Create: unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("wins = %d, conflicts = %d, want 1 and %d", wins, conflicts, workers-1)
	}
}

func TestAdapter_Savepoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := openTestAdapter(t, "")
	c := acquire(t, a)
	base := time.Unix(100, 0)

	tx := memory.NewTxCoordinator(c, nil)
	err := tx.Run(ctx, func(ctx context.Context) error {
		if err := c.Insert(ctx, testRecord("outer", "room", "kept", base), ""); err != nil {
			return err
		}
		innerErr := tx.Run(ctx, func(ctx context.Context) error {
			if err := c.Insert(ctx, testRecord("inner", "room", "dropped", base), ""); err != nil {
				return err
			}
			return errors.New("abort inner")
		})
		if innerErr == nil {
			t.Error("inner Run: want error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	if _, err := c.GetByID(ctx, "outer"); err != nil {
		t.Errorf("GetByID(outer): unexpected error: %v", err)
	}
	if _, err := c.GetByID(ctx, "inner"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("GetByID(inner): error = %v, want ErrNotFound", err)
	}
}

func TestAdapter_ReleaseRollsBackOpenTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := openTestAdapter(t, "")

	c, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: unexpected error: %v", err)
	}
	if err := c.Exec(ctx, "BEGIN"); err != nil {
		t.Fatalf("BEGIN: unexpected error: %v", err)
	}
	if err := c.Insert(ctx, testRecord("r1", "room", "x", time.Unix(1, 0)), ""); err != nil {
		t.Fatalf("Insert: unexpected error: %v", err)
	}
	c.Release()
	c.Release()

	if _, err := acquire(t, a).GetByID(ctx, "r1"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("GetByID after Release: error = %v, want ErrNotFound", err)
	}
}

func TestAdapter_InsertConflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := acquire(t, openTestAdapter(t, ""))
	at := time.Unix(1, 0)

	if err := c.Insert(ctx, testRecord("r1", "room", "x", at), "k1"); err != nil {
		t.Fatalf("Insert: unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		rec      *memory.Record
		key      string
		existing string
	}{
		{name: "duplicate id", rec: testRecord("r1", "room", "y", at), key: "", existing: "r1"},
		{name: "duplicate key", rec: testRecord("r2", "room", "y", at), key: "k1", existing: "r1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Insert(ctx, tt.rec, tt.key)
			var conflict *memory.ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("Insert: error = %v, want ConflictError", err)
			}
			if conflict.ExistingID != tt.existing {
				t.Errorf("ExistingID = %q, want %q", conflict.ExistingID, tt.existing)
			}
		})
	}

	// Records without a key never collide on it.
	if err := c.Insert(ctx, testRecord("r3", "room", "z", at), ""); err != nil {
		t.Fatalf("Insert without key: unexpected error: %v", err)
	}
	if err := c.Insert(ctx, testRecord("r4", "room", "z", at), ""); err != nil {
		t.Fatalf("Insert without key: unexpected error: %v", err)
	}
}

func TestAdapter_UpdateIfVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := acquire(t, openTestAdapter(t, ""))
	at := time.Unix(1, 0)

	if err := c.Insert(ctx, testRecord("r1", "room", "x", at), "k1"); err != nil {
		t.Fatalf("Insert: unexpected error: %v", err)
	}
	if err := c.Insert(ctx, testRecord("r2", "room", "y", at), "k2"); err != nil {
		t.Fatalf("Insert: unexpected error: %v", err)
	}

	next := testRecord("r1", "room", "x2", at)
	next.Version = 2
	ok, err := c.UpdateIfVersion(ctx, next, "k1", 1)
	if err != nil || !ok {
		t.Fatalf("UpdateIfVersion: ok = %v, err = %v", ok, err)
	}
	ok, err = c.UpdateIfVersion(ctx, next, "k1", 1)
	if err != nil || ok {
		t.Fatalf("stale UpdateIfVersion: ok = %v, err = %v", ok, err)
	}

	next.Version = 3
	_, err = c.UpdateIfVersion(ctx, next, "k2", 2)
	var conflict *memory.ConflictError
	if !errors.As(err, &conflict) || conflict.ExistingID != "r2" {
		t.Fatalf("UpdateIfVersion into taken key: error = %v, want conflict with r2", err)
	}

	got, err := c.GetByID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetByID: unexpected error: %v", err)
	}
	if got.Version != 2 || got.Text() != "x2" {
		t.Errorf("record = version %d %q, want version 2 %q", got.Version, got.Text(), "x2")
	}
}

func TestAdapter_GetByPartitionCursor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := acquire(t, openTestAdapter(t, ""))
	base := time.Unix(1000, 0)

	// b and c share a timestamp; id breaks the tie.
	for _, r := range []*memory.Record{
		testRecord("a", "room", "1", base),
		testRecord("b", "room", "2", base.Add(time.Second)),
		testRecord("c", "room", "3", base.Add(time.Second)),
		testRecord("d", "room", "4", base.Add(2*time.Second)),
		testRecord("x", "other", "5", base.Add(3*time.Second)),
	} {
		if err := c.Insert(ctx, r, ""); err != nil {
			t.Fatalf("Insert(%s): unexpected error: %v", r.ID, err)
		}
	}

	tests := []struct {
		cursor string
		limit  int
		want   []string
	}{
		{cursor: "", limit: 2, want: []string{"d", "c"}},
		{cursor: "c", limit: 2, want: []string{"b", "a"}},
		{cursor: "a", limit: 2, want: nil},
		{cursor: "", limit: 0, want: []string{"d", "c", "b", "a"}},
	}
	for _, tt := range tests {
		got, err := c.GetByPartition(ctx, "room", tt.limit, tt.cursor)
		if err != nil {
			t.Fatalf("GetByPartition(%q, %d): unexpected error: %v", tt.cursor, tt.limit, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("GetByPartition(%q, %d) = %d records, want %v", tt.cursor, tt.limit, len(got), tt.want)
		}
		for i, r := range got {
			if r.ID != tt.want[i] {
				t.Errorf("GetByPartition(%q, %d)[%d] = %s, want %s", tt.cursor, tt.limit, i, r.ID, tt.want[i])
			}
		}
	}

	if _, err := c.GetByPartition(ctx, "room", 2, "missing"); !errors.Is(err, memory.ErrValidation) {
		t.Fatalf("unknown cursor: error = %v, want ErrValidation", err)
	}
}

func TestAdapter_SearchVector(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := acquire(t, openTestAdapter(t, ""))
	at := time.Unix(1, 0)

	near := testRecord("near", "room", "n", at)
	near.Embedding = []float32{1, 0.1, 0}
	far := testRecord("far", "room", "f", at)
	far.Embedding = []float32{0, 0, 1}
	zero := testRecord("zero", "room", "z", at)
	zero.Embedding = []float32{0, 0, 0}
	exact := testRecord("exact", "room", "e", at)
	exact.Embedding = []float32{1, 0, 0}
	elsewhere := testRecord("elsewhere", "other", "e", at)
	elsewhere.Embedding = []float32{1, 0, 0}

	for _, r := range []*memory.Record{near, far, zero, exact, elsewhere} {
		if err := c.Insert(ctx, r, ""); err != nil {
			t.Fatalf("Insert(%s): unexpected error: %v", r.ID, err)
		}
	}

	got, err := c.SearchVector(ctx, "room", []float32{1, 0, 0}, 0.5, 10)
	if err != nil {
		t.Fatalf("SearchVector: unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "exact" || got[1].ID != "near" {
		var names []string
		for _, r := range got {
			names = append(names, r.ID)
		}
		t.Fatalf("SearchVector = %v, want [exact near]", names)
	}
	if n := len(got[0].Embedding); n != 3 {
		t.Errorf("len(Embedding) = %d, want 3", n)
	}
}

func TestAdapter_DegradedAndReembed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var (
		mu      sync.Mutex
		healthy bool
	)
	emb := &memorytest.MockEmbedder{EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		if !healthy {
			return nil, errors.New("provider unavailable")
		}
		return memorytest.HashVector(text, 8), nil
	}}
	s := newTestStore(t, openTestAdapter(t, ""), memory.Config{
		Embedding: memory.EmbeddingConfig{Enabled: true, Dimension: 8, CacheSize: -1},
	}, memory.WithEmbedder(emb))

	id, err := s.Create(ctx, &memory.Record{AgentID: "a1", Payload: &memory.Message{Text: "hello"}})
	if err != nil {
		t.Fatalf("Create: unexpected error: %v", err)
	}
	degraded, err := s.Degraded(ctx, 10)
	if err != nil {
		t.Fatalf("Degraded: unexpected error: %v", err)
	}
	if len(degraded) != 1 || degraded[0] != id {
		t.Fatalf("Degraded = %v, want [%s]", degraded, id)
	}

	mu.Lock()
	healthy = true
	mu.Unlock()
	if ok, err := s.Reembed(ctx, id); err != nil || !ok {
		t.Fatalf("Reembed: ok = %v, err = %v", ok, err)
	}
	degraded, err = s.Degraded(ctx, 10)
	if err != nil {
		t.Fatalf("Degraded: unexpected error: %v", err)
	}
	if len(degraded) != 0 {
		t.Fatalf("Degraded after Reembed = %v, want empty", degraded)
	}
}

func TestAdapter_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "memory.db")
	created := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	a, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	c, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: unexpected error: %v", err)
	}
	rec := testRecord("r1", "room", "persisted", created)
	rec.Embedding = []float32{0.25, -1.5, 3}
	if err := c.Insert(ctx, rec, "k1"); err != nil {
		t.Fatalf("Insert: unexpected error: %v", err)
	}
	if err := c.AppendHistory(ctx, memory.HistoryEntry{
		RecordID: "r1", Version: 1, Kind: memory.KindMessage,
		Snapshot: []byte(`{"text":"old"}`), CreatedAt: created, Reason: "update",
	}); err != nil {
		t.Fatalf("AppendHistory: unexpected error: %v", err)
	}
	c.Release()
	if err := a.Close(); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}

	reopened := openTestAdapter(t, path)
	rc := acquire(t, reopened)
	got, err := rc.GetByID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetByID: unexpected error: %v", err)
	}
	if got.Text() != "persisted" {
		t.Errorf("Text = %q, want %q", got.Text(), "persisted")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	want := []float32{0.25, -1.5, 3}
	for i := range want {
		if got.Embedding[i] != want[i] {
			t.Fatalf("Embedding = %v, want %v", got.Embedding, want)
		}
	}
	if id, ok, err := rc.FindUnique(ctx, "k1"); err != nil || !ok || id != "r1" {
		t.Errorf("FindUnique(k1) = %q, %v, %v, want r1", id, ok, err)
	}
	history, err := rc.History(ctx, "r1")
	if err != nil {
		t.Fatalf("History: unexpected error: %v", err)
	}
	if len(history) != 1 || history[0].Reason != "update" || string(history[0].Snapshot) != `{"text":"old"}` {
		t.Errorf("History = %+v, want the appended entry", history)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing path", cfg: Config{}},
		{name: "negative busy timeout", cfg: Config{Path: "x.db", BusyTimeout: -1}},
		{name: "negative pool", cfg: Config{Path: "x.db", MaxOpenConns: -2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Open(context.Background(), tt.cfg); err == nil {
				t.Fatal("Open: want error")
			}
		})
	}
}
