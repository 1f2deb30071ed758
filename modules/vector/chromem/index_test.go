package chromem

import (
	"context"
	"slices"
	"testing"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/flemzord/memstore/internal/memory"
	"github.com/flemzord/memstore/internal/memory/memorytest"
)

func vecRecord(id, partition string, vec []float32) *memory.Record {
	return &memory.Record{
		ID:        id,
		Kind:      memory.KindMessage,
		Partition: partition,
		AgentID:   "a1",
		Payload:   &memory.Message{Text: id},
		Embedding: vec,
		Version:   1,
	}
}

func TestIndex_Query(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := NewIndex(chromem.NewDB(), nil)

	for _, r := range []*memory.Record{
		vecRecord("exact", "room", []float32{1, 0, 0}),
		vecRecord("near", "room", []float32{1, 0.2, 0}),
		vecRecord("far", "room", []float32{0, 0, 1}),
		vecRecord("elsewhere", "other", []float32{1, 0, 0}),
	} {
		if err := x.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert(%s): unexpected error: %v", r.ID, err)
		}
	}

	tests := []struct {
		name      string
		partition string
		threshold float32
		limit     int
		want      []string
	}{
		{name: "threshold", partition: "room", threshold: 0.9, limit: 10, want: []string{"exact", "near"}},
		{name: "limit", partition: "room", threshold: 0.9, limit: 1, want: []string{"exact"}},
		{name: "all", partition: "room", threshold: -1, limit: 0, want: []string{"exact", "near", "far"}},
		{name: "other room", partition: "other", threshold: 0.5, limit: 10, want: []string{"elsewhere"}},
		{name: "unknown room", partition: "missing", threshold: 0.5, limit: 10, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := x.Query(ctx, tt.partition, []float32{1, 0, 0}, tt.threshold, tt.limit)
			if err != nil {
				t.Fatalf("Query: unexpected error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Query = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIndex_UpsertReplacesAndZeroVectorRemoves(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := NewIndex(chromem.NewDB(), nil)

	if err := x.Upsert(ctx, vecRecord("r1", "room", []float32{1, 0})); err != nil {
		t.Fatalf("Upsert: unexpected error: %v", err)
	}
	if err := x.Upsert(ctx, vecRecord("r1", "room", []float32{0, 1})); err != nil {
		t.Fatalf("Upsert: unexpected error: %v", err)
	}
	if n := x.Len("room"); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	got, err := x.Query(ctx, "room", []float32{0, 1}, 0.99, 10)
	if err != nil {
		t.Fatalf("Query: unexpected error: %v", err)
	}
	if !slices.Equal(got, []string{"r1"}) {
		t.Fatalf("Query after replace = %v, want [r1]", got)
	}

	if err := x.Upsert(ctx, vecRecord("r1", "room", []float32{0, 0})); err != nil {
		t.Fatalf("Upsert zero vector: unexpected error: %v", err)
	}
	if n := x.Len("room"); n != 0 {
		t.Fatalf("Len after zero vector = %d, want 0", n)
	}
	if got, _ := x.Query(ctx, "room", []float32{0, 0}, 0, 10); got != nil {
		t.Errorf("Query with zero vector = %v, want nil", got)
	}
}

func TestIndex_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := NewIndex(chromem.NewDB(), nil)

	if err := x.Delete(ctx, "missing", "r1"); err != nil {
		t.Fatalf("Delete in unknown room: unexpected error: %v", err)
	}
	if err := x.Upsert(ctx, vecRecord("r1", "room", []float32{1, 0})); err != nil {
		t.Fatalf("Upsert: unexpected error: %v", err)
	}
	if err := x.Delete(ctx, "room", "r1"); err != nil {
		t.Fatalf("Delete: unexpected error: %v", err)
	}
	if n := x.Len("room"); n != 0 {
		t.Fatalf("Len = %d, want 0", n)
	}
}

func TestIndex_KeptCurrentByStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	x := NewIndex(chromem.NewDB(), nil)
	s, err := memory.New(memory.Config{
		Embedding: memory.EmbeddingConfig{Enabled: true, Dimension: 16},
	}, memory.NewMemAdapter(),
		memory.WithEmbedder(memorytest.HashEmbedder{Dim: 16}),
		memory.WithVectorIndex(x),
	)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	id, err := s.Create(ctx, &memory.Record{AgentID: "a1", Payload: &memory.Message{Text: "alpha"}})
	if err != nil {
		t.Fatalf("Create: unexpected error: %v", err)
	}
	room := memory.AgentRoom("a1")
	waitFor(t, func() bool { return x.Len(room) == 1 })

	got := s.Search(ctx, memory.Query{AgentID: "a1", Text: "alpha", Threshold: 0.99})
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("Search returned %d records, want only %s", len(got), id)
	}

	if err := s.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: unexpected error: %v", err)
	}
	waitFor(t, func() bool { return x.Len(room) == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
