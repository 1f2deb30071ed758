package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/memstore/internal/memory"
	"github.com/flemzord/memstore/internal/memory/memorytest"
)

// tickClock advances one second per call so creation order is explicit.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickClock() *tickClock {
	return &tickClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T, cfg memory.Config, opts ...memory.Option) (*memory.Store, *memory.MemAdapter) {
	t.Helper()
	adapter := memory.NewMemAdapter()
	return newStoreOn(t, adapter, cfg, opts...), adapter
}

func newStoreOn(t *testing.T, adapter memory.Adapter, cfg memory.Config, opts ...memory.Option) *memory.Store {
	t.Helper()
	opts = append([]memory.Option{memory.WithClock(newTickClock().Now)}, opts...)
	s, err := memory.New(cfg, adapter, opts...)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func message(agentID, role, text string) *memory.Record {
	return &memory.Record{
		AgentID: agentID,
		Payload: &memory.Message{Role: role, Text: text},
	}
}

func wallet(agentID, address string) *memory.Record {
	return &memory.Record{
		AgentID: agentID,
		Payload: &memory.WalletRegistration{Address: address},
	}
}

func mustCreate(t *testing.T, s *memory.Store, rec *memory.Record, opts ...memory.CreateOption) string {
	t.Helper()
	id, err := s.Create(context.Background(), rec, opts...)
	if err != nil {
		t.Fatalf("Create(%s): unexpected error: %v", rec.Payload.Kind(), err)
	}
	return id
}

func mustGet(t *testing.T, s *memory.Store, id string) *memory.Record {
	t.Helper()
	rec, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%q): unexpected error: %v", id, err)
	}
	return rec
}

func collect(s *memory.Store, kind memory.Kind) (<-chan memory.Event, *memory.Subscription) {
	ch := make(chan memory.Event, 64)
	sub := s.Subscribe(kind, func(ev memory.Event) { ch <- ev })
	return ch, sub
}

func waitEvent(t *testing.T, ch <-chan memory.Event) memory.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return memory.Event{}
	}
}

func expectNoEvent(t *testing.T, ch <-chan memory.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// failingAdapter fails every acquisition.
type failingAdapter struct{}

var errStorageDown = errors.New("storage down")

func (failingAdapter) Acquire(context.Context) (memory.Conn, error) { return nil, errStorageDown }
func (failingAdapter) Ping(context.Context) error                   { return errStorageDown }
func (failingAdapter) Close() error                                 { return nil }

// failingEmbedder always reports an unavailable provider.
func failingEmbedder() *memorytest.MockEmbedder {
	return &memorytest.MockEmbedder{EmbedFunc: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding provider unavailable")
	}}
}
