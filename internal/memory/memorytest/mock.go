// Package memorytest provides test helpers for the memory package.
package memorytest

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/flemzord/memstore/internal/memory"
)

// MockEmbedder is a configurable test double for memory.Embedder. EmbedFunc
// must be set. Safe for concurrent use.
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	mu    sync.Mutex
	Calls int
	Texts []string
}

// Embed delegates to EmbedFunc and tracks calls.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.Calls++
	m.Texts = append(m.Texts, text)
	m.mu.Unlock()
	return m.EmbedFunc(ctx, text)
}

// CallCount returns the number of Embed calls.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// HashEmbedder returns deterministic unit vectors of a fixed dimension
// derived from an FNV hash of the text.
type HashEmbedder struct {
	Dim int
}

// Embed returns the vector for text.
func (h HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return HashVector(text, h.Dim), nil
}

// HashVector is the vector HashEmbedder produces for text.
func HashVector(text string, dim int) []float32 {
	f := fnv.New64a()
	_, _ = f.Write([]byte(text))
	seed := f.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	n := math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / n)
	}
	return vec
}

// RecordingAdapter wraps an adapter and records every Exec statement issued
// through its connections.
type RecordingAdapter struct {
	memory.Adapter

	mu    sync.Mutex
	stmts []string
}

// Acquire wraps the inner connection.
func (r *RecordingAdapter) Acquire(ctx context.Context) (memory.Conn, error) {
	conn, err := r.Adapter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingConn{Conn: conn, rec: r}, nil
}

// Statements returns the statements recorded so far.
func (r *RecordingAdapter) Statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stmts...)
}

type recordingConn struct {
	memory.Conn
	rec *RecordingAdapter
}

func (c *recordingConn) Exec(ctx context.Context, stmt string) error {
	c.rec.mu.Lock()
	c.rec.stmts = append(c.rec.stmts, stmt)
	c.rec.mu.Unlock()
	return c.Conn.Exec(ctx, stmt)
}

// Interface guards.
var (
	_ memory.Embedder = (*MockEmbedder)(nil)
	_ memory.Embedder = HashEmbedder{}
	_ memory.Adapter  = (*RecordingAdapter)(nil)
)
