package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/flemzord/memstore/internal/memory"
)

// Index is a memory.VectorIndex on chromem-go. Each partition is one
// collection, so a query never crosses rooms.
type Index struct {
	db     *chromem.DB
	logger *slog.Logger
}

var _ memory.VectorIndex = (*Index)(nil)

// NewIndex wraps db.
func NewIndex(db *chromem.DB, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Index{db: db, logger: logger}
}

// collection returns the collection for partition. Embeddings are always
// supplied by the store, so no embedding function is configured.
func (x *Index) collection(partition string) (*chromem.Collection, error) {
	col, err := x.db.GetOrCreateCollection(partition, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %s: %w", partition, err)
	}
	return col, nil
}

// Upsert stores rec's embedding. Records without a usable embedding are
// removed instead, since a zero vector cannot be normalized.
func (x *Index) Upsert(ctx context.Context, rec *memory.Record) error {
	if memory.IsZeroVector(rec.Embedding) {
		return x.Delete(ctx, rec.Partition, rec.ID)
	}
	col, err := x.collection(rec.Partition)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text(),
		Embedding: slices.Clone(rec.Embedding),
		Metadata: map[string]string{
			"type":     string(rec.Kind),
			"agent_id": rec.AgentID,
			"version":  strconv.Itoa(rec.Version),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem: add %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes id from partition. Missing ids are not an error.
func (x *Index) Delete(ctx context.Context, partition, id string) error {
	col := x.db.GetCollection(partition, nil)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem: delete %s: %w", id, err)
	}
	return nil
}

// Query returns ids in partition whose similarity to vec is at least
// threshold, best first.
func (x *Index) Query(ctx context.Context, partition string, vec []float32, threshold float32, limit int) ([]string, error) {
	if memory.IsZeroVector(vec) {
		return nil, nil
	}
	col := x.db.GetCollection(partition, nil)
	if col == nil {
		return nil, nil
	}
	// chromem rejects nResults above the collection size.
	n := col.Count()
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query %s: %w", partition, err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.Similarity < threshold {
			break
		}
		ids = append(ids, r.ID)
	}
	x.logger.Debug("chromem: query", "partition", partition, "candidates", len(results), "hits", len(ids))
	return ids, nil
}

// Len returns the number of indexed documents in partition.
func (x *Index) Len(partition string) int {
	col := x.db.GetCollection(partition, nil)
	if col == nil {
		return 0
	}
	return col.Count()
}
