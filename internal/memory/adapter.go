package memory

import "context"

// Adapter is the database collaborator. Implementations must be safe for
// concurrent use; each request acquires its own Conn.
type Adapter interface {
	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
	Close() error
}

// Conn is a request-scoped adapter connection. It is not safe for
// concurrent use. Transaction control goes through Exec with raw
// BEGIN, COMMIT, ROLLBACK, SAVEPOINT, RELEASE SAVEPOINT and
// ROLLBACK TO SAVEPOINT statements.
type Conn interface {
	Exec(ctx context.Context, stmt string) error

	// Insert persists a new record. uniqueKey is empty for kinds without a
	// uniqueness rule. A live record with the same id or key yields a
	// *ConflictError.
	Insert(ctx context.Context, rec *Record, uniqueKey string) error

	// GetByID returns a *NotFoundError on miss.
	GetByID(ctx context.Context, id string) (*Record, error)

	// UpdateIfVersion replaces the stored record only when its version is
	// still expected. It reports false when the version moved.
	UpdateIfVersion(ctx context.Context, rec *Record, uniqueKey string, expected int) (bool, error)

	// Delete removes the record. It reports false when nothing was deleted.
	Delete(ctx context.Context, id string) (bool, error)

	// FindUnique returns the id of the live record holding key.
	FindUnique(ctx context.Context, key string) (string, bool, error)

	AppendHistory(ctx context.Context, entry HistoryEntry) error
	History(ctx context.Context, id string) ([]HistoryEntry, error)

	// GetByPartition lists records newest first (created time, then id).
	// A non-empty cursor resumes after the record with that id.
	GetByPartition(ctx context.Context, partition string, limit int, cursor string) ([]*Record, error)

	// SearchVector returns records whose cosine similarity to vec is at
	// least threshold, best first.
	SearchVector(ctx context.Context, partition string, vec []float32, threshold float32, limit int) ([]*Record, error)

	// ListDegraded returns ids of records stored with a fallback embedding,
	// oldest first.
	ListDegraded(ctx context.Context, limit int) ([]string, error)

	Release()
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is an optional similarity index kept current from change
// events. When configured, semantic search queries it instead of the
// adapter.
type VectorIndex interface {
	Upsert(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, partition, id string) error
	Query(ctx context.Context, partition string, vec []float32, threshold float32, limit int) ([]string, error)
}

// Broker is a process-wide publish/subscribe transport. Subscribe returns a
// function that cancels the subscription.
type Broker interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, handler func([]byte)) (func(), error)
}
