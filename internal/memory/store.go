package memory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/flemzord/memstore/internal/memory"

// ServiceName is the service under which the application registers the
// built Store for consumer modules.
const ServiceName = "memory.store"

// Option configures optional Store collaborators.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	embedder Embedder
	broker   Broker
	index    VectorIndex
	reg      prometheus.Registerer
	tracer   trace.TracerProvider
	now      func() time.Time
}

// WithLogger injects a structured logger. When omitted, output is discarded.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithEmbedder injects the embedding provider.
func WithEmbedder(e Embedder) Option { return func(o *options) { o.embedder = e } }

// WithBroker injects the cross-process broker.
func WithBroker(b Broker) Option { return func(o *options) { o.broker = b } }

// WithVectorIndex routes semantic search through idx and keeps it current
// from change events.
func WithVectorIndex(idx VectorIndex) Option { return func(o *options) { o.index = idx } }

// WithRegisterer registers the store metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option { return func(o *options) { o.reg = reg } }

// WithTracerProvider enables spans for store operations.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// CreateOption tunes a single Create call.
type CreateOption func(*createOptions)

type createOptions struct {
	privileged *Privileged
}

// WithPrivilegedPartition pins the record to partition on behalf of an
// operation class listed in the partition configuration. The room is stored
// as given.
func WithPrivilegedPartition(class, partition string) CreateOption {
	return func(o *createOptions) {
		o.privileged = &Privileged{Class: class, Partition: partition}
	}
}

// Query describes a search. Partition wins over AgentID; with neither the
// search returns nothing.
type Query struct {
	Text      string
	Vector    []float32
	Partition string
	AgentID   string
	Threshold float32
	Limit     int
}

// Store is the memory façade. It is safe for concurrent use; every call
// acquires its own adapter connection.
type Store struct {
	cfg         Config
	adapter     Adapter
	normalizer  *Normalizer
	partitioner *Partitioner
	unique      UniquenessEnforcer
	versions    *VersionController
	retrieval   *RetrievalEngine
	fuzzy       *FuzzyCache
	sync        *Sync
	index       VectorIndex
	indexSub    *Subscription

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// New builds a Store on adapter. Dependencies are resolved by the caller;
// nothing is discovered lazily.
func New(cfg Config, adapter Adapter, opts ...Option) (*Store, error) {
	if adapter == nil {
		return nil, errors.New("memory: adapter is required")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider()
	}
	if o.now == nil {
		o.now = time.Now
	}
	logger := o.logger.With("component", "memory")
	metrics := NewMetrics(o.reg)

	normalizer, err := NewNormalizer(cfg.Embedding, o.embedder, logger, metrics)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:         cfg,
		adapter:     WithLogging(adapter, logger),
		normalizer:  normalizer,
		partitioner: NewPartitioner(cfg.Partition),
		versions:    NewVersionController(logger, metrics, o.now),
		retrieval:   NewRetrievalEngine(cfg.Retrieval, o.index, logger),
		fuzzy:       NewFuzzyCache(cfg.FuzzyCache, logger),
		sync:        NewSync(cfg.ProcessID, cfg.Topic, o.broker, logger, metrics),
		index:       o.index,
		logger:      logger,
		metrics:     metrics,
		tracer:      o.tracer.Tracer(tracerName),
		now:         o.now,
	}
	s.sync.OnApply(func(_ context.Context, ev Event) {
		s.fuzzy.Purge(ev.Partition)
	})
	if s.index != nil {
		s.indexSub = s.sync.Subscribe(AllKinds, s.reindex)
	}
	return s, nil
}

// Start begins receiving remote events.
func (s *Store) Start(ctx context.Context) error {
	return s.sync.Start(ctx)
}

// Close stops event delivery and releases caches. The adapter is owned by
// the caller.
func (s *Store) Close() error {
	if s.indexSub != nil {
		s.sync.Unsubscribe(s.indexSub)
	}
	err := s.sync.Close()
	s.normalizer.Close()
	return err
}

// ProcessID returns the id stamped on events from this store.
func (s *Store) ProcessID() string { return s.sync.ProcessID() }

// Dimension returns the embedding dimension D.
func (s *Store) Dimension() int { return s.normalizer.Dimension() }

// Ping checks the adapter.
func (s *Store) Ping(ctx context.Context) error {
	return Transient("ping", s.adapter.Ping(ctx))
}

func (s *Store) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "memory."+op, trace.WithAttributes(attrs...))
}

func (s *Store) finish(span trace.Span, op string, start time.Time, err error) {
	s.metrics.observe(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Create validates rec, assigns its version, room and embedding, and
// persists it in one transaction. The created event is published after
// commit. rec is not modified.
func (s *Store) Create(ctx context.Context, rec *Record, opts ...CreateOption) (id string, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Create")
	defer func() { s.finish(span, "create", start, err) }()

	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}

	r, err := s.prepare(rec)
	if err != nil {
		return "", err
	}
	derived := rec.ID == ""
	r.Partition, err = s.partitioner.Resolve(r, co.privileged)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("memory.kind", string(r.Kind)), attribute.String("memory.partition", r.Partition))

	s.normalizer.Attach(ctx, r)

	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		return "", Transient("acquire", err)
	}
	defer conn.Release()

	tx := NewTxCoordinator(conn, s.logger)
	err = tx.Run(ctx, func(ctx context.Context) error {
		key, err := s.unique.CheckAndReserve(ctx, conn, r)
		if err != nil {
			return err
		}
		for seq := 1; ; seq++ {
			err := conn.Insert(ctx, r, key)
			if !derived || seq >= maxDeriveAttempts || !isIDConflict(err, r.ID) {
				return Transient("insert", err)
			}
			r.ID = DeriveID(r.Kind, r.AgentID, r.CreatedAt, seq)
		}
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.conflict("unique")
		}
		return "", err
	}

	s.fuzzy.Purge(r.Partition)
	s.publish(ctx, EventCreated, r)
	return r.ID, nil
}

// maxDeriveAttempts bounds how many derived ids Create tries before
// reporting the id conflict.
const maxDeriveAttempts = 16

// isIDConflict reports whether err is a primary key collision on id.
func isIDConflict(err error, id string) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Key == "id="+id
}

// prepare validates a copy of rec and fills its identity and timestamps.
func (s *Store) prepare(rec *Record) (*Record, error) {
	if rec == nil {
		return nil, invalid("", "record is nil")
	}
	if rec.Payload == nil {
		return nil, invalid("payload", "required")
	}
	r := rec.Clone()
	if g, ok := r.Payload.(*Generic); ok && g.Type == "" {
		g.Type = r.Kind
	}
	switch {
	case r.Kind == "":
		r.Kind = r.Payload.Kind()
	case r.Kind != r.Payload.Kind():
		return nil, invalid("type", "record type %s does not match %s payload", r.Kind, r.Payload.Kind())
	}
	if strings.TrimSpace(string(r.Kind)) == "" {
		return nil, invalid("type", "required")
	}
	if strings.TrimSpace(r.AgentID) == "" {
		return nil, invalid("agentId", "required")
	}
	if err := r.Payload.Validate(); err != nil {
		return nil, err
	}
	if _, err := UniqueKey(r); err != nil {
		return nil, err
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	r.UpdatedAt = r.CreatedAt
	if r.ID == "" {
		r.ID = DeriveID(r.Kind, r.AgentID, r.CreatedAt, 0)
	}
	r.Version = 1
	return r, nil
}

// Get returns the record stored under id.
func (s *Store) Get(ctx context.Context, id string) (rec *Record, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Get", attribute.String("memory.id", id))
	defer func() { s.finish(span, "get", start, err) }()

	if id == "" {
		return nil, invalid("id", "required")
	}
	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		return nil, Transient("acquire", err)
	}
	defer conn.Release()
	rec, err = conn.GetByID(ctx, id)
	return rec, Transient("get", err)
}

// Update applies patch when the stored version equals expected. A stale
// version returns (false, nil) and changes nothing. On success the stored
// version is expected+1 and the superseded payload is in the history.
func (s *Store) Update(ctx context.Context, id string, patch Patch, expected int) (ok bool, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Update", attribute.String("memory.id", id), attribute.Int("memory.expected_version", expected))
	defer func() { s.finish(span, "update", start, err) }()

	if id == "" {
		return false, invalid("id", "required")
	}
	if expected < 1 {
		return false, invalid("expectedVersion", "must be at least 1, got %d", expected)
	}

	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		return false, Transient("acquire", err)
	}
	defer conn.Release()

	cur, err := conn.GetByID(ctx, id)
	if err != nil {
		return false, Transient("get", err)
	}
	if cur.Version != expected {
		s.metrics.conflict("version")
		return false, nil
	}
	if _, versioned := cur.Payload.(VersionedPayload); !versioned {
		return false, invalid("type", "%s records are immutable", cur.Kind)
	}

	// The patch and embedding are computed before the transaction. They
	// are only applied if the version is still expected, which means the
	// record they were computed from is still current.
	payload, err := ApplyPatch(cur.Payload, patch)
	if err != nil {
		return false, err
	}
	prepared := cur.Clone()
	prepared.Payload = payload
	if payload.Content() != cur.Payload.Content() {
		prepared.Embedding = nil
		s.normalizer.Attach(ctx, prepared)
	}

	next, ok, err := s.versions.Update(ctx, NewTxCoordinator(conn, s.logger), conn, id, expected, "update",
		func(next *Record) error {
			next.Payload = prepared.Payload
			next.Embedding = prepared.Embedding
			return nil
		})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.conflict("unique")
		}
		return false, err
	}
	if !ok {
		return false, nil
	}
	s.fuzzy.Purge(next.Partition)
	s.publish(ctx, EventUpdated, next)
	return true, nil
}

// Reembed retries embedding generation for a record stored with a fallback
// vector. It reports whether the record was repaired.
func (s *Store) Reembed(ctx context.Context, id string) (ok bool, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Reembed", attribute.String("memory.id", id))
	defer func() { s.finish(span, "reembed", start, err) }()

	if !s.normalizer.Enabled() {
		return false, nil
	}
	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		return false, Transient("acquire", err)
	}
	defer conn.Release()

	cur, err := conn.GetByID(ctx, id)
	if err != nil {
		return false, Transient("get", err)
	}
	if !cur.Degraded() {
		return false, nil
	}
	prepared := cur.Clone()
	prepared.Embedding = nil
	s.normalizer.Attach(ctx, prepared)
	if prepared.Degraded() {
		return false, nil
	}

	next, ok, err := s.versions.Update(ctx, NewTxCoordinator(conn, s.logger), conn, id, cur.Version, "reembed",
		func(next *Record) error {
			next.Payload = prepared.Payload
			next.Embedding = prepared.Embedding
			return nil
		})
	if err != nil || !ok {
		return false, err
	}
	s.fuzzy.Purge(next.Partition)
	s.publish(ctx, EventUpdated, next)
	return true, nil
}

// Degraded lists ids of records stored with a fallback embedding.
func (s *Store) Degraded(ctx context.Context, limit int) ([]string, error) {
	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		return nil, Transient("acquire", err)
	}
	defer conn.Release()
	ids, err := conn.ListDegraded(ctx, limit)
	return ids, Transient("list degraded", err)
}

// Remove hard-deletes id and its history.
func (s *Store) Remove(ctx context.Context, id string) (err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Remove", attribute.String("memory.id", id))
	defer func() { s.finish(span, "remove", start, err) }()

	if id == "" {
		return invalid("id", "required")
	}
	unlock := s.versions.Lock(id)
	defer unlock()

	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		return Transient("acquire", err)
	}
	defer conn.Release()

	var removed *Record
	err = NewTxCoordinator(conn, s.logger).Run(ctx, func(ctx context.Context) error {
		rec, err := conn.GetByID(ctx, id)
		if err != nil {
			return Transient("get", err)
		}
		deleted, err := conn.Delete(ctx, id)
		if err != nil {
			return Transient("delete", err)
		}
		if !deleted {
			return &NotFoundError{ID: id}
		}
		removed = rec
		return nil
	})
	if err != nil {
		return err
	}
	s.fuzzy.Purge(removed.Partition)
	s.publish(ctx, EventDeleted, removed)
	return nil
}

// History returns the version ledger of id, oldest first.
func (s *Store) History(ctx context.Context, id string) (entries []HistoryEntry, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "History", attribute.String("memory.id", id))
	defer func() { s.finish(span, "history", start, err) }()

	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		return nil, Transient("acquire", err)
	}
	defer conn.Release()
	if _, err := conn.GetByID(ctx, id); err != nil {
		return nil, Transient("get", err)
	}
	entries, err = conn.History(ctx, id)
	return entries, Transient("history", err)
}

// Search returns records relevant to q. Semantic search is used when
// embeddings are enabled and a non-zero query vector is available;
// otherwise, or when it fails, the recency fallback runs. Failures degrade
// to an empty result.
func (s *Store) Search(ctx context.Context, q Query) []*Record {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Search")
	var err error
	defer func() { s.finish(span, "search", start, err) }()

	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.Retrieval.DefaultLimit
	}
	partition := q.Partition
	if partition == "" && q.AgentID != "" {
		partition = AgentRoom(q.AgentID)
	}
	if partition == "" {
		s.logger.Debug("memory: search without partition or agent")
		return []*Record{}
	}
	span.SetAttributes(attribute.String("memory.partition", partition))

	threshold := q.Threshold
	if threshold <= 0 {
		threshold = s.cfg.Retrieval.Threshold
	}
	// Caller-supplied vectors are not reflected in the text key.
	cacheable := q.Text != "" && q.Vector == nil
	scope := FuzzyScope{Partition: partition, Limit: limit, Threshold: threshold}
	if cacheable {
		if recs, hit := s.fuzzy.Lookup(scope, q.Text); hit {
			s.metrics.search("cache")
			return recs
		}
	}

	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		s.logger.Warn("memory: search degraded to empty result", "error", err)
		return []*Record{}
	}
	defer conn.Release()

	recs, path, err := s.search(ctx, conn, q, partition, threshold, limit)
	if err != nil {
		s.logger.Warn("memory: search degraded to empty result", "partition", partition, "error", err)
		return []*Record{}
	}
	s.metrics.search(path)
	if cacheable {
		s.fuzzy.Store(scope, q.Text, recs)
	}
	if recs == nil {
		recs = []*Record{}
	}
	return recs
}

func (s *Store) search(ctx context.Context, conn Conn, q Query, partition string, threshold float32, limit int) ([]*Record, string, error) {
	if s.normalizer.Enabled() {
		vec := q.Vector
		if vec != nil {
			vec = s.normalizer.Normalize(vec)
		} else if q.Text != "" {
			var err error
			if vec, err = s.normalizer.EmbedQuery(ctx, q.Text); err != nil {
				s.logger.Warn("memory: query embedding failed, using fallback", "error", err)
				vec = nil
			}
		}
		if !IsZeroVector(vec) {
			recs, err := s.retrieval.SearchSemantic(ctx, conn, vec, partition, threshold, limit)
			if err == nil {
				return recs, "semantic", nil
			}
			s.logger.Warn("memory: semantic search failed, using fallback", "error", err)
		}
	}
	recs, err := s.retrieval.SearchFallback(ctx, conn, partition, limit)
	return recs, "fallback", err
}

// Paginate lists partition newest first. It reads limit+1 rows to learn
// whether another page exists; NextCursor is the id of the last item.
func (s *Store) Paginate(ctx context.Context, partition, cursor string, limit int) (page Page, err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "Paginate", attribute.String("memory.partition", partition))
	defer func() { s.finish(span, "paginate", start, err) }()

	if partition == "" {
		return Page{}, invalid("partition", "required")
	}
	if limit <= 0 {
		limit = s.cfg.Retrieval.DefaultLimit
	}
	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		return Page{}, Transient("acquire", err)
	}
	defer conn.Release()

	recs, err := conn.GetByPartition(ctx, partition, limit+1, cursor)
	if err != nil {
		return Page{}, Transient("paginate", err)
	}
	page.HasMore = len(recs) > limit
	if page.HasMore {
		recs = recs[:limit]
	}
	page.Items = recs
	if len(recs) > 0 {
		page.NextCursor = recs[len(recs)-1].ID
	}
	return page, nil
}

// Subscribe registers fn for change events of kind, local and remote.
func (s *Store) Subscribe(kind Kind, fn Handler) *Subscription {
	return s.sync.Subscribe(kind, fn)
}

// Unsubscribe removes a subscription.
func (s *Store) Unsubscribe(sub *Subscription) {
	s.sync.Unsubscribe(sub)
}

// OnReceive feeds an event received out of band, for example from a
// transport the store does not own. Self-originated events are ignored.
func (s *Store) OnReceive(ctx context.Context, ev Event) bool {
	return s.sync.OnReceive(ctx, ev)
}

func (s *Store) publish(ctx context.Context, kind EventKind, rec *Record) {
	ev := Event{
		Kind:      kind,
		Type:      rec.Kind,
		Partition: rec.Partition,
		AgentID:   rec.AgentID,
		RecordID:  rec.ID,
		Version:   rec.Version,
		Timestamp: s.now().UTC(),
	}
	// The write is committed; a canceled request must not drop the event.
	if err := s.sync.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("memory: event publish failed", "record", rec.ID, "event", kind, "error", err)
	}
}

// reindex keeps the vector index in step with change events.
func (s *Store) reindex(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ev.Kind == EventDeleted {
		if err := s.index.Delete(ctx, ev.Partition, ev.RecordID); err != nil {
			s.logger.Warn("memory: index delete failed", "record", ev.RecordID, "error", err)
		}
		return
	}
	conn, err := s.adapter.Acquire(ctx)
	if err != nil {
		s.logger.Warn("memory: index refresh failed", "record", ev.RecordID, "error", err)
		return
	}
	defer conn.Release()
	rec, err := conn.GetByID(ctx, ev.RecordID)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("memory: index refresh failed", "record", ev.RecordID, "error", err)
		return
	}
	if err := s.index.Upsert(ctx, rec); err != nil {
		s.logger.Warn("memory: index upsert failed", "record", ev.RecordID, "error", err)
	}
}
