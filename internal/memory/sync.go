package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTopic is the broker topic change events travel on.
const DefaultTopic = "memory.events"

// EventKind is the change an event describes.
type EventKind string

// Event kinds.
const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// AllKinds subscribes to every record kind.
const AllKinds Kind = "*"

// Event is the wire format of a record change.
type Event struct {
	Kind            EventKind `json:"kind"`
	Type            Kind      `json:"type"`
	Partition       string    `json:"partition"`
	AgentID         string    `json:"agentId"`
	RecordID        string    `json:"recordId"`
	Version         int       `json:"version,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	OriginProcessID string    `json:"originProcessId"`
}

// Handler receives events. Delivery is at-least-once across processes, so
// handlers must tolerate duplicates and reordering.
type Handler func(Event)

// Subscription is returned by Subscribe and passed to Unsubscribe.
type Subscription struct {
	id   uint64
	kind Kind
	fn   Handler
}

// Kind returns the record kind the subscription is scoped to.
func (s *Subscription) Kind() Kind { return s.kind }

// NewProcessID returns an identifier unique to this process instance.
func NewProcessID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Sync propagates change events. Local subscribers receive events in
// publish order from a single dispatcher goroutine. Remote events go
// through the apply hooks first; events carrying the local process id are
// ignored.
type Sync struct {
	processID string
	topic     string
	broker    Broker
	logger    *slog.Logger
	metrics   *Metrics

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	apply  []func(context.Context, Event)

	queue     *eventQueue
	cancelSub func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewSync returns a Sync for processID publishing on topic. broker may be
// nil for a single process.
func NewSync(processID, topic string, broker Broker, logger *slog.Logger, metrics *Metrics) *Sync {
	if processID == "" {
		processID = NewProcessID()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	s := &Sync{
		processID: processID,
		topic:     topic,
		broker:    broker,
		logger:    logger,
		metrics:   metrics,
		subs:      make(map[uint64]*Subscription),
		queue:     newEventQueue(),
		done:      make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// ProcessID returns the id stamped on outgoing events.
func (s *Sync) ProcessID() string { return s.processID }

// OnApply registers a hook run for every remote event before subscribers
// are notified.
func (s *Sync) OnApply(fn func(context.Context, Event)) {
	s.mu.Lock()
	s.apply = append(s.apply, fn)
	s.mu.Unlock()
}

// Start subscribes to the broker topic.
func (s *Sync) Start(ctx context.Context) error {
	if s.broker == nil {
		return nil
	}
	cancel, err := s.broker.Subscribe(ctx, s.topic, func(data []byte) {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("memory: dropping malformed event", "error", err)
			return
		}
		s.OnReceive(context.Background(), ev)
	})
	if err != nil {
		return fmt.Errorf("memory: subscribe %s: %w", s.topic, err)
	}
	s.mu.Lock()
	s.cancelSub = cancel
	s.mu.Unlock()
	return nil
}

// Publish stamps ev with the process id, queues it for local subscribers
// and broadcasts it. A broker failure is returned but local delivery has
// already happened.
func (s *Sync) Publish(ctx context.Context, ev Event) error {
	ev.OriginProcessID = s.processID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.queue.push(ev)
	s.metrics.event("published")

	if s.broker == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("memory: encode event: %w", err)
	}
	if err := s.broker.Publish(ctx, s.topic, data); err != nil {
		s.metrics.event("publish_failed")
		return fmt.Errorf("memory: publish %s: %w", s.topic, err)
	}
	return nil
}

// OnReceive applies a remote event and notifies subscribers. It reports
// false for events this process published.
func (s *Sync) OnReceive(ctx context.Context, ev Event) bool {
	if ev.OriginProcessID == s.processID {
		s.metrics.event("ignored")
		return false
	}
	s.metrics.event("received")

	s.mu.RLock()
	hooks := append(([]func(context.Context, Event))(nil), s.apply...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, ev)
	}
	s.queue.push(ev)
	return true
}

// Subscribe registers fn for events of kind, or of every kind with
// AllKinds or "".
func (s *Sync) Subscribe(kind Kind, fn Handler) *Subscription {
	if kind == "" {
		kind = AllKinds
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &Subscription{id: s.nextID, kind: kind, fn: fn}
	s.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub. Events already being delivered may still reach
// it.
func (s *Sync) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
}

// Close stops the broker subscription and the dispatcher. Queued events
// are delivered before it returns.
func (s *Sync) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancelSub
		s.cancelSub = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.queue.close()
		<-s.done
	})
	return nil
}

func (s *Sync) dispatch() {
	defer close(s.done)
	for {
		ev, ok := s.queue.pop()
		if !ok {
			return
		}
		s.mu.RLock()
		targets := make([]*Subscription, 0, len(s.subs))
		for _, sub := range s.subs {
			if sub.kind == AllKinds || sub.kind == ev.Type {
				targets = append(targets, sub)
			}
		}
		s.mu.RUnlock()
		slices.SortFunc(targets, func(a, b *Subscription) int { return cmp.Compare(a.id, b.id) })
		for _, sub := range targets {
			s.deliver(sub, ev)
		}
	}
}

func (s *Sync) deliver(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("memory: event handler panicked", "record", ev.RecordID, "panic", r)
		}
	}()
	sub.fn(ev)
}

// eventQueue is an unbounded FIFO so publishers never block on slow
// subscribers.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.cond.Signal()
}

func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
