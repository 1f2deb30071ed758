package memory

import (
	"context"
	"slices"
	"sync"
)

// LocalBroker is an in-process Broker. Several Sync instances sharing one
// LocalBroker behave like cooperating processes. Handlers run synchronously
// on the publishing goroutine.
type LocalBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]func([]byte)
	nextID uint64
}

// NewLocalBroker returns an empty broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[uint64]func([]byte))}
}

var _ Broker = (*LocalBroker)(nil)

// Publish hands a copy of data to every handler of topic.
func (b *LocalBroker) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	handlers := make([]func([]byte), 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(slices.Clone(data))
	}
	return nil
}

// Subscribe registers handler on topic.
func (b *LocalBroker) Subscribe(_ context.Context, topic string, handler func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]func([]byte))
	}
	b.subs[topic][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
		})
	}, nil
}
