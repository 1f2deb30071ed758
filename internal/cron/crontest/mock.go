// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/memstore/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockBackfillStore is a test double for cron.BackfillStore. Records in
// Pending are listed until ReembedFunc reports them repaired.
type MockBackfillStore struct {
	ListErr     error
	ReembedFunc func(ctx context.Context, id string) (bool, error)

	mu       sync.Mutex
	Pending  []string
	Reembeds []string
	Limits   []int
}

// Compile-time interface check.
var _ cron.BackfillStore = (*MockBackfillStore)(nil)

// Degraded implements cron.BackfillStore.
func (m *MockBackfillStore) Degraded(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Limits = append(m.Limits, limit)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	n := min(limit, len(m.Pending))
	return append([]string(nil), m.Pending[:n]...), nil
}

// Reembed implements cron.BackfillStore.
func (m *MockBackfillStore) Reembed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	m.Reembeds = append(m.Reembeds, id)
	m.mu.Unlock()

	ok := true
	var err error
	if m.ReembedFunc != nil {
		ok, err = m.ReembedFunc(ctx, id)
	}
	if ok && err == nil {
		m.mu.Lock()
		for i, p := range m.Pending {
			if p == id {
				m.Pending = append(m.Pending[:i], m.Pending[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}
	return ok, err
}

// Remaining returns the ids still pending.
func (m *MockBackfillStore) Remaining() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Pending...)
}
