package memory

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// errVersionMoved aborts the update transaction when the conditional write
// loses a race with another process.
var errVersionMoved = errors.New("memory: version moved")

// VersionController applies optimistic updates. Updates to one id are
// serialized in-process by a keyed lock; the adapter's conditional write
// guards against other processes.
type VersionController struct {
	locks   keyedMutex
	unique  UniquenessEnforcer
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewVersionController returns a controller stamping times from now.
func NewVersionController(logger *slog.Logger, metrics *Metrics, now func() time.Time) *VersionController {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if now == nil {
		now = time.Now
	}
	return &VersionController{logger: logger, metrics: metrics, now: now}
}

// Lock holds the per-id lock used by updates and returns its release.
func (v *VersionController) Lock(id string) func() { return v.locks.Lock(id) }

// Mutation edits the next version of a record in place. It receives a copy
// of the current version.
type Mutation func(next *Record) error

// Update runs read, compare, history append and conditional write for id
// inside one transaction while holding the id's lock. A version mismatch
// returns (nil, false, nil) and leaves the record untouched.
func (v *VersionController) Update(ctx context.Context, tx *TxCoordinator, conn Conn, id string, expected int, reason string, mutate Mutation) (*Record, bool, error) {
	unlock := v.Lock(id)
	defer unlock()

	var updated *Record
	err := tx.Run(ctx, func(ctx context.Context) error {
		cur, err := conn.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return errVersionMoved
		}

		next := cur.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		next.ID, next.Kind, next.CreatedAt = cur.ID, cur.Kind, cur.CreatedAt
		if next.Payload == nil || next.Payload.Kind() != cur.Kind {
			return invalid("payload", "update must keep kind %s", cur.Kind)
		}
		if err := next.Payload.Validate(); err != nil {
			return err
		}

		key, err := v.unique.CheckAndReserve(ctx, conn, next)
		if err != nil {
			return err
		}

		snapshot, err := EncodePayload(cur.Payload)
		if err != nil {
			return err
		}
		now := v.now()
		if err := conn.AppendHistory(ctx, HistoryEntry{
			RecordID:  cur.ID,
			Version:   cur.Version,
			Kind:      cur.Kind,
			Snapshot:  snapshot,
			CreatedAt: now,
			Reason:    reason,
		}); err != nil {
			return Transient("append history", err)
		}

		next.Version = expected + 1
		next.UpdatedAt = monotonic(cur.UpdatedAt, now)
		ok, err := conn.UpdateIfVersion(ctx, next, key, expected)
		if err != nil {
			return Transient("update", err)
		}
		if !ok {
			return errVersionMoved
		}
		updated = next
		return nil
	})
	if errors.Is(err, errVersionMoved) {
		v.metrics.conflict("version")
		v.logger.Debug("memory: stale version", "id", id, "expected", expected)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// monotonic returns now, or one nanosecond past prev when the clock has not
// advanced.
func monotonic(prev, now time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}
