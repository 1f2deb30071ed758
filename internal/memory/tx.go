package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Transaction statements issued by TxCoordinator.
const (
	StmtBegin    = "BEGIN"
	StmtCommit   = "COMMIT"
	StmtRollback = "ROLLBACK"
)

// SavepointName returns the savepoint used at nesting level.
func SavepointName(level int) string {
	return fmt.Sprintf("sp_%d", level)
}

// TxCoordinator maps a nesting level onto real transactions and
// savepoints of one Conn. Level 1 is the outer transaction; each deeper
// level is a savepoint. It is request-scoped and not safe for concurrent
// use.
type TxCoordinator struct {
	conn   Conn
	logger *slog.Logger
	level  int
}

// NewTxCoordinator returns a coordinator at level 0 for conn.
func NewTxCoordinator(conn Conn, logger *slog.Logger) *TxCoordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TxCoordinator{conn: conn, logger: logger}
}

// Level returns the current nesting level.
func (t *TxCoordinator) Level() int { return t.level }

// Begin opens a transaction at level 1, or a savepoint when one is open.
func (t *TxCoordinator) Begin(ctx context.Context) error {
	next := t.level + 1
	stmt := StmtBegin
	if next > 1 {
		stmt = "SAVEPOINT " + SavepointName(next)
	}
	if err := t.conn.Exec(ctx, stmt); err != nil {
		return Transient("begin", err)
	}
	t.level = next
	return nil
}

// Commit releases the innermost savepoint, or commits at level 1. With no
// open transaction it logs a warning and does nothing.
func (t *TxCoordinator) Commit(ctx context.Context) error {
	if t.level == 0 {
		t.logger.Warn("memory: commit without open transaction")
		return nil
	}
	stmt := StmtCommit
	if t.level > 1 {
		stmt = "RELEASE SAVEPOINT " + SavepointName(t.level)
	}
	if err := t.conn.Exec(ctx, stmt); err != nil {
		return Transient("commit", err)
	}
	t.level--
	return nil
}

// Rollback undoes the innermost savepoint, or the whole transaction at
// level 1. The level is decremented even when the statement fails. With no
// open transaction it logs a warning and does nothing.
func (t *TxCoordinator) Rollback(ctx context.Context) error {
	if t.level == 0 {
		t.logger.Warn("memory: rollback without open transaction")
		return nil
	}
	level := t.level
	t.level--
	if level == 1 {
		return Transient("rollback", t.conn.Exec(ctx, StmtRollback))
	}
	name := SavepointName(level)
	if err := t.conn.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return Transient("rollback", err)
	}
	// ROLLBACK TO keeps the savepoint on the stack.
	return Transient("rollback", t.conn.Exec(ctx, "RELEASE SAVEPOINT "+name))
}

// Run executes fn one level deeper, committing on success and rolling back
// on error or panic.
func (t *TxCoordinator) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := t.Begin(ctx); err != nil {
		return err
	}
	level := t.level
	defer func() {
		if r := recover(); r != nil {
			if t.level == level {
				_ = t.Rollback(ctx)
			}
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := t.Rollback(ctx); rbErr != nil {
			t.logger.Warn("memory: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := t.Commit(ctx); err != nil {
		if rbErr := t.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return nil
}
