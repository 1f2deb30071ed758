package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match these through errors.Is so
// callers can branch on the category without a type assertion.
var (
	ErrValidation        = errors.New("memory: validation failed")
	ErrConflict          = errors.New("memory: conflict")
	ErrNotFound          = errors.New("memory: record not found")
	ErrTransientStorage  = errors.New("memory: transient storage failure")
	ErrEmbeddingDegraded = errors.New("memory: embedding degraded")
)

// ValidationError reports a record rejected before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "memory: invalid record: " + e.Reason
	}
	return fmt.Sprintf("memory: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a uniqueness violation. ExistingID names the live
// record holding the key. A conflict means the entity already exists; it is
// not a signal to retry.
type ConflictError struct {
	Kind       Kind
	Key        string
	ExistingID string
}

func (e *ConflictError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("memory: %s conflict on %s", e.Kind, e.Key)
	}
	return fmt.Sprintf("memory: %s conflict on %s (existing record %s)", e.Kind, e.Key, e.ExistingID)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError reports a lookup miss by id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("memory: record %q not found", e.ID)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransientStorageError wraps an adapter I/O failure. Callers may retry
// with backoff.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("memory: storage %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransientStorage.
func (e *TransientStorageError) Is(target error) bool { return target == ErrTransientStorage }

// Transient wraps err as a TransientStorageError for op. Errors that
// already belong to the memory taxonomy are returned unchanged.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransientStorage) {
		return err
	}
	return &TransientStorageError{Op: op, Err: err}
}

// EmbeddingDegradedError describes a record persisted with a zero vector.
// It is logged and counted, never returned from a write.
type EmbeddingDegradedError struct {
	RecordID string
	Reason   string
}

func (e *EmbeddingDegradedError) Error() string {
	return fmt.Sprintf("memory: embedding degraded for %q: %s", e.RecordID, e.Reason)
}

// Is reports whether target is ErrEmbeddingDegraded.
func (e *EmbeddingDegradedError) Is(target error) bool { return target == ErrEmbeddingDegraded }
