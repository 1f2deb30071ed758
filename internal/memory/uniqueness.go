package memory

import (
	"context"
	"strconv"
	"strings"
)

// UniqueKey returns the composite key of rec, or "" when its kind has no
// uniqueness rule. Empty key fields are a validation error.
func UniqueKey(rec *Record) (string, error) {
	up, ok := rec.Payload.(UniquePayload)
	if !ok {
		return "", nil
	}
	var b strings.Builder
	b.WriteString(string(rec.Kind))
	for _, f := range up.UniqueFields(rec.AgentID) {
		if strings.TrimSpace(f.Value) == "" {
			return "", invalid(f.Name, "required for %s uniqueness", rec.Kind)
		}
		b.WriteByte('|')
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(f.Value))
	}
	return b.String(), nil
}

// UniquenessEnforcer rejects records whose composite key is already held by
// a live record.
type UniquenessEnforcer struct{}

// CheckAndReserve returns the key rec will be stored under. The adapter's
// unique index makes the reservation atomic at insert time; this check
// reports the conflict early with the existing id.
func (UniquenessEnforcer) CheckAndReserve(ctx context.Context, conn Conn, rec *Record) (string, error) {
	key, err := UniqueKey(rec)
	if err != nil || key == "" {
		return key, err
	}
	id, found, err := conn.FindUnique(ctx, key)
	if err != nil {
		return "", Transient("find unique", err)
	}
	if found && id != rec.ID {
		return "", &ConflictError{Kind: rec.Kind, Key: key, ExistingID: id}
	}
	return key, nil
}
