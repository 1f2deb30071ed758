// Package memory implements the versioned memory store shared by
// cooperating agents: typed records with optimistic versioning, per-kind
// uniqueness, room partitioning, embedding normalization, degraded lexical
// retrieval and cross-process change propagation.
package memory

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idNamespace seeds ids derived from kind, agent and creation time.
var idNamespace = uuid.MustParse("6f1d3c2a-4b8e-5f70-9a1c-2d3e4f5a6b7c")

// Record is one persisted memory.
type Record struct {
	ID        string
	Kind      Kind
	Partition string
	OwnerID   string
	AgentID   string
	Payload   Payload
	Embedding []float32
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Text returns the payload text, or "" when the record has no payload.
func (r *Record) Text() string {
	if r == nil || r.Payload == nil {
		return ""
	}
	return r.Payload.Content()
}

// Degraded reports whether the record carries a fallback embedding.
func (r *Record) Degraded() bool {
	if r == nil || r.Payload == nil {
		return false
	}
	v, _ := r.Payload.Annotations()[AnnotationEmbeddingFallback].(bool)
	return v
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Embedding = slices.Clone(r.Embedding)
	if p, err := ClonePayload(r.Payload); err == nil {
		c.Payload = p
	}
	return &c
}

// DeriveID returns the deterministic id used when a record is created
// without one. seq disambiguates records sharing kind, agent and creation
// time; seq 0 is the first candidate.
func DeriveID(kind Kind, agentID string, createdAt time.Time, seq int) string {
	parts := []string{string(kind), agentID, strconv.FormatInt(createdAt.UnixNano(), 10)}
	if seq > 0 {
		parts = append(parts, strconv.Itoa(seq))
	}
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "|"))).String()
}

// HistoryEntry is one row of the version ledger: the payload that was
// current at Version before it was superseded.
type HistoryEntry struct {
	RecordID  string          `json:"recordId"`
	Version   int             `json:"version"`
	Kind      Kind            `json:"type"`
	Snapshot  json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	Reason    string          `json:"reason,omitempty"`
}

// Payload decodes the snapshot.
func (h HistoryEntry) Payload() (Payload, error) {
	return DecodePayload(h.Kind, h.Snapshot)
}

// Page is one slice of a partition listing.
type Page struct {
	Items      []*Record
	HasMore    bool
	NextCursor string
}
