package memory

import (
	"bytes"
	"encoding/json"
	"time"
)

// recordJSON is the external shape of a Record. The embedding stays
// internal; EmbeddingFallback reports whether it is a placeholder.
type recordJSON struct {
	ID                string          `json:"id,omitempty"`
	Type              Kind            `json:"type,omitempty"`
	Partition         string          `json:"partition,omitempty"`
	OwnerID           string          `json:"ownerId,omitempty"`
	AgentID           string          `json:"agentId"`
	Payload           json.RawMessage `json:"payload"`
	Version           int             `json:"version,omitempty"`
	EmbeddingFallback bool            `json:"embeddingFallback,omitempty"`
	CreatedAt         time.Time       `json:"createdAt,omitzero"`
	UpdatedAt         time.Time       `json:"updatedAt,omitzero"`
}

// MarshalJSON encodes r with its payload inline.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:                r.ID,
		Type:              r.Kind,
		Partition:         r.Partition,
		OwnerID:           r.OwnerID,
		AgentID:           r.AgentID,
		Version:           r.Version,
		EmbeddingFallback: r.Degraded(),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		Payload:           json.RawMessage("null"),
	}
	if r.Payload != nil {
		data, err := EncodePayload(r.Payload)
		if err != nil {
			return nil, err
		}
		out.Payload = data
		if out.Type == "" {
			out.Type = r.Payload.Kind()
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a record written by MarshalJSON or submitted by a
// client. The type selects the payload variant and is required when a
// payload is present.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Record{
		ID:        in.ID,
		Kind:      in.Type,
		Partition: in.Partition,
		OwnerID:   in.OwnerID,
		AgentID:   in.AgentID,
		Version:   in.Version,
		CreatedAt: in.CreatedAt,
		UpdatedAt: in.UpdatedAt,
	}
	if len(in.Payload) == 0 || bytes.Equal(bytes.TrimSpace(in.Payload), []byte("null")) {
		return nil
	}
	if in.Type == "" {
		return invalid("type", "required")
	}
	p, err := DecodePayload(in.Type, in.Payload)
	if err != nil {
		return invalid("payload", "%v", err)
	}
	r.Payload = p
	return nil
}
