package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind selects the payload variant of a record along with its uniqueness,
// versioning and partitioning rules.
type Kind string

// Built-in kinds. Any other kind decodes to *Generic.
const (
	KindMessage             Kind = "message"
	KindWalletRegistration  Kind = "wallet_registration"
	KindProposal            Kind = "proposal"
	KindVote                Kind = "vote"
	KindTreasuryTransaction Kind = "treasury_transaction"
	KindSystem              Kind = "system"
	KindError               Kind = "error"
)

// Payload annotation keys set when an embedding could not be generated.
const (
	AnnotationEmbeddingFallback       = "embeddingFallback"
	AnnotationEmbeddingFallbackReason = "embeddingFallbackReason"
)

// Payload is the typed body of a record. There is one implementation per
// kind; capabilities are declared through UniquePayload and
// VersionedPayload.
type Payload interface {
	Kind() Kind
	// Content returns the text used for embeddings and lexical filters.
	Content() string
	Validate() error

	Annotations() map[string]any
	Annotate(key string, value any)
	Unannotate(key string)
}

// UniqueField is one component of a composite uniqueness key.
type UniqueField struct {
	Name  string
	Value string
}

// UniquePayload is implemented by kinds that allow at most one live record
// per composite key.
type UniquePayload interface {
	Payload
	UniqueFields(agentID string) []UniqueField
}

// VersionedPayload is implemented by kinds that may be updated after
// creation. Other kinds are immutable.
type VersionedPayload interface {
	Payload
	versioned()
}

// Meta carries the free-form metadata map shared by every variant.
type Meta struct {
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Annotations returns the metadata map. It may be nil.
func (m *Meta) Annotations() map[string]any { return m.Metadata }

// Annotate sets a metadata key.
func (m *Meta) Annotate(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}

// Unannotate removes a metadata key.
func (m *Meta) Unannotate(key string) {
	delete(m.Metadata, key)
	if len(m.Metadata) == 0 {
		m.Metadata = nil
	}
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a conversational turn. Messages are immutable.
type Message struct {
	Meta
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
}

func (*Message) Kind() Kind           { return KindMessage }
func (m *Message) Content() string    { return m.Text }
func (m *Message) UserAuthored() bool { return m.Role == "" || m.Role == RoleUser }

func (m *Message) Validate() error {
	switch m.Role {
	case "", RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return invalid("role", "unknown message role %q", m.Role)
	}
}

// WalletRegistration binds a wallet address to an agent. Unique per
// (agent, address).
type WalletRegistration struct {
	Meta
	Address string `json:"address"`
	Chain   string `json:"chain,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (*WalletRegistration) Kind() Kind { return KindWalletRegistration }
func (*WalletRegistration) versioned() {}

func (w *WalletRegistration) Content() string {
	return strings.TrimSpace(w.Chain + " wallet " + w.Address + " " + w.Status)
}

func (w *WalletRegistration) Validate() error {
	if strings.TrimSpace(w.Address) == "" {
		return invalid("address", "required")
	}
	return nil
}

func (w *WalletRegistration) UniqueFields(agentID string) []UniqueField {
	return []UniqueField{{Name: "agentId", Value: agentID}, {Name: "address", Value: w.Address}}
}

// Proposal is a governance proposal shared by all agents.
type Proposal struct {
	Meta
	ProposalID  string `json:"proposalId"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (*Proposal) Kind() Kind { return KindProposal }
func (*Proposal) versioned() {}

func (p *Proposal) Content() string {
	return strings.TrimSpace(p.Title + "\n" + p.Description)
}

func (p *Proposal) Validate() error {
	if strings.TrimSpace(p.ProposalID) == "" {
		return invalid("proposalId", "required")
	}
	return nil
}

func (p *Proposal) UniqueFields(string) []UniqueField {
	return []UniqueField{{Name: "proposalId", Value: p.ProposalID}}
}

// Vote is one voter's choice on a proposal.
type Vote struct {
	Meta
	ProposalID string `json:"proposalId"`
	Voter      string `json:"voter"`
	Choice     string `json:"choice,omitempty"`
}

func (*Vote) Kind() Kind { return KindVote }
func (*Vote) versioned() {}

func (v *Vote) Content() string {
	return strings.TrimSpace(v.Voter + " voted " + v.Choice + " on " + v.ProposalID)
}

func (v *Vote) Validate() error {
	if strings.TrimSpace(v.ProposalID) == "" {
		return invalid("proposalId", "required")
	}
	if strings.TrimSpace(v.Voter) == "" {
		return invalid("voter", "required")
	}
	return nil
}

func (v *Vote) UniqueFields(string) []UniqueField {
	return []UniqueField{{Name: "proposalId", Value: v.ProposalID}, {Name: "voter", Value: v.Voter}}
}

// TreasuryTransaction records a treasury movement by transaction hash.
type TreasuryTransaction struct {
	Meta
	TxHash string `json:"txHash"`
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount,omitempty"`
	Status string `json:"status,omitempty"`
}

func (*TreasuryTransaction) Kind() Kind { return KindTreasuryTransaction }
func (*TreasuryTransaction) versioned() {}

func (t *TreasuryTransaction) Content() string {
	return strings.TrimSpace(t.Amount + " " + t.Token + " " + t.Status + " " + t.TxHash)
}

func (t *TreasuryTransaction) Validate() error {
	if strings.TrimSpace(t.TxHash) == "" {
		return invalid("txHash", "required")
	}
	return nil
}

func (t *TreasuryTransaction) UniqueFields(string) []UniqueField {
	return []UniqueField{{Name: "txHash", Value: t.TxHash}}
}

// SystemNote is an internal notice. Excluded from lexical retrieval.
type SystemNote struct {
	Meta
	Text string `json:"text"`
}

func (*SystemNote) Kind() Kind        { return KindSystem }
func (s *SystemNote) Content() string { return s.Text }
func (*SystemNote) Validate() error   { return nil }

// ErrorNote records a failure surfaced to an agent. Excluded from lexical
// retrieval.
type ErrorNote struct {
	Meta
	Text   string `json:"text"`
	Reason string `json:"reason,omitempty"`
}

func (*ErrorNote) Kind() Kind        { return KindError }
func (e *ErrorNote) Content() string { return e.Text }
func (*ErrorNote) Validate() error   { return nil }

// Generic holds any kind without a dedicated variant. Generic records are
// versioned and never unique.
type Generic struct {
	Meta
	Type   Kind           `json:"-"`
	Text   string         `json:"text,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (g *Generic) Kind() Kind      { return g.Type }
func (g *Generic) Content() string { return g.Text }
func (*Generic) versioned()        {}

func (g *Generic) Validate() error {
	if strings.TrimSpace(string(g.Type)) == "" {
		return invalid("type", "required")
	}
	return nil
}

// Compile-time capability guards.
var (
	_ UniquePayload    = (*WalletRegistration)(nil)
	_ UniquePayload    = (*Proposal)(nil)
	_ UniquePayload    = (*Vote)(nil)
	_ UniquePayload    = (*TreasuryTransaction)(nil)
	_ VersionedPayload = (*WalletRegistration)(nil)
	_ VersionedPayload = (*Proposal)(nil)
	_ VersionedPayload = (*Vote)(nil)
	_ VersionedPayload = (*TreasuryTransaction)(nil)
	_ VersionedPayload = (*Generic)(nil)
	_ Payload          = (*Message)(nil)
	_ Payload          = (*SystemNote)(nil)
	_ Payload          = (*ErrorNote)(nil)
)

// NewPayload returns an empty payload of the variant registered for kind.
func NewPayload(kind Kind) Payload {
	switch kind {
	case KindMessage:
		return &Message{}
	case KindWalletRegistration:
		return &WalletRegistration{}
	case KindProposal:
		return &Proposal{}
	case KindVote:
		return &Vote{}
	case KindTreasuryTransaction:
		return &TreasuryTransaction{}
	case KindSystem:
		return &SystemNote{}
	case KindError:
		return &ErrorNote{}
	default:
		return &Generic{Type: kind}
	}
}

// EncodePayload serializes p for storage or transport.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("memory: encode %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// DecodePayload parses data into the variant registered for kind.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	p := NewPayload(kind)
	if len(bytes.TrimSpace(data)) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("memory: decode %s payload: %w", kind, err)
	}
	return p, nil
}

// ClonePayload returns a deep copy of p.
func ClonePayload(p Payload) (Payload, error) {
	if p == nil {
		return nil, nil
	}
	data, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	return DecodePayload(p.Kind(), data)
}

// Patch is a JSON merge patch applied to a payload. A nil value removes the
// field.
type Patch map[string]any

// ApplyPatch returns a copy of p with patch merged in. Fields unknown to the
// variant are rejected.
func ApplyPatch(p Payload, patch Patch) (Payload, error) {
	base, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, fmt.Errorf("memory: patch base: %w", err)
	}
	merged := mergePatch(doc, map[string]any(patch))

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, invalid("patch", "%v", err)
	}
	out := NewPayload(p.Kind())
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return nil, invalid("patch", "%v", err)
	}
	return out, nil
}

// mergePatch applies patch to target following JSON merge patch rules.
func mergePatch(target, patch map[string]any) map[string]any {
	if target == nil {
		target = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(target, k)
			continue
		}
		sub, ok := v.(map[string]any)
		if !ok {
			target[k] = v
			continue
		}
		existing, _ := target[k].(map[string]any)
		target[k] = mergePatch(existing, sub)
	}
	return target
}
