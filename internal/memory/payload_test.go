package memory_test

import (
	"errors"
	"testing"

	"github.com/flemzord/memstore/internal/memory"
)

func TestApplyPatch(t *testing.T) {
	t.Parallel()

	base := &memory.WalletRegistration{Address: "addr1", Chain: "sol"}
	base.Annotate("label", "main")
	base.Annotate("note", "old")

	got, err := memory.ApplyPatch(base, memory.Patch{
		"status":   "confirmed",
		"chain":    nil,
		"metadata": map[string]any{"note": nil, "tier": "gold"},
	})
	if err != nil {
		t.Fatalf("ApplyPatch: unexpected error: %v", err)
	}
	w := got.(*memory.WalletRegistration)
	if w.Status != "confirmed" || w.Address != "addr1" || w.Chain != "" {
		t.Fatalf("patched = %+v", w)
	}
	meta := w.Annotations()
	if meta["label"] != "main" || meta["tier"] != "gold" {
		t.Fatalf("metadata = %v, want label and tier", meta)
	}
	if _, ok := meta["note"]; ok {
		t.Fatalf("metadata = %v, note should be removed", meta)
	}

	// The input is left alone.
	if base.Status != "" || base.Chain != "sol" || base.Annotations()["note"] != "old" {
		t.Fatalf("input mutated: %+v", base)
	}
}

func TestApplyPatch_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		patch memory.Patch
	}{
		{"unknown field", memory.Patch{"nope": 1}},
		{"wrong type", memory.Patch{"address": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := memory.ApplyPatch(&memory.WalletRegistration{Address: "a"}, tt.patch)
			if !errors.Is(err, memory.ErrValidation) {
				t.Fatalf("ApplyPatch: error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestApplyPatch_GenericKeepsType(t *testing.T) {
	t.Parallel()

	g := &memory.Generic{Type: "note", Text: "a", Fields: map[string]any{"x": 1.0, "y": "keep"}}
	got, err := memory.ApplyPatch(g, memory.Patch{"fields": map[string]any{"x": 2}})
	if err != nil {
		t.Fatalf("ApplyPatch: unexpected error: %v", err)
	}
	out := got.(*memory.Generic)
	if out.Kind() != "note" {
		t.Fatalf("Kind() = %q, want note", out.Kind())
	}
	if out.Fields["x"] != 2.0 || out.Fields["y"] != "keep" {
		t.Fatalf("Fields = %v", out.Fields)
	}
}

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind memory.Kind
		data string
		want memory.Kind
	}{
		{memory.KindMessage, `{"role":"user","text":"hi"}`, memory.KindMessage},
		{memory.KindVote, `{"proposalId":"p","voter":"v"}`, memory.KindVote},
		{"custom", `{"text":"x"}`, "custom"},
		{memory.KindSystem, ``, memory.KindSystem},
	}
	for _, tt := range tests {
		p, err := memory.DecodePayload(tt.kind, []byte(tt.data))
		if err != nil {
			t.Fatalf("DecodePayload(%s): unexpected error: %v", tt.kind, err)
		}
		if p.Kind() != tt.want {
			t.Errorf("DecodePayload(%s).Kind() = %q, want %q", tt.kind, p.Kind(), tt.want)
		}
	}

	if _, err := memory.DecodePayload(memory.KindMessage, []byte("{")); err == nil {
		t.Fatal("DecodePayload(malformed): want error")
	}
}

func TestUniqueKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rec     *memory.Record
		want    string
		wantErr bool
	}{
		{
			name: "wallet scoped by agent",
			rec:  &memory.Record{Kind: memory.KindWalletRegistration, AgentID: "u1", Payload: &memory.WalletRegistration{Address: "addr1"}},
			want: `wallet_registration|agentId="u1"|address="addr1"`,
		},
		{
			name: "vote",
			rec:  &memory.Record{Kind: memory.KindVote, Payload: &memory.Vote{ProposalID: "p1", Voter: "v|x"}},
			want: `vote|proposalId="p1"|voter="v|x"`,
		},
		{
			name: "message has no key",
			rec:  &memory.Record{Kind: memory.KindMessage, Payload: &memory.Message{Text: "hi"}},
			want: "",
		},
		{
			name:    "empty field",
			rec:     &memory.Record{Kind: memory.KindTreasuryTransaction, Payload: &memory.TreasuryTransaction{TxHash: " "}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := memory.UniqueKey(tt.rec)
			if tt.wantErr {
				if !errors.Is(err, memory.ErrValidation) {
					t.Fatalf("UniqueKey: error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("UniqueKey: unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("UniqueKey = %q, want %q", got, tt.want)
			}
		})
	}
}
