package memory_test

import (
	"errors"
	"testing"

	"github.com/flemzord/memstore/internal/memory"
)

func TestPartitioner_Assign(t *testing.T) {
	t.Parallel()

	p := memory.NewPartitioner(memory.PartitionConfig{})

	tests := []struct {
		kind  memory.Kind
		agent string
		want  string
	}{
		{memory.KindProposal, "a1", memory.GlobalRoom()},
		{memory.KindVote, "a2", memory.GlobalRoom()},
		{memory.KindTreasuryTransaction, "a1", memory.GlobalRoom()},
		{memory.KindMessage, "a1", memory.AgentRoom("a1")},
		{memory.KindWalletRegistration, "a2", memory.AgentRoom("a2")},
		{"custom", "a1", memory.AgentRoom("a1")},
	}
	for _, tt := range tests {
		if got := p.Assign(tt.kind, tt.agent); got != tt.want {
			t.Errorf("Assign(%s, %s) = %q, want %q", tt.kind, tt.agent, got, tt.want)
		}
	}

	if memory.AgentRoom("a1") == memory.AgentRoom("a2") {
		t.Fatal("distinct agents share a room")
	}
	if memory.AgentRoom("a1") != memory.AgentRoom("a1") {
		t.Fatal("room id is not stable")
	}
}

func TestPartitioner_CustomGlobalKinds(t *testing.T) {
	t.Parallel()

	p := memory.NewPartitioner(memory.PartitionConfig{GlobalKinds: []memory.Kind{"announcement"}})
	if !p.IsGlobal("announcement") {
		t.Fatal("IsGlobal(announcement) = false, want true")
	}
	if p.IsGlobal(memory.KindProposal) {
		t.Fatal("IsGlobal(proposal) = true with an explicit list")
	}
}

func TestPartitioner_Resolve(t *testing.T) {
	t.Parallel()

	p := memory.NewPartitioner(memory.PartitionConfig{PrivilegedClasses: []string{"migration"}})
	rec := &memory.Record{Kind: memory.KindMessage, AgentID: "a1"}

	tests := []struct {
		name     string
		override *memory.Privileged
		want     string
		wantErr  bool
	}{
		{name: "default", want: memory.AgentRoom("a1")},
		{name: "allowed class", override: &memory.Privileged{Class: "migration", Partition: "room-x"}, want: "room-x"},
		{name: "unknown class", override: &memory.Privileged{Class: "agent", Partition: "room-x"}, wantErr: true},
		{name: "empty room", override: &memory.Privileged{Class: "migration", Partition: " "}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := p.Resolve(rec, tt.override)
			if tt.wantErr {
				if !errors.Is(err, memory.ErrValidation) {
					t.Fatalf("Resolve: error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}
