package memory

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

var roomNamespace = uuid.MustParse("0b7f3e6d-2c41-5a8e-8d9f-61c2b4a7e3f0")

// DefaultGlobalKinds share one room across all agents.
var DefaultGlobalKinds = []Kind{KindProposal, KindVote, KindTreasuryTransaction}

// PartitionConfig controls room assignment.
type PartitionConfig struct {
	GlobalKinds []Kind `yaml:"global_kinds"`
	// PrivilegedClasses lists operation classes allowed to pin a room.
	PrivilegedClasses []string `yaml:"privileged_classes"`
}

func (c *PartitionConfig) defaults() {
	if c.GlobalKinds == nil {
		c.GlobalKinds = slices.Clone(DefaultGlobalKinds)
	}
}

// Partitioner assigns records to rooms. Assignment depends only on kind and
// agent.
type Partitioner struct {
	global     map[Kind]struct{}
	privileged map[string]struct{}
}

// NewPartitioner builds a Partitioner from cfg.
func NewPartitioner(cfg PartitionConfig) *Partitioner {
	cfg.defaults()
	p := &Partitioner{
		global:     make(map[Kind]struct{}, len(cfg.GlobalKinds)),
		privileged: make(map[string]struct{}, len(cfg.PrivilegedClasses)),
	}
	for _, k := range cfg.GlobalKinds {
		p.global[k] = struct{}{}
	}
	for _, c := range cfg.PrivilegedClasses {
		p.privileged[strings.TrimSpace(c)] = struct{}{}
	}
	return p
}

// GlobalRoom returns the shared room id.
func GlobalRoom() string {
	return uuid.NewSHA1(roomNamespace, []byte("global")).String()
}

// AgentRoom returns the private room id of agentID.
func AgentRoom(agentID string) string {
	return uuid.NewSHA1(roomNamespace, []byte("agent:"+agentID)).String()
}

// IsGlobal reports whether kind lives in the shared room.
func (p *Partitioner) IsGlobal(kind Kind) bool {
	_, ok := p.global[kind]
	return ok
}

// Assign returns the room for a record of kind owned by agentID.
func (p *Partitioner) Assign(kind Kind, agentID string) string {
	if p.IsGlobal(kind) {
		return GlobalRoom()
	}
	return AgentRoom(agentID)
}

// Privileged pins a record to an explicit room on behalf of an operation
// class.
type Privileged struct {
	Class     string
	Partition string
}

// Resolve returns the room for rec. A privileged override is returned
// verbatim once its class is allowed.
func (p *Partitioner) Resolve(rec *Record, override *Privileged) (string, error) {
	if override == nil {
		return p.Assign(rec.Kind, rec.AgentID), nil
	}
	if _, ok := p.privileged[override.Class]; !ok {
		return "", invalid("partition", "operation class %q may not pin a room", override.Class)
	}
	if strings.TrimSpace(override.Partition) == "" {
		return "", invalid("partition", "privileged override without a room")
	}
	return override.Partition, nil
}
