package openai

import (
	"testing"

	"github.com/flemzord/memstore/internal/core"
	"github.com/flemzord/memstore/internal/memory"
	"gopkg.in/yaml.v3"
)

func yamlNode(t *testing.T, raw string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	return node.Content[0]
}

func TestModuleInfo(t *testing.T) {
	e := &Embedder{}
	info := e.ModuleInfo()

	if info.ID != "embedder.openai" {
		t.Errorf("expected ID embedder.openai, got %s", info.ID)
	}
	if _, ok := info.New().(*Embedder); !ok {
		t.Errorf("New() returned %T, want *Embedder", info.New())
	}
}

func TestConfigure_Defaults(t *testing.T) {
	e := &Embedder{}
	if err := e.Configure(yamlNode(t, "api_key: sk-test\nrequests_per_second: 5\n")); err != nil {
		t.Fatalf("Configure() error: %v", err)
	}

	if e.config.Model != "text-embedding-3-small" {
		t.Errorf("model = %q, want default", e.config.Model)
	}
	if e.config.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("base_url = %q, want default", e.config.BaseURL)
	}
	if e.config.Timeout != "30s" {
		t.Errorf("timeout = %q, want 30s", e.config.Timeout)
	}
	if e.config.Burst != 1 {
		t.Errorf("burst = %d, want 1", e.config.Burst)
	}
}

func TestProvision_RegistersService(t *testing.T) {
	reg := core.NewRegistry(&Embedder{})
	appCtx := core.NewAppContext(nil, t.TempDir(), reg).WithModuleConfigs(map[string]yaml.Node{
		"embedder.openai": *yamlNode(t, "api_key: sk-test\nrequests_per_second: 2\nburst: 4\n"),
	})

	mod, err := appCtx.LoadModule("embedder.openai")
	if err != nil {
		t.Fatalf("LoadModule: unexpected error: %v", err)
	}
	e := mod.(*Embedder)
	if e.limiter == nil || e.limiter.Burst() != 4 {
		t.Errorf("limiter = %v, want burst 4", e.limiter)
	}

	svc, err := core.Service[memory.Embedder](appCtx, ServiceName)
	if err != nil {
		t.Fatalf("Service: unexpected error: %v", err)
	}
	if svc != memory.Embedder(e) {
		t.Error("registered embedder differs from the module")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid", config: Config{APIKey: "sk", Timeout: "10s"}},
		{name: "missing key", config: Config{Timeout: "10s"}, wantErr: true},
		{name: "bad timeout", config: Config{APIKey: "sk", Timeout: "soon"}, wantErr: true},
		{name: "negative dimensions", config: Config{APIKey: "sk", Timeout: "1s", Dimensions: -1}, wantErr: true},
		{name: "negative rate", config: Config{APIKey: "sk", Timeout: "1s", RequestsPerSecond: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Embedder{config: tt.config}
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
