package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/flemzord/memstore/internal/core"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

func loadModule(t *testing.T, raw string) (*Module, *core.AppContext, error) {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		t.Fatal(err)
	}
	appCtx := core.NewAppContext(nil, t.TempDir(), core.NewRegistry(&Module{})).
		WithModuleConfigs(map[string]yaml.Node{"telemetry.otel": *node.Content[0]})
	mod, err := appCtx.LoadModule("telemetry.otel")
	if err != nil {
		return nil, appCtx, err
	}
	return mod.(*Module), appCtx, nil
}

func TestModule_Disabled(t *testing.T) {
	t.Parallel()

	m, appCtx, err := loadModule(t, "service_name: test\n")
	if err != nil {
		t.Fatalf("LoadModule: unexpected error: %v", err)
	}
	if m.TracerProvider() != nil {
		t.Error("TracerProvider() != nil without endpoint")
	}
	if _, ok := appCtx.GetService(ServiceName); ok {
		t.Error("tracer provider registered without endpoint")
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: unexpected error: %v", err)
	}
}

func TestModule_ExportsSpans(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" && r.Method == http.MethodPost {
			requests.Add(1)
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	endpoint := strings.TrimPrefix(srv.URL, "http://")
	m, appCtx, err := loadModule(t, "endpoint: "+endpoint+"\ninsecure: true\n")
	if err != nil {
		t.Fatalf("LoadModule: unexpected error: %v", err)
	}

	tp, err := core.Service[trace.TracerProvider](appCtx, ServiceName)
	if err != nil {
		t.Fatalf("Service: unexpected error: %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "memory.Create")
	span.End()

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: unexpected error: %v", err)
	}
	if requests.Load() == 0 {
		t.Error("no spans exported before shutdown returned")
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		ratio float64
		ok    bool
	}{
		{name: "default", ratio: 0, ok: true},
		{name: "half", ratio: 0.5, ok: true},
		{name: "negative", ratio: -0.1},
		{name: "above one", ratio: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Config{SampleRatio: tt.ratio}
			c.defaults()
			if err := c.validate(); (err == nil) != tt.ok {
				t.Errorf("validate() error = %v, want ok %v", err, tt.ok)
			}
		})
	}
}
