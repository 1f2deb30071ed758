package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/memstore/internal/memory"
	"gopkg.in/yaml.v3"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mustYAMLNode(t *testing.T, raw string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	return node.Content[0]
}

func newTestStore(t *testing.T, adapter memory.Adapter) *memory.Store {
	t.Helper()
	store, err := memory.New(memory.Config{}, adapter)
	if err != nil {
		t.Fatalf("memory.New: unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestServer serves a gateway over store through httptest.
func newTestServer(t *testing.T, cfg Config, store *memory.Store) (*Gateway, *httptest.Server) {
	t.Helper()
	g := &Gateway{config: cfg}
	g.init(store, discardLogger())
	srv := httptest.NewServer(g.buildRouter())
	t.Cleanup(func() {
		g.closeStreams()
		srv.Close()
	})
	return g, srv
}

// doJSON sends body as JSON and decodes the response into out when non-nil.
func doJSON(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

var errStorageDown = errors.New("storage down")

// downAdapter refuses every connection.
type downAdapter struct {
	*memory.MemAdapter
}

func (downAdapter) Acquire(context.Context) (memory.Conn, error) { return nil, errStorageDown }
func (downAdapter) Ping(context.Context) error                   { return errStorageDown }
