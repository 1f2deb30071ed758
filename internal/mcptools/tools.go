// Package mcptools exposes the memory store as Model Context Protocol
// tools so an agent runtime can create, read, update and search memories
// over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/flemzord/memstore/internal/memory"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName identifies the MCP server to clients.
const ServerName = "memstore"

// Tools serves the memory_* tools against a store.
type Tools struct {
	store  *memory.Store
	logger *slog.Logger
}

// New returns the tool set for store.
func New(store *memory.Store, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tools{store: store, logger: logger}
}

// NewServer builds an MCP server with every memory tool registered.
func NewServer(store *memory.Store, version string, logger *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	New(store, logger).Register(s)
	return s
}

// Serve runs s over the given streams until ctx is cancelled or in is
// exhausted.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(s).Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Register adds the tools to s.
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("memory_create",
		mcp.WithDescription("Store a new memory record. Returns the record id."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Record type, e.g. message or wallet_registration.")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent that owns the record.")),
		mcp.WithObject("payload", mcp.Required(), mcp.Description("Type-specific record body.")),
		mcp.WithString("privileged_class", mcp.Description("Operation class allowed to pin the record to a room.")),
		mcp.WithString("privileged_partition", mcp.Description("Room to pin the record to.")),
	), t.create)

	s.AddTool(mcp.NewTool("memory_get",
		mcp.WithDescription("Fetch a memory record by id."),
		mcp.WithString("id", mcp.Required()),
	), t.get)

	s.AddTool(mcp.NewTool("memory_update",
		mcp.WithDescription("Apply a JSON merge patch to a versioned record. Fails softly when expected_version is stale."),
		mcp.WithString("id", mcp.Required()),
		mcp.WithNumber("expected_version", mcp.Required(), mcp.Description("Version the patch was computed against.")),
		mcp.WithObject("patch", mcp.Required()),
	), t.update)

	s.AddTool(mcp.NewTool("memory_search",
		mcp.WithDescription("Find records relevant to a text in an agent's room or an explicit room."),
		mcp.WithString("text", mcp.Description("Query text.")),
		mcp.WithString("agent_id", mcp.Description("Search this agent's private room.")),
		mcp.WithString("partition", mcp.Description("Explicit room id; overrides agent_id.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records.")),
		mcp.WithNumber("threshold", mcp.Description("Minimum cosine similarity.")),
	), t.search)

	s.AddTool(mcp.NewTool("memory_history",
		mcp.WithDescription("List the superseded versions of a record, oldest first."),
		mcp.WithString("id", mcp.Required()),
	), t.history)
}

func (t *Tools) create(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, ok := req.GetArguments()["payload"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError(`required argument "payload" must be an object`), nil
	}

	raw, err := json.Marshal(map[string]any{"type": kind, "agentId": agentID, "payload": payload})
	if err != nil {
		return nil, fmt.Errorf("mcptools: encode record: %w", err)
	}
	var rec memory.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return t.toolError("memory_create", err), nil
	}

	var opts []memory.CreateOption
	if class := req.GetString("privileged_class", ""); class != "" {
		opts = append(opts, memory.WithPrivilegedPartition(class, req.GetString("privileged_partition", "")))
	}
	id, err := t.store.Create(ctx, &rec, opts...)
	if err != nil {
		return t.toolError("memory_create", err), nil
	}
	return jsonResult(map[string]string{"id": id})
}

func (t *Tools) get(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		return t.toolError("memory_get", err), nil
	}
	return jsonResult(rec)
}

func (t *Tools) update(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	expected, err := req.RequireInt("expected_version")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	patch, ok := req.GetArguments()["patch"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError(`required argument "patch" must be an object`), nil
	}

	updated, err := t.store.Update(ctx, id, memory.Patch(patch), expected)
	if err != nil {
		return t.toolError("memory_update", err), nil
	}
	resp := struct {
		Updated bool `json:"updated"`
		Version int  `json:"version"`
	}{Updated: updated, Version: expected + 1}
	if !updated {
		resp.Version = 0
		if cur, err := t.store.Get(ctx, id); err == nil {
			resp.Version = cur.Version
		}
	}
	return jsonResult(resp)
}

func (t *Tools) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := memory.Query{
		Text:      req.GetString("text", ""),
		AgentID:   req.GetString("agent_id", ""),
		Partition: req.GetString("partition", ""),
		Limit:     req.GetInt("limit", 0),
		Threshold: float32(req.GetFloat("threshold", 0)),
	}
	if q.AgentID == "" && q.Partition == "" {
		return mcp.NewToolResultError("one of agent_id or partition is required"), nil
	}
	return jsonResult(map[string]any{"records": t.store.Search(ctx, q)})
}

func (t *Tools) history(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := t.store.History(ctx, id)
	if err != nil {
		return t.toolError("memory_history", err), nil
	}
	if entries == nil {
		entries = []memory.HistoryEntry{}
	}
	return jsonResult(entries)
}

// toolError reports err to the calling model. Storage failures are also
// logged since the model cannot act on them.
func (t *Tools) toolError(tool string, err error) *mcp.CallToolResult {
	if errors.Is(err, memory.ErrTransientStorage) {
		t.logger.Warn("mcptools: storage failure", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcptools: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
