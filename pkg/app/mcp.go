package app

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/flemzord/memstore/internal/mcptools"
)

// RunMCP builds and starts the application, then serves the memory tools
// over MCP on in/out until in is closed or a shutdown signal arrives.
func RunMCP(params RunParams, in io.Reader, out io.Writer) error {
	rt, err := Build(params)
	if err != nil {
		return err
	}
	if err := rt.App.Start(); err != nil {
		return err
	}
	defer rt.App.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	version := params.Version
	if version == "" {
		version = "dev"
	}
	rt.Logger.Info("mcp server listening on stdio", "process_id", rt.Store.ProcessID())
	return mcptools.Serve(ctx, mcptools.NewServer(rt.Store, version, rt.Logger), in, out)
}
