package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/slush-dev/pushconsent/apps/go-cli/internal/app"
)

// PushConsentMCPServer wraps an MCP server exposing the consent reconciler as
// tools and the persisted session as resources.
type PushConsentMCPServer struct {
	server *mcp.Server
	app    *app.App
	logger *slog.Logger
}

// New creates a new PushConsentMCPServer over an opened runtime.
func New(a *app.App, version string, logger *slog.Logger) *PushConsentMCPServer {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "pushconsent",
		Version: version,
	}, nil)

	p := &PushConsentMCPServer{
		server: s,
		app:    a,
		logger: logger,
	}

	p.registerResources()
	p.registerTools()

	return p
}

// Run starts the MCP server on stdio and blocks until done.
func (p *PushConsentMCPServer) Run(ctx context.Context) error {
	return p.server.Run(ctx, &mcp.StdioTransport{})
}

// RunWithTransport starts the MCP server on a custom transport (for testing).
func (p *PushConsentMCPServer) RunWithTransport(ctx context.Context, t mcp.Transport) error {
	_, err := p.server.Connect(ctx, t, nil)
	return err
}

// jsonResult marshals v to JSON and returns it as a text CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// errorResult returns a CallToolResult with IsError=true.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}
