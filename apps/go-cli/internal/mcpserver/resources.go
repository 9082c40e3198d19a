package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/slush-dev/pushconsent/analytics"
)

func (p *PushConsentMCPServer) registerResources() {
	p.server.AddResource(&mcp.Resource{
		URI:         "pushconsent://status",
		Name:        "Session Status",
		Description: "Persisted consent, device token and registration outcome",
		MIMEType:    "application/json",
	}, p.handleStatusResource)

	p.server.AddResource(&mcp.Resource{
		URI:         "pushconsent://events",
		Name:        "Consent Events",
		Description: "Opt-in and opt-out events recorded for this installation",
		MIMEType:    "application/json",
	}, p.handleEventsResource)
}

func (p *PushConsentMCPServer) handleStatusResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, p.app.Status())
}

func (p *PushConsentMCPServer) handleEventsResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	events, err := analytics.ReadEvents(p.app.Events.Path())
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]any{
			"id":   ev.ID,
			"kind": string(ev.Kind),
			"at":   ev.At,
		})
	}
	return jsonResource(req.Params.URI, out)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
