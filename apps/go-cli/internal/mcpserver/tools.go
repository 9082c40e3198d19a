package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (p *PushConsentMCPServer) registerTools() {
	p.server.AddTool(permissionDecisionTool(), p.handlePermissionDecision)
	p.server.AddTool(tokenReceivedTool(), p.handleTokenReceived)
	p.server.AddTool(retryPendingTool(), p.handleRetryPending)
}

func permissionDecisionTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "permission_decision",
		Description: "Apply a notification permission decision. Returns the reconciliation outcome and resulting consent state.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"granted": {"type": "boolean", "description": "Whether the user allowed notifications"},
				"error": {"type": "string", "description": "Platform error reported with the decision, if any"}
			},
			"required": ["granted"]
		}`),
	}
}

func (p *PushConsentMCPServer) handlePermissionDecision(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Granted *bool  `json:"granted"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Granted == nil {
		return errorResult("granted is required"), nil
	}

	var authErr error
	if args.Error != "" {
		authErr = errors.New(args.Error)
	}
	outcome, err := p.app.Client.HandleAuthorization(ctx, *args.Granted, authErr)
	if err != nil {
		return errorResult(fmt.Sprintf("reconciling permission: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"outcome": outcome.String(),
		"consent": string(p.app.Store.ConsentState()),
	})
}

func tokenReceivedTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "token_received",
		Description: "Apply a device token delivered by the platform. A changed token unregisters the old one before the new one is registered; set wait to block until that finishes.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"token": {"type": "string", "description": "Device token issued by the messaging backend"},
				"wait": {"type": "boolean", "description": "Wait for a pending token change to finish (default: false)"}
			},
			"required": ["token"]
		}`),
	}
}

func (p *PushConsentMCPServer) handleTokenReceived(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Token string `json:"token"`
		Wait  bool   `json:"wait"`
	}
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Token == "" {
		return errorResult("token is required"), nil
	}

	if err := p.app.Client.HandleToken(ctx, args.Token); err != nil {
		return errorResult(fmt.Sprintf("handling token: %v", err)), nil
	}
	if args.Wait {
		if err := p.app.Settle(ctx); err != nil {
			return errorResult(fmt.Sprintf("waiting for token change: %v", err)), nil
		}
	}

	token, _ := p.app.Store.DeviceToken()
	return jsonResult(map[string]any{
		"device_token":           token,
		"registration_succeeded": p.app.Store.RegistrationSucceeded(),
		"token_change_pending":   p.app.Client.TokenChangePending(),
	})
}

func retryPendingTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "retry_pending_registration",
		Description: "Replay a registration request that previously failed to reach the backend.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

func (p *PushConsentMCPServer) handleRetryPending(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	replayed, err := p.app.Client.RetryPendingRegistration(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("replaying registration: %v", err)), nil
	}
	return jsonResult(map[string]any{"replayed": replayed})
}
