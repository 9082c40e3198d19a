package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/slush-dev/pushconsent/apps/go-cli/internal/app"
)

// testServer opens a runtime over a temp session dir and a fake backend, and
// connects an MCP client to it.
func testServer(t *testing.T, status int) (*mcp.ClientSession, *PushConsentMCPServer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(backend.Close)

	ctx := context.Background()
	a, err := app.Open(ctx, app.Config{
		SessionDir:        t.TempDir(),
		Store:             app.StoreFile,
		BaseURL:           backend.URL,
		TenantID:          "tenant",
		UnregisterTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	p := New(a, "test", logger)

	t1, t2 := mcp.NewInMemoryTransports()
	if err := p.RunWithTransport(ctx, t1); err != nil {
		t.Fatalf("server connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0"}, nil)
	cs, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })

	return cs, p
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	return result
}

func decodeText(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content[0].(*mcp.TextContent).Text)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(*mcp.TextContent).Text), &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return out
}

func TestListTools(t *testing.T) {
	cs, _ := testServer(t, http.StatusOK)

	result, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}

	want := map[string]bool{
		"permission_decision":        false,
		"token_received":             false,
		"retry_pending_registration": false,
	}
	for _, tool := range result.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestPermissionDecision_Granted(t *testing.T) {
	cs, _ := testServer(t, http.StatusOK)

	out := decodeText(t, callTool(t, cs, "permission_decision", map[string]any{"granted": true}))
	if out["outcome"] != "recorded" {
		t.Errorf("outcome = %v, want recorded", out["outcome"])
	}
	if out["consent"] != "opted_in" {
		t.Errorf("consent = %v, want opted_in", out["consent"])
	}
}

func TestPermissionDecision_MissingGranted(t *testing.T) {
	cs, _ := testServer(t, http.StatusOK)

	result := callTool(t, cs, "permission_decision", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestTokenReceived_RefreshWaits(t *testing.T) {
	cs, p := testServer(t, http.StatusOK)

	decodeText(t, callTool(t, cs, "token_received", map[string]any{"token": "T1"}))
	out := decodeText(t, callTool(t, cs, "token_received", map[string]any{"token": "T2", "wait": true}))

	if out["device_token"] != "T2" {
		t.Errorf("device_token = %v, want T2", out["device_token"])
	}
	if out["registration_succeeded"] != true {
		t.Errorf("registration_succeeded = %v, want true", out["registration_succeeded"])
	}
	if out["token_change_pending"] != false {
		t.Errorf("token_change_pending = %v, want false", out["token_change_pending"])
	}
	if got, _ := p.app.Store.DeviceToken(); got != "T2" {
		t.Errorf("stored token = %q, want T2", got)
	}
}

func TestTokenReceived_EmptyToken(t *testing.T) {
	cs, _ := testServer(t, http.StatusOK)

	result := callTool(t, cs, "token_received", map[string]any{"token": ""})
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestRetryPending_NothingPending(t *testing.T) {
	cs, _ := testServer(t, http.StatusOK)

	out := decodeText(t, callTool(t, cs, "retry_pending_registration", nil))
	if out["replayed"] != false {
		t.Errorf("replayed = %v, want false", out["replayed"])
	}
}

func TestStatusResource_AfterFailedRegistration(t *testing.T) {
	cs, _ := testServer(t, http.StatusServiceUnavailable)
	ctx := context.Background()

	decodeText(t, callTool(t, cs, "token_received", map[string]any{"token": "T1"}))

	result, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "pushconsent://status"})
	if err != nil {
		t.Fatalf("read status: %v", err)
	}

	var status app.Status
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Session.DeviceToken != "T1" {
		t.Errorf("device_token = %q, want T1", status.Session.DeviceToken)
	}
	if status.Session.RegistrationSucceeded {
		t.Error("registration_succeeded should be false")
	}
	if !status.PendingRegistration {
		t.Error("pending_registration should be true")
	}
}

func TestEventsResource(t *testing.T) {
	cs, _ := testServer(t, http.StatusOK)
	ctx := context.Background()

	decodeText(t, callTool(t, cs, "permission_decision", map[string]any{"granted": true}))
	decodeText(t, callTool(t, cs, "permission_decision", map[string]any{"granted": false}))

	result, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "pushconsent://events"})
	if err != nil {
		t.Fatalf("read events: %v", err)
	}

	var events []map[string]any
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0]["kind"] != "optipush_opt_in" || events[1]["kind"] != "optipush_opt_out" {
		t.Errorf("unexpected event kinds: %v, %v", events[0]["kind"], events[1]["kind"])
	}
}
