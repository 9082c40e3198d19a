// Package registrar implements pushconsent.Registrar over the messaging
// backend's HTTP registration API.
//
// A registration that fails to reach the backend is kept on disk as a pending
// request and replayed by FlushPending. While it exists the registrar records
// a prior registration artifact in the session, which tells the consent
// reconciler that an opt-out call would be redundant.
package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pc "github.com/slush-dev/pushconsent"
)

const (
	// DefaultBaseURL is the default registration API base URL.
	DefaultBaseURL = "http://localhost:8080"

	// PendingRegisterFile holds a registration request that has not landed.
	PendingRegisterFile = "pending_register.json"

	// Platform is reported to the backend with every registration.
	Platform = "ios"

	registerPath   = "/registration/register"
	unregisterPath = "/registration/unregister"
	optPath        = "/registration/opt"
)

// APIError represents an HTTP error from the registration API.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
	URL        string
	Method     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, e.Status, e.Body)
}

// ArtifactRecorder receives the pending-registration evidence.
type ArtifactRecorder interface {
	SetPriorRegistrationArtifact(pc.Tristate) error
}

// ConsentReader supplies the consent state sent with each registration.
type ConsentReader interface {
	ConsentState() pc.ConsentState
}

// RegisterBody is the payload for the register endpoint. OptIn reflects the
// consent state at send time, including when a pending request is replayed.
type RegisterBody struct {
	TenantID       string `json:"tenant_id"`
	InstallationID string `json:"installation_id"`
	Token          string `json:"token"`
	Platform       string `json:"platform"`
	OptIn          bool   `json:"opt_in"`
	AppNamespace   string `json:"app_ns,omitempty"`
}

// UnregisterBody is the payload for the unregister endpoint.
type UnregisterBody struct {
	TenantID       string `json:"tenant_id"`
	InstallationID string `json:"installation_id"`
	Token          string `json:"token"`
}

// OptBody is the payload for the opt-in/opt-out endpoint.
type OptBody struct {
	TenantID       string `json:"tenant_id"`
	InstallationID string `json:"installation_id"`
	OptIn          bool   `json:"opt_in"`
}

// Option configures Registrar.
type Option func(*Registrar)

// WithBaseURL sets the base URL for the registration API.
func WithBaseURL(base string) Option {
	return func(r *Registrar) {
		r.baseURL = strings.TrimRight(base, "/")
	}
}

// WithSessionDir sets the directory for the pending registration file.
func WithSessionDir(dir string) Option {
	return func(r *Registrar) {
		r.sessionDir = dir
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Registrar) {
		r.httpClient = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registrar) {
		r.logger = logger
	}
}

// WithArtifactRecorder sets where pending-registration evidence is recorded.
func WithArtifactRecorder(rec ArtifactRecorder) Option {
	return func(r *Registrar) {
		r.artifacts = rec
	}
}

// WithConsentReader sets where the opt-in flag of registrations is read from.
// Without one, registrations are sent opted in.
func WithConsentReader(c ConsentReader) Option {
	return func(r *Registrar) {
		r.consent = c
	}
}

// WithAppNamespace sets the application namespace sent on registration.
func WithAppNamespace(ns string) Option {
	return func(r *Registrar) {
		r.appNamespace = ns
	}
}

// Registrar talks to the backend registration API.
type Registrar struct {
	baseURL        string
	tenantID       string
	installationID string
	appNamespace   string
	sessionDir     string

	httpClient *http.Client
	logger     *slog.Logger
	artifacts  ArtifactRecorder
	consent    ConsentReader

	mu sync.Mutex // guards the pending file
}

var _ pc.Registrar = (*Registrar)(nil)

// New creates a Registrar for one tenant and installation.
func New(tenantID, installationID string, opts ...Option) *Registrar {
	r := &Registrar{
		baseURL:        DefaultBaseURL,
		tenantID:       tenantID,
		installationID: installationID,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register associates token with this installation. On failure the request
// is kept as pending and replayed by FlushPending.
func (r *Registrar) Register(ctx context.Context, token string) error {
	body := RegisterBody{
		TenantID:       r.tenantID,
		InstallationID: r.installationID,
		Token:          token,
		Platform:       Platform,
		OptIn:          r.optedIn(),
		AppNamespace:   r.appNamespace,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.post(ctx, registerPath, body); err != nil {
		r.storePendingLocked(body)
		return fmt.Errorf("register: %w", err)
	}
	r.clearPendingLocked()
	r.logger.Debug("Registration successful", "installationId", r.installationID)
	return nil
}

// Unregister removes token from this installation in the background. The
// returned channel receives one result and is closed.
func (r *Registrar) Unregister(ctx context.Context, token string) <-chan error {
	done := make(chan error, 1)
	body := UnregisterBody{
		TenantID:       r.tenantID,
		InstallationID: r.installationID,
		Token:          token,
	}
	go func() {
		defer close(done)
		if err := r.post(ctx, unregisterPath, body); err != nil {
			done <- fmt.Errorf("unregister: %w", err)
			return
		}
		r.logger.Debug("Unregistration successful", "installationId", r.installationID)
		done <- nil
	}()
	return done
}

// OptIn marks this installation as opted in to push messaging.
func (r *Registrar) OptIn(ctx context.Context) error {
	return r.opt(ctx, true)
}

// OptOut marks this installation as opted out of push messaging.
func (r *Registrar) OptOut(ctx context.Context) error {
	return r.opt(ctx, false)
}

func (r *Registrar) opt(ctx context.Context, in bool) error {
	body := OptBody{
		TenantID:       r.tenantID,
		InstallationID: r.installationID,
		OptIn:          in,
	}
	if err := r.post(ctx, optPath, body); err != nil {
		return fmt.Errorf("opt request: %w", err)
	}
	r.logger.Debug("Opt request successful", "optIn", in)
	return nil
}

// HasPending reports whether a registration request is waiting to be replayed.
func (r *Registrar) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	path := r.pendingPath()
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// FlushPending replays a stored registration request, if any. It reports
// whether a request was replayed.
func (r *Registrar) FlushPending(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.pendingPath()
	if path == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		r.recordArtifact(pc.TristateNo)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading pending registration: %w", err)
	}

	var body RegisterBody
	if err := json.Unmarshal(data, &body); err != nil {
		r.logger.Warn("Discarding unreadable pending registration", "error", err)
		r.clearPendingLocked()
		return false, nil
	}

	body.OptIn = r.optedIn()
	r.logger.Debug("Replaying pending registration", "optIn", body.OptIn)
	if err := r.post(ctx, registerPath, body); err != nil {
		return true, fmt.Errorf("replaying registration: %w", err)
	}
	r.clearPendingLocked()
	return true, nil
}

// optedIn reports the opt-in flag for a registration sent now. Only an
// explicit opt-out clears it.
func (r *Registrar) optedIn() bool {
	if r.consent == nil {
		return true
	}
	return r.consent.ConsentState() != pc.ConsentOptedOut
}

func (r *Registrar) pendingPath() string {
	if r.sessionDir == "" {
		return ""
	}
	return filepath.Join(r.sessionDir, PendingRegisterFile)
}

func (r *Registrar) storePendingLocked(body RegisterBody) {
	path := r.pendingPath()
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.logger.Error("Failed to create session directory", "error", err)
		return
	}
	data, _ := json.MarshalIndent(body, "", "  ")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		r.logger.Error("Failed to save pending registration", "error", err)
		return
	}
	r.logger.Debug("Saved pending registration", "path", path)
	r.recordArtifact(pc.TristateYes)
}

func (r *Registrar) clearPendingLocked() {
	if path := r.pendingPath(); path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Error("Failed to remove pending registration", "error", err)
			return
		}
	}
	r.recordArtifact(pc.TristateNo)
}

func (r *Registrar) recordArtifact(t pc.Tristate) {
	if r.artifacts == nil {
		return
	}
	if err := r.artifacts.SetPriorRegistrationArtifact(t); err != nil {
		r.logger.Error("Failed to record registration artifact", "error", err)
	}
}

func (r *Registrar) post(ctx context.Context, path string, body any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	headers := http.Header{
		"Content-Type": {"application/json"},
		"X-Tenant-Id":  {r.tenantID},
	}
	resp, err := r.doRequest(ctx, http.MethodPost, r.baseURL+path, headers, bodyBytes)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

func (r *Registrar) doRequest(ctx context.Context, method, url string, headers http.Header, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	r.logger.Debug(">>> "+method, "url", url)
	if body != nil {
		r.logger.Debug("  Request body", "json", string(body))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}

	// Read body for logging, then replace it so callers can still read it.
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	r.logger.Debug("<<< Response", "status", resp.StatusCode, "url", url)
	r.logger.Debug("  Response body", "length", len(respBody), "json", truncate(string(respBody), 2000))
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	return resp, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
		URL:        resp.Request.URL.String(),
		Method:     resp.Request.Method,
	}
}

// truncate returns the first maxLen characters of s, or s itself if shorter.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
