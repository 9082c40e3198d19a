package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pc "github.com/slush-dev/pushconsent"
	"github.com/slush-dev/pushconsent/analytics"
	"github.com/slush-dev/pushconsent/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendLog struct {
	mu    sync.Mutex
	paths []string
}

func (b *backendLog) handler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (b *backendLog) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("PUSHCONSENT_SESSION_DIR", "/tmp/pc")
	t.Setenv("PUSHCONSENT_STORE", "sqlite")
	t.Setenv("PUSHCONSENT_UNREGISTER_TIMEOUT", "2m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pc", cfg.SessionDir)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 2*time.Minute, cfg.UnregisterTimeout)
	assert.Equal(t, "default", cfg.TenantID)
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PUSHCONSENT_SESSION_DIR", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionDir(), cfg.SessionDir)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, 30*time.Second, cfg.UnregisterTimeout)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	t.Setenv("PUSHCONSENT_UNREGISTER_TIMEOUT", "soon")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestOpen_UnknownStore(t *testing.T) {
	_, err := Open(context.Background(), Config{SessionDir: t.TempDir(), Store: "redis"}, nil)
	assert.ErrorContains(t, err, "unknown store")
}

func TestOpen_EndToEnd(t *testing.T) {
	for _, store := range []string{StoreFile, StoreSQLite} {
		t.Run(store, func(t *testing.T) {
			backend := &backendLog{}
			server := httptest.NewServer(http.HandlerFunc(backend.handler))
			defer server.Close()

			cfg := Config{
				SessionDir:        t.TempDir(),
				Store:             store,
				BaseURL:           server.URL,
				TenantID:          "tenant",
				UnregisterTimeout: 5 * time.Second,
			}
			ctx := context.Background()

			a, err := Open(ctx, cfg, nil)
			require.NoError(t, err)

			_, err = a.Client.HandleAuthorization(ctx, true, nil)
			require.NoError(t, err)
			require.NoError(t, a.Client.HandleToken(ctx, "T1"))
			require.NoError(t, a.Client.HandleToken(ctx, "T2"))
			require.NoError(t, a.Settle(ctx))
			installationID := a.Store.InstallationID()
			require.NoError(t, a.Close())

			// A new process resumes the same state.
			a, err = Open(ctx, cfg, nil)
			require.NoError(t, err)
			defer a.Close()

			status := a.Status()
			assert.Equal(t, installationID, status.Session.InstallationID)
			assert.Equal(t, pc.ConsentOptedIn, status.Session.Consent)
			assert.Equal(t, "T2", status.Session.DeviceToken)
			assert.True(t, status.Session.RegistrationSucceeded)
			assert.Equal(t, pc.TristateNo, status.Session.PriorRegistrationArtifact)
			assert.False(t, status.PendingRegistration)
			assert.Equal(t, store, status.Store)

			assert.Equal(t, []string{
				"/registration/register",
				"/registration/unregister",
				"/registration/register",
			}, backend.Paths())

			events, err := analytics.ReadEvents(a.Events.Path())
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, pc.EventOptIn, events[0].Kind)
		})
	}
}

func TestOpen_OptOutWhileRegistrationPending(t *testing.T) {
	var (
		mu        sync.Mutex
		failing   bool
		registers []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path == "/registration/register" {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			registers = append(registers, body)
			if failing {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx := context.Background()
	a, err := Open(ctx, Config{SessionDir: t.TempDir(), BaseURL: server.URL, TenantID: "tenant"}, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Client.HandleAuthorization(ctx, false, nil)
	require.NoError(t, err)
	outcome, err := a.Client.HandleAuthorization(ctx, true, nil)
	require.NoError(t, err)
	require.Equal(t, pc.OutcomeOptInIssued, outcome)

	mu.Lock()
	failing = true
	mu.Unlock()
	require.NoError(t, a.Client.HandleToken(ctx, "T1"))
	require.Equal(t, pc.TristateYes, a.Store.PriorRegistrationArtifact())

	// The pending registration carries the opt-out instead of an opt call.
	outcome, err = a.Client.HandleAuthorization(ctx, false, nil)
	require.NoError(t, err)
	assert.Equal(t, pc.OutcomeRecorded, outcome)

	mu.Lock()
	failing = false
	mu.Unlock()
	replayed, err := a.Client.RetryPendingRegistration(ctx)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.True(t, a.Store.RegistrationSucceeded())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, registers, 2)
	assert.Equal(t, true, registers[0]["opt_in"])
	assert.Equal(t, false, registers[1]["opt_in"])
	assert.Equal(t, "T1", registers[1]["token"])
}

func TestOpen_TokenChangeOutlivesCaller(t *testing.T) {
	backend := &backendLog{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/registration/unregister" {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-r.Context().Done():
				backend.mu.Lock()
				backend.paths = append(backend.paths, "aborted")
				backend.mu.Unlock()
				return
			}
		}
		backend.handler(w, r)
	}))
	defer server.Close()

	ctx := context.Background()
	a, err := Open(ctx, Config{
		SessionDir:        t.TempDir(),
		BaseURL:           server.URL,
		TenantID:          "tenant",
		UnregisterTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Client.HandleToken(ctx, "T1"))

	callCtx, cancel := context.WithCancel(ctx)
	require.NoError(t, a.Client.HandleToken(callCtx, "T2"))
	cancel()

	require.NoError(t, a.Settle(ctx))
	assert.Equal(t, []string{
		"/registration/register",
		"/registration/unregister",
		"/registration/register",
	}, backend.Paths())
	token, _ := a.Store.DeviceToken()
	assert.Equal(t, "T2", token)
}

func TestOpen_SQLiteFileLocation(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(context.Background(), Config{SessionDir: dir, Store: StoreSQLite}, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.FileExists(t, filepath.Join(dir, session.SQLiteFileName))
}

func TestSettleTimeout(t *testing.T) {
	a := &App{Config: Config{UnregisterTimeout: 0}}
	assert.Zero(t, a.SettleTimeout())
	a.Config.UnregisterTimeout = 10 * time.Second
	assert.Equal(t, 15*time.Second, a.SettleTimeout())
}
