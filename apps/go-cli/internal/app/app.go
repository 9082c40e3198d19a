// Package app builds the pushconsent runtime used by the CLI and the MCP
// server: session store, HTTP registrar, reporters and the client facade.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	pc "github.com/slush-dev/pushconsent"
	"github.com/slush-dev/pushconsent/analytics"
	"github.com/slush-dev/pushconsent/registrar"
	"github.com/slush-dev/pushconsent/session"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config controls where state lives and which backend is contacted.
type Config struct {
	SessionDir        string        `env:"PUSHCONSENT_SESSION_DIR"`
	Store             string        `env:"PUSHCONSENT_STORE"              envDefault:"file"`
	BaseURL           string        `env:"PUSHCONSENT_BASE_URL"           envDefault:"http://localhost:8080"`
	TenantID          string        `env:"PUSHCONSENT_TENANT_ID"          envDefault:"default"`
	AppNamespace      string        `env:"PUSHCONSENT_APP_NS"`
	UnregisterTimeout time.Duration `env:"PUSHCONSENT_UNREGISTER_TIMEOUT" envDefault:"30s"`
}

// DefaultSessionDir returns ~/.pushconsent.
func DefaultSessionDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pushconsent")
}

// LoadConfig reads configuration from PUSHCONSENT_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = DefaultSessionDir()
	}
	return cfg, nil
}

// App is an opened pushconsent runtime.
type App struct {
	Config    Config
	Store     *session.Store
	Registrar *registrar.Registrar
	Events    *analytics.EventLog
	Client    *pc.Client

	closeBackend func() error
}

// Open opens the session store and wires the client facade.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	store, err := session.Open(ctx, backend, session.WithLogger(logger))
	if err != nil {
		_ = closeBackend()
		return nil, err
	}

	reg := registrar.New(cfg.TenantID, store.InstallationID(),
		registrar.WithBaseURL(cfg.BaseURL),
		registrar.WithSessionDir(cfg.SessionDir),
		registrar.WithAppNamespace(cfg.AppNamespace),
		registrar.WithArtifactRecorder(store),
		registrar.WithConsentReader(store),
		registrar.WithLogger(logger),
	)

	events := analytics.NewEventLog(cfg.SessionDir, store.InstallationID(), logger)
	client := pc.New(store, reg,
		pc.WithLogger(logger),
		pc.WithReporter(analytics.Multi{analytics.NewLogReporter(logger), events}),
		pc.WithUnregisterTimeout(cfg.UnregisterTimeout),
	)

	return &App{
		Config:       cfg,
		Store:        store,
		Registrar:    reg,
		Events:       events,
		Client:       client,
		closeBackend: closeBackend,
	}, nil
}

func openBackend(cfg Config) (session.Backend, func() error, error) {
	switch cfg.Store {
	case "", StoreFile:
		return session.NewFileBackend(cfg.SessionDir), func() error { return nil }, nil
	case StoreSQLite:
		if err := os.MkdirAll(cfg.SessionDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating session directory: %w", err)
		}
		b, err := session.OpenSQLite(filepath.Join(cfg.SessionDir, session.SQLiteFileName))
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (want %s or %s)", cfg.Store, StoreFile, StoreSQLite)
	}
}

// Close waits for in-flight token changes and releases the store.
func (a *App) Close() error {
	a.Client.Close()
	return a.closeBackend()
}

// SettleTimeout is how long a one-shot command waits for a token change.
func (a *App) SettleTimeout() time.Duration {
	if a.Config.UnregisterTimeout <= 0 {
		return 0
	}
	return a.Config.UnregisterTimeout + 5*time.Second
}

// Settle waits for any pending token change, bounded by SettleTimeout.
func (a *App) Settle(ctx context.Context) error {
	if d := a.SettleTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return a.Client.Settled(ctx)
}

// Status is the reportable view of the runtime.
type Status struct {
	SessionDir          string          `json:"session_dir" yaml:"session_dir"`
	Store               string          `json:"store" yaml:"store"`
	Session             pc.SessionState `json:"session" yaml:"session"`
	PendingRegistration bool            `json:"pending_registration" yaml:"pending_registration"`
	TokenChangePending  bool            `json:"token_change_pending" yaml:"token_change_pending"`
}

// Status returns the current session and registrar state.
func (a *App) Status() Status {
	store := a.Config.Store
	if store == "" {
		store = StoreFile
	}
	return Status{
		SessionDir:          a.Config.SessionDir,
		Store:               store,
		Session:             a.Store.Snapshot(),
		PendingRegistration: a.Registrar.HasPending(),
		TokenChangePending:  a.Client.TokenChangePending(),
	}
}
