package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	pc "github.com/slush-dev/pushconsent"
	_ "modernc.org/sqlite"
)

// SQLiteFileName is the database file created inside the session directory.
const SQLiteFileName = "session_state.db"

const sqliteSchema = `CREATE TABLE IF NOT EXISTS session_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	installation_id TEXT NOT NULL,
	consent TEXT NOT NULL,
	device_token TEXT,
	registration_succeeded INTEGER NOT NULL DEFAULT 0,
	opt_request_succeeded INTEGER NOT NULL DEFAULT 0,
	prior_registration_artifact TEXT NOT NULL DEFAULT 'unknown',
	updated_at INTEGER NOT NULL
)`

// SQLiteBackend stores the session as a single row in SQLite.
type SQLiteBackend struct {
	sqlDB *sql.DB
}

// OpenSQLite opens (or creates) the SQLite session database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}
	return &SQLiteBackend{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (b *SQLiteBackend) Close() error {
	if b == nil || b.sqlDB == nil {
		return nil
	}
	return b.sqlDB.Close()
}

func (b *SQLiteBackend) Load(ctx context.Context) (pc.SessionState, error) {
	row := b.sqlDB.QueryRowContext(ctx, `SELECT
		installation_id, consent, device_token,
		registration_succeeded, opt_request_succeeded,
		prior_registration_artifact, updated_at
	FROM session_state WHERE id = 1`)

	var (
		state     pc.SessionState
		token     sql.NullString
		consent   string
		artifact  string
		updatedAt int64
	)
	err := row.Scan(
		&state.InstallationID,
		&consent,
		&token,
		&state.RegistrationSucceeded,
		&state.OptRequestSucceeded,
		&artifact,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return pc.SessionState{}, ErrNotFound
	}
	if err != nil {
		return pc.SessionState{}, fmt.Errorf("query session: %w", err)
	}
	state.Consent = pc.ConsentState(consent)
	state.PriorRegistrationArtifact = pc.Tristate(artifact)
	state.DeviceToken = token.String
	state.HasDeviceToken = token.Valid
	state.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return state, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, state pc.SessionState) error {
	var token sql.NullString
	if state.HasDeviceToken {
		token = sql.NullString{String: state.DeviceToken, Valid: true}
	}
	_, err := b.sqlDB.ExecContext(ctx, `INSERT INTO session_state (
		id, installation_id, consent, device_token,
		registration_succeeded, opt_request_succeeded,
		prior_registration_artifact, updated_at
	) VALUES (1, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		installation_id = excluded.installation_id,
		consent = excluded.consent,
		device_token = excluded.device_token,
		registration_succeeded = excluded.registration_succeeded,
		opt_request_succeeded = excluded.opt_request_succeeded,
		prior_registration_artifact = excluded.prior_registration_artifact,
		updated_at = excluded.updated_at`,
		state.InstallationID,
		string(state.Consent),
		token,
		state.RegistrationSucceeded,
		state.OptRequestSucceeded,
		string(state.PriorRegistrationArtifact),
		state.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context) error {
	if _, err := b.sqlDB.ExecContext(ctx, `DELETE FROM session_state WHERE id = 1`); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
