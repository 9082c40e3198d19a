package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pc "github.com/slush-dev/pushconsent"
)

// FileName is the session file written inside the session directory.
const FileName = "session_state.json"

// ErrNoSessionDir is returned when a file backend has no directory.
var ErrNoSessionDir = errors.New("no session directory configured")

// FileBackend stores the session as JSON in a session directory.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a FileBackend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the path to the session file.
func (b *FileBackend) Path() string {
	return filepath.Join(b.dir, FileName)
}

func (b *FileBackend) Load(_ context.Context) (pc.SessionState, error) {
	if b.dir == "" {
		return pc.SessionState{}, ErrNoSessionDir
	}
	data, err := os.ReadFile(b.Path())
	if errors.Is(err, os.ErrNotExist) {
		return pc.SessionState{}, ErrNotFound
	}
	if err != nil {
		return pc.SessionState{}, err
	}
	var state pc.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return pc.SessionState{}, fmt.Errorf("parsing session file: %w", err)
	}
	return state, nil
}

// Save writes the snapshot to a temp file and renames it over the session
// file so a crash never leaves a partial file behind.
func (b *FileBackend) Save(_ context.Context, state pc.SessionState) error {
	if b.dir == "" {
		return ErrNoSessionDir
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}
	tmp := b.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, b.Path()); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context) error {
	if b.dir == "" {
		return ErrNoSessionDir
	}
	if err := os.Remove(b.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
