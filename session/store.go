// Package session provides durable pushconsent.Session implementations.
//
// A Store keeps the session in memory and writes every change through to a
// Backend, so state survives process restarts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	pc "github.com/slush-dev/pushconsent"
)

// ErrNotFound is returned by a Backend that holds no session yet.
var ErrNotFound = errors.New("session not found")

// Backend loads and saves a whole session snapshot.
type Backend interface {
	Load(ctx context.Context) (pc.SessionState, error)
	Save(ctx context.Context, state pc.SessionState) error
	Delete(ctx context.Context) error
}

// Option configures Store.
type Option func(*Store)

// WithLogger sets a custom logger for Store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store is a write-through pushconsent.Session.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu    sync.RWMutex
	state pc.SessionState

	// now is overridable for testing.
	now func() time.Time
}

var _ pc.Session = (*Store)(nil)

// Open loads the session from backend, creating a fresh install state with a
// new installation ID when none exists.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	state, err := backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Debug("No persisted session, starting fresh install")
		s.state = pc.FreshSessionState(uuid.NewString())
		if err := s.saveLocked(ctx); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("loading session: %w", err)
	default:
		s.state = normalize(state)
		s.logger.Debug("Resumed session",
			"installationId", s.state.InstallationID,
			"consent", s.state.Consent,
			"hasToken", s.state.HasDeviceToken,
		)
	}
	return s, nil
}

// normalize fills in values missing from older or hand-edited snapshots.
func normalize(state pc.SessionState) pc.SessionState {
	if !state.Consent.Valid() {
		state.Consent = pc.ConsentUnknown
	}
	switch state.PriorRegistrationArtifact {
	case pc.TristateYes, pc.TristateNo:
	default:
		state.PriorRegistrationArtifact = pc.TristateUnknown
	}
	if state.InstallationID == "" {
		state.InstallationID = uuid.NewString()
	}
	if state.DeviceToken == "" {
		state.HasDeviceToken = false
	}
	return state
}

// Snapshot returns a copy of the current session state.
func (s *Store) Snapshot() pc.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// InstallationID returns the identifier of this installation.
func (s *Store) InstallationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.InstallationID
}

// Reset discards the session as an app data reset would, starting a fresh
// install with a new installation ID.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	s.state = pc.FreshSessionState(uuid.NewString())
	return s.saveLocked(ctx)
}

func (s *Store) ConsentState() pc.ConsentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Consent
}

func (s *Store) SetConsentState(c pc.ConsentState) error {
	if !c.Valid() {
		return fmt.Errorf("invalid consent state %q", c)
	}
	return s.update(func(st *pc.SessionState) { st.Consent = c })
}

func (s *Store) DeviceToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.DeviceToken, s.state.HasDeviceToken
}

func (s *Store) SetDeviceToken(token string) error {
	if token == "" {
		return pc.ErrEmptyToken
	}
	return s.update(func(st *pc.SessionState) {
		st.DeviceToken = token
		st.HasDeviceToken = true
	})
}

func (s *Store) RegistrationSucceeded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RegistrationSucceeded
}

func (s *Store) SetRegistrationSucceeded(b bool) error {
	return s.update(func(st *pc.SessionState) { st.RegistrationSucceeded = b })
}

func (s *Store) OptRequestSucceeded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.OptRequestSucceeded
}

func (s *Store) SetOptRequestSucceeded(b bool) error {
	return s.update(func(st *pc.SessionState) { st.OptRequestSucceeded = b })
}

func (s *Store) PriorRegistrationArtifact() pc.Tristate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.PriorRegistrationArtifact
}

func (s *Store) SetPriorRegistrationArtifact(t pc.Tristate) error {
	return s.update(func(st *pc.SessionState) { st.PriorRegistrationArtifact = t })
}

// update applies fn and writes the snapshot through. On a failed write the
// in-memory value is kept; the next successful write persists it.
func (s *Store) update(fn func(*pc.SessionState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.saveLocked(context.Background())
}

func (s *Store) saveLocked(ctx context.Context) error {
	s.state.UpdatedAt = s.now().UTC()
	if err := s.backend.Save(ctx, s.state); err != nil {
		s.logger.Error("Failed to save session", "error", err)
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
