package pushconsent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultUnregisterTimeout bounds how long a token change waits for the old
// token's unregister to complete before registering the new one anyway.
const DefaultUnregisterTimeout = 30 * time.Second

// TokenManagerOption configures TokenLifecycleManager.
type TokenManagerOption func(*TokenLifecycleManager)

// WithTokenLogger sets a custom logger for TokenLifecycleManager.
func WithTokenLogger(logger *slog.Logger) TokenManagerOption {
	return func(m *TokenLifecycleManager) {
		m.logger = logger
	}
}

// WithUnregisterWait sets the unregister wait bound. Zero waits forever.
func WithUnregisterWait(d time.Duration) TokenManagerOption {
	return func(m *TokenLifecycleManager) {
		m.unregisterTimeout = d
	}
}

// TokenLifecycleManager registers device tokens with the backend and, when the
// token changes, unregisters the old one before registering the new one.
type TokenLifecycleManager struct {
	session           Session
	registrar         Registrar
	logger            *slog.Logger
	unregisterTimeout time.Duration

	mu       sync.Mutex
	inflight chan struct{} // closed when the pending token change finishes
	queued   string        // latest token delivered during a pending change
	wg       sync.WaitGroup

	// after is overridable for testing.
	after func(time.Duration) <-chan time.Time
}

// NewTokenLifecycleManager creates a new TokenLifecycleManager.
func NewTokenLifecycleManager(session Session, registrar Registrar, opts ...TokenManagerOption) *TokenLifecycleManager {
	m := &TokenLifecycleManager{
		session:           session,
		registrar:         registrar,
		logger:            slog.Default(),
		unregisterTimeout: DefaultUnregisterTimeout,
		after:             time.After,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnTokenReceived handles a token delivered by the platform. A first token is
// persisted and registered; a repeated token is ignored; a different token
// starts an unregister of the old one and returns without waiting for it. The
// new token is persisted and registered once the unregister completes.
//
// Until then DeviceToken still reads as the old token.
func (m *TokenLifecycleManager) OnTokenReceived(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight != nil {
		m.logger.Debug("Token change in flight, queueing token", "token_prefix", truncate(token, 12))
		m.queued = token
		return nil
	}

	return m.handleLocked(ctx, token)
}

func (m *TokenLifecycleManager) handleLocked(ctx context.Context, token string) error {
	old, ok := m.session.DeviceToken()
	if !ok {
		m.logger.Debug("Token received for the first time", "token_prefix", truncate(token, 12))
		return m.registerLocked(ctx, token)
	}
	if old == token {
		m.logger.Debug("Duplicate token delivery ignored", "token_prefix", truncate(token, 12))
		return nil
	}

	m.logger.Debug("Token refreshed, unregistering old token",
		"old_prefix", truncate(old, 12),
		"new_prefix", truncate(token, 12),
	)
	// The unregister and the follow-up register are not bound to the caller.
	bg := context.WithoutCancel(ctx)
	done := m.registrar.Unregister(bg, old)
	m.inflight = make(chan struct{})
	m.wg.Add(1)
	go m.awaitUnregister(bg, old, token, done)
	return nil
}

// awaitUnregister waits for the old token's unregister to complete, then
// registers the new token and drains any token queued meanwhile.
func (m *TokenLifecycleManager) awaitUnregister(ctx context.Context, old, token string, done <-chan error) {
	defer m.wg.Done()

	var timeout <-chan time.Time
	if m.unregisterTimeout > 0 {
		timeout = m.after(m.unregisterTimeout)
	}

	select {
	case err, ok := <-done:
		if ok && err != nil {
			m.logger.Warn("Unregister of old token failed, registering new token anyway",
				"old_prefix", truncate(old, 12), "error", err)
		} else {
			m.logger.Debug("Old token unregistered", "old_prefix", truncate(old, 12))
		}
	case <-timeout:
		m.logger.Warn("Unregister did not complete in time, backend may hold a stale token",
			"old_prefix", truncate(old, 12), "timeout", m.unregisterTimeout)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.registerLocked(ctx, token); err != nil {
		m.logger.Error("Failed to persist refreshed token", "error", err)
	}

	close(m.inflight)
	m.inflight = nil

	next := m.queued
	m.queued = ""
	if next == "" {
		return
	}
	if err := m.handleLocked(ctx, next); err != nil {
		m.logger.Error("Failed to handle queued token", "error", err)
	}
}

// registerLocked persists token then registers it, recording the outcome.
// A failed write does not skip the registration: the session may already
// report the token, and a redelivery would then be dropped as a duplicate.
func (m *TokenLifecycleManager) registerLocked(ctx context.Context, token string) error {
	var persistErr error
	if err := m.session.SetDeviceToken(token); err != nil {
		persistErr = fmt.Errorf("persisting device token: %w", err)
	}
	regErr := m.registrar.Register(ctx, token)
	if regErr != nil {
		m.logger.Warn("Registration failed", "error", regErr)
	}
	if err := m.session.SetRegistrationSucceeded(regErr == nil); err != nil {
		return errors.Join(persistErr, fmt.Errorf("persisting registration outcome: %w", err))
	}
	return persistErr
}

// PendingReplayer is implemented by registrars that keep failed registration
// requests for a later replay.
type PendingReplayer interface {
	FlushPending(ctx context.Context) (bool, error)
}

// RetryPendingRegistration replays a registration the registrar kept after a
// failure and records the outcome. It reports whether anything was replayed.
func (m *TokenLifecycleManager) RetryPendingRegistration(ctx context.Context) (bool, error) {
	replayer, ok := m.registrar.(PendingReplayer)
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	replayed, err := replayer.FlushPending(ctx)
	if !replayed {
		return false, err
	}
	if serr := m.session.SetRegistrationSucceeded(err == nil); serr != nil {
		return true, fmt.Errorf("persisting registration outcome: %w", serr)
	}
	return true, err
}

// Pending reports whether a token change is waiting on an unregister.
func (m *TokenLifecycleManager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight != nil
}

// Settled blocks until no token change is in flight (including any queued
// follow-up) or ctx is done.
func (m *TokenLifecycleManager) Settled(ctx context.Context) error {
	for {
		m.mu.Lock()
		ch := m.inflight
		m.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close waits for background token changes to finish.
func (m *TokenLifecycleManager) Close() {
	m.wg.Wait()
}

// truncate returns the first maxLen characters of s, or s itself if shorter.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
