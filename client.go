package pushconsent

import (
	"context"
	"log/slog"
	"time"
)

// Option configures Client.
type Option func(*Client)

// WithLogger sets a custom logger for Client and its managers.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithReporter sets the analytics reporter for consent changes.
func WithReporter(reporter Reporter) Option {
	return func(c *Client) {
		c.reporter = reporter
	}
}

// WithUnregisterTimeout bounds the wait for an old token's unregister.
// Zero waits forever.
func WithUnregisterTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.unregisterTimeout = d
	}
}

// Client wires platform permission and token callbacks to the consent
// reconciler and the token lifecycle manager over a shared session.
type Client struct {
	session           Session
	logger            *slog.Logger
	reporter          Reporter
	unregisterTimeout time.Duration

	tokens  *TokenLifecycleManager
	consent *ConsentReconciler
}

// New creates a new Client.
func New(session Session, registrar Registrar, opts ...Option) *Client {
	c := &Client{
		session:           session,
		logger:            slog.Default(),
		reporter:          nopReporter{},
		unregisterTimeout: DefaultUnregisterTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.tokens = NewTokenLifecycleManager(session, registrar,
		WithTokenLogger(c.logger),
		WithUnregisterWait(c.unregisterTimeout),
	)
	c.consent = NewConsentReconciler(session, registrar,
		WithReconcilerLogger(c.logger),
		WithReconcilerReporter(c.reporter),
		WithTokenSettler(c.tokens),
	)
	return c
}

// HandleAuthorization processes the platform's answer to a notification
// authorization request. A platform error is logged and the decision is
// applied as given.
func (c *Client) HandleAuthorization(ctx context.Context, granted bool, authErr error) (Outcome, error) {
	if authErr != nil {
		c.logger.Warn("Notification authorization reported an error", "granted", granted, "error", authErr)
	}
	c.logger.Debug("Notification authorization response", "granted", granted)
	outcome, err := c.consent.OnPermissionDecision(ctx, granted)
	if err != nil {
		return outcome, err
	}
	c.logger.Debug("Permission decision reconciled", "outcome", outcome.String())
	return outcome, nil
}

// HandleToken processes a device token delivered by the platform.
func (c *Client) HandleToken(ctx context.Context, token string) error {
	c.logger.Debug("Device token received", "token_prefix", truncate(token, 12))
	return c.tokens.OnTokenReceived(ctx, token)
}

// Bind subscribes the client to platform callbacks. Errors raised while
// handling a callback are logged.
func (c *Client) Bind(ctx context.Context, permissions PermissionSource, tokens TokenSource) {
	if permissions != nil {
		permissions.OnDecision(func(granted bool, err error) {
			if _, herr := c.HandleAuthorization(ctx, granted, err); herr != nil {
				c.logger.Error("Failed to reconcile permission decision", "error", herr)
			}
		})
	}
	if tokens != nil {
		tokens.OnToken(func(token string) {
			if err := c.HandleToken(ctx, token); err != nil {
				c.logger.Error("Failed to handle device token", "error", err)
			}
		})
	}
}

// RetryPendingRegistration replays a registration that failed earlier, if the
// registrar kept one.
func (c *Client) RetryPendingRegistration(ctx context.Context) (bool, error) {
	return c.tokens.RetryPendingRegistration(ctx)
}

// State returns the session values the reconciler and token manager act on.
// InstallationID and UpdatedAt belong to the session implementation and are
// left empty.
func (c *Client) State() SessionState {
	token, ok := c.session.DeviceToken()
	return SessionState{
		Consent:                   c.session.ConsentState(),
		DeviceToken:               token,
		HasDeviceToken:            ok,
		RegistrationSucceeded:     c.session.RegistrationSucceeded(),
		OptRequestSucceeded:       c.session.OptRequestSucceeded(),
		PriorRegistrationArtifact: c.session.PriorRegistrationArtifact(),
	}
}

// TokenChangePending reports whether a token change is waiting on an unregister.
func (c *Client) TokenChangePending() bool {
	return c.tokens.Pending()
}

// Settled blocks until no token change is in flight or ctx is done.
func (c *Client) Settled(ctx context.Context) error {
	return c.tokens.Settled(ctx)
}

// Close waits for background token changes to finish.
func (c *Client) Close() {
	c.tokens.Close()
}
