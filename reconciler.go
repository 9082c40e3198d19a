package pushconsent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Settler blocks until pending device-token changes have finished.
type Settler interface {
	Settled(ctx context.Context) error
}

// ReconcilerOption configures ConsentReconciler.
type ReconcilerOption func(*ConsentReconciler)

// WithReconcilerLogger sets a custom logger for ConsentReconciler.
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *ConsentReconciler) {
		r.logger = logger
	}
}

// WithReconcilerReporter sets the analytics reporter for consent changes.
func WithReconcilerReporter(reporter Reporter) ReconcilerOption {
	return func(r *ConsentReconciler) {
		r.reporter = reporter
	}
}

// WithTokenSettler makes the reconciler wait for in-flight token changes
// before it reads the device token.
func WithTokenSettler(s Settler) ReconcilerOption {
	return func(r *ConsentReconciler) {
		r.settler = s
	}
}

// ConsentReconciler turns OS permission decisions into at most one opt-in or
// opt-out command per decision, based on the persisted consent history.
type ConsentReconciler struct {
	session   Session
	registrar Registrar
	reporter  Reporter
	settler   Settler
	logger    *slog.Logger

	mu sync.Mutex
}

// NewConsentReconciler creates a new ConsentReconciler.
func NewConsentReconciler(session Session, registrar Registrar, opts ...ReconcilerOption) *ConsentReconciler {
	r := &ConsentReconciler{
		session:   session,
		registrar: registrar,
		reporter:  nopReporter{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnPermissionDecision applies one permission decision. Decisions are
// processed one at a time.
//
// Backend failures are not returned; they are recorded in the session's
// opt-request outcome and repaired by a later decision. The returned error is
// only for session persistence failures or a cancelled ctx while waiting for
// a token change.
func (r *ConsentReconciler) OnPermissionDecision(ctx context.Context, granted bool) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior := r.session.ConsentState()
	r.logger.Debug("Permission decision", "granted", granted, "prior", prior)

	if granted {
		return r.authorized(ctx, prior)
	}
	return r.rejected(ctx, prior)
}

func (r *ConsentReconciler) authorized(ctx context.Context, prior ConsentState) (Outcome, error) {
	switch prior {
	case ConsentOptedIn:
		return OutcomeNoOp, nil
	case ConsentOptedOut:
		r.logger.Debug("Making opt in request")
		optErr := r.optRequest(ctx, r.registrar.OptIn)
		if err := errors.Join(optErr, r.record(ctx, ConsentOptedIn)); err != nil {
			return OutcomeOptInIssued, err
		}
		return OutcomeOptInIssued, nil
	default:
		// First grant: the token registration is what reaches the backend.
		r.logger.Debug("User opted in for the first time")
		if err := r.record(ctx, ConsentOptedIn); err != nil {
			return OutcomeNoOp, err
		}
		return OutcomeRecorded, nil
	}
}

func (r *ConsentReconciler) rejected(ctx context.Context, prior ConsentState) (Outcome, error) {
	switch prior {
	case ConsentOptedIn:
		if r.session.PriorRegistrationArtifact().IsYes() {
			// A pending registration request already carries the current
			// state to the backend.
			r.logger.Debug("Registration artifact present, skipping opt out request")
			if err := r.record(ctx, ConsentOptedOut); err != nil {
				return OutcomeNoOp, err
			}
			return OutcomeRecorded, nil
		}
		r.logger.Debug("Making opt out request")
		optErr := r.optRequest(ctx, r.registrar.OptOut)
		if err := errors.Join(optErr, r.record(ctx, ConsentOptedOut)); err != nil {
			return OutcomeOptOutIssued, err
		}
		return OutcomeOptOutIssued, nil

	case ConsentOptedOut:
		if r.session.OptRequestSucceeded() {
			return OutcomeNoOp, nil
		}
		r.logger.Debug("Previous opt out request did not land, repeating it")
		if err := r.optRequest(ctx, r.registrar.OptOut); err != nil {
			return OutcomeNoOp, err
		}
		return OutcomeOptOutRepaired, nil

	default:
		return r.rejectedAtFirstLaunch(ctx)
	}
}

func (r *ConsentReconciler) rejectedAtFirstLaunch(ctx context.Context) (Outcome, error) {
	r.logger.Debug("User rejected notifications for the first time")
	if r.settler != nil {
		if err := r.settler.Settled(ctx); err != nil {
			return OutcomeNoOp, fmt.Errorf("waiting for token change: %w", err)
		}
	}

	if _, ok := r.session.DeviceToken(); !ok {
		// No token means no backend record exists yet.
		if err := r.record(ctx, ConsentOptedOut); err != nil {
			return OutcomeNoOp, err
		}
		return OutcomeRecorded, nil
	}

	if !r.session.RegistrationSucceeded() {
		r.logger.Debug("Token registration has not succeeded yet, deferring opt out")
		return OutcomeDeferred, nil
	}

	r.logger.Debug("Making opt out request")
	optErr := r.optRequest(ctx, r.registrar.OptOut)
	if err := errors.Join(optErr, r.record(ctx, ConsentOptedOut)); err != nil {
		return OutcomeOptOutIssued, err
	}
	return OutcomeOptOutIssued, nil
}

// optRequest issues an opt-in or opt-out call and persists whether it landed.
func (r *ConsentReconciler) optRequest(ctx context.Context, call func(context.Context) error) error {
	callErr := call(ctx)
	if callErr != nil {
		r.logger.Warn("Opt request failed", "error", callErr)
	}
	if err := r.session.SetOptRequestSucceeded(callErr == nil); err != nil {
		return fmt.Errorf("persisting opt request outcome: %w", err)
	}
	return nil
}

// record persists the new consent state and emits its analytics event. The
// event follows the state the session reports, so a write that failed but
// still took effect in memory is counted once.
func (r *ConsentReconciler) record(ctx context.Context, state ConsentState) error {
	var persistErr error
	if err := r.session.SetConsentState(state); err != nil {
		persistErr = fmt.Errorf("persisting consent state: %w", err)
		if r.session.ConsentState() != state {
			return persistErr
		}
	}
	switch state {
	case ConsentOptedIn:
		r.reporter.Report(ctx, EventOptIn)
	case ConsentOptedOut:
		r.reporter.Report(ctx, EventOptOut)
	}
	return persistErr
}
