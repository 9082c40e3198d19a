package pushconsent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// ConsentState is the persisted push consent of the installation.
type ConsentState string

const (
	ConsentUnknown  ConsentState = "unknown"
	ConsentOptedIn  ConsentState = "opted_in"
	ConsentOptedOut ConsentState = "opted_out"
)

// Valid reports whether s is one of the known consent states.
func (s ConsentState) Valid() bool {
	switch s {
	case ConsentUnknown, ConsentOptedIn, ConsentOptedOut:
		return true
	}
	return false
}

// Tristate is a boolean with an explicit "unknown" value.
type Tristate string

const (
	TristateUnknown Tristate = "unknown"
	TristateNo      Tristate = "no"
	TristateYes     Tristate = "yes"
)

// TristateOf converts a known boolean to a Tristate.
func TristateOf(b bool) Tristate {
	if b {
		return TristateYes
	}
	return TristateNo
}

// IsYes reports whether t is known to be true.
func (t Tristate) IsYes() bool { return t == TristateYes }

// EventKind is the analytics event emitted when consent changes.
type EventKind string

const (
	EventOptIn  EventKind = "optipush_opt_in"
	EventOptOut EventKind = "optipush_opt_out"
)

// Outcome describes what the reconciler did with a permission decision.
type Outcome int

const (
	// OutcomeNoOp means local and intended state already agreed.
	OutcomeNoOp Outcome = iota
	// OutcomeRecorded means consent was written without a backend call.
	OutcomeRecorded
	// OutcomeOptInIssued means optIn was sent and consent recorded as opted in.
	OutcomeOptInIssued
	// OutcomeOptOutIssued means optOut was sent and consent recorded as opted out.
	OutcomeOptOutIssued
	// OutcomeOptOutRepaired means a previously failed optOut was re-sent.
	OutcomeOptOutRepaired
	// OutcomeDeferred means the decision cannot be applied until registration lands.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoOp:
		return "noop"
	case OutcomeRecorded:
		return "recorded"
	case OutcomeOptInIssued:
		return "opt_in_issued"
	case OutcomeOptOutIssued:
		return "opt_out_issued"
	case OutcomeOptOutRepaired:
		return "opt_out_repaired"
	case OutcomeDeferred:
		return "deferred"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// SessionState is a snapshot of everything persisted for one installation.
type SessionState struct {
	InstallationID            string       `json:"installation_id" yaml:"installation_id"`
	Consent                   ConsentState `json:"consent" yaml:"consent"`
	DeviceToken               string       `json:"device_token,omitempty" yaml:"device_token,omitempty"`
	HasDeviceToken            bool         `json:"has_device_token" yaml:"has_device_token"`
	RegistrationSucceeded     bool         `json:"registration_succeeded" yaml:"registration_succeeded"`
	OptRequestSucceeded       bool         `json:"opt_request_succeeded" yaml:"opt_request_succeeded"`
	PriorRegistrationArtifact Tristate     `json:"prior_registration_artifact" yaml:"prior_registration_artifact"`
	UpdatedAt                 time.Time    `json:"updated_at" yaml:"updated_at"`
}

// FreshSessionState returns the state of a new install.
func FreshSessionState(installationID string) SessionState {
	return SessionState{
		InstallationID:            installationID,
		Consent:                   ConsentUnknown,
		PriorRegistrationArtifact: TristateUnknown,
	}
}

// Session is the durable per-installation state shared by the reconciler and
// the token manager. Implementations must be safe for concurrent use.
//
// Only the ConsentReconciler writes consent and the opt-request outcome; only
// the TokenLifecycleManager writes the device token and registration outcome.
type Session interface {
	ConsentState() ConsentState
	SetConsentState(ConsentState) error

	DeviceToken() (string, bool)
	SetDeviceToken(string) error

	RegistrationSucceeded() bool
	SetRegistrationSucceeded(bool) error

	OptRequestSucceeded() bool
	SetOptRequestSucceeded(bool) error

	PriorRegistrationArtifact() Tristate
	SetPriorRegistrationArtifact(Tristate) error
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Registrar issues registration commands to the messaging backend.
//
// Unregister returns a channel that receives exactly one value (nil on
// success) and is then closed.
type Registrar interface {
	Register(ctx context.Context, token string) error
	Unregister(ctx context.Context, token string) <-chan error
	OptIn(ctx context.Context) error
	OptOut(ctx context.Context) error
}

// Reporter receives consent-change analytics events. Fire-and-forget.
type Reporter interface {
	Report(ctx context.Context, kind EventKind)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, kind EventKind)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, kind EventKind) { f(ctx, kind) }

type nopReporter struct{}

func (nopReporter) Report(context.Context, EventKind) {}

// PermissionSource delivers OS notification-permission decisions.
type PermissionSource interface {
	OnDecision(fn func(granted bool, err error))
}

// TokenSource delivers device tokens issued by the messaging backend.
type TokenSource interface {
	OnToken(fn func(token string))
}

// ErrEmptyToken is returned when a delivered device token is empty.
var ErrEmptyToken = errors.New("device token is empty")
