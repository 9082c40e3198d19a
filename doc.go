// Package pushconsent reconciles push-notification consent and device-token
// registration for an app installation against a messaging backend.
//
// It includes the persisted session model, a ConsentReconciler that maps OS
// permission decisions to opt-in/opt-out commands, a TokenLifecycleManager that
// sequences unregister/register when the device token changes, and a Client
// facade that wires platform callbacks to both.
//
// The session subpackage provides durable Session stores (JSON file, SQLite),
// the registrar subpackage an HTTP Registrar, and the analytics subpackage
// Reporter implementations.
package pushconsent
