// Package analytics provides pushconsent.Reporter implementations for
// consent-change events.
package analytics

import (
	"context"
	"log/slog"

	pc "github.com/slush-dev/pushconsent"
)

// LogReporter logs each consent event.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a LogReporter; a nil logger uses slog.Default().
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, kind pc.EventKind) {
	r.logger.InfoContext(ctx, "Consent event", "kind", string(kind))
}

// Multi fans an event out to every reporter in order.
type Multi []pc.Reporter

func (m Multi) Report(ctx context.Context, kind pc.EventKind) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, kind)
		}
	}
}
