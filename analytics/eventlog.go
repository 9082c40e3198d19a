package analytics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	pc "github.com/slush-dev/pushconsent"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventLogFile is the event log written inside the session directory.
const EventLogFile = "events.jsonl"

// Event is one recorded consent event.
type Event struct {
	ID             string
	Kind           pc.EventKind
	InstallationID string
	At             time.Time
}

// EventLog appends consent events to a JSON-lines file, one protojson
// encoded struct per line, for a later uploader to pick up.
type EventLog struct {
	path           string
	installationID string
	logger         *slog.Logger

	mu sync.Mutex

	// now is overridable for testing.
	now func() time.Time
}

// NewEventLog returns an EventLog writing to dir/events.jsonl.
func NewEventLog(dir, installationID string, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{
		path:           filepath.Join(dir, EventLogFile),
		installationID: installationID,
		logger:         logger,
		now:            time.Now,
	}
}

// Path returns the event log path.
func (l *EventLog) Path() string { return l.path }

// Report appends kind to the log. Write failures are logged and dropped.
func (l *EventLog) Report(_ context.Context, kind pc.EventKind) {
	if err := l.append(kind); err != nil {
		l.logger.Error("Failed to record consent event", "kind", string(kind), "error", err)
	}
}

func (l *EventLog) append(kind pc.EventKind) error {
	payload, err := structpb.NewStruct(map[string]any{
		"id":              uuid.NewString(),
		"kind":            string(kind),
		"installation_id": l.installationID,
		"at":              l.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("building event: %w", err)
	}
	line, err := protojson.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating event log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing event log: %w", err)
	}
	return nil
}

// ReadEvents reads all events recorded at path. A missing file yields none.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var payload structpb.Struct
		if err := protojson.Unmarshal(scanner.Bytes(), &payload); err != nil {
			return events, fmt.Errorf("parsing event log line %d: %w", lineNo, err)
		}
		fields := payload.GetFields()
		ev := Event{
			ID:             fields["id"].GetStringValue(),
			Kind:           pc.EventKind(fields["kind"].GetStringValue()),
			InstallationID: fields["installation_id"].GetStringValue(),
		}
		if at := fields["at"].GetStringValue(); at != "" {
			if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
				ev.At = ts
			}
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("reading event log: %w", err)
	}
	return events, nil
}
