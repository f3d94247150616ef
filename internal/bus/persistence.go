package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sptensor/tnsample/internal/pkg/errors"
)

// LoggedEvent is one line of the event log.
type LoggedEvent struct {
	Topic    string          `json:"topic"`
	LoggedAt time.Time       `json:"logged_at"`
	Event    json.RawMessage `json:"event"`
}

// Decode unmarshals the stored event, with its payload decoded into payload
// when payload is non-nil.
func (e LoggedEvent) Decode(payload any) (Event, error) {
	var ev Event
	if payload != nil {
		ev.Payload = payload
	}
	if err := json.Unmarshal(e.Event, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding logged event: %w", err)
	}
	return ev, nil
}

// EventLogger appends events to a JSON lines file.
type EventLogger struct {
	path    string
	enabled bool

	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// NewEventLogger opens (or creates) the log at path. A disabled logger
// accepts and drops every event.
func NewEventLogger(path string, enabled bool) (*EventLogger, error) {
	l := &EventLogger{path: path, enabled: enabled}
	if !enabled {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}

	l.file = file
	l.w = bufio.NewWriter(file)
	return l, nil
}

// Log appends one event. Lines are flushed per event so a crashed run keeps
// everything logged before the crash.
func (l *EventLogger) Log(topic string, event Event) error {
	if !l.enabled {
		return nil
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	line, err := json.Marshal(LoggedEvent{Topic: topic, LoggedAt: time.Now().UTC(), Event: raw})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New(errors.CodeUnavailable, "event log is closed")
	}
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return l.w.Flush()
}

// Read returns events logged after since, oldest first. limit <= 0 means all.
func (l *EventLogger) Read(since time.Time, limit int) ([]LoggedEvent, error) {
	if !l.enabled {
		return nil, errors.New(errors.CodeUnavailable, "event logging is disabled")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return readEventLog(l.path, since, limit)
}

// ReadEventLog reads a log written by EventLogger without opening it for writing.
func ReadEventLog(path string, since time.Time, limit int) ([]LoggedEvent, error) {
	return readEventLog(path, since, limit)
}

func readEventLog(path string, since time.Time, limit int) ([]LoggedEvent, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var out []LoggedEvent
	for scanner.Scan() {
		var le LoggedEvent
		if err := json.Unmarshal(scanner.Bytes(), &le); err != nil {
			continue // torn trailing line
		}
		if !le.LoggedAt.After(since) {
			continue
		}
		out = append(out, le)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	return out, nil
}

// Replay republishes logged events after since on b, in log order.
func (l *EventLogger) Replay(ctx context.Context, b Bus, since time.Time) (int, error) {
	events, err := l.Read(since, 0)
	if err != nil {
		return 0, err
	}

	for i, le := range events {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		ev, err := le.Decode(nil)
		if err != nil {
			return i, err
		}
		if err := b.Publish(ctx, le.Topic, ev); err != nil {
			return i, fmt.Errorf("replaying event %s: %w", ev.ID, err)
		}
	}
	return len(events), nil
}

// Path returns the log file path.
func (l *EventLogger) Path() string {
	return l.path
}

// IsEnabled returns true if the logger writes events.
func (l *EventLogger) IsEnabled() bool {
	return l.enabled
}

// Close flushes and closes the log file.
func (l *EventLogger) Close() error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	ferr := l.w.Flush()
	cerr := l.file.Close()
	l.file, l.w = nil, nil
	if ferr != nil {
		return fmt.Errorf("flushing event log: %w", ferr)
	}
	if cerr != nil {
		return fmt.Errorf("closing event log: %w", cerr)
	}
	return nil
}
