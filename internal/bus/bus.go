// Package bus carries sampling progress and results between components.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type, equal to the topic it was first published on.
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// RunID groups the events of one batch run.
	RunID string `json:"run_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(topic, source, runID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      topic,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		RunID:     runID,
		Payload:   payload,
	}
}

// Topics for different event types.
const (
	TopicBatchStarted    = "sample.batch.started"
	TopicTensorCompleted = "sample.tensor.completed"
	TopicTensorFailed    = "sample.tensor.failed"
	TopicBatchCompleted  = "sample.batch.completed"
)

// BatchStarted is the payload of TopicBatchStarted.
type BatchStarted struct {
	ListPath   string `json:"list_path,omitempty"`
	Total      int    `json:"total"`
	Resolution int    `json:"resolution"`
	Workers    int    `json:"workers"`
}

// TensorCompleted is the payload of TopicTensorCompleted.
type TensorCompleted struct {
	Index      int    `json:"index"`
	Path       string `json:"path"`
	Hash       string `json:"hash"`
	Shape      [3]int `json:"shape"`
	NNZ        int    `json:"nnz"`
	DurationMs int64  `json:"duration_ms"`
}

// TensorFailed is the payload of TopicTensorFailed.
type TensorFailed struct {
	Index   int    `json:"index"`
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchCompleted is the payload of TopicBatchCompleted.
type BatchCompleted struct {
	Total      int   `json:"total"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	Aborted    bool  `json:"aborted,omitempty"`
	DurationMs int64 `json:"duration_ms"`
}
