package bus

import (
	"context"

	"github.com/sptensor/tnsample/internal/pkg/logger"
)

// LoggedBus wraps another Bus and appends every published event to an
// event log, so a run can be audited or replayed later.
type LoggedBus struct {
	inner  Bus
	events *EventLogger
	log    *logger.Logger
}

// NewLoggedBus creates a new logged bus that wraps an inner bus.
func NewLoggedBus(inner Bus, events *EventLogger, log *logger.Logger) *LoggedBus {
	if log == nil {
		log = logger.Discard()
	}
	return &LoggedBus{
		inner:  inner,
		events: events,
		log:    log,
	}
}

// Publish records the event and then delegates to the inner bus. A failed
// write to the log does not stop delivery.
func (b *LoggedBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.events.Log(topic, event); err != nil {
		b.log.Warn("Failed to log event to disk", "topic", topic, "error", err)
	}

	return b.inner.Publish(ctx, topic, event)
}

// Subscribe delegates to the inner bus.
func (b *LoggedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Events returns the underlying event log.
func (b *LoggedBus) Events() *EventLogger {
	return b.events
}

// Close closes the inner bus first so late events still reach the log.
func (b *LoggedBus) Close() error {
	err := b.inner.Close()

	if cerr := b.events.Close(); cerr != nil {
		b.log.Warn("Failed to close event log", "error", cerr)
	}

	return err
}
