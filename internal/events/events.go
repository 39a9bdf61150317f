package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// KindDeposit is emitted after a deposit is committed.
	KindDeposit = "vault.deposit"
	// KindWithdrawal is emitted after a withdrawal is committed.
	KindWithdrawal = "vault.withdrawal"
	// KindFeedBound is emitted when an asset's price feed binding changes.
	KindFeedBound = "admin.feed_bound"
	// KindOwnershipTransferred is emitted when the controller identity changes.
	KindOwnershipTransferred = "admin.ownership_transferred"
)

// Event is a domain event. Numeric values are carried as base-10 strings.
type Event struct {
	ID         string
	Kind       string
	Attributes map[string]string
	OccurredAt time.Time
}

// New stamps an event with an id and time.
func New(kind string, attrs map[string]string) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Attributes: attrs, OccurredAt: time.Now().UTC()}
}

// Publisher delivers events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LoggerPublisher writes events to the structured logger.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	attrs := []any{slog.String("id", event.ID), slog.String("kind", event.Kind), slog.Time("occurred_at", event.OccurredAt)}
	for k, v := range event.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	p.logger.Info("event", attrs...)
	return nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory. Useful for tests.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.Events = append(r.Events, event)
	return nil
}

// Kinds lists recorded event kinds in order.
func (r *Recorder) Kinds() []string {
	kinds := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
