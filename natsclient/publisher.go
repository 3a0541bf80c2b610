package natsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/sensorhub/errors"
	"github.com/c360/sensorhub/sensors"
)

// Publisher is the publish half of Client.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// EventPublisher mirrors sensor events onto NATS, one message per event on
// "<prefix>.<sensor type>".
type EventPublisher struct {
	publisher Publisher
	prefix    string
	logger    *slog.Logger
	errLog    *rate.Limiter

	published atomic.Int64
	failed    atomic.Int64
}

// eventMessage is the JSON payload of one mirrored event.
type eventMessage struct {
	Handle    int32     `json:"handle"`
	Type      string    `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Values    []float32 `json:"values,omitempty"`
}

// NewEventPublisher creates a publisher writing under prefix.
func NewEventPublisher(publisher Publisher, prefix string, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		publisher: publisher,
		prefix:    prefix,
		logger:    logger.With("component", "nats-mirror"),
		errLog:    rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Name identifies the sink.
func (p *EventPublisher) Name() string { return "nats" }

// Subject returns the subject an event of type t is published on.
func (p *EventPublisher) Subject(t sensors.SensorType) string {
	return p.prefix + "." + t.String()
}

// Deliver publishes every event. Mirroring is best effort: all events are
// attempted and the first failure is returned.
func (p *EventPublisher) Deliver(ctx context.Context, events []sensors.Event) error {
	var first error
	failed := 0
	for _, e := range events {
		data, err := json.Marshal(eventMessage{
			Handle:    e.SensorHandle,
			Type:      e.SensorType.String(),
			Timestamp: e.Timestamp,
			Values:    e.Values,
		})
		if err == nil {
			err = p.publisher.Publish(ctx, p.Subject(e.SensorType), data)
		}
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
			continue
		}
		p.published.Add(1)
	}

	if failed == 0 {
		return nil
	}
	p.failed.Add(int64(failed))
	if p.errLog.Allow() {
		p.logger.Warn("Failed to mirror events", "failed", failed, "error", first)
	}
	return errors.WrapTransient(first, "EventPublisher", "Deliver",
		fmt.Sprintf("publish %d of %d events", failed, len(events)))
}

// Published returns the number of events published.
func (p *EventPublisher) Published() int64 { return p.published.Load() }

// Failed returns the number of events that could not be published.
func (p *EventPublisher) Failed() int64 { return p.failed.Load() }
