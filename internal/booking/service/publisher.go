package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
)

// DefaultPublishTimeout bounds one background publish.
const DefaultPublishTimeout = 10 * time.Second

// ErrPublisherClosed is returned by AsyncPublisher after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// EventBus is the message bus events are written to.
type EventBus interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// BusPublisher writes each event as one JSON message.
type BusPublisher struct {
	bus    EventBus
	logger *slog.Logger
}

// NewBusPublisher creates a new bus publisher.
func NewBusPublisher(bus EventBus, logger *slog.Logger) *BusPublisher {
	return &BusPublisher{bus: bus, logger: logger}
}

// Publish sends the events in order. It keeps going after a failure and
// reports every failed event.
func (p *BusPublisher) Publish(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal event %s: %w", ev.ID, err))
			continue
		}
		if err := p.bus.PublishWithRetry(ctx, body, "application/json"); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish event %s: %w", ev.ID, err))
			continue
		}
		p.logger.Debug("Booking event published",
			slog.String("event_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
			slog.Int64("job_id", ev.JobID),
		)
	}
	return errors.Join(errs...)
}

// AsyncPublisher publishes on a background goroutine so a slow bus never
// holds up the request that caused the events.
type AsyncPublisher struct {
	next    Publisher
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncPublisher wraps next. A non-positive timeout uses DefaultPublishTimeout.
func NewAsyncPublisher(next Publisher, timeout time.Duration, logger *slog.Logger) *AsyncPublisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &AsyncPublisher{next: next, timeout: timeout, logger: logger}
}

// Publish schedules the events and returns immediately.
func (p *AsyncPublisher) Publish(ctx context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if err := p.next.Publish(ctx, events); err != nil {
			p.logger.Error("Background event publish failed",
				slog.Int("events", len(events)),
				slog.Any("error", err),
			)
		}
	}()
	return nil
}

// Close stops accepting events and waits for in-flight publishes.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
